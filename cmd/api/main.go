package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/sync/errgroup"

	"alloxid.dev/internal/account"
	"alloxid.dev/internal/auth"
	"alloxid.dev/internal/config"
	"alloxid.dev/internal/httpapi"
	"alloxid.dev/internal/migrate"
	"alloxid.dev/internal/obs"
	"alloxid.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		obs.Logger().Error("load config", "error", err)
		os.Exit(1)
	}

	logger := obs.NewJSONLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel)).With("service", "alloxid-api")
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}

	hasher, err := auth.NewHasher([]byte(cfg.Pepper), cfg.HashParams(), cfg.HashWorkers,
		auth.WithHashObserver(obs.ObservePasswordHash))
	if err != nil {
		logger.Error("init password hasher", "error", err)
		os.Exit(1)
	}
	codec, err := auth.NewTokenCodec([]byte(cfg.Secret))
	if err != nil {
		logger.Error("init token codec", "error", err)
		os.Exit(1)
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		logger.Error("parse trusted proxies", "error", err)
		os.Exit(1)
	}

	svc := account.NewService(store, hasher, codec,
		account.WithTokenTTL(cfg.TokenTTL),
		account.WithLogger(logger),
	)
	probe := httpapi.ReadyProbe{Store: store}

	api := httpapi.New(svc, auth.NewGuard(codec), probe,
		httpapi.WithPublicURL(cfg.PublicURL),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithVersion(version),
		httpapi.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var servers errgroup.Group

	logger.Info("starting http server", "addr", srv.Addr, "version", version, "profile", cfg.Profile)
	servers.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	ops := map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	}

	if cfg.GRPCAddr != "" {
		gsrv := httpapi.NewGRPCServer(probe, logger)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("grpc listen", "addr", cfg.GRPCAddr, "error", err)
			os.Exit(1)
		}
		watchCtx, stopWatch := context.WithCancel(context.Background())
		go gsrv.Watch(watchCtx, 10*time.Second)

		logger.Info("starting grpc server", "addr", cfg.GRPCAddr)
		servers.Go(func() error {
			if err := gsrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		ops["grpc"] = func(ctx context.Context) error {
			logger.Info("shutting down grpc server")
			stopWatch()
			return gsrv.Stop(ctx)
		}
	}

	go func() {
		if err := servers.Wait(); err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	exitCode := <-wait

	if err := closeStore(); err != nil {
		logger.Error("close storage", "error", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	logger.Info("stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}

// openStore picks PostgreSQL when a DSN is configured and the in-memory
// store otherwise.
func openStore(cfg *config.Config) (account.Store, func() error, error) {
	if cfg.DatabaseDSN == "" {
		obs.Logger().Warn("no database configured, accounts are kept in memory")
		return account.NewInMemory(), func() error { return nil }, nil
	}

	st, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrate.NewManager(st.DB()).Up(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		v, err := migrate.NewManager(st.DB()).Version(ctx)
		if err == nil {
			obs.Logger().Info("schema migrated", slog.Int64("version", v))
		}
	}
	return st, st.Close, nil
}
