// Command smoke drives a running server through the account lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"alloxid.dev/internal/account"
	"alloxid.dev/internal/account/remote"
	"alloxid.dev/internal/obs"
)

func main() {
	log := obs.Logger()

	base := os.Getenv("ALLOXID_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	grpcAddr := os.Getenv("ALLOXID_SMOKE_GRPC_ADDR")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx, remote.New(base, nil)); err != nil {
		log.Error("smoke test failed", "url", base, "error", err)
		os.Exit(1)
	}
	if grpcAddr != "" {
		st, err := remote.Health(ctx, grpcAddr, "")
		if err != nil || st != healthpb.HealthCheckResponse_SERVING {
			log.Error("grpc health failed", "addr", grpcAddr, "status", st.String(), "error", err)
			os.Exit(1)
		}
	}
	log.Info("smoke test passed", "url", base)
}

func run(ctx context.Context, c *remote.Client) error {
	username := "smoke-" + uuid.NewString()[:8]
	id, token, err := c.SignUp(ctx, username, "smoke-password")
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	p, err := c.Get(ctx, token, id)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if p.Username != username {
		return fmt.Errorf("get: username %q, want %q", p.Username, username)
	}
	renamed := username + "-r"
	if _, err := c.Rename(ctx, token, id, renamed); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	second, err := c.Login(ctx, renamed, "smoke-password")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := c.Logout(ctx, token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if _, err := c.Get(ctx, token, id); !errors.Is(err, account.ErrForbidden) {
		return fmt.Errorf("revoked token still accepted: %v", err)
	}
	if err := c.Delete(ctx, second, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if _, err := c.Get(ctx, second, id); !errors.Is(err, account.ErrForbidden) {
		return fmt.Errorf("token survived account deletion: %v", err)
	}
	return nil
}
