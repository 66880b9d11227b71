package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "ALLOXID_"

// Load builds a Config from args (typically os.Args[1:]) and the process environment.
func Load(args []string) (*Config, error) {
	fset := flag.NewFlagSet("alloxid", flag.ContinueOnError)
	var (
		configFile = fset.String("config", "", "path to a JSON config file")
		envFile    = fset.String("env-file", ".env", "path to a dotenv file")
		flagCfg    = Default()
	)
	fset.StringVar(&flagCfg.Profile, "profile", "", "production or test")
	fset.StringVar(&flagCfg.HTTPAddr, "http-addr", "", "HTTP listen address")
	fset.StringVar(&flagCfg.GRPCAddr, "grpc-addr", "", "gRPC listen address, empty disables gRPC")
	fset.StringVar(&flagCfg.PublicURL, "public-url", "", "base URL used in Location headers")
	fset.StringVar(&flagCfg.DatabaseDSN, "dsn", "", "PostgreSQL DSN, empty uses in-memory storage")
	fset.BoolVar(&flagCfg.MigrateOnStart, "migrate", false, "apply migrations before serving")
	fset.DurationVar(&flagCfg.TokenTTL, "token-ttl", 0, "lifetime of issued tokens")
	fset.IntVar(&flagCfg.HashWorkers, "hash-workers", 0, "concurrent password hash derivations")
	fset.StringVar(&flagCfg.LogLevel, "log-level", "", "debug, info, warn or error")
	trustedProxies := fset.String("trusted-proxies", "", "comma-separated proxy addresses or CIDRs allowed to set X-Forwarded-For")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if err := godotenv.Load(*envFile); err != nil {
		explicit := false
		fset.Visit(func(f *flag.Flag) { explicit = explicit || f.Name == "env-file" })
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
		}
	}

	path := *configFile
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := applyJSON(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "profile":
			cfg.Profile = flagCfg.Profile
		case "http-addr":
			cfg.HTTPAddr = flagCfg.HTTPAddr
		case "grpc-addr":
			cfg.GRPCAddr = flagCfg.GRPCAddr
		case "public-url":
			cfg.PublicURL = flagCfg.PublicURL
		case "dsn":
			cfg.DatabaseDSN = flagCfg.DatabaseDSN
		case "migrate":
			cfg.MigrateOnStart = flagCfg.MigrateOnStart
		case "token-ttl":
			cfg.TokenTTL = flagCfg.TokenTTL
		case "hash-workers":
			cfg.HashWorkers = flagCfg.HashWorkers
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		case "trusted-proxies":
			cfg.TrustedProxies = splitList(*trustedProxies)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type jsonConfig struct {
	Profile         string   `json:"profile"`
	HTTPAddr        string   `json:"http_addr"`
	GRPCAddr        string   `json:"grpc_addr"`
	PublicURL       string   `json:"public_url"`
	DatabaseDSN     string   `json:"database_dsn"`
	MigrateOnStart  *bool    `json:"migrate_on_start"`
	Secret          string   `json:"secret"`
	Pepper          string   `json:"pepper"`
	TokenTTL        string   `json:"token_ttl"`
	HashWorkers     int      `json:"hash_workers"`
	HashIterations  uint32   `json:"hash_iterations"`
	RateBurst       int      `json:"rate_burst"`
	RatePerSecond   int      `json:"rate_per_second"`
	TrustedProxies  []string `json:"trusted_proxies"`
	LogLevel        string   `json:"log_level"`
	ShutdownTimeout string   `json:"shutdown_timeout"`
}

func applyJSON(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(raw, &jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Profile, jc.Profile)
	setString(&cfg.HTTPAddr, jc.HTTPAddr)
	setString(&cfg.GRPCAddr, jc.GRPCAddr)
	setString(&cfg.PublicURL, jc.PublicURL)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.Secret, jc.Secret)
	setString(&cfg.Pepper, jc.Pepper)
	setString(&cfg.LogLevel, jc.LogLevel)
	if jc.MigrateOnStart != nil {
		cfg.MigrateOnStart = *jc.MigrateOnStart
	}
	if jc.HashWorkers > 0 {
		cfg.HashWorkers = jc.HashWorkers
	}
	if jc.HashIterations > 0 {
		cfg.HashIterations = jc.HashIterations
	}
	if jc.RateBurst > 0 {
		cfg.RateBurst = jc.RateBurst
	}
	if jc.RatePerSecond > 0 {
		cfg.RatePerSecond = jc.RatePerSecond
	}
	if jc.TrustedProxies != nil {
		cfg.TrustedProxies = jc.TrustedProxies
	}
	if err := setDuration(&cfg.TokenTTL, jc.TokenTTL, "token_ttl"); err != nil {
		return err
	}
	return setDuration(&cfg.ShutdownTimeout, jc.ShutdownTimeout, "shutdown_timeout")
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	env := func(name string) string { return getenv(envPrefix + name) }

	setString(&cfg.Profile, env("PROFILE"))
	setString(&cfg.HTTPAddr, env("HTTP_ADDR"))
	setString(&cfg.GRPCAddr, env("GRPC_ADDR"))
	setString(&cfg.PublicURL, env("PUBLIC_URL"))
	setString(&cfg.DatabaseDSN, env("DATABASE_DSN"))
	setString(&cfg.Secret, env("SECRET"))
	setString(&cfg.Pepper, env("PEPPER"))
	setString(&cfg.LogLevel, env("LOG_LEVEL"))

	if v := env("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := env("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMIGRATE_ON_START: %w", envPrefix, err)
		}
		cfg.MigrateOnStart = b
	}
	for name, dst := range map[string]*int{
		"HASH_WORKERS":    &cfg.HashWorkers,
		"RATE_BURST":      &cfg.RateBurst,
		"RATE_PER_SECOND": &cfg.RatePerSecond,
	} {
		if v := env(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}
	if v := env("HASH_ITERATIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%sHASH_ITERATIONS: %w", envPrefix, err)
		}
		cfg.HashIterations = uint32(n)
	}
	if err := setDuration(&cfg.TokenTTL, env("TOKEN_TTL"), envPrefix+"TOKEN_TTL"); err != nil {
		return err
	}
	return setDuration(&cfg.ShutdownTimeout, env("SHUTDOWN_TIMEOUT"), envPrefix+"SHUTDOWN_TIMEOUT")
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
