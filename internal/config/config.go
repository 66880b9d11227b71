// Package config loads runtime settings for the API server.
//
// Values are applied in order: defaults, a .env file, an optional JSON file,
// ALLOXID_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"alloxid.dev/internal/auth"
)

const (
	ProfileProduction = "production"
	ProfileTest       = "test"

	minProductionSecret = 32
)

// Config holds runtime settings.
type Config struct {
	Profile     string
	HTTPAddr    string
	GRPCAddr    string
	PublicURL   string
	DatabaseDSN string
	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool

	Secret string
	Pepper string

	TokenTTL       time.Duration
	HashWorkers    int
	HashIterations uint32

	RateBurst     int
	RatePerSecond int
	// TrustedProxies are addresses or CIDR ranges of reverse proxies whose
	// X-Forwarded-For header identifies the client. Empty trusts none.
	TrustedProxies []string
	LogLevel       string

	ShutdownTimeout time.Duration
}

// Default returns development defaults. Secret and Pepper are left empty
// and must be supplied.
func Default() *Config {
	return &Config{
		Profile:         ProfileProduction,
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		PublicURL:       "http://localhost:8080",
		TokenTTL:        time.Hour,
		RateBurst:       20,
		RatePerSecond:   10,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate reports settings without which the server must not start.
func (c *Config) Validate() error {
	var errs []error
	switch c.Profile {
	case ProfileProduction, ProfileTest:
	default:
		errs = append(errs, fmt.Errorf("unknown profile %q", c.Profile))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("signing secret is required (ALLOXID_SECRET)"))
	} else if c.Profile == ProfileProduction && len(c.Secret) < minProductionSecret {
		errs = append(errs, fmt.Errorf("signing secret must be at least %d bytes", minProductionSecret))
	}
	if c.Pepper == "" {
		errs = append(errs, errors.New("password pepper is required (ALLOXID_PEPPER)"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.RateBurst <= 0 || c.RatePerSecond <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host
// prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// HashParams returns the argon2id profile for the configured environment.
func (c *Config) HashParams() auth.Params {
	p := auth.DefaultParams
	if c.Profile == ProfileTest {
		p = auth.TestParams
	}
	if c.HashIterations > 0 {
		p.Iterations = c.HashIterations
	}
	return p
}
