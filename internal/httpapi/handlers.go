package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"alloxid.dev/internal/audit"
	"alloxid.dev/internal/auth"
	"alloxid.dev/internal/obs"
)

const (
	serviceName  = "alloxid-api"
	maxBodyBytes = 1 << 20
	healthGreet  = "Hello, healthy world!"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that storage answers.
type ReadyProbe struct {
	Store pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	accounts   accountService
	guard      *auth.Guard
	readyProbe readinessChecker
	version    string
	publicURL  string
	log        *slog.Logger

	rateBurst      int
	ratePerSec     int
	trustedProxies []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithPublicURL sets the base used to build Location headers.
func WithPublicURL(u string) Option {
	return func(a *API) { a.publicURL = u }
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For header is believed
// when keying the rate limiter. Without it the socket peer is always used.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLogger overrides obs.Logger for server-side error detail.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// New builds the router.
func New(accounts accountService, guard *auth.Guard, rp readinessChecker, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		accounts:   accounts,
		guard:      guard,
		readyProbe: rp,
		version:    "dev",
		log:        obs.Logger(),
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}

	a.mux.HandleFunc("GET /health-check", a.HealthCheck)
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /user", a.handleCreateUser)
	a.mux.HandleFunc("POST /user/login", a.handleLogin)
	a.mux.Handle("POST /user/logout", a.requireAuth(auth.RoleUser, a.handleLogout))
	a.mux.Handle("GET /user/{id}", a.requireAuth(auth.RoleUser, a.handleGetUser))
	a.mux.Handle("PUT /user/{id}", a.requireAuth(auth.RoleUser, a.handleUpdateUser))
	a.mux.Handle("DELETE /user/{id}", a.requireAuth(auth.RoleUser, a.handleDeleteUser))

	return a
}

// Handler returns the fully wrapped handler for http.Server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.trustedProxies)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, healthGreet)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		a.log.WarnContext(r.Context(), "readiness check failed", "error", err, "request_id", audit.RequestID(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
