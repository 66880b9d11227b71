package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Params is the argon2id cost profile. Memory is in KiB.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var (
	// DefaultParams is the production profile.
	DefaultParams = Params{Memory: 4 * 1024, Iterations: 192, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	// TestParams keeps test suites fast. Never use it to store real passwords.
	TestParams = Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
)

// Upper bounds accepted when reading a stored hash.
const (
	maxMemory     = 1 << 20
	maxIterations = 1 << 12
	maxKeyLength  = 1024
)

func (p Params) validate() error {
	switch {
	case p.Memory == 0 || p.Memory > maxMemory:
		return fmt.Errorf("memory %d out of range", p.Memory)
	case p.Iterations == 0 || p.Iterations > maxIterations:
		return fmt.Errorf("iterations %d out of range", p.Iterations)
	case p.Parallelism == 0:
		return errors.New("parallelism must be positive")
	case p.KeyLength == 0 || p.KeyLength > maxKeyLength:
		return fmt.Errorf("key length %d out of range", p.KeyLength)
	}
	return nil
}

// deriveKey is swapped in tests to observe pool scheduling.
var deriveKey = argon2.IDKey

// Hasher hashes and verifies passwords with argon2id. The pepper is mixed into
// every password before derivation and is never stored with the hash.
// Derivations run on a bounded pool so that a burst of sign-ups cannot take
// every CPU away from request handling.
type Hasher struct {
	pepper  []byte
	params  Params
	pool    *semaphore.Weighted
	observe func(time.Duration)
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithHashObserver registers a callback receiving the duration of each derivation.
func WithHashObserver(fn func(time.Duration)) HasherOption {
	return func(h *Hasher) { h.observe = fn }
}

// NewHasher builds a Hasher. workers <= 0 means GOMAXPROCS.
func NewHasher(pepper []byte, params Params, workers int, opts ...HasherOption) (*Hasher, error) {
	if len(pepper) == 0 {
		return nil, errors.New("auth: password pepper is required")
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("auth: hash params: %w", err)
	}
	if params.SaltLength == 0 {
		return nil, errors.New("auth: hash params: salt length must be positive")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	h := &Hasher{
		pepper: append([]byte(nil), pepper...),
		params: params,
		pool:   semaphore.NewWeighted(int64(workers)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Hash returns a self-describing argon2id string for password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key, err := h.derive(ctx, password, salt, h.params)
	if err != nil {
		return "", err
	}
	return encodeHash(h.params, salt, key), nil
}

// Verify reports whether password matches encoded. A mismatch is (false, nil);
// a hash that cannot be parsed yields ErrCredential.
func (h *Hasher) Verify(ctx context.Context, password, encoded string) (bool, error) {
	params, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got, err := h.derive(ctx, password, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) derive(ctx context.Context, password string, salt []byte, p Params) ([]byte, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for hash worker: %w", err)
	}
	defer h.pool.Release(1)

	start := time.Now()
	key := deriveKey(h.pepperize(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	if h.observe != nil {
		h.observe(time.Since(start))
	}
	return key, nil
}

func (h *Hasher) pepperize(password string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

func encodeHash(p Params, salt, key []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Params{}, nil, nil, fmt.Errorf("%w: unexpected layout", ErrCredential)
	}
	if parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported variant %q", ErrCredential, parts[1])
	}
	v, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return Params{}, nil, nil, fmt.Errorf("%w: missing version", ErrCredential)
	}
	if version, err := strconv.Atoi(v); err != nil || version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrCredential, v)
	}

	p, err := parseParams(parts[3])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad salt", ErrCredential)
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad key", ErrCredential)
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	if err := p.validate(); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	return p, salt, key, nil
}

func parseParams(s string) (Params, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return Params{}, fmt.Errorf("bad parameter list %q", s)
	}
	var values [3]uint64
	for i, prefix := range []string{"m=", "t=", "p="} {
		raw, ok := strings.CutPrefix(fields[i], prefix)
		if !ok {
			return Params{}, fmt.Errorf("expected %s in %q", prefix, fields[i])
		}
		bits := 32
		if prefix == "p=" {
			bits = 8
		}
		n, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return Params{}, fmt.Errorf("parse %s: %w", prefix, err)
		}
		values[i] = n
	}
	return Params{
		Memory:      uint32(values[0]),
		Iterations:  uint32(values[1]),
		Parallelism: uint8(values[2]),
	}, nil
}
