package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"alloxid.dev/internal/auth"
	"alloxid.dev/internal/obs"
)

const (
	// DefaultTokenTTL is the lifetime of tokens minted on sign-up and login.
	DefaultTokenTTL = time.Hour

	maxUsernameLength = 64
	maxPasswordLength = 1024
)

// Service implements account sign-up, login and profile management.
type Service struct {
	store  Store
	hasher *auth.Hasher
	codec  *auth.TokenCodec
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger

	dummyMu   sync.Mutex
	dummyHash string
}

// Option configures Service.
type Option func(*Service)

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for server-side error detail.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService wires a Service.
func NewService(store Store, hasher *auth.Hasher, codec *auth.TokenCodec, opts ...Option) *Service {
	s := &Service{
		store:  store,
		hasher: hasher,
		codec:  codec,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
		log:    obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if hash, err := s.newDummyHash(context.Background()); err != nil {
		s.log.Warn("precompute login dummy hash", "error", err)
	} else {
		s.dummyHash = hash
	}
	return s
}

// CreateAccount registers a new user and issues its first token.
func (s *Service) CreateAccount(ctx context.Context, username, password string) (Account, AuthToken, error) {
	username, err := validateCredentials(username, password)
	if err != nil {
		return Account{}, AuthToken{}, err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return Account{}, AuthToken{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	acc, err := s.store.InsertUser(ctx, Account{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return Account{}, AuthToken{}, ErrConflict
		}
		return Account{}, AuthToken{}, fmt.Errorf("insert user: %w", err)
	}

	tok, err := s.issueToken(ctx, acc.ID, auth.RoleUser)
	if err != nil {
		return Account{}, AuthToken{}, err
	}
	return acc, tok, nil
}

// Login checks the credentials and mints a fresh token. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (AuthToken, error) {
	username, err := validateCredentials(username, password)
	if err != nil {
		return AuthToken{}, err
	}

	acc, err := s.store.FindUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		s.burnVerify(ctx, password)
		return AuthToken{}, ErrUnauthorized
	}
	if err != nil {
		return AuthToken{}, fmt.Errorf("find user: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, password, acc.PasswordHash)
	if err != nil {
		if errors.Is(err, auth.ErrCredential) {
			s.log.ErrorContext(ctx, "stored password hash is unreadable", "user_id", acc.ID.String(), "error", err)
		}
		return AuthToken{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return AuthToken{}, ErrUnauthorized
	}
	return s.issueToken(ctx, acc.ID, auth.RoleUser)
}

// GetAccount returns the caller's own profile. A principal whose account no
// longer exists is treated as holding a stale token.
func (s *Service) GetAccount(ctx context.Context, p auth.Principal) (Profile, error) {
	profile, err := s.GetAccountByID(ctx, p.UserID)
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrForbidden
	}
	return profile, err
}

// GetAccountByID returns the profile of id, used by admin lookups.
func (s *Service) GetAccountByID(ctx context.Context, id uuid.UUID) (Profile, error) {
	acc, err := s.store.FindUserByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("find user: %w", err)
	}
	return acc.Profile(), nil
}

// UpdateAccount changes the username of id.
func (s *Service) UpdateAccount(ctx context.Context, id uuid.UUID, newUsername string) (Profile, error) {
	username, err := validateUsername(newUsername)
	if err != nil {
		return Profile{}, err
	}
	acc, err := s.store.UpdateUsername(ctx, id, username)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return Profile{}, err
	case err != nil:
		return Profile{}, fmt.Errorf("update user: %w", err)
	}
	return acc.Profile(), nil
}

// DeleteAccount removes every token of id and then the account itself. A
// token minted between the two steps is swept once more; if the account is
// still referenced after that, ErrTokensRemain is returned.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = s.store.DeleteTokens(ctx, id); err != nil {
			return fmt.Errorf("delete tokens: %w", err)
		}
		err = s.store.DeleteUser(ctx, id)
		if !errors.Is(err, ErrTokensRemain) {
			break
		}
		s.log.WarnContext(ctx, "token issued during account deletion", "user_id", id.String(), "attempt", attempt+1)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrTokensRemain):
		return ErrTokensRemain
	default:
		return fmt.Errorf("delete user: %w", err)
	}
}

// VerifySession checks that token is still on record for the principal.
// Tokens revoked by logout or account deletion fail with ErrForbidden.
func (s *Service) VerifySession(ctx context.Context, p auth.Principal, token string) error {
	owner, err := s.store.FindTokenOwner(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("find token owner: %w", err)
	}
	if owner != p.UserID {
		return ErrForbidden
	}
	return nil
}

// Logout revokes a single token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.store.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IssueToken mints and records a token carrying role for an existing account.
// It is the only way to obtain an Admin token and is not exposed over HTTP.
func (s *Service) IssueToken(ctx context.Context, id uuid.UUID, role auth.Role) (AuthToken, error) {
	if _, err := s.store.FindUserByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthToken{}, ErrNotFound
		}
		return AuthToken{}, fmt.Errorf("find user: %w", err)
	}
	return s.issueToken(ctx, id, role)
}

func (s *Service) issueToken(ctx context.Context, userID uuid.UUID, role auth.Role) (AuthToken, error) {
	signed, err := s.codec.Encode(userID, role, s.ttl)
	if err != nil {
		return AuthToken{}, fmt.Errorf("encode token: %w", err)
	}
	tok := AuthToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     signed,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertToken(ctx, tok); err != nil {
		return AuthToken{}, fmt.Errorf("insert token: %w", err)
	}
	return tok, nil
}

// burnVerify spends one verification on a throwaway hash so that a login for
// an unknown username costs the same single derivation as a wrong password.
func (s *Service) burnVerify(ctx context.Context, password string) {
	hash, err := s.loadDummyHash(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "login dummy hash unavailable", "error", err)
		return
	}
	_, _ = s.hasher.Verify(ctx, password, hash)
}

// loadDummyHash returns the hash made by NewService, rebuilding it only if
// that failed. The rebuild ignores the caller's cancellation so one aborted
// request cannot leave later ones without it.
func (s *Service) loadDummyHash(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash, nil
	}
	hash, err := s.newDummyHash(context.WithoutCancel(ctx))
	if err != nil {
		return "", err
	}
	s.dummyHash = hash
	return hash, nil
}

func (s *Service) newDummyHash(ctx context.Context) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return s.hasher.Hash(ctx, base64.RawStdEncoding.EncodeToString(buf))
}

func validateCredentials(username, password string) (string, error) {
	username, err := validateUsername(username)
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("%w: password is too long", ErrInvalidInput)
	}
	return username, nil
}

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return "", fmt.Errorf("%w: username is longer than %d characters", ErrInvalidInput, maxUsernameLength)
	}
	return username, nil
}
