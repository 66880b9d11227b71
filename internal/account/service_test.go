package account

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alloxid.dev/internal/auth"
)

func newTestService(t *testing.T, store Store, opts ...Option) (*Service, *auth.TokenCodec) {
	t.Helper()
	hasher, err := auth.NewHasher([]byte("pepper"), auth.TestParams, 4)
	require.NoError(t, err)
	codec, err := auth.NewTokenCodec([]byte("secret"))
	require.NoError(t, err)
	return NewService(store, hasher, codec, opts...), codec
}

func TestCreateAccountAndLogin(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	svc, codec := newTestService(t, store)

	acc, tok, err := svc.CreateAccount(ctx, "  alice ", "pw1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, acc.ID)
	assert.Equal(t, "alice", acc.Username)
	assert.NotContains(t, acc.PasswordHash, "pw1")
	assert.Equal(t, acc.ID, tok.UserID)
	assert.NotEmpty(t, tok.Token)

	claims, err := codec.Decode(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, claims.Subject)
	assert.Equal(t, auth.RoleUser, claims.Role)

	owner, err := store.FindTokenOwner(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, owner)

	login, err := svc.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	assert.NotEqual(t, tok.Token, login.Token, "login must mint a fresh token")
	owner, err = store.FindTokenOwner(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, owner)
}

func TestLoginUsesConfiguredTTL(t *testing.T) {
	ctx := context.Background()
	svc, codec := newTestService(t, NewInMemory(), WithTokenTTL(15*time.Minute))

	_, _, err := svc.CreateAccount(ctx, "bob", "pw")
	require.NoError(t, err)
	tok, err := svc.Login(ctx, "bob", "pw")
	require.NoError(t, err)

	claims, err := codec.Decode(tok.Token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt, 5*time.Second)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())
	_, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Login(ctx, "nobody", "pw1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func newCountingService(t *testing.T, store Store) (*Service, *atomic.Int64) {
	t.Helper()
	var derivations atomic.Int64
	hasher, err := auth.NewHasher([]byte("pepper"), auth.TestParams, 4,
		auth.WithHashObserver(func(time.Duration) { derivations.Add(1) }))
	require.NoError(t, err)
	codec, err := auth.NewTokenCodec([]byte("secret"))
	require.NoError(t, err)
	return NewService(store, hasher, codec), &derivations
}

func TestLoginFailuresCostOneDerivation(t *testing.T) {
	ctx := context.Background()
	svc, derivations := newCountingService(t, NewInMemory())
	_, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	derivations.Store(0)
	_, err = svc.Login(ctx, "nobody", "pw1")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(1), derivations.Load(), "first unknown-username login")

	derivations.Store(0)
	_, err = svc.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(1), derivations.Load(), "wrong-password login")
}

func TestUnknownUserLoginAfterCancelledRequest(t *testing.T) {
	svc, derivations := newCountingService(t, NewInMemory())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Login(cancelled, "ghost", "pw")
	require.ErrorIs(t, err, ErrUnauthorized)

	derivations.Store(0)
	for i := 0; i < 5; i++ {
		_, err := svc.Login(context.Background(), "ghost", "pw")
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, int64(5), derivations.Load())
}

func TestCreateAccountValidation(t *testing.T) {
	svc, _ := newTestService(t, NewInMemory())
	cases := []struct{ username, password string }{
		{"", "pw"},
		{"   ", "pw"},
		{"alice", ""},
		{string(make([]rune, maxUsernameLength+1)), "pw"},
	}
	for _, tc := range cases {
		_, _, err := svc.CreateAccount(context.Background(), tc.username, tc.password)
		assert.ErrorIs(t, err, ErrInvalidInput, "username=%q password=%q", tc.username, tc.password)
	}
}

func TestCreateAccountConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())
	_, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, _, err = svc.CreateAccount(ctx, "alice", "pw2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConcurrentCreateSameUsername(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.CreateAccount(ctx, "carol", "pw")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestGetAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())
	acc, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	profile, err := svc.GetAccount(ctx, auth.Principal{UserID: acc.ID, Role: auth.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, Profile{ID: acc.ID, Username: "alice"}, profile)

	_, err = svc.GetAccount(ctx, auth.Principal{UserID: uuid.New(), Role: auth.RoleUser})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetAccountByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())
	alice, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, _, err = svc.CreateAccount(ctx, "bob", "pw2")
	require.NoError(t, err)

	profile, err := svc.UpdateAccount(ctx, alice.ID, "alice2")
	require.NoError(t, err)
	assert.Equal(t, Profile{ID: alice.ID, Username: "alice2"}, profile)

	_, err = svc.Login(ctx, "alice2", "pw1")
	assert.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "pw1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.UpdateAccount(ctx, alice.ID, "bob")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.UpdateAccount(ctx, uuid.New(), "dave")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.UpdateAccount(ctx, alice.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteAccountRevokesSessions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	acc, tok, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)
	p := auth.Principal{UserID: acc.ID, Role: auth.RoleUser}
	require.NoError(t, svc.VerifySession(ctx, p, tok.Token))

	require.NoError(t, svc.DeleteAccount(ctx, acc.ID))

	assert.ErrorIs(t, svc.VerifySession(ctx, p, tok.Token), ErrForbidden)
	_, err = svc.GetAccount(ctx, p)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.DeleteAccount(ctx, acc.ID), ErrNotFound)
}

func TestVerifySessionRejectsForeignToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())
	_, aliceTok, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)
	bob, _, err := svc.CreateAccount(ctx, "bob", "pw2")
	require.NoError(t, err)

	err = svc.VerifySession(ctx, auth.Principal{UserID: bob.ID}, aliceTok.Token)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLogoutRevokesOnlyThatToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemory())
	acc, first, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	p := auth.Principal{UserID: acc.ID}

	require.NoError(t, svc.Logout(ctx, first.Token))
	assert.ErrorIs(t, svc.VerifySession(ctx, p, first.Token), ErrForbidden)
	assert.NoError(t, svc.VerifySession(ctx, p, second.Token))
}

type recordingStore struct {
	*InMemory
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{InMemory: NewInMemory(), fail: map[string]error{}}
}

func (s *recordingStore) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.fail[name]
}

func (s *recordingStore) DeleteTokens(ctx context.Context, userID uuid.UUID) error {
	if err := s.record("DeleteTokens"); err != nil {
		return err
	}
	return s.InMemory.DeleteTokens(ctx, userID)
}

func (s *recordingStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := s.record("DeleteUser"); err != nil {
		return err
	}
	return s.InMemory.DeleteUser(ctx, id)
}

func (s *recordingStore) FindUserByUsername(ctx context.Context, username string) (Account, error) {
	if err := s.record("FindUserByUsername"); err != nil {
		return Account{}, err
	}
	return s.InMemory.FindUserByUsername(ctx, username)
}

func (s *recordingStore) InsertUser(ctx context.Context, acc Account) (Account, error) {
	if err := s.record("InsertUser"); err != nil {
		return Account{}, err
	}
	return s.InMemory.InsertUser(ctx, acc)
}

func TestDeleteAccountDeletesTokensFirst(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	svc, _ := newTestService(t, store)
	acc, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	store.calls = nil
	require.NoError(t, svc.DeleteAccount(ctx, acc.ID))
	assert.Equal(t, []string{"DeleteTokens", "DeleteUser"}, store.calls)
}

func TestDeleteAccountStopsWhenTokenDeletionFails(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	svc, _ := newTestService(t, store)
	acc, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	store.calls = nil
	store.fail["DeleteTokens"] = errors.New("connection reset")
	err = svc.DeleteAccount(ctx, acc.ID)
	require.Error(t, err)
	assert.Equal(t, []string{"DeleteTokens"}, store.calls)
}

// racingStore mints a token for the account right before each of the first
// races calls to DeleteUser, like a login landing mid-deletion.
type racingStore struct {
	*InMemory
	races  int
	sweeps int
}

func (s *racingStore) DeleteTokens(ctx context.Context, userID uuid.UUID) error {
	s.sweeps++
	return s.InMemory.DeleteTokens(ctx, userID)
}

func (s *racingStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if s.races > 0 {
		s.races--
		if err := s.InsertToken(ctx, AuthToken{ID: uuid.New(), UserID: id, Token: uuid.NewString()}); err != nil {
			return err
		}
	}
	return s.InMemory.DeleteUser(ctx, id)
}

func TestDeleteAccountSweepsTokenIssuedMidway(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{InMemory: NewInMemory(), races: 1}
	svc, _ := newTestService(t, store)
	acc, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, acc.ID))
	assert.Equal(t, 2, store.sweeps)
	_, err = store.FindUserByID(ctx, acc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccountGivesUpWhileTokensKeepArriving(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{InMemory: NewInMemory(), races: 2}
	svc, _ := newTestService(t, store)
	acc, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	require.NoError(t, err)

	err = svc.DeleteAccount(ctx, acc.ID)
	assert.ErrorIs(t, err, ErrTokensRemain)
	assert.Equal(t, 2, store.sweeps)
	_, err = store.FindUserByID(ctx, acc.ID)
	assert.NoError(t, err)
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	svc, _ := newTestService(t, store)

	boom := errors.New("connection refused")
	store.fail["InsertUser"] = boom
	_, _, err := svc.CreateAccount(ctx, "alice", "pw1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrConflict)

	store.fail["FindUserByUsername"] = boom
	_, err = svc.Login(ctx, "alice", "pw1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestLoginWithCorruptHash(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	svc, _ := newTestService(t, store)
	_, err := store.InsertUser(ctx, Account{ID: uuid.New(), Username: "mallory", PasswordHash: "plaintext"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "mallory", "plaintext")
	assert.ErrorIs(t, err, auth.ErrCredential)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestInMemoryDeleteUserRequiresTokensGone(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	id := uuid.New()
	_, err := store.InsertUser(ctx, Account{ID: id, Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, store.InsertToken(ctx, AuthToken{ID: uuid.New(), UserID: id, Token: "t"}))

	assert.ErrorIs(t, store.DeleteUser(ctx, id), ErrTokensRemain)
	require.NoError(t, store.DeleteTokens(ctx, id))
	assert.NoError(t, store.DeleteUser(ctx, id))
	assert.ErrorIs(t, store.InsertToken(ctx, AuthToken{ID: uuid.New(), UserID: id, Token: "t2"}), ErrNotFound)
}

func TestIssueAdminToken(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	svc, codec := newTestService(t, store)

	acc, _, err := svc.CreateAccount(ctx, "root", "hunter2")
	require.NoError(t, err)

	tok, err := svc.IssueToken(ctx, acc.ID, auth.RoleAdmin)
	require.NoError(t, err)
	claims, err := codec.Decode(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.NoError(t, svc.VerifySession(ctx, auth.Principal{UserID: acc.ID, Role: auth.RoleAdmin}, tok.Token))

	_, err = svc.IssueToken(ctx, uuid.New(), auth.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
}
