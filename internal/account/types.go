package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("account: invalid input")
	ErrNotFound     = errors.New("account: not found")
	ErrConflict     = errors.New("account: username already taken")
	ErrUnauthorized = errors.New("account: invalid username or password")
	ErrForbidden    = errors.New("account: forbidden")

	// ErrTokensRemain is returned by Store.DeleteUser while auth tokens still
	// reference the account.
	ErrTokensRemain = errors.New("account: tokens still reference account")
)

// Account is a stored user record. PasswordHash never leaves the service.
type Account struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public projection of an Account.
type Profile struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Profile strips the account down to what may be returned to clients.
func (a Account) Profile() Profile {
	return Profile{ID: a.ID, Username: a.Username}
}

// AuthToken is an issued bearer token as persisted by the store.
type AuthToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	CreatedAt time.Time
}
