package account

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence collaborator of Service. Implementations enforce
// username uniqueness and report it as ErrConflict; missing rows are ErrNotFound.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (Account, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (Account, error)
	InsertUser(ctx context.Context, acc Account) (Account, error)
	UpdateUsername(ctx context.Context, id uuid.UUID, username string) (Account, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	InsertToken(ctx context.Context, tok AuthToken) error
	FindTokenOwner(ctx context.Context, token string) (uuid.UUID, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteTokens(ctx context.Context, userID uuid.UUID) error

	Ping(ctx context.Context) error
}
