package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"alloxid.dev/internal/account"
)

func (s *Store) FindUserByUsername(ctx context.Context, username string) (account.Account, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, username, hashed_password, created_at, updated_at
		from users
		where username = $1
	`, username))
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (account.Account, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, username, hashed_password, created_at, updated_at
		from users
		where id = $1
	`, id))
}

func (s *Store) InsertUser(ctx context.Context, acc account.Account) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, hashed_password, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
		returning id, username, hashed_password, created_at, updated_at
	`, acc.ID, acc.Username, acc.PasswordHash, acc.CreatedAt, acc.UpdatedAt)
	out, err := s.scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, account.ErrConflict
		}
		return account.Account{}, err
	}
	return out, nil
}

func (s *Store) UpdateUsername(ctx context.Context, id uuid.UUID, username string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set username = $2, updated_at = now()
		where id = $1
		returning id, username, hashed_password, created_at, updated_at
	`, id, username)
	out, err := s.scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, account.ErrConflict
		}
		return account.Account{}, err
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("delete user %s: %w: %w", id, account.ErrTokensRemain, err)
		}
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (s *Store) InsertToken(ctx context.Context, tok account.AuthToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_tokens (id, user_id, token, created_at)
		values ($1, $2, $3, $4)
	`, tok.ID, tok.UserID, tok.Token, tok.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrForeignKeyViolation:
				return account.ErrNotFound
			case pgErrUniqueViolation:
				return account.ErrConflict
			}
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) FindTokenOwner(ctx context.Context, token string) (uuid.UUID, error) {
	var owner uuid.UUID
	err := s.db.QueryRowContext(ctx, `select user_id from auth_tokens where token = $1`, token).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, account.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("db error: %w", err)
	}
	return owner, nil
}

func (s *Store) DeleteToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `delete from auth_tokens where token = $1`, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) DeleteTokens(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `delete from auth_tokens where user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (account.Account, error) {
	var acc account.Account
	err := row.Scan(&acc.ID, &acc.Username, &acc.PasswordHash, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("db error: %w", err)
	}
	return acc, nil
}
