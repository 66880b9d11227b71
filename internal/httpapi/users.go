package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"alloxid.dev/internal/account"
	"alloxid.dev/internal/audit"
	"alloxid.dev/internal/auth"
)

type accountService interface {
	CreateAccount(ctx context.Context, username, password string) (account.Account, account.AuthToken, error)
	Login(ctx context.Context, username, password string) (account.AuthToken, error)
	GetAccount(ctx context.Context, p auth.Principal) (account.Profile, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (account.Profile, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, username string) (account.Profile, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	VerifySession(ctx context.Context, p auth.Principal, token string) error
	Logout(ctx context.Context, token string) error
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Username string `json:"username"`
}

type createdUser struct {
	ID    uuid.UUID `json:"id"`
	Token string    `json:"token"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, tok, err := a.accounts.CreateAccount(r.Context(), req.Username, req.Password)
	if err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.created", map[string]any{
		"account_id": acc.ID.String(),
		"username":   acc.Username,
	})

	w.Header().Set("Location", a.userLocation(acc.ID))
	writeData(w, http.StatusCreated, createdUser{ID: acc.ID, Token: tok.Token})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tok, err := a.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrUnauthorized) {
			_ = audit.LogEvent(r.Context(), "account.login_failed", map[string]any{"username": strings.TrimSpace(req.Username)})
		}
		a.handleAccountError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.login", map[string]any{"account_id": tok.UserID.String()})
	writeData(w, http.StatusOK, tok.Token)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFrom(r.Context())
	if err := a.accounts.Logout(r.Context(), token); err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := a.targetAccount(w, r)
	if !ok {
		return
	}
	var (
		profile account.Profile
		err     error
	)
	if id == principal.UserID {
		profile, err = a.accounts.GetAccount(r.Context(), principal)
	} else {
		profile, err = a.accounts.GetAccountByID(r.Context(), id)
	}
	if err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	_, id, ok := a.targetAccount(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := a.accounts.UpdateAccount(r.Context(), id, req.Username)
	if err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.updated", map[string]any{
		"account_id": id.String(),
		"username":   profile.Username,
	})
	writeData(w, http.StatusOK, profile)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	_, id, ok := a.targetAccount(w, r)
	if !ok {
		return
	}
	if err := a.accounts.DeleteAccount(r.Context(), id); err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.deleted", map[string]any{"account_id": id.String()})
	w.WriteHeader(http.StatusOK)
}

// targetAccount resolves {id} and checks that the caller may act on it.
func (a *API) targetAccount(w http.ResponseWriter, r *http.Request) (auth.Principal, uuid.UUID, bool) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return auth.Principal{}, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid account id")
		return auth.Principal{}, uuid.Nil, false
	}
	if !principal.CanAccess(id) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return auth.Principal{}, uuid.Nil, false
	}
	return principal, id, true
}

func (a *API) userLocation(id uuid.UUID) string {
	return strings.TrimRight(a.publicURL, "/") + "/user/" + id.String()
}

func (a *API) handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "account: "))
	case errors.Is(err, account.ErrConflict):
		writeError(w, r, http.StatusConflict, "username already taken")
	case errors.Is(err, account.ErrTokensRemain):
		writeError(w, r, http.StatusConflict, "account is still in use, retry")
	case errors.Is(err, account.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, account.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, account.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	default:
		a.internalError(w, r, "account operation failed", err)
	}
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.log.ErrorContext(r.Context(), msg,
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", audit.RequestID(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
