package httpapi

import (
	"errors"
	"net/http"

	"alloxid.dev/internal/account"
	"alloxid.dev/internal/audit"
	"alloxid.dev/internal/auth"
	"alloxid.dev/internal/obs"
)

const authHeader = "Authorization"

// requireAuth runs the guard and the session check before next. Missing or
// malformed credentials are 401; tokens that decode badly, lack the role, or
// are no longer on record are 403.
func (a *API) requireAuth(role auth.Role, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.guard.Authorize(r.Header.Get(authHeader), role)
		if err != nil {
			a.rejectAuth(w, r, err)
			return
		}
		token, _ := auth.BearerToken(r.Header.Get(authHeader))

		if err := a.accounts.VerifySession(r.Context(), principal, token); err != nil {
			if errors.Is(err, account.ErrForbidden) {
				obs.CountAuthFailure("revoked")
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			a.internalError(w, r, "session check failed", err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) rejectAuth(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		obs.CountAuthFailure("missing")
		w.Header().Set("WWW-Authenticate", `Bearer realm="alloxid"`)
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
	case errors.Is(err, auth.ErrMalformedCredential):
		obs.CountAuthFailure("malformed")
		w.Header().Set("WWW-Authenticate", `Bearer realm="alloxid", error="invalid_request"`)
		writeError(w, r, http.StatusUnauthorized, "invalid authorization scheme")
	case errors.Is(err, auth.ErrInvalidCredential):
		obs.CountAuthFailure(invalidReason(err))
		a.log.InfoContext(r.Context(), "token rejected", "error", err, "request_id", audit.RequestID(r.Context()))
		writeError(w, r, http.StatusForbidden, "invalid token")
	case errors.Is(err, auth.ErrInsufficientPermission):
		obs.CountAuthFailure("insufficient_role")
		writeError(w, r, http.StatusForbidden, "insufficient permission")
	default:
		a.internalError(w, r, "authorization failed", err)
	}
}

func invalidReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenParse):
		return "parse"
	default:
		return "invalid"
	}
}
