package auth

import (
	"fmt"
	"strings"
)

const bearerScheme = "Bearer "

// Guard turns an Authorization header into a Principal. It is synchronous and
// never touches storage.
type Guard struct {
	codec *TokenCodec
}

// NewGuard returns a Guard decoding tokens with codec.
func NewGuard(codec *TokenCodec) *Guard {
	return &Guard{codec: codec}
}

// Authorize validates header and checks that the caller holds required.
//
// The returned error is one of ErrMissingCredential, ErrMalformedCredential,
// ErrInvalidCredential (wrapping the decode failure) or ErrInsufficientPermission.
func (g *Guard) Authorize(header string, required Role) (Principal, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Principal{}, err
	}
	claims, err := g.codec.Decode(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if required == RoleAdmin && claims.Role != RoleAdmin {
		return Principal{}, ErrInsufficientPermission
	}
	return Principal{UserID: claims.Subject, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredential
	}
	if len(header) < len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return "", ErrMalformedCredential
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", ErrMalformedCredential
	}
	return token, nil
}
