// Package remote talks to a running alloxid server: the account API over
// HTTP and the health service over gRPC.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"alloxid.dev/internal/account"
)

// ErrUnauthenticated is returned when the server asks for a bearer token (401
// on a protected route).
var ErrUnauthenticated = errors.New("remote: missing or malformed credentials")

// Client calls the HTTP account API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A nil hc uses a client with a 10s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// SignUp creates an account and returns its id and first token.
func (c *Client) SignUp(ctx context.Context, username, password string) (uuid.UUID, string, error) {
	var out struct {
		ID    uuid.UUID `json:"id"`
		Token string    `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/user", "", credentials{username, password}, &out)
	return out.ID, out.Token, err
}

// Login returns a fresh token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var token string
	err := c.call(ctx, http.MethodPost, "/user/login", "", credentials{username, password}, &token)
	return token, err
}

// Logout revokes token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.call(ctx, http.MethodPost, "/user/logout", token, nil, nil)
}

// Get fetches the profile of id.
func (c *Client) Get(ctx context.Context, token string, id uuid.UUID) (account.Profile, error) {
	var p account.Profile
	err := c.call(ctx, http.MethodGet, "/user/"+id.String(), token, nil, &p)
	return p, err
}

// Rename changes the username of id.
func (c *Client) Rename(ctx context.Context, token string, id uuid.UUID, username string) (account.Profile, error) {
	var p account.Profile
	err := c.call(ctx, http.MethodPut, "/user/"+id.String(), token, map[string]string{"username": username}, &p)
	return p, err
}

// Delete removes id and all of its tokens.
func (c *Client) Delete(ctx context.Context, token string, id uuid.UUID) error {
	return c.call(ctx, http.MethodDelete, "/user/"+id.String(), token, nil, nil)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StatusError is a non-2xx reply. It unwraps to the matching account error.
type StatusError struct {
	Code      int
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("http %d: %s (request %s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return mapStatus(e.Code)
}

func mapStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return account.ErrInvalidInput
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return account.ErrForbidden
	case http.StatusNotFound:
		return account.ErrNotFound
	case http.StatusConflict:
		return account.ErrConflict
	default:
		return nil
	}
}

func (c *Client) call(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error, RequestID: e.RequestID}
	}
	if out == nil {
		return nil
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health checks service over the gRPC health protocol at target.
func Health(ctx context.Context, target, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()
	return HealthWith(ctx, conn, service)
}

// HealthWith is Health over an existing connection.
func HealthWith(ctx context.Context, conn grpc.ClientConnInterface, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
