package core

import (
	"context"
	"io"
	"net/http"
)

// Transport sends a single HTTP request. Timeouts, TLS and connection pooling
// are the transport's concern. Implementations must be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}

// TransportRequest is the wire-level request built by the client.
type TransportRequest struct {
	Method Method
	URL    string // path relative to the transport's base URL, or absolute
	Header http.Header
	Body   []byte
}

// TransportResponse is the wire-level response. Body is read incrementally
// and must always be closed by the receiver.
type TransportResponse struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *TransportRequest) (*TransportResponse, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	return f(ctx, req)
}

// TokenStore persists the access/refresh credential pair.
// An empty string with a nil error means the token is absent.
// Implementations must be safe for concurrent use.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SaveAccessToken(ctx context.Context, token string) error
	SaveRefreshToken(ctx context.Context, token string) error
	ClearAccessToken(ctx context.Context) error
	ClearRefreshToken(ctx context.Context) error
}

// SaveTokens stores both tokens of p.
func SaveTokens(ctx context.Context, store TokenStore, p TokenPair) error {
	if err := store.SaveAccessToken(ctx, p.Access.Expose()); err != nil {
		return err
	}
	return store.SaveRefreshToken(ctx, p.Refresh.Expose())
}

// ClearTokens removes both tokens, attempting the refresh token even if
// clearing the access token fails.
func ClearTokens(ctx context.Context, store TokenStore) error {
	errA := store.ClearAccessToken(ctx)
	errR := store.ClearRefreshToken(ctx)
	if errA != nil {
		return errA
	}
	return errR
}
