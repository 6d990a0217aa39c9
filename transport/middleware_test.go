package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/petal-labs/carelink/core"
)

func okTransport() core.Transport {
	return core.TransportFunc(func(context.Context, *core.TransportRequest) (*core.TransportResponse, error) {
		return &core.TransportResponse{Status: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
}

func failingTransport(err error) core.Transport {
	return core.TransportFunc(func(context.Context, *core.TransportRequest) (*core.TransportResponse, error) {
		return nil, err
	})
}

func TestWithHeaderDoesNotOverride(t *testing.T) {
	var seen []string
	capture := core.TransportFunc(func(_ context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
		seen = append(seen, req.Header.Get("X-Client"))
		return &core.TransportResponse{Status: http.StatusOK, Body: http.NoBody}, nil
	})
	tr := Wrap(capture, WithHeader("X-Client", "cli"))

	original := http.Header{}
	_, err := tr.Do(context.Background(), &core.TransportRequest{Method: core.MethodGet, URL: "/", Header: original})
	require.NoError(t, err)
	_, err = tr.Do(context.Background(), &core.TransportRequest{Method: core.MethodGet, URL: "/", Header: http.Header{"X-Client": []string{"app"}}})
	require.NoError(t, err)
	_, err = tr.Do(context.Background(), &core.TransportRequest{Method: core.MethodGet, URL: "/"})
	require.NoError(t, err)

	assert.Equal(t, []string{"cli", "app", "cli"}, seen)
	assert.Empty(t, original.Get("X-Client"))
}

func TestWithLogging(t *testing.T) {
	zcore, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(zcore)

	_, err := Wrap(okTransport(), WithLogging(logger)).Do(context.Background(),
		&core.TransportRequest{Method: core.MethodGet, URL: "/api/me", Header: http.Header{"Authorization": []string{"Bearer secret"}}})
	require.NoError(t, err)
	_, err = Wrap(failingTransport(errors.New("dial failed")), WithLogging(logger)).Do(context.Background(),
		&core.TransportRequest{Method: core.MethodPost, URL: "/invoke"})
	require.Error(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "/invoke", entries[1].ContextMap()["url"])
	for _, e := range entries {
		assert.NotContains(t, e.ContextMap(), "Authorization")
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenDuration: time.Minute})
	breaker.now = func() time.Time { return now }

	fail := true
	calls := 0
	next := core.TransportFunc(func(context.Context, *core.TransportRequest) (*core.TransportResponse, error) {
		calls++
		if fail {
			return nil, errors.New("connection refused")
		}
		return &core.TransportResponse{Status: http.StatusInternalServerError, Body: http.NoBody}, nil
	})
	tr := Wrap(next, breaker.Middleware())
	req := &core.TransportRequest{Method: core.MethodGet, URL: "/"}

	for i := 0; i < 2; i++ {
		_, err := tr.Do(context.Background(), req)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}
	assert.Equal(t, CircuitOpen, breaker.State())

	_, err := tr.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, breaker.State())

	fail = false
	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: time.Second})
	breaker.now = func() time.Time { return now }
	tr := Wrap(failingTransport(errors.New("reset")), breaker.Middleware())
	req := &core.TransportRequest{Method: core.MethodGet, URL: "/"}

	_, _ = tr.Do(context.Background(), req)
	assert.Equal(t, CircuitOpen, breaker.State())

	now = now.Add(2 * time.Second)
	_, err := tr.Do(context.Background(), req)
	assert.False(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, CircuitOpen, breaker.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	tr := Wrap(failingTransport(context.Canceled), breaker.Middleware())

	_, _ = tr.Do(context.Background(), &core.TransportRequest{Method: core.MethodGet, URL: "/"})
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
