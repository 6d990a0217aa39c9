package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRefreshConcurrentCallersFailFast(t *testing.T) {
	const callers = 8

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	coord := NewRefreshCoordinator(func(context.Context) Result[struct{}] {
		calls.Add(1)
		close(started)
		<-release
		return Success(struct{}{})
	}, RefreshFailFast, nil)

	first := make(chan Result[struct{}], 1)
	go func() { first <- coord.Refresh(context.Background()) }()
	<-started
	require.True(t, coord.InProgress())

	var (
		g        errgroup.Group
		mu       sync.Mutex
		rejected int
	)
	for i := 0; i < callers-1; i++ {
		g.Go(func() error {
			res := coord.Refresh(context.Background())
			if res.IsSuccess() {
				return errors.New("concurrent refresh succeeded")
			}
			if !errors.Is(res.Err(), ErrRefreshInProgress) {
				return res.Err()
			}
			mu.Lock()
			rejected++
			mu.Unlock()
			return nil
		})
	}
	// Rejected callers return without waiting for the running exchange.
	require.NoError(t, g.Wait())
	close(release)

	assert.True(t, (<-first).IsSuccess())
	assert.Equal(t, callers-1, rejected)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, coord.InProgress())
}

func TestRefreshClearsFlagOnFailure(t *testing.T) {
	calls := 0
	coord := NewRefreshCoordinator(func(context.Context) Result[struct{}] {
		calls++
		return Failure[struct{}](refreshFailed(nil))
	}, RefreshFailFast, nil)

	res := coord.Refresh(context.Background())
	require.False(t, res.IsSuccess())
	assert.Equal(t, "could not refresh", res.Err().Message)
	assert.False(t, coord.InProgress())

	coord.Refresh(context.Background())
	assert.Equal(t, 2, calls)
}

func TestRefreshClearsFlagOnPanic(t *testing.T) {
	coord := NewRefreshCoordinator(func(context.Context) Result[struct{}] {
		panic("exchange exploded")
	}, RefreshFailFast, nil)

	assert.Panics(t, func() { coord.Refresh(context.Background()) })
	assert.False(t, coord.InProgress())
}

func TestRefreshClearsFlagOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	coord := NewRefreshCoordinator(func(ctx context.Context) Result[struct{}] {
		cancel()
		<-ctx.Done()
		return Failure[struct{}](NewUnknownError(ctx.Err()))
	}, RefreshFailFast, nil)

	res := coord.Refresh(ctx)
	require.False(t, res.IsSuccess())
	assert.True(t, errors.Is(res.Err(), context.Canceled))
	assert.False(t, coord.InProgress())
}

func TestRefreshSharedPolicyJoinsInFlight(t *testing.T) {
	const callers = 5

	var calls atomic.Int32
	release := make(chan struct{})
	coord := NewRefreshCoordinator(func(context.Context) Result[struct{}] {
		calls.Add(1)
		<-release
		return Success(struct{}{})
	}, RefreshShared, nil)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			if res := coord.Refresh(context.Background()); !res.IsSuccess() {
				return res.Err()
			}
			return nil
		})
	}
	require.Eventually(t, coord.InProgress, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, calls.Load(), int32(callers))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.False(t, coord.InProgress())
}

func TestRefreshSharedPolicyPropagatesFailure(t *testing.T) {
	coord := NewRefreshCoordinator(func(context.Context) Result[struct{}] {
		return Failure[struct{}](refreshFailed(nil))
	}, RefreshShared, nil)

	res := coord.Refresh(context.Background())
	require.False(t, res.IsSuccess())
	assert.Equal(t, KindUnauthorized, res.Err().Kind)
}

func TestRefreshSharedPolicySurvivesCancelledCaller(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var exchangeErr atomic.Value
	coord := NewRefreshCoordinator(func(ctx context.Context) Result[struct{}] {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		exchangeErr.Store(fmt.Sprint(ctx.Err()))
		return Success(struct{}{})
	}, RefreshShared, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan Result[struct{}], 1)
	go func() { first <- coord.Refresh(ctx) }()
	<-started

	joined := make(chan Result[struct{}], 1)
	go func() { joined <- coord.Refresh(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	res := <-first
	require.False(t, res.IsSuccess())
	assert.True(t, errors.Is(res.Err(), context.Canceled))

	close(release)
	assert.True(t, (<-joined).IsSuccess())
	assert.Equal(t, "<nil>", exchangeErr.Load())
	assert.Equal(t, int32(1), calls.Load())
}

// Under the shared policy a caller that gives up neither fails the refresh
// for the others nor clears the session.
func TestClientSharedRefreshCancelledCaller(t *testing.T) {
	store := newMemStore("stale", "refresh-1")
	var meCalls, refreshCalls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	tr := TransportFunc(func(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
		if req.URL == "/api/auth/refresh-token" {
			if refreshCalls.Add(1) == 1 {
				close(started)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
			}
			return refreshRoute("fresh", "refresh-2")(req)
		}
		if bearerIs(req, "fresh") {
			return textResponse(http.StatusOK, `{}`), nil
		}
		meCalls.Add(1)
		return textResponse(http.StatusUnauthorized, ``), nil
	})
	client := NewClient(tr, store, WithRefreshPolicy(RefreshShared))
	spec := RequestSpec{Method: MethodGet, Auth: AuthAccess, Path: "/me"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan Result[*Response], 1)
	go func() { first <- client.Execute(ctx, spec) }()
	<-started

	joined := make(chan Result[*Response], 1)
	go func() { joined <- client.Execute(context.Background(), spec) }()
	require.Eventually(t, func() bool { return meCalls.Load() == 2 }, time.Second, time.Millisecond)
	// Let the second caller reach the in-flight refresh.
	time.Sleep(20 * time.Millisecond)

	cancel()
	res := <-first
	require.False(t, res.IsSuccess())
	assert.True(t, errors.Is(res.Err(), context.Canceled))
	access, refresh := store.tokens()
	assert.Equal(t, "stale", access)
	assert.Equal(t, "refresh-1", refresh)

	close(release)
	require.True(t, (<-joined).IsSuccess())
	access, refresh = store.tokens()
	assert.Equal(t, "fresh", access)
	assert.Equal(t, "refresh-2", refresh)
	assert.Zero(t, store.clears.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestParseRefreshPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want RefreshPolicy
		ok   bool
	}{
		{"", RefreshFailFast, true},
		{"fail-fast", RefreshFailFast, true},
		{"shared", RefreshShared, true},
		{"wait", RefreshFailFast, false},
	}
	for _, tt := range tests {
		got, ok := ParseRefreshPolicy(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
	assert.Equal(t, "shared", RefreshShared.String())
	assert.Equal(t, "fail-fast", RefreshFailFast.String())
}

// Concurrent 401s through the client: one refresh call is made and every
// caller that loses the race fails without waiting for it.
func TestClientConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	const losers = 5

	store := newMemStore("stale", "refresh-1")
	release := make(chan struct{})
	tr := newFakeTransport()
	tr.handle("/api/auth/refresh-token", func(req *TransportRequest) (*TransportResponse, error) {
		<-release
		return refreshRoute("fresh", "refresh-2")(req)
	})
	tr.handle("/api/me", func(req *TransportRequest) (*TransportResponse, error) {
		if bearerIs(req, "fresh") {
			return textResponse(http.StatusOK, `{}`), nil
		}
		return textResponse(http.StatusUnauthorized, ``), nil
	})
	client := NewClient(tr, store)
	spec := RequestSpec{Method: MethodGet, Auth: AuthAccess, Path: "/me"}

	winner := make(chan Result[*Response], 1)
	go func() { winner <- client.Execute(context.Background(), spec) }()
	require.Eventually(t, client.refresher.InProgress, time.Second, time.Millisecond)

	lost := make(chan Result[*Response], losers)
	for i := 0; i < losers; i++ {
		go func() { lost <- client.Execute(context.Background(), spec) }()
	}
	for i := 0; i < losers; i++ {
		res := <-lost
		require.False(t, res.IsSuccess())
		assert.Contains(t, []ErrorKind{KindSessionExpired, KindUnauthorized}, res.Err().Kind)
	}
	close(release)

	assert.True(t, (<-winner).IsSuccess())
	assert.Equal(t, 1, tr.count("/api/auth/refresh-token"))
}
