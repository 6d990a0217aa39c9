package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RefreshPolicy selects how a RefreshCoordinator treats concurrent callers.
type RefreshPolicy int

const (
	// RefreshFailFast rejects a caller with RefreshInProgress while another
	// refresh is running. Rejected callers do not wait for the outcome.
	RefreshFailFast RefreshPolicy = iota

	// RefreshShared makes concurrent callers wait for the running refresh
	// and share its outcome.
	RefreshShared
)

// String returns the policy name used in configuration.
func (p RefreshPolicy) String() string {
	if p == RefreshShared {
		return "shared"
	}
	return "fail-fast"
}

// ParseRefreshPolicy parses "fail-fast" or "shared". Empty means fail-fast.
func ParseRefreshPolicy(s string) (RefreshPolicy, bool) {
	switch s {
	case "", "fail-fast":
		return RefreshFailFast, true
	case "shared":
		return RefreshShared, true
	default:
		return RefreshFailFast, false
	}
}

// RefreshFunc performs one physical token exchange.
type RefreshFunc func(ctx context.Context) Result[struct{}]

// RefreshCoordinator guarantees that at most one token exchange runs at a time.
//
// The in-progress flag is only read and written under mu. It is set before
// the exchange starts and cleared on every exit path, including cancellation
// and panics in the exchange.
type RefreshCoordinator struct {
	exchange RefreshFunc
	policy   RefreshPolicy
	logger   *zap.Logger

	mu         sync.Mutex
	inProgress bool

	group singleflight.Group
}

// NewRefreshCoordinator creates a coordinator around exchange.
func NewRefreshCoordinator(exchange RefreshFunc, policy RefreshPolicy, logger *zap.Logger) *RefreshCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshCoordinator{
		exchange: exchange,
		policy:   policy,
		logger:   logger,
	}
}

// Refresh runs the exchange unless one is already in progress.
func (r *RefreshCoordinator) Refresh(ctx context.Context) Result[struct{}] {
	if r.policy == RefreshShared {
		return r.refreshShared(ctx)
	}
	if !r.begin() {
		r.logger.Debug("refresh rejected, another refresh is in progress")
		return Failure[struct{}](NewRefreshInProgressError())
	}
	defer r.end()
	return r.exchange(ctx)
}

// InProgress reports whether an exchange is currently running.
func (r *RefreshCoordinator) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}

func (r *RefreshCoordinator) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inProgress {
		return false
	}
	r.inProgress = true
	return true
}

func (r *RefreshCoordinator) end() {
	r.mu.Lock()
	r.inProgress = false
	r.mu.Unlock()
}

// refreshShared runs the exchange detached from the caller's cancellation.
// A cancelled caller stops waiting; the exchange continues for the others.
func (r *RefreshCoordinator) refreshShared(ctx context.Context) Result[struct{}] {
	exchangeCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan("refresh", func() (any, error) {
		r.begin()
		defer r.end()
		if res := r.exchange(exchangeCtx); !res.IsSuccess() {
			return nil, res.Err()
		}
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return Failure[struct{}](NewUnknownError(ctx.Err()))
	case out := <-ch:
		if out.Err != nil {
			ne, _ := AsNetworkError(out.Err)
			return Failure[struct{}](ne)
		}
		if out.Shared {
			r.logger.Debug("joined in-flight refresh")
		}
		return Success(struct{}{})
	}
}
