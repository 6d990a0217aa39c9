package tokenstore

import (
	"context"
	"sync"

	"github.com/petal-labs/carelink/core"
)

// Memory keeps tokens in process memory.
type Memory struct {
	mu  sync.RWMutex
	doc document
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) AccessToken(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.AccessToken, nil
}

func (m *Memory) RefreshToken(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.RefreshToken, nil
}

func (m *Memory) SaveAccessToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.AccessToken = token
	return nil
}

func (m *Memory) SaveRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.RefreshToken = token
	return nil
}

func (m *Memory) ClearAccessToken(ctx context.Context) error {
	return m.SaveAccessToken(ctx, "")
}

func (m *Memory) ClearRefreshToken(ctx context.Context) error {
	return m.SaveRefreshToken(ctx, "")
}

var _ core.TokenStore = (*Memory)(nil)
