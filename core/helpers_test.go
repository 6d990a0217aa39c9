package core

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// memStore is a TokenStore that counts writes and clears.
type memStore struct {
	mu      sync.Mutex
	access  string
	refresh string
	clears  atomic.Int32
	saves   atomic.Int32
}

func newMemStore(access, refresh string) *memStore {
	return &memStore{access: access, refresh: refresh}
}

func (s *memStore) AccessToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, nil
}

func (s *memStore) RefreshToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh, nil
}

func (s *memStore) SaveAccessToken(_ context.Context, t string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves.Add(1)
	s.access = t
	return nil
}

func (s *memStore) SaveRefreshToken(_ context.Context, t string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves.Add(1)
	s.refresh = t
	return nil
}

func (s *memStore) ClearAccessToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears.Add(1)
	s.access = ""
	return nil
}

func (s *memStore) ClearRefreshToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears.Add(1)
	s.refresh = ""
	return nil
}

func (s *memStore) tokens() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.refresh
}

func textResponse(status int, body string) *TransportResponse {
	return &TransportResponse{
		Status: status,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(strings.NewReader(body)),
	}
}

// route dispatches by URL and records every request.
type route func(req *TransportRequest) (*TransportResponse, error)

type fakeTransport struct {
	mu       sync.Mutex
	routes   map[string]route
	requests []*TransportRequest
	calls    map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{routes: make(map[string]route), calls: make(map[string]int)}
}

func (f *fakeTransport) handle(url string, r route) *fakeTransport {
	f.routes[url] = r
	return f
}

func (f *fakeTransport) Do(_ context.Context, req *TransportRequest) (*TransportResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.calls[req.URL]++
	r, ok := f.routes[req.URL]
	f.mu.Unlock()
	if !ok {
		return textResponse(http.StatusNotFound, `{"message":"no route"}`), nil
	}
	return r(req)
}

func (f *fakeTransport) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeTransport) last() *TransportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// refreshRoute answers the refresh endpoint with a fresh pair.
func refreshRoute(access, refresh string) route {
	return func(*TransportRequest) (*TransportResponse, error) {
		return textResponse(http.StatusOK, `{"accessToken":"`+access+`","refreshToken":"`+refresh+`"}`), nil
	}
}

// bearerIs reports whether req carries the given bearer token.
func bearerIs(req *TransportRequest, token string) bool {
	return req.Header.Get("Authorization") == "Bearer "+token
}
