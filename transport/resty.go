// Package transport provides core.Transport implementations and middleware.
package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/petal-labs/carelink/core"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "carelink-go"

// Resty sends requests with a resty client. Response bodies are never
// buffered by resty; they are handed to the caller unread.
type Resty struct {
	client  *resty.Client
	logger  *zap.Logger
	handler core.Transport
	mws     []Middleware
}

// Option configures a Resty transport.
type Option func(*Resty)

// New creates a transport rooted at baseURL. Relative request URLs are
// resolved against it.
func New(baseURL string, opts ...Option) *Resty {
	t := &Resty{
		client: resty.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.client.
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetLogger(restyLogger{t.logger.Sugar()})
	if t.client.Header.Get("User-Agent") == "" {
		t.client.SetHeader("User-Agent", DefaultUserAgent)
	}

	t.handler = Chain(t.mws...)(core.TransportFunc(t.do))
	return t
}

// WithLogger sets the logger used by the transport and by resty itself.
func WithLogger(l *zap.Logger) Option {
	return func(t *Resty) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTimeout bounds each request, including reading a streamed body.
// Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Resty) {
		t.client.SetTimeout(d)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Resty) {
		if ua != "" {
			t.client.SetHeader("User-Agent", ua)
		}
	}
}

// WithRestyClient replaces the underlying resty client. Options applied
// after this one configure the new client.
func WithRestyClient(c *resty.Client) Option {
	return func(t *Resty) {
		if c != nil {
			t.client = c
		}
	}
}

// WithMiddleware wraps every request in mws. The first middleware is the
// outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(t *Resty) {
		t.mws = append(t.mws, mws...)
	}
}

// Client returns the underlying resty client.
func (t *Resty) Client() *resty.Client {
	return t.client
}

// Do implements core.Transport.
func (t *Resty) Do(ctx context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
	return t.handler.Do(ctx, req)
}

func (t *Resty) do(ctx context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
	r := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if req.Header != nil {
		r.Header = req.Header.Clone()
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(string(req.Method), req.URL)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, err
	}
	if resp.RawResponse == nil {
		return nil, errors.New("transport: no response")
	}

	body := resp.RawBody()
	if body == nil {
		body = http.NoBody
	}
	return &core.TransportResponse{
		Status: resp.StatusCode(),
		Header: resp.Header(),
		Body:   body,
	}, nil
}

// restyLogger routes resty's internal messages to zap.
type restyLogger struct {
	s *zap.SugaredLogger
}

func (l restyLogger) Errorf(format string, v ...any) { l.s.Errorf(format, v...) }
func (l restyLogger) Warnf(format string, v ...any)  { l.s.Warnf(format, v...) }
func (l restyLogger) Debugf(format string, v ...any) { l.s.Debugf(format, v...) }

var (
	_ core.Transport = (*Resty)(nil)
	_ resty.Logger   = restyLogger{}
)
