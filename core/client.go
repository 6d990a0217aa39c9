package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by NewClient.
const (
	DefaultAPIRoot       = "/api"
	DefaultRefreshPath   = "/auth/refresh-token"
	DefaultMaxLineLength = 10000
)

// maxErrorBody bounds how much of a non-success body is read.
const maxErrorBody = 64 << 10

// Client executes authenticated requests and opens event streams.
// Client is safe for concurrent use.
type Client struct {
	transport     Transport
	tokens        TokenStore
	refresher     *RefreshCoordinator
	refreshPolicy RefreshPolicy
	apiRoot       string
	streamRoot    string
	refreshPath   string
	maxLineLength int
	logger        *zap.Logger
	telemetry     TelemetryHook
	retry         RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a Client sending through t and reading credentials from
// tokens. The client owns one RefreshCoordinator for its whole lifetime.
func NewClient(t Transport, tokens TokenStore, opts ...ClientOption) *Client {
	c := &Client{
		transport:     t,
		tokens:        tokens,
		apiRoot:       DefaultAPIRoot,
		refreshPath:   DefaultRefreshPath,
		maxLineLength: DefaultMaxLineLength,
		logger:        zap.NewNop(),
		telemetry:     NoopTelemetryHook{},
		retry:         NoRetry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refresher = NewRefreshCoordinator(c.exchangeTokens, c.refreshPolicy, c.logger)
	return c
}

// WithAPIRoot sets the prefix joined onto every Execute path.
func WithAPIRoot(root string) ClientOption {
	return func(c *Client) {
		c.apiRoot = root
	}
}

// WithStreamRoot sets the prefix joined onto every stream endpoint.
// By default stream endpoints are used as given.
func WithStreamRoot(root string) ClientOption {
	return func(c *Client) {
		c.streamRoot = root
	}
}

// WithRefreshPath sets the refresh endpoint, relative to the API root.
func WithRefreshPath(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.refreshPath = path
		}
	}
}

// WithMaxLineLength bounds the length in bytes of a single stream line.
func WithMaxLineLength(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxLineLength = n
		}
	}
}

// WithRefreshPolicy selects how concurrent refreshes are coordinated.
func WithRefreshPolicy(p RefreshPolicy) ClientOption {
	return func(c *Client) {
		c.refreshPolicy = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTelemetry sets the telemetry hook.
func WithTelemetry(h TelemetryHook) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.telemetry = h
		}
	}
}

// WithRetryPolicy sets the policy for resending idempotent requests that
// failed without a response.
func WithRetryPolicy(r RetryPolicy) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.retry = r
		}
	}
}

// Tokens returns the client's token store.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// Execute sends one request and classifies the response.
//
// A 401 on an access-authenticated request triggers one token refresh and one
// retry. If the refresh fails, or the retry is rejected again, both stored
// tokens are cleared. Cancelling ctx during the refresh leaves them in place.
func (c *Client) Execute(ctx context.Context, spec RequestSpec) Result[*Response] {
	return c.execute(ctx, spec, false)
}

// Refresh exchanges the refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context) Result[struct{}] {
	return c.refresher.Refresh(ctx)
}

func (c *Client) execute(ctx context.Context, spec RequestSpec, isRetry bool) Result[*Response] {
	if !spec.Method.Valid() {
		return Failure[*Response](NewUnknownError(fmt.Errorf("unsupported method %q", spec.Method)))
	}
	body, err := encodeBody(spec.Body)
	if err != nil {
		return Failure[*Response](NewSerializationError(err))
	}
	header, nerr := c.authHeader(ctx, spec.Auth)
	if nerr != nil {
		return Failure[*Response](nerr)
	}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	req := &TransportRequest{
		Method: spec.Method,
		URL:    joinPath(c.apiRoot, spec.Path),
		Header: header,
		Body:   body,
	}
	resp, nerr := c.send(ctx, req, spec.Auth, isRetry, false)
	if nerr != nil {
		return Failure[*Response](nerr)
	}

	success := resp.Status >= 200 && resp.Status <= 299
	limit := int64(maxErrorBody)
	if success {
		limit = -1
	}
	data, err := readBody(resp.Body, limit)
	if err != nil {
		return Failure[*Response](classifyTransportError(err))
	}

	switch {
	case success:
		return Success(&Response{Status: resp.Status, Header: resp.Header, Body: data})

	case resp.Status == http.StatusUnauthorized:
		if spec.Auth == AuthAccess && !isRetry {
			refreshed := c.Refresh(ctx)
			if refreshed.IsSuccess() {
				return c.execute(ctx, spec, true)
			}
			// A caller that gave up did not see the refresh fail.
			if err := ctx.Err(); err != nil {
				return Failure[*Response](NewUnknownError(err))
			}
			c.clearTokens(ctx, "refresh failed")
			return Failure[*Response](NewSessionExpiredError(refreshed.Err()))
		}
		c.clearTokens(ctx, "request rejected")
		return Failure[*Response](NewUnauthorizedError(resp.Status, "unauthorized"))

	default:
		return Failure[*Response](NewRemoteError(resp.Status, remoteMessage(resp.Status, data)))
	}
}

// authHeader builds the Authorization header for auth.
// A required but absent token is reported as Unauthorized.
func (c *Client) authHeader(ctx context.Context, auth AuthType) (http.Header, *NetworkError) {
	header := make(http.Header)

	var (
		token string
		err   error
	)
	switch auth {
	case AuthAccess:
		token, err = c.tokens.AccessToken(ctx)
	case AuthRefresh:
		token, err = c.tokens.RefreshToken(ctx)
	default:
		return header, nil
	}
	if err != nil {
		return nil, NewUnknownError(fmt.Errorf("read %s token: %w", auth, err))
	}
	if token == "" {
		return nil, NewUnauthorizedError(0, fmt.Sprintf("missing %s token", auth))
	}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

// send hands req to the transport, applying the retry policy to idempotent
// requests that fail without a response.
func (c *Client) send(ctx context.Context, req *TransportRequest, auth AuthType, isRetry, stream bool) (*TransportResponse, *NetworkError) {
	start := time.Now()
	c.telemetry.OnRequestStart(RequestStartEvent{
		Method: req.Method,
		Path:   req.URL,
		Auth:   auth,
		Retry:  isRetry,
		Stream: stream,
		Start:  start,
	})
	c.logger.Debug("sending request",
		zap.String("method", string(req.Method)),
		zap.String("path", req.URL),
		zap.Stringer("auth", auth),
		zap.Bool("retry", isRetry),
		zap.Bool("stream", stream),
	)

	var (
		resp *TransportResponse
		nerr *NetworkError
	)
	for attempt := 0; ; attempt++ {
		var err error
		resp, err = c.transport.Do(ctx, req)
		if err == nil {
			nerr = nil
			break
		}
		nerr = classifyTransportError(err)
		if !req.Method.idempotent() {
			break
		}
		delay, ok := c.retry.NextDelay(attempt, nerr)
		if !ok {
			break
		}
		c.logger.Debug("retrying request",
			zap.String("path", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			nerr = NewUnknownError(ctx.Err())
		case <-timer.C:
			continue
		}
		break
	}

	end := RequestEndEvent{
		Method: req.Method,
		Path:   req.URL,
		Auth:   auth,
		Retry:  isRetry,
		Stream: stream,
		Start:  start,
		End:    time.Now(),
	}
	if nerr != nil {
		end.Err = nerr
		c.telemetry.OnRequestEnd(end)
		c.logger.Debug("request failed", zap.String("path", req.URL), zap.Error(nerr))
		return nil, nerr
	}
	end.Status = resp.Status
	c.telemetry.OnRequestEnd(end)
	c.logger.Debug("response received",
		zap.String("path", req.URL),
		zap.Int("status", resp.Status),
		zap.Duration("elapsed", end.Duration()),
	)
	return resp, nil
}

func (c *Client) clearTokens(ctx context.Context, reason string) {
	c.logger.Warn("clearing stored tokens", zap.String("reason", reason))
	if err := ClearTokens(ctx, c.tokens); err != nil {
		c.logger.Error("clear stored tokens", zap.Error(err))
	}
}

// tokenResponse is the refresh endpoint body.
type tokenResponse struct {
	AccessToken  *string `json:"accessToken"`
	RefreshToken *string `json:"refreshToken"`
}

// exchangeTokens performs the physical refresh call. It never clears the
// store; callers decide what a failed refresh means for the session.
func (c *Client) exchangeTokens(ctx context.Context) Result[struct{}] {
	header, nerr := c.authHeader(ctx, AuthRefresh)
	if nerr != nil {
		return Failure[struct{}](refreshFailed(nerr))
	}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	req := &TransportRequest{
		Method: MethodPost,
		URL:    joinPath(c.apiRoot, c.refreshPath),
		Header: header,
	}
	resp, nerr := c.send(ctx, req, AuthRefresh, false, false)
	if nerr != nil {
		return Failure[struct{}](refreshFailed(nerr))
	}

	success := resp.Status >= 200 && resp.Status <= 299
	limit := int64(maxErrorBody)
	if success {
		limit = -1
	}
	data, err := readBody(resp.Body, limit)
	if err != nil {
		return Failure[struct{}](refreshFailed(classifyTransportError(err)))
	}
	switch {
	case success:
	case resp.Status == http.StatusUnauthorized:
		return Failure[struct{}](refreshFailed(NewUnauthorizedError(resp.Status, "unauthorized")))
	default:
		return Failure[struct{}](refreshFailed(NewRemoteError(resp.Status, remoteMessage(resp.Status, data))))
	}

	var body tokenResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return Failure[struct{}](refreshFailed(NewSerializationError(err)))
	}
	if body.AccessToken == nil || body.RefreshToken == nil ||
		*body.AccessToken == "" || *body.RefreshToken == "" {
		return Failure[struct{}](refreshFailed(nil))
	}

	pair := TokenPair{
		Access:  NewSecret(*body.AccessToken),
		Refresh: NewSecret(*body.RefreshToken),
	}
	if err := SaveTokens(ctx, c.tokens, pair); err != nil {
		return Failure[struct{}](refreshFailed(NewUnknownError(err)))
	}
	c.logger.Debug("tokens refreshed")
	return Success(struct{}{})
}

func refreshFailed(cause error) *NetworkError {
	return newError(KindUnauthorized, 0, "could not refresh", cause)
}

// errorBody is the structured error body returned by the API.
type errorBody struct {
	Message string `json:"message"`
}

func remoteMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Message != "" {
		return eb.Message
	}
	return fmt.Sprintf("unexpected error: %d %s", status, http.StatusText(status))
}

// readBody reads and closes body. A negative limit reads everything.
func readBody(body io.ReadCloser, limit int64) ([]byte, error) {
	defer body.Close()
	var r io.Reader = body
	if limit >= 0 {
		r = io.LimitReader(body, limit)
	}
	return io.ReadAll(r)
}
