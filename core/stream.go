package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"go.uber.org/zap"
)

// StreamRequest describes an event stream to open.
type StreamRequest struct {
	Method   Method // defaults to POST
	Auth     AuthType
	Endpoint string
	Body     any
}

// LineDecoder converts one stream payload into a value.
// Returning ok=false with a nil error skips the line.
// Returning an error emits a single parse error; the stream continues.
type LineDecoder[T any] func(payload string) (value T, ok bool, err error)

// JSONLines returns a decoder that unmarshals every payload into T.
func JSONLines[T any]() LineDecoder[T] {
	return func(payload string) (T, bool, error) {
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return v, false, err
		}
		return v, true, nil
	}
}

// Stream opens an event stream and decodes it line by line.
//
// The returned sequence is lazy: the request is sent when iteration starts, and
// every iteration opens a fresh connection. Stopping iteration early closes the
// connection. A missing required token is returned as an error immediately
// instead of being emitted.
//
// Per line:
//   - blank lines, empty "data:" lines and "[DONE]" are skipped
//   - a "data:" prefix and surrounding whitespace are stripped
//   - decoder errors emit one failed Result and decoding continues
//
// A transport failure while reading ends the sequence with one failed Result.
// A 401 on an access-authenticated stream triggers one refresh and reopens
// the stream once.
func Stream[T any](ctx context.Context, c *Client, req StreamRequest, decode LineDecoder[T]) (iter.Seq[Result[T]], error) {
	if decode == nil {
		return nil, errors.New("core: nil line decoder")
	}
	if req.Method == "" {
		req.Method = MethodPost
	}
	if !req.Method.Valid() {
		return nil, NewUnknownError(fmt.Errorf("unsupported method %q", req.Method))
	}
	if _, nerr := c.authHeader(ctx, req.Auth); nerr != nil {
		return nil, nerr
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, NewSerializationError(err)
	}

	return func(yield func(Result[T]) bool) {
		streamOnce(ctx, c, req, body, decode, false, yield)
	}, nil
}

func streamOnce[T any](ctx context.Context, c *Client, req StreamRequest, body []byte, decode LineDecoder[T], isRetry bool, yield func(Result[T]) bool) {
	resp, nerr := c.openStream(ctx, req, body, isRetry)
	if nerr != nil {
		yield(Failure[T](nerr))
		return
	}

	if resp.Status == http.StatusUnauthorized {
		_, _ = readBody(resp.Body, maxErrorBody)
		if req.Auth == AuthAccess && !isRetry {
			if c.Refresh(ctx).IsSuccess() {
				streamOnce(ctx, c, req, body, decode, true, yield)
				return
			}
		}
		yield(Failure[T](NewUnauthorizedError(resp.Status, "unauthorized (401)")))
		return
	}

	if resp.Status < 200 || resp.Status > 299 {
		data, _ := readBody(resp.Body, maxErrorBody)
		c.logger.Warn("stream rejected",
			zap.String("endpoint", req.Endpoint),
			zap.Int("status", resp.Status),
			zap.ByteString("body", data),
		)
		yield(Failure[T](NewRemoteError(resp.Status,
			fmt.Sprintf("server error: %d %s", resp.Status, http.StatusText(resp.Status)))))
		return
	}

	defer resp.Body.Close()
	decodeLines(ctx, c, resp.Body, decode, yield)
}

// openStream sends the stream request and returns the raw response.
func (c *Client) openStream(ctx context.Context, req StreamRequest, body []byte, isRetry bool) (*TransportResponse, *NetworkError) {
	header, nerr := c.authHeader(ctx, req.Auth)
	if nerr != nil {
		return nil, nerr
	}
	header.Set("Accept", "text/event-stream")
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	return c.send(ctx, &TransportRequest{
		Method: req.Method,
		URL:    joinPath(c.streamRoot, req.Endpoint),
		Header: header,
		Body:   body,
	}, req.Auth, isRetry, true)
}

func decodeLines[T any](ctx context.Context, c *Client, body io.Reader, decode LineDecoder[T], yield func(Result[T]) bool) {
	lines := newLineReader(body, c.maxLineLength)
	for {
		if err := ctx.Err(); err != nil {
			yield(Failure[T](NewUnknownError(err)))
			return
		}

		line, err := lines.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			c.logger.Debug("stream ended")
			return
		case errors.Is(err, ErrLineTooLong):
			tooLong := newError(KindSerialization, 0,
				fmt.Sprintf("line exceeds %d bytes", c.maxLineLength), err)
			if !yield(Failure[T](tooLong)) {
				return
			}
			continue
		default:
			yield(Failure[T](classifyTransportError(err)))
			return
		}

		payload, ok := framePayload(line)
		if !ok {
			continue
		}
		v, ok, err := safeDecode(decode, payload)
		if err != nil {
			c.logger.Debug("stream line rejected by decoder", zap.Error(err))
			parseErr := newError(KindSerialization, 0, "parse error: "+err.Error(), err)
			if !yield(Failure[T](parseErr)) {
				return
			}
			continue
		}
		if !ok {
			continue
		}
		if !yield(Success(v)) {
			return
		}
	}
}

// safeDecode runs decode, turning a panic into an error.
func safeDecode[T any](decode LineDecoder[T], payload string) (v T, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero T
			v, ok, err = zero, false, fmt.Errorf("decoder panic: %v", p)
		}
	}()
	return decode(payload)
}
