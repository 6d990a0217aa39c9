package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/petal-labs/carelink/core"
)

// Middleware wraps a core.Transport to add behavior around each request.
type Middleware func(next core.Transport) core.Transport

// Chain combines middleware into one. The first middleware is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next core.Transport) core.Transport {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Wrap applies mws to t.
func Wrap(t core.Transport, mws ...Middleware) core.Transport {
	return Chain(mws...)(t)
}

// WithLogging logs every request at debug level and transport failures at
// warn level. Headers and bodies are never logged.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next core.Transport) core.Transport {
		return core.TransportFunc(func(ctx context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
			start := time.Now()
			resp, err := next.Do(ctx, req)
			fields := []zap.Field{
				zap.String("method", string(req.Method)),
				zap.String("url", req.URL),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("http request failed", append(fields, zap.Error(err))...)
				return nil, err
			}
			logger.Debug("http request", append(fields, zap.Int("status", resp.Status))...)
			return resp, nil
		})
	}
}

// WithHeader sets a header on every request that does not already carry it.
func WithHeader(key, value string) Middleware {
	return func(next core.Transport) core.Transport {
		return core.TransportFunc(func(ctx context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
			if req.Header.Get(key) == "" {
				out := *req
				out.Header = req.Header.Clone()
				if out.Header == nil {
					out.Header = make(map[string][]string)
				}
				out.Header.Set(key, value)
				req = &out
			}
			return next.Do(ctx, req)
		})
	}
}
