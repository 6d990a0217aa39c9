package commands

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/petal-labs/carelink/cli/config"
	"github.com/petal-labs/carelink/core"
	"github.com/petal-labs/carelink/tokenstore"
	"github.com/petal-labs/carelink/transport"
)

// openStore builds the token store named by cfg.TokenStore.Driver.
func openStore(cfg *config.Config) (core.TokenStore, error) {
	sc := cfg.TokenStore
	switch sc.Driver {
	case config.DriverMemory:
		return tokenstore.NewMemory(), nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: sc.RedisAddr, DB: sc.RedisDB})
		return closingStore{TokenStore: tokenstore.NewRedis(client, sc.Prefix), Closer: client}, nil
	case config.DriverFile, "":
		path := sc.Path
		if path == "" {
			path = tokenstore.DefaultFilePath()
		}
		return tokenstore.NewFile(path, masterKey())
	default:
		return nil, fmt.Errorf("unknown token store driver %q", sc.Driver)
	}
}

// closingStore is a token store that owns a connection released by App.
type closingStore struct {
	core.TokenStore
	io.Closer
}

// masterKey reads the token file key from the environment, falling back to a
// machine-specific key derived from hostname and user.
func masterKey() []byte {
	if v := os.Getenv(config.EnvMasterKey); v != "" {
		return []byte(v)
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	sum := sha256.Sum256([]byte(hostname + ":" + username + ":carelink-tokens"))
	return sum[:]
}

// newClient builds the API client for the loaded config.
func (a *App) newClient() (*core.Client, error) {
	store, err := a.tokens()
	if err != nil {
		return nil, err
	}

	cfg := a.cfg
	mws := []transport.Middleware{
		transport.WithLogging(a.logger),
		transport.WithCircuitBreaker(transport.DefaultCircuitBreakerConfig()),
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, transport.WithRateLimit(cfg.RateLimit))
	}
	t := transport.New(cfg.BaseURL,
		transport.WithLogger(a.logger),
		transport.WithTimeout(cfg.RequestTimeout()),
		transport.WithUserAgent("carelink/"+Version),
		transport.WithMiddleware(mws...),
	)

	// Validate has already accepted the policy name.
	policy, _ := core.ParseRefreshPolicy(cfg.RefreshPolicy)
	opts := []core.ClientOption{
		core.WithLogger(a.logger),
		core.WithAPIRoot(cfg.APIRoot),
		core.WithStreamRoot(cfg.StreamRoot),
		core.WithRefreshPath(cfg.RefreshPath),
		core.WithMaxLineLength(cfg.MaxLineLength),
		core.WithRefreshPolicy(policy),
	}
	if cfg.Retries > 0 {
		opts = append(opts, core.WithRetryPolicy(core.NewRetryPolicy(core.RetryConfig{MaxRetries: cfg.Retries})))
	}
	return core.NewClient(t, store, opts...), nil
}
