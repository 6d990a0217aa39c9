package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/petal-labs/carelink/core"
	"github.com/petal-labs/carelink/internal/mockserver"
)

const shutdownTimeout = 5 * time.Second

func (a *App) newMockCommand() *cobra.Command {
	var (
		addr       string
		subject    string
		login      bool
		accessTTL  time.Duration
		refreshTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local mock backend",
		Long: `Serve the refresh, appointments and assistant endpoints locally and
print a token pair for it. With --login the pair is also stored, so other
commands work against the mock right away when base_url points at it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := mockserver.New(
				mockserver.WithLogger(a.logger.Named("mock")),
				mockserver.WithTTL(accessTTL, refreshTTL),
			)
			pair, err := srv.Issue(subject)
			if err != nil {
				return a.fail(fmt.Errorf("issue tokens: %w", err))
			}

			if login {
				store, err := a.tokens()
				if err != nil {
					return err
				}
				if err := core.SaveTokens(cmd.Context(), store, pair); err != nil {
					return a.fail(fmt.Errorf("save tokens: %w", err))
				}
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return exitWithCode(ExitNetwork, fmt.Errorf("listen: %w", err))
			}

			fmt.Fprintf(a.stdout, "listening on http://%s\n", ln.Addr())
			fmt.Fprintf(a.stdout, "access token:  %s\n", pair.Access.Expose())
			fmt.Fprintf(a.stdout, "refresh token: %s\n", pair.Refresh.Expose())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, ln, srv.Handler(), a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&subject, "subject", "demo-patient", "subject of the issued tokens")
	cmd.Flags().BoolVar(&login, "login", false, "store the issued tokens")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	cmd.Flags().DurationVar(&refreshTTL, "refresh-ttl", 24*time.Hour, "refresh token lifetime")
	return cmd
}

// serve runs handler on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down mock server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
