package commands

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/petal-labs/carelink/cli/config"
	"github.com/petal-labs/carelink/cli/logging"
	"github.com/petal-labs/carelink/core"
)

// ConfigLoader loads CLI config from a path.
type ConfigLoader func(path string) (*config.Config, error)

// StoreFactory opens the token store selected by the config.
type StoreFactory func(cfg *config.Config) (core.TokenStore, error)

// AppOption customizes App dependencies.
type AppOption func(*App)

// App holds CLI state and runtime dependencies.
type App struct {
	root *cobra.Command

	loadConfig   ConfigLoader
	openStore    StoreFactory
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer
	readPassword func(r io.Reader) ([]byte, bool, error)
	cfgFile      string
	jsonOutput   bool
	verbose      bool
	cfg          *config.Config
	logger       *zap.Logger
	store        core.TokenStore
}

// WithConfigLoader injects a config loader dependency.
func WithConfigLoader(loader ConfigLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.loadConfig = loader
		}
	}
}

// WithStoreFactory injects the token store factory.
func WithStoreFactory(factory StoreFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.openStore = factory
		}
	}
}

// WithIO injects process I/O streams.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) AppOption {
	return func(a *App) {
		if stdin != nil {
			a.stdin = stdin
		}
		if stdout != nil {
			a.stdout = stdout
		}
		if stderr != nil {
			a.stderr = stderr
		}
	}
}

// NewApp creates a new CLI app with default dependencies.
func NewApp(opts ...AppOption) *App {
	a := &App{
		loadConfig:   config.LoadConfig,
		openStore:    openStore,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		readPassword: readTerminalPassword,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.root = a.newRootCommand()
	return a
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "carelink",
		Short: "carelink - client for the CareLink patient API",
		Long: `carelink talks to the CareLink patient API.

Use carelink to store session tokens, list appointments and chat with the
assistant. "carelink mock" runs a local backend for development.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags available to all commands.
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.carelink/config.yaml)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(a.newLoginCommand())
	root.AddCommand(a.newLogoutCommand())
	root.AddCommand(a.newTokenCommand())
	root.AddCommand(a.newAppointmentsCommand())
	root.AddCommand(a.newChatCommand())
	root.AddCommand(a.newMockCommand())
	root.AddCommand(a.newVersionCommand())

	return root
}

// Execute runs the root command.
func (a *App) Execute() error {
	return a.ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx.
func (a *App) ExecuteContext(ctx context.Context) error {
	defer func() { _ = a.logger.Sync() }()
	defer a.closeStore()
	err := a.root.ExecuteContext(ctx)
	if err != nil {
		a.report(err)
	}
	return err
}

// SetArgs overrides the command line arguments.
func (a *App) SetArgs(args []string) {
	a.root.SetArgs(args)
}

func (a *App) initConfig() error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := a.loadConfig(path)
	if err != nil {
		return exitWithCode(ExitValidation, err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log, a.stderr, a.verbose)
	if err != nil {
		return exitWithCode(ExitValidation, err)
	}
	a.logger = logger
	a.logger.Debug("config loaded", zap.String("path", path), zap.String("base_url", cfg.BaseURL))
	return nil
}

// tokens opens the token store once per invocation.
func (a *App) tokens() (core.TokenStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := a.openStore(a.cfg)
	if err != nil {
		return nil, exitWithCode(ExitValidation, err)
	}
	a.store = store
	return store, nil
}

// closeStore releases the store's connection, if it holds one.
func (a *App) closeStore() {
	c, ok := a.store.(io.Closer)
	a.store = nil
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		a.logger.Debug("close token store", zap.Error(err))
	}
}

// readTerminalPassword reads without echo when r is a terminal. The bool
// result reports whether input was hidden.
func readTerminalPassword(r io.Reader) ([]byte, bool, error) {
	f, ok := r.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, false, nil
	}
	b, err := term.ReadPassword(int(f.Fd()))
	return b, true, err
}

var defaultApp = NewApp()

// Execute runs the default app root command.
func Execute() error {
	return defaultApp.Execute()
}
