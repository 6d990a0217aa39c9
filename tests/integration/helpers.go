//go:build integration

package integration

import (
	"bytes"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petal-labs/carelink/cli/config"
	"github.com/petal-labs/carelink/internal/mockserver"
)

// masterKey protects the token file written by the CLI under test.
const masterKey = "integration-master-key"

type cliResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// env is one isolated CLI environment: a config file, a token store and a
// mock backend.
type env struct {
	t          *testing.T
	configPath string
	cfg        *config.Config
	server     *mockserver.Server
}

// newEnv starts a mock backend and writes a config pointing at it, with an
// encrypted token file in a temp directory.
func newEnv(t *testing.T, opts ...mockserver.Option) *env {
	t.Helper()
	srv := mockserver.New(opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.BaseURL = ts.URL
	cfg.TokenStore.Path = filepath.Join(dir, "tokens.enc")
	cfg.Log.Level = "error"

	e := &env{t: t, configPath: filepath.Join(dir, "config.yaml"), cfg: cfg, server: srv}
	e.writeConfig()
	return e
}

// writeConfig persists e.cfg.
func (e *env) writeConfig() {
	e.t.Helper()
	require.NoError(e.t, e.cfg.Save(e.configPath))
}

// login stores a freshly issued token pair through the CLI.
func (e *env) login() {
	e.t.Helper()
	pair, err := e.server.Issue("patient-1")
	require.NoError(e.t, err)
	res := e.run("", "login", "--access", pair.Access.Expose(), "--refresh", pair.Refresh.Expose())
	require.Equal(e.t, 0, res.ExitCode, res.Stderr)
}

// run executes the CLI with the environment's config.
func (e *env) run(stdin string, args ...string) cliResult {
	e.t.Helper()
	return runCLI(e.t, stdin, append([]string{"--config", e.configPath}, args...)...)
}

// runCLI executes the carelink CLI with the given stdin and arguments.
// It uses the pre-built binary from TestMain.
func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()

	if cliBinary == "" {
		t.Fatal("CLI binary not built - TestMain may not have run")
	}

	cmd := exec.Command(cliBinary, args...)
	cmd.Env = append(os.Environ(), config.EnvMasterKey+"="+masterKey)
	cmd.Stdin = bytes.NewBufferString(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("Failed to run CLI: %v", err)
		}
	}

	return cliResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}
