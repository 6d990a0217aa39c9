package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petal-labs/carelink/core"
)

// Exit codes for different error types.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitRemote     = 2
	ExitNetwork    = 3
	ExitAuth       = 4
)

// exitError wraps an error with an exit code.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCodeFor maps a request failure to a process exit code.
func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	ne, ok := core.AsNetworkError(err)
	if !ok {
		return ExitRemote
	}
	switch ne.Kind {
	case core.KindNoConnectivity:
		return ExitNetwork
	case core.KindUnauthorized, core.KindSessionExpired, core.KindRefreshInProgress:
		return ExitAuth
	default:
		return ExitRemote
	}
}

// fail reports err on stderr and returns it with its exit code attached.
func (a *App) fail(err error) error {
	code := exitCodeFor(err)
	if a.jsonOutput {
		a.writeErrorJSON(err)
	} else {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		if code == ExitAuth {
			fmt.Fprintln(a.stderr, "  Run 'carelink login' to start a new session.")
		}
	}
	return &exitError{code: code, err: err, reported: true}
}

// report prints errors that did not go through fail, such as flag errors.
func (a *App) report(err error) {
	var ee *exitError
	if errors.As(err, &ee) && ee.reported {
		return
	}
	if a.jsonOutput {
		a.writeErrorJSON(err)
		return
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
}

func (a *App) writeErrorJSON(err error) {
	kind := "error"
	status := 0
	if ne, ok := core.AsNetworkError(err); ok {
		kind = ne.Kind.String()
		status = ne.Status
	}
	body := map[string]any{
		"type":    kind,
		"message": err.Error(),
	}
	if status != 0 {
		body["status"] = status
	}

	enc := json.NewEncoder(a.stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{"error": body})
}
