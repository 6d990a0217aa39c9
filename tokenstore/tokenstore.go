// Package tokenstore provides core.TokenStore implementations.
package tokenstore

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultFilePath returns the default encrypted token file path.
// - macOS/Linux: ~/.carelink/tokens.enc
// - Windows: %USERPROFILE%\.carelink\tokens.enc
func DefaultFilePath() string {
	var homeDir string

	if runtime.GOOS == "windows" {
		homeDir = os.Getenv("USERPROFILE")
	} else {
		homeDir = os.Getenv("HOME")
	}

	if homeDir == "" {
		return "tokens.enc"
	}

	return filepath.Join(homeDir, ".carelink", "tokens.enc")
}

// document is the persisted form of a token pair.
type document struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
