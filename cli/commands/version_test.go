package commands

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, Commit)
	assert.NotEmpty(t, BuildDate)
}

func TestVersionText(t *testing.T) {
	h := newHarness(t, "http://unused", nil)

	require.NoError(t, h.run("version"))
	out := h.stdout.String()
	assert.Contains(t, out, "carelink "+Version)
	assert.Contains(t, out, "go version: "+runtime.Version())
}

func TestVersionJSON(t *testing.T) {
	h := newHarness(t, "http://unused", nil)

	require.NoError(t, h.run("--json", "version"))

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(h.stdout.String()), &info))
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestVersionSkipsConfig(t *testing.T) {
	h := newHarness(t, "http://unused", nil)
	h.app.loadConfig = nil

	assert.NoError(t, h.run("version"))
}
