package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { configPath, verbose = "", false })

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "roster-scan 0.1.0")
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "min_match_pixels: 98")
	assert.Contains(t, out, "#C81478")
	assert.Contains(t, out, `# overlap NUI: "9:00-12:00" and "20:30-7:30"`)
}

func TestConfigCommand_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(p, []byte("tolerance = 20\n"), 0o644))

	out, err := execute(t, "config", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "tolerance: 20")
	assert.NotContains(t, out, "# overlap")
}

func TestRunCommand_Errors(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "run", "--date", "2024-03-01", t.TempDir())
	assert.ErrorContains(t, err, "invalid --date")

	_, err = execute(t, "run", "--format", "pdf", t.TempDir())
	assert.Error(t, err)

	_, err = execute(t, "run", "--out", t.TempDir(), t.TempDir())
	assert.ErrorContains(t, err, "no manifests found")
}
