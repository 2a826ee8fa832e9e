package initcmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repairdesk/internal/infra/config"
)

func runInit(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestInit_WritesLoadableSettings(t *testing.T) {
	dir := t.TempDir()
	out := runInit(t, "--dir", dir)

	path := filepath.Join(dir, config.DefaultSettingFile)
	assert.Contains(t, out, "WROTE: "+path)

	cfg, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml", cfg.ConfigSource())
	assert.NoError(t, config.Validate(cfg))
}

func TestInit_KeepsExistingFileUnlessForced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultSettingFile)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	out := runInit(t, "--dir", dir)
	assert.Contains(t, out, "SKIP:")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log:\n  level: debug\n", string(data))

	runInit(t, "--dir", dir, "--force")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(config.CreateDefaultSettings()), string(data))
}
