package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strand.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.InDelta(t, 16.666, cfg.Engine.DtMs(), 0.001)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[engine]
fps = 30
checked = true
snapshot_every_frames = 120

[store]
path = "/tmp/archive.db"

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Engine.FPS)
	assert.True(t, cfg.Engine.Checked)
	assert.Equal(t, 120, cfg.Engine.SnapshotEveryFrames)
	assert.Equal(t, "/tmp/archive.db", cfg.Store.Path)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[engine]
checked = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Engine.Checked)
	assert.Equal(t, 60.0, cfg.Engine.FPS, "unset keys keep defaults")
	assert.Equal(t, "strand.db", cfg.Store.Path)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
[engine]
fsp = 30
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"zero fps":  "[engine]\nfps = 0\n",
		"bad level": "[log]\nlevel = \"verbose\"\n",
		"bad fmt":   "[log]\nformat = \"xml\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
