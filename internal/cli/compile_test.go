package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/config"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/store"
)

// testRootOpts builds root options the way PersistentPreRunE would,
// pointed at a throwaway store.
func testRootOpts(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "strand.db")
	return &RootOptions{
		Format: format,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func fixturePatch(name string) string {
	return filepath.Join("testdata", "patches", name)
}

func TestCompileSinePatchText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{fixturePatch("sine.cue")})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "compiled sine-demo")
	assert.Contains(t, output, "time model: cyclic")
	assert.Contains(t, output, "compile id:")
}

func TestCompileSinePatchJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(testRootOpts(t, "json"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{fixturePatch("sine.cue")})

	require.NoError(t, cmd.Execute())

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sine-demo", data["patch_id"])
	assert.NotEmpty(t, data["compile_id"])
	assert.Equal(t, "cyclic", data["time_model"])
}

func TestCompileWritesProgramFile(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "sine.json")

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{fixturePatch("sine.cue"), "--output", outFile})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	prog, err := ir.DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "sine-demo", prog.PatchID)
}

func TestCompileWritesCBORWhenAsked(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "sine.cbor")

	cmd := NewCompileCommand(testRootOpts(t, "text"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{fixturePatch("sine.cue"), "-o", outFile})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	prog, err := ir.DecodeCBOR(data)
	require.NoError(t, err)
	assert.Equal(t, "sine-demo", prog.PatchID)
}

func TestCompileArchivesProgram(t *testing.T) {
	opts := testRootOpts(t, "json")

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(opts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{fixturePatch("sine.cue"), "--archive"})

	require.NoError(t, cmd.Execute())

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	compileID := resp.Data.(map[string]any)["compile_id"].(string)

	s, err := store.Open(opts.Config().Store.Path)
	require.NoError(t, err)
	defer s.Close()
	prog, err := s.LoadProgram(context.Background(), compileID)
	require.NoError(t, err)
	assert.Equal(t, "sine-demo", prog.PatchID)
}

func TestCompileBrokenPatchFails(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{fixturePatch("broken.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "error [E_COMPILE]")
}

func TestCompileMissingPathIsCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
