package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/ir"
)

// compileFixture compiles a fixture patch to a program file and returns
// its path.
func compileFixture(t *testing.T, name, outName string) string {
	t.Helper()
	outFile := filepath.Join(t.TempDir(), outName)
	cmd := NewCompileCommand(testRootOpts(t, "text"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{fixturePatch(name), "-o", outFile})
	require.NoError(t, cmd.Execute())
	return outFile
}

func TestValidateCleanProgram(t *testing.T) {
	progFile := compileFixture(t, "sine.cue", "sine.json")

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{progFile})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "validates clean")
}

func TestValidateCorruptProgramFails(t *testing.T) {
	progFile := compileFixture(t, "sine.cue", "sine.json")

	data, err := os.ReadFile(progFile)
	require.NoError(t, err)
	prog, err := ir.DecodeJSON(data)
	require.NoError(t, err)

	// Point a signal reference out of table bounds.
	corrupted := false
	for i := range prog.Sig {
		if prog.Sig[i].Kind == ir.SigZip {
			prog.Sig[i].Args[0] = ir.SigExprID(len(prog.Sig) + 100)
			corrupted = true
			break
		}
	}
	require.True(t, corrupted, "fixture has no zip expression to corrupt")

	corrupt, err := ir.EncodeJSON(prog)
	require.NoError(t, err)
	corruptFile := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(corruptFile, corrupt, 0o644))

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{corruptFile})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "failed validation")
}

func TestValidateUnreadableFileIsCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testRootOpts(t, "text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.json")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
