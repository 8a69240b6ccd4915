package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlab/strand/internal/blocks"
	"github.com/strandlab/strand/internal/compiler"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
	"github.com/strandlab/strand/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string // output file path
	Archive bool   // archive the program into the store
}

// CompileSummary is the success payload for the compile command.
type CompileSummary struct {
	PatchID       string   `json:"patch_id"`
	PatchRevision string   `json:"patch_revision"`
	CompileID     string   `json:"compile_id"`
	TimeModel     string   `json:"time_model"`
	Buses         int      `json:"buses"`
	Slots         int      `json:"slots"`
	Steps         int      `json:"steps"`
	Outputs       int      `json:"outputs"`
	Warnings      []string `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <patch.cue|dir>",
		Short: "Compile a patch document to a scheduled program",
		Long: `Compile a CUE patch document into an immutable compiled program:
flat expression tables, a linear schedule, and a persistent state layout.

The program is validated after compilation and written as JSON (or CBOR
with a .cbor output path).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompileCmd(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (.json or .cbor)")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "archive the program into the store")

	return cmd
}

func runCompileCmd(cmd *cobra.Command, opts *CompileOptions, path string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prog, err := compilePatch(opts.RootOptions, path)
	if err != nil {
		return compileFailure(formatter, err)
	}

	if opts.Output != "" {
		if err := writeProgram(prog, opts.Output); err != nil {
			_ = formatter.Error("E_WRITE", err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing output", err)
		}
		formatter.VerboseLog("wrote program to %s", opts.Output)
	}
	if opts.Archive {
		if err := archiveProgram(opts.RootOptions, prog); err != nil {
			_ = formatter.Error("E_ARCHIVE", err.Error(), nil)
			return WrapExitError(ExitCommandError, "archiving program", err)
		}
		formatter.VerboseLog("archived compile %s", prog.CompileID)
	}
	return outputCompileSummary(formatter, prog, opts.Output)
}

// compilePatch loads and compiles one patch document.
func compilePatch(opts *RootOptions, path string) (*ir.CompiledProgram, error) {
	p, err := loadPatch(path)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(p, blocks.NewRegistry(), compiler.Options{
		Validate: true,
		Logger:   opts.Logger(),
	})
}

func loadPatch(path string) (*patch.Patch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return patch.LoadDir(path)
	}
	return patch.LoadFile(path)
}

func writeProgram(prog *ir.CompiledProgram, path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".cbor") {
		data, err = ir.EncodeCBOR(prog)
	} else {
		data, err = ir.EncodeJSON(prog)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func archiveProgram(opts *RootOptions, prog *ir.CompiledProgram) error {
	s, err := store.Open(opts.Config().Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.SaveProgram(context.Background(), prog)
}

func summarize(prog *ir.CompiledProgram) CompileSummary {
	return CompileSummary{
		PatchID:       prog.PatchID,
		PatchRevision: prog.PatchRevision,
		CompileID:     prog.CompileID,
		TimeModel:     string(prog.TimeModel.Kind),
		Buses:         len(prog.Buses),
		Slots:         len(prog.Slots),
		Steps:         len(prog.Schedule.Steps),
		Outputs:       len(prog.Outputs),
		Warnings:      prog.Meta.Warnings,
	}
}

func outputCompileSummary(formatter *OutputFormatter, prog *ir.CompiledProgram, outputFile string) error {
	summary := summarize(prog)
	if formatter.Format == "json" {
		return formatter.Success(summary)
	}

	fmt.Fprintf(formatter.Writer, "compiled %s (revision %s)\n", summary.PatchID, shortHash(summary.PatchRevision))
	fmt.Fprintf(formatter.Writer, "  compile id: %s\n", summary.CompileID)
	fmt.Fprintf(formatter.Writer, "  time model: %s\n", summary.TimeModel)
	fmt.Fprintf(formatter.Writer, "  %d bus(es), %d slot(s), %d step(s), %d output(s)\n",
		summary.Buses, summary.Slots, summary.Steps, summary.Outputs)
	for _, w := range summary.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning: %s\n", w)
	}
	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "  wrote %s\n", outputFile)
	}
	return nil
}

// compileFailure renders a compile error and picks the exit code: broken
// input is a failure, unreadable input is a command error.
func compileFailure(formatter *OutputFormatter, err error) error {
	var loadErr *patch.LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return WrapExitError(ExitCommandError, "loading patch", err)
	}
	if os.IsNotExist(err) {
		_ = formatter.Error("E_NOT_FOUND", err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading patch", err)
	}
	_ = formatter.Error("E_COMPILE", err.Error(), nil)
	return WrapExitError(ExitFailure, "compilation failed", err)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
