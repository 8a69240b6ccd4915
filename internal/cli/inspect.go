package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlab/strand/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Patch   string
	Program string
}

// ProgramListing is the payload when listing archived programs.
type ProgramListing struct {
	PatchID  string         `json:"patch_id"`
	Programs []ProgramEntry `json:"programs"`
}

// ProgramEntry is one archived program row.
type ProgramEntry struct {
	CompileID     string  `json:"compile_id"`
	PatchRevision string  `json:"patch_revision"`
	IRVersion     string  `json:"ir_version"`
	Seed          int64   `json:"seed"`
	CreatedAt     string  `json:"created_at"`
	Snapshots     []int64 `json:"snapshots,omitempty"`
}

// ProgramDetail is the payload when inspecting a single program.
type ProgramDetail struct {
	CompileID     string   `json:"compile_id"`
	PatchID       string   `json:"patch_id"`
	PatchRevision string   `json:"patch_revision"`
	IRVersion     string   `json:"ir_version"`
	Seed          int64    `json:"seed"`
	TimeModel     string   `json:"time_model"`
	Steps         int      `json:"steps"`
	Slots         int      `json:"slots"`
	Buses         int      `json:"buses"`
	Outputs       []string `json:"outputs,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	Snapshots     []int64  `json:"snapshots,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect archived programs and snapshots",
		Long: `Inspect reads the program archive. With --patch it lists every
archived compile of that patch, newest first. With --program it shows
one program's identity, time model, and schedule summary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectCmd(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Patch, "patch", "", "list archived programs for a patch id")
	cmd.Flags().StringVar(&opts.Program, "program", "", "show one archived program by compile id")

	return cmd
}

func runInspectCmd(cmd *cobra.Command, opts *InspectOptions) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if (opts.Patch == "") == (opts.Program == "") {
		_ = formatter.Error("E_USAGE", "exactly one of --patch or --program is required", nil)
		return NewExitError(ExitCommandError, "exactly one of --patch or --program is required")
	}

	s, err := store.Open(opts.Config().Store.Path)
	if err != nil {
		_ = formatter.Error("E_STORE", err.Error(), nil)
		return WrapExitError(ExitFailure, "opening store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if opts.Patch != "" {
		return inspectPatch(ctx, formatter, s, opts.Patch)
	}
	return inspectProgram(ctx, formatter, s, opts.Program)
}

func inspectPatch(ctx context.Context, formatter *OutputFormatter, s *store.Store, patchID string) error {
	metas, err := s.ListPrograms(ctx, patchID)
	if err != nil {
		_ = formatter.Error("E_STORE", err.Error(), nil)
		return WrapExitError(ExitFailure, "listing programs", err)
	}

	listing := ProgramListing{PatchID: patchID, Programs: []ProgramEntry{}}
	for _, m := range metas {
		frames, err := s.SnapshotFrames(ctx, m.CompileID)
		if err != nil {
			_ = formatter.Error("E_STORE", err.Error(), nil)
			return WrapExitError(ExitFailure, "listing snapshots", err)
		}
		listing.Programs = append(listing.Programs, ProgramEntry{
			CompileID:     m.CompileID,
			PatchRevision: m.PatchRevision,
			IRVersion:     m.IRVersion,
			Seed:          m.Seed,
			CreatedAt:     m.CreatedAt,
			Snapshots:     frames,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(listing)
	}
	if len(listing.Programs) == 0 {
		fmt.Fprintf(formatter.Writer, "no archived programs for patch %q\n", patchID)
		return nil
	}
	fmt.Fprintf(formatter.Writer, "patch %s: %d archived program(s)\n", patchID, len(listing.Programs))
	for _, e := range listing.Programs {
		fmt.Fprintf(formatter.Writer, "  %s  rev %s  %s", shortHash(e.CompileID), shortHash(e.PatchRevision), e.CreatedAt)
		if len(e.Snapshots) > 0 {
			fmt.Fprintf(formatter.Writer, "  %d snapshot(s)", len(e.Snapshots))
		}
		fmt.Fprintln(formatter.Writer)
	}
	return nil
}

func inspectProgram(ctx context.Context, formatter *OutputFormatter, s *store.Store, compileID string) error {
	prog, err := s.LoadProgram(ctx, compileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error("E_NOT_FOUND", err.Error(), nil)
			return WrapExitError(ExitCommandError, "program not found", err)
		}
		_ = formatter.Error("E_STORE", err.Error(), nil)
		return WrapExitError(ExitFailure, "loading program", err)
	}
	frames, err := s.SnapshotFrames(ctx, compileID)
	if err != nil {
		_ = formatter.Error("E_STORE", err.Error(), nil)
		return WrapExitError(ExitFailure, "listing snapshots", err)
	}

	detail := ProgramDetail{
		CompileID:     prog.CompileID,
		PatchID:       prog.PatchID,
		PatchRevision: prog.PatchRevision,
		IRVersion:     prog.IRVersion,
		Seed:          prog.Seed,
		TimeModel:     string(prog.TimeModel.Kind),
		Steps:         len(prog.Schedule.Steps),
		Slots:         int(prog.Schedule.SlotCount),
		Buses:         len(prog.Buses),
		Warnings:      prog.Meta.Warnings,
		Snapshots:     frames,
	}
	for _, o := range prog.Outputs {
		detail.Outputs = append(detail.Outputs, o.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(detail)
	}
	fmt.Fprintf(formatter.Writer, "program %s\n", detail.CompileID)
	fmt.Fprintf(formatter.Writer, "  patch:      %s (rev %s)\n", detail.PatchID, shortHash(detail.PatchRevision))
	fmt.Fprintf(formatter.Writer, "  ir version: %s\n", detail.IRVersion)
	fmt.Fprintf(formatter.Writer, "  time model: %s\n", detail.TimeModel)
	fmt.Fprintf(formatter.Writer, "  schedule:   %d step(s), %d slot(s), %d bus(es)\n", detail.Steps, detail.Slots, detail.Buses)
	for _, name := range detail.Outputs {
		fmt.Fprintf(formatter.Writer, "  output:     %s\n", name)
	}
	for _, w := range detail.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning:    %s\n", w)
	}
	if len(detail.Snapshots) > 0 {
		fmt.Fprintf(formatter.Writer, "  snapshots:  %v\n", detail.Snapshots)
	}
	return nil
}
