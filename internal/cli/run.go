package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlab/strand/internal/engine"
	"github.com/strandlab/strand/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Frames   int
	FPS      float64
	Checked  bool
	Snapshot bool
}

// RunReport is the success payload for the run command.
type RunReport struct {
	CompileID string       `json:"compile_id"`
	Frames    int64        `json:"frames"`
	ModelMs   float64      `json:"model_ms"`
	Probes    []ProbeTrace `json:"probes,omitempty"`
	Outputs   []OutputDump `json:"outputs,omitempty"`
}

// ProbeTrace is one probe's sampled values over the run.
type ProbeTrace struct {
	ProbeID string `json:"probe_id"`
	Block   string `json:"block"`
	Values  []any  `json:"values"`
}

// OutputDump is one program output after the final frame.
type OutputDump struct {
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	Value  any       `json:"value,omitempty"`
	Floats []float32 `json:"floats,omitempty"`
	Colors []uint32  `json:"colors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <patch.cue|dir>",
		Short: "Compile and run a patch for a fixed number of frames",
		Long: `Run compiles a patch and drives it at a fixed frame rate, collecting
probe samples and the final output values. Runs are deterministic: the
same patch, frame count, and rate always produce the same report.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunCmd(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Frames, "frames", 60, "number of frames to run")
	cmd.Flags().Float64Var(&opts.FPS, "fps", 0, "frame rate (default: config engine.fps)")
	cmd.Flags().BoolVar(&opts.Checked, "checked", false, "enable runtime invariant checking")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "archive the program and final state into the store")

	return cmd
}

func runRunCmd(cmd *cobra.Command, opts *RunOptions, path string) error {
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
	formatter.VerboseLog("compiled %s as %s", prog.PatchID, prog.CompileID)

	fps := opts.FPS
	if fps <= 0 {
		fps = opts.Config().Engine.FPS
	}
	dtMs := 1000 / fps
	checked := opts.Checked || opts.Config().Engine.Checked

	traces := make(map[string]*ProbeTrace)
	var traceOrder []string
	eng, err := engine.New(prog, engine.Options{
		Checked: checked,
		Logger:  opts.Logger(),
		ProbeSink: func(s engine.ProbeSample) {
			tr, ok := traces[s.ProbeID]
			if !ok {
				tr = &ProbeTrace{ProbeID: s.ProbeID, Block: s.Block}
				traces[s.ProbeID] = tr
				traceOrder = append(traceOrder, s.ProbeID)
			}
			tr.Values = append(tr.Values, s.Value)
		},
	})
	if err != nil {
		_ = formatter.Error("E_ENGINE", err.Error(), nil)
		return WrapExitError(ExitFailure, "starting engine", err)
	}

	if err := eng.Run(cmd.Context(), opts.Frames, dtMs); err != nil {
		_ = formatter.Error("E_RUN", err.Error(), nil)
		return WrapExitError(ExitFailure, "running patch", err)
	}

	if opts.Snapshot {
		if err := snapshotRun(opts.RootOptions, eng); err != nil {
			_ = formatter.Error("E_ARCHIVE", err.Error(), nil)
			return WrapExitError(ExitCommandError, "archiving run", err)
		}
		formatter.VerboseLog("archived snapshot at frame %d", eng.Frame())
	}

	report := RunReport{
		CompileID: prog.CompileID,
		Frames:    eng.Frame(),
		ModelMs:   eng.ModelMs(),
	}
	for _, id := range traceOrder {
		report.Probes = append(report.Probes, *traces[id])
	}
	for _, o := range eng.Outputs() {
		report.Outputs = append(report.Outputs, OutputDump{
			Name:   o.Name,
			Kind:   string(o.Kind),
			Value:  o.Value,
			Floats: o.F32,
			Colors: o.U32,
		})
	}
	return outputRunReport(formatter, report)
}

// snapshotRun archives the program and the final state. The snapshot
// references the program by compile id, so the program goes first.
func snapshotRun(opts *RootOptions, eng *engine.Engine) error {
	s, err := store.Open(opts.Config().Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.SaveProgram(ctx, eng.Program()); err != nil {
		return err
	}
	return s.SaveSnapshot(ctx, eng.Snapshot())
}

func outputRunReport(formatter *OutputFormatter, report RunReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "ran %d frame(s), model time %.3f ms\n", report.Frames, report.ModelMs)
	for _, tr := range report.Probes {
		fmt.Fprintf(formatter.Writer, "  probe %s (%s): %d sample(s)", tr.ProbeID, tr.Block, len(tr.Values))
		if n := len(tr.Values); n > 0 {
			fmt.Fprintf(formatter.Writer, ", last %v", tr.Values[n-1])
		}
		fmt.Fprintln(formatter.Writer)
	}
	for _, o := range report.Outputs {
		switch {
		case o.Floats != nil:
			fmt.Fprintf(formatter.Writer, "  output %s: %d float(s)\n", o.Name, len(o.Floats))
		case o.Colors != nil:
			fmt.Fprintf(formatter.Writer, "  output %s: %d color(s)\n", o.Name, len(o.Colors))
		default:
			fmt.Fprintf(formatter.Writer, "  output %s: %v\n", o.Name, o.Value)
		}
	}
	return nil
}
