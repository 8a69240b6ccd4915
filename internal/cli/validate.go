package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/validate"
)

// ValidationFinding is one validator finding in the JSON payload.
type ValidationFinding struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command. It checks a serialized
// compiled program with the independent IR validator; use it on artifacts
// from other tools or older builds before running them.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <program.json|program.cbor>",
		Short: "Validate a serialized compiled program",
		Long: `Validate runs the structural IR validator over a serialized program:
reference bounds, transform chain continuity, bus publisher order, state
layout ordering, schedule step integrity, and expression acyclicity.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateCmd(cmd, rootOpts, args[0])
		},
	}
}

func runValidateCmd(cmd *cobra.Command, opts *RootOptions, path string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prog, err := readProgram(path)
	if err != nil {
		_ = formatter.Error("E_READ", err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading program", err)
	}

	findings := validate.Check(prog)
	if len(findings) == 0 {
		if formatter.Format == "json" {
			return formatter.Success(map[string]any{
				"compile_id": prog.CompileID,
				"findings":   []ValidationFinding{},
			})
		}
		fmt.Fprintf(formatter.Writer, "ok: %s validates clean\n", prog.CompileID)
		return nil
	}

	payload := make([]ValidationFinding, len(findings))
	for i, f := range findings {
		payload[i] = ValidationFinding{Code: f.Code, Path: f.Path, Message: f.Message}
	}
	if formatter.Format == "json" {
		_ = formatter.Error("E_VALIDATE", fmt.Sprintf("%d finding(s)", len(findings)), payload)
	} else {
		fmt.Fprintf(formatter.Writer, "%s failed validation with %d finding(s):\n", prog.CompileID, len(findings))
		for _, f := range payload {
			fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", f.Code, f.Path, f.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d finding(s)", len(findings)))
}

func readProgram(path string) (*ir.CompiledProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".cbor") {
		return ir.DecodeCBOR(data)
	}
	return ir.DecodeJSON(data)
}
