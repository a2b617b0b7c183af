package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/planner"
)

func newCheckCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <job.gcode>",
		Short: "Parse and plan a program without touching hardware",
		Long: `Check runs the parse and planning stages only. It reports the
command and segment counts, the planned run time, and every warning the
program raises. Warnings do not fail the check; parse and planning errors do.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkProgram(cctx, cmd.OutOrStdout(), args[0])
		},
	}
}

func checkProgram(cctx *commandContext, out io.Writer, path string) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	prog, err := gcode.ParseProgram(f)
	if err != nil {
		return err
	}
	for _, w := range prog.Warnings {
		fmt.Fprintf(out, "warning: line %d: %s\n", w.Line, w.Message)
	}

	plan, err := planner.Build(prog.Commands, cfg.PlannerLimits())
	if err != nil {
		return err
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(out, "warning: line %d: %s\n", w.Line, w.Message)
	}

	var markLen, rapidLen float64
	for _, seg := range plan.Segments {
		if seg.Rapid {
			rapidLen += seg.Length()
		} else if !seg.Dwell {
			markLen += seg.Length()
		}
	}

	fmt.Fprintf(out, "%d commands, %d segments\n", len(prog.Commands), len(plan.Segments))
	fmt.Fprintf(out, "mark length %.2f mm, rapid length %.2f mm\n", markLen, rapidLen)
	fmt.Fprintf(out, "planned time %s\n", fmtSeconds(plan.Duration()))
	end := plan.End()
	fmt.Fprintf(out, "final position (%.3f, %.3f) mm\n", end.X, end.Y)
	return nil
}
