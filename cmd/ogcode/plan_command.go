package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/planner"
)

// fmtSeconds renders a planner timestamp, which is float seconds, as a
// duration truncated to microseconds. The raw float carries sub-microsecond
// noise that means nothing at a 10 µs sample period.
func fmtSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Truncate(time.Microsecond).String()
}

func newPlanCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <job.gcode>",
		Short: "Show the planned motion segments for a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPlan(cctx, cmd.OutOrStdout(), args[0])
		},
	}
}

func showPlan(cctx *commandContext, out io.Writer, path string) error {
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
	plan, err := planner.Build(prog.Commands, cfg.PlannerLimits())
	if err != nil {
		return err
	}

	headers := []string{"#", "Line", "Kind", "From", "To", "Len mm", "V mm/s", "Start", "Time"}
	aligns := []columnAlignment{
		alignRight, alignRight, alignLeft, alignLeft, alignLeft,
		alignRight, alignRight, alignRight, alignRight,
	}

	rows := make([][]string, 0, len(plan.Segments))
	for i, seg := range plan.Segments {
		rows = append(rows, []string{
			strconv.Itoa(i),
			strconv.Itoa(seg.Line),
			segmentKind(seg),
			fmt.Sprintf("%.2f,%.2f", seg.Start.X, seg.Start.Y),
			fmt.Sprintf("%.2f,%.2f", seg.End.X, seg.End.Y),
			fmt.Sprintf("%.2f", seg.Length()),
			velocityCell(seg),
			fmtSeconds(seg.StartTime),
			fmtSeconds(seg.Duration()),
		})
	}

	fmt.Fprintln(out, renderTable(headers, rows, aligns))
	fmt.Fprintf(out, "%d segments, planned time %s\n", len(plan.Segments), fmtSeconds(plan.Duration()))
	return nil
}

func segmentKind(seg planner.Segment) string {
	switch {
	case seg.Dwell:
		return "dwell"
	case seg.Rapid:
		return "rapid"
	default:
		return "mark"
	}
}

// velocityCell renders the trapezoid as start/cruise/end so a clamped or
// junction-limited segment is obvious at a glance.
func velocityCell(seg planner.Segment) string {
	if seg.Dwell {
		return "-"
	}
	return fmt.Sprintf("%.0f/%.0f/%.0f", seg.StartV, seg.CruiseV, seg.EndV)
}
