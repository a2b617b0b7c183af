package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/testutil"
)

func TestCheckCommandReportsStats(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	program := testutil.WriteTempFile(t, "square.gcode", fastSquare)

	out, _, err := runCLI(t, "--config", cfgPath, "check", program)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "8 commands, 4 segments") {
		t.Errorf("output %q missing counts", out)
	}
	if !strings.Contains(out, "mark length 40.00 mm") {
		t.Errorf("output %q missing mark length", out)
	}
	if !strings.Contains(out, "final position (0.000, 0.000) mm") {
		t.Errorf("output %q missing final position", out)
	}
}

func TestCheckCommandWarningsDoNotFail(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	// G64 is ignorable and must only warn.
	program := testutil.WriteTempFile(t, "warn.gcode", "G21\nG64 P0.1\nM3 S50\nG1 X1 Y0 F60000\nM5\nM2\n")

	out, _, err := runCLI(t, "--config", cfgPath, "check", program)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "warning: line 2") {
		t.Errorf("output %q missing the G64 warning", out)
	}
}

func TestCheckCommandParseError(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	program := testutil.WriteTempFile(t, "bad.gcode", "G19\nM2\n")

	_, _, err := runCLI(t, "--config", cfgPath, "check", program)
	var perr *gcode.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *gcode.ParseError", err)
	}
}

func TestPlanCommandListsSegments(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	// A rapid to the start corner, then two marked edges.
	program := testutil.WriteTempFile(t, "plan.gcode", `G21
G0 X5 Y5
M3 S50
G1 X15 Y5 F60000
G1 X15 Y15
M5
M2
`)

	out, _, err := runCLI(t, "--config", cfgPath, "plan", program)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out, "rapid") {
		t.Errorf("output %q missing the rapid segment", out)
	}
	if !strings.Contains(out, "mark") {
		t.Errorf("output %q missing mark segments", out)
	}
	if !strings.Contains(out, "3 segments, planned time") {
		t.Errorf("output %q missing the summary line", out)
	}
}
