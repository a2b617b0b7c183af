package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/laser"
	"github.com/ogcode-dev/ogcode/internal/planner"
)

// runCLI executes the root command with captured output. Callers pass
// --config themselves when the test needs one.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeTestConfig writes a config pointing storage at the test directory and
// returns its path. HOME is redirected too so nothing leaks into the real
// user directories.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	content := fmt.Sprintf("[storage]\ndb_path = %q\n%s",
		filepath.Join(dir, "jobs.db"), extra)
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"parse", &gcode.ParseError{Line: 3, Reason: "bad word"}, exitParse},
		{"parse wrapped", fmt.Errorf("job: %w", &gcode.ParseError{Line: 1, Reason: "x"}), exitParse},
		{"planning", &planner.PlanningError{SegmentIndex: 2, Reason: "zero accel"}, exitPlanning},
		{"calibration", &calib.CalibrationError{Reason: "outside field"}, exitCalibration},
		{"timing", &laser.TimingError{Reason: "gate still on"}, exitTiming},
		{"encoding", &emitter.EncodingError{Sample: 7, Reason: "out of range"}, exitEncoding},
		{"sink", &emitter.SinkError{Err: errors.New("device gone")}, exitStreaming},
		{"other", errors.New("boom"), exitOther},
		{"cancelled", context.Canceled, exitOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "ogcode") {
		t.Errorf("version output %q missing binary name", out)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	_, _, err := runCLI(t, "definitely-not-a-command")
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
