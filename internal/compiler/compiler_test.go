package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/config"
	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/laser"
	"github.com/ogcode-dev/ogcode/internal/opal"
	"github.com/ogcode-dev/ogcode/internal/planner"
	"github.com/ogcode-dev/ogcode/internal/timeutil"
)

const squareProgram = `
; 10 mm square at 80% power
G21
G90
M3 S80
G1 X10 Y0 F1200
G1 X10 Y10
G1 X0 Y10
G1 X0 Y0
M5
M2
`

func testCompiler(t *testing.T) (*Compiler, *timeutil.MockClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Field.SizeMM = 100
	cfg.Emitter.QueueDepth = 64
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	return New(&cfg, nil, clk), clk
}

func TestRunSquareEndToEnd(t *testing.T) {
	c, _ := testCompiler(t)
	sink := opal.NewSimSink()
	job := c.NewJob("square.gcode")

	err := c.Run(context.Background(), job, strings.NewReader(squareProgram), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.State != Done {
		t.Errorf("State = %s, want done", job.State)
	}
	if job.Err != nil {
		t.Errorf("Err = %v on a clean run", job.Err)
	}
	// G21, M3, 4 moves, M5, M2. G90 is modal only.
	if job.Commands != 8 {
		t.Errorf("Commands = %d, want 8", job.Commands)
	}
	if job.Segments != 4 {
		t.Errorf("Segments = %d, want 4 square sides", job.Segments)
	}
	if job.Samples == 0 || job.Frames != job.Samples {
		t.Errorf("Frames = %d, Samples = %d, want equal and nonzero", job.Frames, job.Samples)
	}

	frames := sink.Frames()
	if len(frames) != job.Frames {
		t.Fatalf("sink got %d frames, job counted %d", len(frames), job.Frames)
	}
	if sink.FlushCount() != 1 {
		t.Errorf("FlushCount = %d, want 1", sink.FlushCount())
	}
	if frames[0].Laser.GateOn() || frames[len(frames)-1].Laser.GateOn() {
		t.Error("stream must start and end with the beam off")
	}
	marked := false
	for _, f := range frames {
		if f.Laser.GateOn() {
			marked = true
			break
		}
	}
	if !marked {
		t.Error("no frame with the beam on")
	}
	// Every pipeline stage ran exactly once.
	wantStages := []State{Parsing, Planning, Calibrating, TimingSync, Encoding, Streaming}
	if len(job.Timings) != len(wantStages) {
		t.Fatalf("got %d stage timings, want %d", len(job.Timings), len(wantStages))
	}
	for i, st := range wantStages {
		if job.Timings[i].Stage != st {
			t.Errorf("timing[%d] = %s, want %s", i, job.Timings[i].Stage, st)
		}
	}
}

func TestCompileParseErrorAborts(t *testing.T) {
	c, _ := testCompiler(t)
	job := c.NewJob("bad.gcode")

	err := c.Compile(context.Background(), job, strings.NewReader("G18\n"))
	var pe *gcode.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if job.State != Aborted || job.Err == nil {
		t.Errorf("job = %s (err %v), want aborted", job.State, job.Err)
	}
	if len(job.Timings) != 1 || job.Timings[0].Stage != Parsing {
		t.Errorf("timings = %+v, want parsing only", job.Timings)
	}
}

func TestCompilePlanningErrorAborts(t *testing.T) {
	cfg := config.Default()
	cfg.Field.SizeMM = 100
	cfg.Kinematics.AccelerationMMS2 = -1 // invalid envelope reaches the planner
	c := New(&cfg, nil, timeutil.NewMockClock(time.Unix(0, 0)))
	job := c.NewJob("square.gcode")

	err := c.Compile(context.Background(), job, strings.NewReader(squareProgram))
	var pe *planner.PlanningError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PlanningError", err)
	}
	if job.State != Aborted {
		t.Errorf("State = %s, want aborted", job.State)
	}
}

func TestCalibrationErrorSendsZeroFrames(t *testing.T) {
	c, _ := testCompiler(t)
	sink := opal.NewSimSink()
	job := c.NewJob("wide.gcode")

	// X=60 is outside the 100 mm field (centre origin, half-field 50).
	err := c.Run(context.Background(), job, strings.NewReader("G0 X60 Y0\nM2\n"), sink)
	var ce *calib.CalibrationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CalibrationError", err)
	}
	if job.State != Aborted {
		t.Errorf("State = %s, want aborted", job.State)
	}
	if n := len(sink.Frames()); n != 0 {
		t.Errorf("sink received %d frames, want 0", n)
	}
	if sink.FlushCount() != 0 {
		t.Error("sink flushed for a job that never streamed")
	}
}

func TestTimingErrorAborts(t *testing.T) {
	c, _ := testCompiler(t)
	sink := opal.NewSimSink()
	job := c.NewJob("hot.gcode")

	// Program ends while the beam is still on.
	src := "M3 S50\nG1 X5 Y0 F600\nM2\n"
	err := c.Run(context.Background(), job, strings.NewReader(src), sink)
	var te *laser.TimingError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimingError", err)
	}
	if len(sink.Frames()) != 0 {
		t.Error("frames reached the sink for a job that failed timing")
	}
}

func TestStreamBeforeCompile(t *testing.T) {
	c, _ := testCompiler(t)
	job := c.NewJob("empty.gcode")

	if err := c.Stream(context.Background(), job, opal.NewSimSink()); err == nil {
		t.Fatal("Stream succeeded without a compiled job")
	}
	if job.State != Aborted {
		t.Errorf("State = %s, want aborted", job.State)
	}
}

func TestCancelledContextAborts(t *testing.T) {
	c, _ := testCompiler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := c.NewJob("square.gcode")

	err := c.Run(ctx, job, strings.NewReader(squareProgram), opal.NewSimSink())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if job.State != Aborted {
		t.Errorf("State = %s, want aborted", job.State)
	}
}

func TestSinkFailureAbortsWithStopTail(t *testing.T) {
	c, _ := testCompiler(t)
	sink := opal.NewSimSink()
	sink.FailAtSeq(10)
	job := c.NewJob("square.gcode")

	err := c.Run(context.Background(), job, strings.NewReader(squareProgram), sink)
	var se *emitter.SinkError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SinkError", err)
	}
	if job.State != Aborted {
		t.Errorf("State = %s, want aborted", job.State)
	}

	frames := sink.Frames()
	if job.Frames != len(frames) {
		t.Errorf("job counted %d frames, sink has %d", job.Frames, len(frames))
	}
	if len(frames) < 2 {
		t.Fatalf("only %d frames delivered", len(frames))
	}
	last, park := frames[len(frames)-2], frames[len(frames)-1]
	if !last.EStop || !park.EStop {
		t.Error("stop tail frames not flagged")
	}
	if last.Laser.GateOn() || park.Laser.GateOn() {
		t.Error("stop tail frames must carry the beam off")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Idle:       "idle",
		TimingSync: "timing",
		Streaming:  "streaming",
		Done:       "done",
		Aborted:    "aborted",
		State(99):  "state(99)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
