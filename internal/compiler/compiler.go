// Package compiler sequences a job through the pipeline stages: parse,
// plan, calibrate, laser timing, frame encoding, streaming. It owns the job
// state machine and per-stage timing; the stages themselves live in their
// own packages and stay independently testable.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/config"
	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/laser"
	"github.com/ogcode-dev/ogcode/internal/monitoring"
	"github.com/ogcode-dev/ogcode/internal/planner"
	"github.com/ogcode-dev/ogcode/internal/timeutil"
	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// State is a job's position in the pipeline.
type State int

const (
	Idle State = iota
	Parsing
	Planning
	Calibrating
	TimingSync
	Encoding
	Streaming
	Done
	Aborted
)

var stateNames = map[State]string{
	Idle:        "idle",
	Parsing:     "parsing",
	Planning:    "planning",
	Calibrating: "calibrating",
	TimingSync:  "timing",
	Encoding:    "encoding",
	Streaming:   "streaming",
	Done:        "done",
	Aborted:     "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage   State
	Elapsed time.Duration
}

// Job tracks one program's run through the pipeline.
type Job struct {
	ID     uuid.UUID
	Source string
	State  State

	Commands int // parsed commands
	Segments int // planned motion segments
	Samples  int // encoded frame samples
	Frames   int // frames actually delivered to the sink

	Warnings []gcode.Warning
	Timings  []StageTiming
	Err      error // first failure, nil on success

	program  *gcode.Program
	plan     *planner.Plan
	timeline *laser.Timeline
	stream   *emitter.Stream
}

// Plan returns the planned motion, available once the job passed Planning.
func (j *Job) Plan() *planner.Plan { return j.plan }

// Timeline returns the laser-timed motion, available once the job passed
// TimingSync.
func (j *Job) Timeline() *laser.Timeline { return j.timeline }

// StreamDuration returns the encoded stream's wall duration, or zero before
// Encoding.
func (j *Job) StreamDuration() time.Duration {
	if j.stream == nil {
		return 0
	}
	return j.stream.Duration()
}

// Compiler drives jobs through the pipeline with fixed machine settings.
type Compiler struct {
	cfg     *config.Config
	profile *calib.Profile
	clock   timeutil.Clock
}

// New builds a compiler. A nil profile selects the ideal (uncorrected)
// mapping for the configured field size.
func New(cfg *config.Config, profile *calib.Profile, clk timeutil.Clock) *Compiler {
	if profile == nil {
		profile = calib.ForField(cfg.Field.SizeMM)
	}
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &Compiler{cfg: cfg, profile: profile, clock: clk}
}

// NewJob allocates a job identity for the given source name.
func (c *Compiler) NewJob(source string) *Job {
	return &Job{ID: uuid.New(), Source: source, State: Idle}
}

// Compile runs every precompute stage: parse, plan, calibration check,
// laser timing, frame encoding. After a successful return the job holds a
// fully encoded stream and no frame has touched any sink.
func (c *Compiler) Compile(ctx context.Context, job *Job, r io.Reader) error {
	if err := c.stage(ctx, job, Parsing, func() error {
		prog, err := gcode.ParseProgram(r)
		if err != nil {
			return err
		}
		job.program = prog
		job.Commands = len(prog.Commands)
		job.Warnings = prog.Warnings
		for _, w := range prog.Warnings {
			monitoring.Logf("[compiler] %s line %d: %s", job.Source, w.Line, w.Message)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.stage(ctx, job, Planning, func() error {
		plan, err := planner.Build(job.program.Commands, c.cfg.PlannerLimits())
		if err != nil {
			return err
		}
		job.plan = plan
		job.Segments = len(plan.Segments)
		for _, w := range plan.Warnings {
			monitoring.Logf("[compiler] %s line %d: %s", job.Source, w.Line, w.Message)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.stage(ctx, job, Calibrating, func() error {
		return c.checkWaypoints(job.plan)
	}); err != nil {
		return err
	}

	if err := c.stage(ctx, job, TimingSync, func() error {
		tl, err := laser.Coordinate(job.plan, job.program.Commands, c.cfg.LaserConfig())
		if err != nil {
			return err
		}
		job.timeline = tl
		return nil
	}); err != nil {
		return err
	}

	return c.stage(ctx, job, Encoding, func() error {
		stream, err := emitter.Encode(job.timeline, c.profile, c.cfg.EmitterConfig())
		if err != nil {
			return err
		}
		job.stream = stream
		job.Samples = stream.FrameCount()
		return nil
	})
}

// Stream plays the encoded frames into the sink at the configured rate.
// Cancellation and sink failures abort the job; the emitter has already
// appended the emergency-stop tail by the time the error surfaces here.
func (c *Compiler) Stream(ctx context.Context, job *Job, sink emitter.Sink) error {
	if job.stream == nil {
		err := errors.New("job has not been compiled")
		job.State = Aborted
		job.Err = err
		return err
	}

	counter := &countingSink{inner: sink}
	err := c.stage(ctx, job, Streaming, func() error {
		return job.stream.Play(ctx, counter, c.clock)
	})
	job.Frames = counter.n
	if err != nil {
		return err
	}

	job.State = Done
	monitoring.Logf("[compiler] job %s done: %d commands, %d segments, %d frames in %s",
		job.ID, job.Commands, job.Segments, job.Frames, job.StreamDuration())
	return nil
}

// Run compiles and streams in one call.
func (c *Compiler) Run(ctx context.Context, job *Job, r io.Reader, sink emitter.Sink) error {
	if err := c.Compile(ctx, job, r); err != nil {
		return err
	}
	return c.Stream(ctx, job, sink)
}

// stage executes one pipeline stage, recording its timing and converting
// any failure into the Aborted terminal state.
func (c *Compiler) stage(ctx context.Context, job *Job, s State, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return c.abort(job, s, err)
	}

	job.State = s
	start := c.clock.Now()
	err := fn()
	job.Timings = append(job.Timings, StageTiming{Stage: s, Elapsed: c.clock.Since(start)})
	if err != nil {
		return c.abort(job, s, err)
	}
	monitoring.Debugf("[compiler] job %s: %s ok", job.ID, s)
	return nil
}

func (c *Compiler) abort(job *Job, s State, err error) error {
	job.State = Aborted
	if job.Err == nil {
		job.Err = err
	}
	monitoring.Logf("[compiler] job %s aborted during %s: %v", job.ID, s, err)
	return err
}

// checkWaypoints maps every planned endpoint through the calibration
// profile. A point outside the scanner range fails the job here, before any
// frame exists, so a bad job never sends a single frame downstream.
func (c *Compiler) checkWaypoints(plan *planner.Plan) error {
	if _, err := c.profile.Map(c.cfg.EmitterConfig().Park); err != nil {
		return fmt.Errorf("park position: %w", err)
	}
	for i := range plan.Segments {
		seg := &plan.Segments[i]
		if _, err := c.profile.Map(seg.Start); err != nil {
			return err
		}
		if _, err := c.profile.Map(seg.End); err != nil {
			return err
		}
	}
	return nil
}

// countingSink counts frames on their way to the real sink so the job can
// report how many were actually delivered.
type countingSink struct {
	inner emitter.Sink
	n     int
}

func (s *countingSink) Accept(f xy2.FramePair) error {
	if err := s.inner.Accept(f); err != nil {
		return err
	}
	s.n++
	return nil
}

func (s *countingSink) Flush() error { return s.inner.Flush() }
