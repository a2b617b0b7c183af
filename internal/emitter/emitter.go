// Package emitter turns a laser-timed motion timeline into the fixed-rate
// XY2-100 frame stream. Encoding (resample, calibrate, pack) happens up
// front, before any frame reaches hardware; playback then feeds a bounded
// queue drained by a consumer goroutine that paces one frame pair per sample
// period into the sink. Cancellation and sink failure abandon the remaining
// frames and send an emergency-stop tail: beam off at the last streamed
// position, then a jump to the park position.
package emitter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/laser"
	"github.com/ogcode-dev/ogcode/internal/monitoring"
	"github.com/ogcode-dev/ogcode/internal/planner"
	"github.com/ogcode-dev/ogcode/internal/timeutil"
	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// Sink consumes the ordered frame stream. Implementations may block in
// Accept; the bounded queue upstream turns that into backpressure on the
// whole stream.
type Sink interface {
	// Accept takes one frame. Frames arrive in strict sequence order.
	Accept(f xy2.FramePair) error
	// Flush forces buffered frames out. Called exactly once when the stream
	// ends, including after an emergency stop.
	Flush() error
}

// EncodingError reports a resampled point that cannot be represented on the
// wire, such as a distortion-corrected sample falling outside the field even
// though the segment endpoints passed validation.
type EncodingError struct {
	Sample uint64
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding sample %d: %s", e.Sample, e.Reason)
}

// SinkError wraps a sink failure during streaming.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return "sink: " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

// Config holds the emission parameters from machine configuration.
type Config struct {
	// Period is the sample period; one frame pair is emitted per period.
	Period time.Duration
	// QueueDepth bounds the frame queue between producer and consumer.
	QueueDepth int
	// Park is the machine-space position emergency-stop tails send the
	// mirrors to.
	Park geom.Point
	// Realtime asks for SCHED_FIFO on the consumer thread where the platform
	// supports it. Refusal is logged and ignored.
	Realtime bool
}

// Validate reports the first invalid emission parameter.
func (c Config) Validate() error {
	if c.Period < time.Microsecond {
		return fmt.Errorf("sample period %v must be at least 1µs", c.Period)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("queue depth %d must be at least 1", c.QueueDepth)
	}
	return nil
}

// Stream is a fully encoded job ready to play into a sink.
type Stream struct {
	frames []xy2.FramePair
	period time.Duration
	depth  int
	rt     bool
	parkX  uint16
	parkY  uint16

	// Updated by the consumer; read by the producer only after the consumer
	// goroutine has exited.
	lastSent uint64
	anySent  bool
}

// Encode resamples the timeline at cfg.Period and maps every sample through
// the calibration profile into frame pairs. All encoding happens here: a job
// that fails encoding never sends a frame.
func Encode(tl *laser.Timeline, prof *calib.Profile, cfg Config) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}
	s := &Stream{period: cfg.Period, depth: cfg.QueueDepth, rt: cfg.Realtime}

	px, py, err := prof.MapDU(cfg.Park)
	if err != nil {
		return nil, &EncodingError{Reason: fmt.Sprintf("park position: %v", err)}
	}
	s.parkX, s.parkY = px, py

	if len(tl.Segments) == 0 {
		return s, nil
	}

	periodSec := cfg.Period.Seconds()
	dur := tl.Duration()
	// Samples at k·period for k = 0..n-1; the last sample lands at or past
	// the end of the timeline and clamps to the final position.
	n := int(math.Ceil(dur/periodSec)) + 1

	cur := planner.NewCursor(tl.Segments)
	gate := false
	power := 0.0
	ei := 0
	frames := make([]xy2.FramePair, 0, n)
	for k := 0; k < n; k++ {
		t := float64(k) * periodSec
		for ei < len(tl.Events) && tl.Events[ei].T <= t+1e-12 {
			switch ev := tl.Events[ei]; ev.Kind {
			case laser.On:
				gate = true
				power = ev.Power
			case laser.Off:
				gate = false
			case laser.Power:
				power = ev.Power
			}
			ei++
		}
		pos, _ := cur.At(t)
		x, y, err := prof.MapDU(pos)
		if err != nil {
			return nil, &EncodingError{Sample: uint64(k), Reason: err.Error()}
		}
		frames = append(frames, xy2.EncodeFrame(uint64(k), x, y, gate, power))
	}
	s.frames = frames
	monitoring.Debugf("[emitter] encoded %d frames (%.3fs at %v)", len(frames), dur, cfg.Period)
	return s, nil
}

// FrameCount returns the number of encoded frames, excluding any stop tail.
func (s *Stream) FrameCount() int {
	return len(s.frames)
}

// Duration returns the streamed duration at the sample period.
func (s *Stream) Duration() time.Duration {
	if len(s.frames) == 0 {
		return 0
	}
	return time.Duration(len(s.frames)-1) * s.period
}

// Play streams the encoded frames into the sink, pacing one frame per sample
// period against clk. It returns when every frame has been accepted and
// flushed, the context is cancelled, or the sink fails; the latter two send
// the emergency-stop tail before returning the original error.
func (s *Stream) Play(ctx context.Context, sink Sink, clk timeutil.Clock) error {
	if len(s.frames) == 0 {
		if err := sink.Flush(); err != nil {
			return &SinkError{Err: err}
		}
		return nil
	}

	ch := make(chan xy2.FramePair, s.depth)
	stop := make(chan struct{})   // tells the consumer to discard the rest
	failed := make(chan struct{}) // closed by the consumer on sink failure
	done := make(chan error, 1)

	go func() {
		done <- s.consume(ch, stop, failed, sink, clk)
	}()

	var cancelErr error
feed:
	for i := range s.frames {
		select {
		case ch <- s.frames[i]:
		case <-ctx.Done():
			cancelErr = ctx.Err()
			break feed
		case <-failed:
			break feed
		}
	}
	if cancelErr != nil {
		close(stop)
	}
	close(ch)
	sinkErr := <-done

	switch {
	case sinkErr != nil:
		s.stopTail(sink)
		return sinkErr
	case cancelErr != nil:
		monitoring.Logf("[emitter] cancelled after frame %d, stopping beam", s.lastSent)
		s.stopTail(sink)
		return cancelErr
	}
	if err := sink.Flush(); err != nil {
		return &SinkError{Err: err}
	}
	return nil
}

// consume drains the queue at the sample rate. On sink failure it closes
// failed and keeps draining without pacing so the producer is released
// promptly.
func (s *Stream) consume(ch <-chan xy2.FramePair, stop <-chan struct{}, failed chan<- struct{}, sink Sink, clk timeutil.Clock) error {
	if s.rt {
		elevateScheduling()
	}
	start := clk.Now()
	var err error
	for f := range ch {
		if err != nil {
			continue
		}
		select {
		case <-stop:
			continue
		default:
		}
		target := start.Add(time.Duration(f.Seq) * s.period)
		for {
			now := clk.Now()
			if !now.Before(target) {
				break
			}
			clk.Sleep(target.Sub(now))
		}
		if aerr := sink.Accept(f); aerr != nil {
			err = &SinkError{Err: aerr}
			close(failed)
			continue
		}
		s.lastSent = f.Seq
		s.anySent = true
	}
	return err
}

// stopTail sends the emergency-stop frames and flushes: beam off holding the
// last streamed position, then a jump to park. Sent best-effort even after a
// sink failure; a degraded sink may still honor the stop.
func (s *Stream) stopTail(sink Sink) {
	lastX, lastY := s.parkX, s.parkY
	seq := uint64(0)
	if s.anySent {
		last := s.frames[s.lastSent]
		lastX, lastY = last.X.Data(), last.Y.Data()
		seq = s.lastSent
	}
	off := xy2.FramePair{
		Seq:   seq + 1,
		X:     xy2.EncodePosition(lastX),
		Y:     xy2.EncodePosition(lastY),
		Laser: xy2.EncodeLaser(false, 0),
		EStop: true,
	}
	park := xy2.FramePair{
		Seq:   seq + 2,
		X:     xy2.EncodePosition(s.parkX),
		Y:     xy2.EncodePosition(s.parkY),
		Laser: xy2.EncodeLaser(false, 0),
		EStop: true,
	}
	_ = sink.Accept(off)
	_ = sink.Accept(park)
	_ = sink.Flush()
}
