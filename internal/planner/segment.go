package planner

import "github.com/ogcode-dev/ogcode/internal/geom"

// Segment is one planned piece of the motion timeline: a line chord with a
// trapezoidal velocity profile, or a zero-motion dwell. Consecutive segments
// share endpoints, and the exit velocity of one equals the entry velocity of
// the next.
type Segment struct {
	Start geom.Point
	End   geom.Point

	// Rapid marks beam-off traversal moves (G0). Dwell marks zero-motion
	// pauses; a dwell's duration is all cruise time at zero velocity.
	Rapid bool
	Dwell bool

	// CmdIndex and Line locate the originating command for error context.
	CmdIndex int
	Line     int

	// Velocity profile, mm/s and mm/s².
	StartV  float64
	CruiseV float64
	EndV    float64
	Accel   float64

	// Phase durations in seconds and the segment's offset in the job
	// timeline.
	AccelT    float64
	CruiseT   float64
	DecelT    float64
	StartTime float64

	length float64
	dir    geom.Point

	// Planning intermediates: programmed speed target, cruise cap after
	// slew/velocity limiting, and whether the entry boundary is pinned to a
	// full stop by an adjacent laser command.
	feed      float64
	cruiseCap float64
	stopEntry bool
}

// Duration returns the segment's total time in seconds.
func (s *Segment) Duration() float64 {
	return s.AccelT + s.CruiseT + s.DecelT
}

// StopsAtEnd reports whether the segment decelerates to rest at its endpoint.
// The beam may only be gated at such boundaries.
func (s *Segment) StopsAtEnd() bool {
	return s.EndV < 1e-6
}

// EndTime returns the job time at which the segment completes.
func (s *Segment) EndTime() float64 {
	return s.StartTime + s.Duration()
}

// Length returns the path length in mm (zero for dwells).
func (s *Segment) Length() float64 {
	return s.length
}

// Direction returns the unit direction of travel (zero vector for dwells).
func (s *Segment) Direction() geom.Point {
	return s.dir
}

// distanceAt returns the path distance covered dt seconds into the segment.
func (s *Segment) distanceAt(dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if dt >= s.Duration() {
		return s.length
	}
	if dt < s.AccelT {
		return s.StartV*dt + 0.5*s.Accel*dt*dt
	}
	d := (s.StartV + s.CruiseV) * 0.5 * s.AccelT
	dt -= s.AccelT
	if dt < s.CruiseT {
		return d + s.CruiseV*dt
	}
	d += s.CruiseV * s.CruiseT
	dt -= s.CruiseT
	return d + s.CruiseV*dt - 0.5*s.Accel*dt*dt
}

// PositionAt evaluates the position dt seconds into the segment by direct
// evaluation of the piecewise-quadratic profile. dt is clamped to the
// segment bounds, so callers stepping a sample clock across segment
// boundaries never extrapolate.
func (s *Segment) PositionAt(dt float64) geom.Point {
	if s.Dwell || s.length == 0 {
		return s.Start
	}
	if dt >= s.Duration() {
		return s.End
	}
	return s.Start.Add(s.dir.Scale(s.distanceAt(dt)))
}

// VelocityAt returns the scalar speed dt seconds into the segment.
func (s *Segment) VelocityAt(dt float64) float64 {
	if s.Dwell {
		return 0
	}
	d := s.Duration()
	switch {
	case dt <= 0:
		return s.StartV
	case dt >= d:
		return s.EndV
	case dt < s.AccelT:
		return s.StartV + s.Accel*dt
	case dt < s.AccelT+s.CruiseT:
		return s.CruiseV
	default:
		return s.CruiseV - s.Accel*(dt-s.AccelT-s.CruiseT)
	}
}
