// Package planner converts a parsed G-code command sequence into a
// kinematically feasible, time-parameterized motion plan. Arcs are subdivided
// into chords bounded by a maximum chordal deviation, boundary velocities are
// relaxed with a backward/forward lookahead pass against slew-rate and
// junction-deviation limits, and each segment carries a trapezoidal velocity
// profile whose position function the emitter evaluates directly.
package planner

import (
	"fmt"
	"math"

	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/monitoring"
)

// Limits holds the kinematic envelope the plan must respect. All values come
// from machine configuration and are fixed for the duration of a job.
type Limits struct {
	// MaxVelocity caps marking (G1/G2/G3) speed in mm/s regardless of the
	// programmed feed.
	MaxVelocity float64
	// RapidVelocity is the traversal speed for G0 jumps in mm/s.
	RapidVelocity float64
	// Acceleration is the magnitude used for both ramps, mm/s².
	Acceleration float64
	// SlewRateX and SlewRateY are the per-axis velocity ceilings the scan
	// mirrors can sustain, mm/s in field coordinates.
	SlewRateX float64
	SlewRateY float64
	// JunctionDeviation is the cornering tolerance in mm. Zero forces a full
	// stop at every direction change.
	JunctionDeviation float64
	// ArcEpsilon is the maximum allowed chord-to-arc deviation in mm.
	ArcEpsilon float64
}

// Validate reports the first invalid limit. Non-positive velocity or
// acceleration limits are a fatal configuration error.
func (l Limits) Validate() error {
	switch {
	case l.MaxVelocity <= 0:
		return fmt.Errorf("max velocity %g must be positive", l.MaxVelocity)
	case l.RapidVelocity <= 0:
		return fmt.Errorf("rapid velocity %g must be positive", l.RapidVelocity)
	case l.Acceleration <= 0:
		return fmt.Errorf("acceleration %g must be positive", l.Acceleration)
	case l.SlewRateX <= 0 || l.SlewRateY <= 0:
		return fmt.Errorf("slew rates (%g, %g) must be positive", l.SlewRateX, l.SlewRateY)
	case l.JunctionDeviation < 0:
		return fmt.Errorf("junction deviation %g must not be negative", l.JunctionDeviation)
	case l.ArcEpsilon <= 0:
		return fmt.Errorf("arc epsilon %g must be positive", l.ArcEpsilon)
	}
	return nil
}

// PlanningError reports an infeasible or degenerate input. It is fatal: no
// part of a job that fails planning ever reaches hardware.
type PlanningError struct {
	SegmentIndex int
	Reason       string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning segment %d: %s", e.SegmentIndex, e.Reason)
}

// Warning is a non-fatal condition noted while planning, such as a dropped
// zero-length move.
type Warning struct {
	CmdIndex int
	Line     int
	Message  string
}

// Plan is the ordered, time-parameterized segment sequence for one job.
type Plan struct {
	Segments []Segment
	Warnings []Warning
}

// Duration returns the total motion time in seconds.
func (p *Plan) Duration() float64 {
	if len(p.Segments) == 0 {
		return 0
	}
	last := &p.Segments[len(p.Segments)-1]
	return last.EndTime()
}

// End returns the final commanded position, or the zero point for an empty
// plan.
func (p *Plan) End() geom.Point {
	if len(p.Segments) == 0 {
		return geom.Point{}
	}
	return p.Segments[len(p.Segments)-1].End
}

// Build plans the full command sequence under the given limits. The sequence
// must be in source order; laser and dwell commands force a full stop at the
// adjacent motion boundaries so the timing coordinator can gate the beam at
// zero velocity.
func Build(cmds []gcode.Command, lim Limits) (*Plan, error) {
	if err := lim.Validate(); err != nil {
		return nil, &PlanningError{SegmentIndex: 0, Reason: err.Error()}
	}

	p := &Plan{}
	segs, err := p.collectSegments(cmds, lim)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		p.Segments = nil
		return p, nil
	}

	assignVelocities(segs, lim)
	clock := 0.0
	for i := range segs {
		if !segs[i].Dwell {
			if err := segs[i].setTrapezoid(lim.Acceleration); err != nil {
				return nil, &PlanningError{SegmentIndex: i, Reason: err.Error()}
			}
		}
		segs[i].StartTime = clock
		clock = segs[i].EndTime()
	}
	p.Segments = segs
	monitoring.Debugf("[planner] %d segments, %.3fs total", len(segs), clock)
	return p, nil
}

// collectSegments expands commands into raw segments with geometry, feed
// targets and stop flags, before any velocity assignment.
func (p *Plan) collectSegments(cmds []gcode.Command, lim Limits) ([]Segment, error) {
	var segs []Segment
	pos := geom.Point{}
	// stopNext forces zero velocity at the entry of the next motion segment.
	// Laser gating happens at rest, so any intervening laser command pins the
	// boundary.
	stopNext := false

	appendChord := func(end geom.Point, rapid bool, feed float64, cmdIdx, line int) {
		length := pos.DistanceTo(end)
		if length == 0 {
			p.Warnings = append(p.Warnings, Warning{
				CmdIndex: cmdIdx,
				Line:     line,
				Message:  "zero-length move dropped",
			})
			return
		}
		seg := Segment{
			Start:     pos,
			End:       end,
			Rapid:     rapid,
			CmdIndex:  cmdIdx,
			Line:      line,
			length:    length,
			dir:       end.Sub(pos).Unit(),
			feed:      feed,
			stopEntry: stopNext,
		}
		stopNext = false
		segs = append(segs, seg)
		pos = end
	}

	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case gcode.Move:
			feed := c.Feed
			if c.Rapid {
				feed = lim.RapidVelocity
			}
			appendChord(c.Target, c.Rapid, feed, i, c.Line)

		case gcode.Arc:
			pts, err := chordize(pos, c.Target, c.Center, c.Clockwise, lim.ArcEpsilon)
			if err != nil {
				return nil, &PlanningError{SegmentIndex: len(segs), Reason: fmt.Sprintf("line %d: %s", c.Line, err)}
			}
			for _, pt := range pts {
				appendChord(pt, false, c.Feed, i, c.Line)
			}

		case gcode.Dwell:
			segs = append(segs, Segment{
				Start:    pos,
				End:      pos,
				Dwell:    true,
				CmdIndex: i,
				Line:     c.Line,
				CruiseT:  c.Duration.Seconds(),
			})
			stopNext = false

		case gcode.LaserSet:
			stopNext = true

		case gcode.UnitChange, gcode.ProgramEnd:
			// No motion effect; units were resolved at parse time.
		}
	}
	return segs, nil
}

// assignVelocities runs the two-pass lookahead over the segment list. All
// arithmetic is in velocity-squared space; entry[i] is the boundary speed²
// between segments i-1 and i, entry[n] the final boundary (always zero).
func assignVelocities(segs []Segment, lim Limits) {
	n := len(segs)
	entry := make([]float64, n+1)

	// Per-segment cruise caps and initial junction bounds.
	for i := range segs {
		s := &segs[i]
		if s.Dwell {
			continue
		}
		vmax := s.feed
		if !s.Rapid && vmax > lim.MaxVelocity {
			vmax = lim.MaxVelocity
		}
		if slew := slewLimit(s.dir, lim); slew < vmax {
			vmax = slew
		}
		s.cruiseCap = vmax
	}
	for i := 1; i < n; i++ {
		entry[i] = junctionV2(&segs[i-1], &segs[i], lim)
	}

	// Backward pass: bound each entry by what the following ramp can shed.
	next := 0.0
	for i := n - 1; i >= 0; i-- {
		s := &segs[i]
		if s.Dwell {
			next = 0
			entry[i] = 0
			continue
		}
		reachable := next + 2*lim.Acceleration*s.length
		if entry[i] > reachable {
			entry[i] = reachable
		}
		next = entry[i]
	}

	// Forward pass: bound each exit by what the preceding ramp can gain.
	for i := 0; i < n; i++ {
		s := &segs[i]
		if s.Dwell {
			entry[i+1] = 0
			continue
		}
		reachable := entry[i] + 2*lim.Acceleration*s.length
		if entry[i+1] > reachable {
			entry[i+1] = reachable
		}
	}

	for i := range segs {
		s := &segs[i]
		if s.Dwell {
			continue
		}
		startV2 := entry[i]
		endV2 := entry[i+1]
		// Peak of the triangle profile joining the two boundary speeds over
		// the segment length.
		peakV2 := 0.5 * (2*lim.Acceleration*s.length + startV2 + endV2)
		cruiseV2 := s.cruiseCap * s.cruiseCap
		if peakV2 < cruiseV2 {
			cruiseV2 = peakV2
		}
		s.StartV = math.Sqrt(startV2)
		s.CruiseV = math.Sqrt(cruiseV2)
		s.EndV = math.Sqrt(endV2)
		s.Accel = lim.Acceleration
	}
}

// junctionV2 returns the maximum speed² permitted at the boundary between
// prev and cur: the lesser of both cruise caps and the junction-deviation
// cornering bound for the angle between their directions. Colinear segments
// pass unclamped; reversals and boundaries pinned by a laser command or a
// dwell force a full stop.
func junctionV2(prev, cur *Segment, lim Limits) float64 {
	if prev.Dwell || cur.Dwell || cur.stopEntry {
		return 0
	}
	if prev.Rapid != cur.Rapid {
		// Beam gating happens across jump boundaries; arrive at rest.
		return 0
	}

	v := prev.cruiseCap
	if cur.cruiseCap < v {
		v = cur.cruiseCap
	}
	v2 := v * v

	cosTheta := -prev.dir.Dot(cur.dir)
	sinThetaD2 := math.Sqrt(math.Max(0.5*(1-cosTheta), 0))
	cosThetaD2 := math.Sqrt(math.Max(0.5*(1+cosTheta), 0))
	oneMinusSinThetaD2 := 1 - sinThetaD2
	if oneMinusSinThetaD2 > 1e-12 && cosThetaD2 > 1e-12 {
		rJD := sinThetaD2 / oneMinusSinThetaD2
		jdV2 := rJD * lim.JunctionDeviation * lim.Acceleration
		if jdV2 < v2 {
			v2 = jdV2
		}
		// Centripetal bound over the shorter adjoining segment.
		quarterTan := 0.25 * sinThetaD2 / cosThetaD2
		for _, d := range []float64{cur.length, prev.length} {
			cv2 := 2 * d * lim.Acceleration * quarterTan
			if cv2 < v2 {
				v2 = cv2
			}
		}
	}
	return v2
}

// slewLimit returns the top speed along dir that keeps each axis within its
// mirror slew-rate ceiling.
func slewLimit(dir geom.Point, lim Limits) float64 {
	v := math.Inf(1)
	if ax := math.Abs(dir.X); ax > 0 {
		v = lim.SlewRateX / ax
	}
	if ay := math.Abs(dir.Y); ay > 0 {
		if vy := lim.SlewRateY / ay; vy < v {
			v = vy
		}
	}
	return v
}

// setTrapezoid derives the accelerate/cruise/decelerate phase durations from
// the assigned boundary and cruise velocities.
func (s *Segment) setTrapezoid(accel float64) error {
	if s.CruiseV <= 0 {
		return fmt.Errorf("segment has zero cruise velocity over length %g", s.length)
	}
	halfInvAccel := 0.5 / accel
	startV2 := s.StartV * s.StartV
	cruiseV2 := s.CruiseV * s.CruiseV
	endV2 := s.EndV * s.EndV
	accelD := (cruiseV2 - startV2) * halfInvAccel
	decelD := (cruiseV2 - endV2) * halfInvAccel
	cruiseD := s.length - accelD - decelD
	if cruiseD < 1e-9 {
		// Numeric dust from the v² relaxation; the profile is a pure triangle.
		cruiseD = 0
	}
	s.AccelT = accelD / ((s.StartV + s.CruiseV) * 0.5)
	s.CruiseT = cruiseD / s.CruiseV
	s.DecelT = decelD / ((s.EndV + s.CruiseV) * 0.5)
	return nil
}

// Cursor walks a plan's segments in time order for resampling. Lookups must
// use non-decreasing timestamps.
type Cursor struct {
	segs []Segment
	idx  int
}

// NewCursor returns a cursor over the plan's segments.
func NewCursor(segs []Segment) *Cursor {
	return &Cursor{segs: segs}
}

// At returns the commanded position at job time t seconds, together with the
// index of the segment that produced it. Times past the end of the plan clamp
// to the final position.
func (c *Cursor) At(t float64) (geom.Point, int) {
	if len(c.segs) == 0 {
		return geom.Point{}, 0
	}
	for c.idx < len(c.segs)-1 && t >= c.segs[c.idx].EndTime() {
		c.idx++
	}
	s := &c.segs[c.idx]
	return s.PositionAt(t - s.StartTime), c.idx
}
