// Package laser merges beam on/off/power intent with the planned motion
// timeline. The beam is only gated at rest: the coordinator inserts hold
// periods into the timeline so every laser-on waits for the mirrors to settle
// plus a mark delay, every laser-off precedes motion resumption by a lead
// time, and every rapid jump forces the beam off with an extra jump delay
// before re-arming.
package laser

import (
	"fmt"
	"math"
	"time"

	"github.com/ogcode-dev/ogcode/internal/gcode"
	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/monitoring"
	"github.com/ogcode-dev/ogcode/internal/planner"
)

// Kind discriminates laser events.
type Kind int

const (
	// On gates the beam open. The event carries the active power level.
	On Kind = iota
	// Off gates the beam closed.
	Off
	// Power changes the power level without touching the gate.
	Power
)

func (k Kind) String() string {
	switch k {
	case On:
		return "on"
	case Off:
		return "off"
	case Power:
		return "power"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one beam state change on the job timeline.
type Event struct {
	T     float64 // seconds from job start
	Kind  Kind
	Power float64 // percent, 0-100
	Line  int     // originating source line, 0 for inserted gate events
}

// Config holds the gating delays and the mirror settle model. Delay defaults
// are scan-head specific and come from machine configuration.
type Config struct {
	// MarkDelay separates predicted mirror settle from beam-on.
	MarkDelay time.Duration
	// LeadTime is the minimum gap between beam-off and motion resuming.
	LeadTime time.Duration
	// JumpDelay is added before re-arming the beam after a rapid.
	JumpDelay time.Duration
	// SettleTau is the exponential settle time constant of the mirrors.
	SettleTau time.Duration
	// SettleTolerance is the residual radius in mm within which the mirror
	// counts as settled.
	SettleTolerance float64
}

// Validate reports the first invalid timing parameter.
func (c Config) Validate() error {
	switch {
	case c.MarkDelay < 0 || c.LeadTime < 0 || c.JumpDelay < 0 || c.SettleTau < 0:
		return fmt.Errorf("laser delays must not be negative")
	case c.SettleTolerance <= 0:
		return fmt.Errorf("settle tolerance %g must be positive", c.SettleTolerance)
	}
	return nil
}

// TimingError reports an unresolvable beam/motion ordering, such as a job
// that ends with the laser still on.
type TimingError struct {
	Reason string
}

func (e *TimingError) Error() string {
	return "laser timing: " + e.Reason
}

// Timeline is the motion plan with gate holds inserted, plus the ordered
// event sequence aligned to it. Segment start times are re-assigned; the
// emitter resamples this timeline, not the raw plan.
type Timeline struct {
	Segments []planner.Segment
	Events   []Event
}

// Duration returns the total job time in seconds including inserted holds.
func (tl *Timeline) Duration() float64 {
	if len(tl.Segments) == 0 {
		return 0
	}
	last := &tl.Segments[len(tl.Segments)-1]
	return last.EndTime()
}

// End returns the final commanded position.
func (tl *Timeline) End() geom.Point {
	if len(tl.Segments) == 0 {
		return geom.Point{}
	}
	return tl.Segments[len(tl.Segments)-1].End
}

// coordinator carries the walk state while merging commands with segments.
type coordinator struct {
	cfg  Config
	out  []planner.Segment
	evs  []Event
	now  float64 // running clock, seconds
	pos  int     // index of last appended motion segment in out, -1 if none
	gate bool    // physical beam gate
	pwr  float64 // active power percent

	intent     bool    // requested beam state
	armLine    int     // source line of the pending laser-on
	armPower   float64 // power the pending laser-on will carry
	afterJump  bool    // a rapid completed since the beam was last gated
	pendingGap float64 // hold required before the next segment (lead time)
}

// Coordinate aligns the laser intent in cmds with the planned timeline and
// returns the adjusted timeline. cmds must be the same sequence the plan was
// built from.
func Coordinate(p *planner.Plan, cmds []gcode.Command, cfg Config) (*Timeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &TimingError{Reason: err.Error()}
	}

	co := &coordinator{cfg: cfg, pos: -1}
	si := 0
	for ci, cmd := range cmds {
		switch c := cmd.(type) {
		case gcode.LaserSet:
			co.applyLaserSet(c)

		case gcode.Move, gcode.Arc, gcode.Dwell:
			for si < len(p.Segments) && p.Segments[si].CmdIndex == ci {
				if err := co.appendSegment(p.Segments[si]); err != nil {
					return nil, err
				}
				si++
			}

		case gcode.UnitChange, gcode.ProgramEnd:
		}
	}

	if co.gate {
		return nil, &TimingError{Reason: "job ends with the laser on"}
	}
	if co.intent {
		return nil, &TimingError{Reason: fmt.Sprintf("laser-on at line %d has no marking move to precede", co.armLine)}
	}

	tl := &Timeline{Segments: co.out, Events: co.evs}
	monitoring.Debugf("[laser] %d events over %.3fs (%d holds inserted)",
		len(co.evs), tl.Duration(), len(co.out)-len(p.Segments))
	return tl, nil
}

// applyLaserSet updates gate intent and power. Off events fire immediately
// at the current clock; on events are deferred until the next marking move.
func (co *coordinator) applyLaserSet(c gcode.LaserSet) {
	if c.On {
		if co.gate {
			if c.Power != co.pwr {
				co.pwr = c.Power
				co.evs = append(co.evs, Event{T: co.now, Kind: Power, Power: c.Power, Line: c.Line})
			}
			co.intent = true
			return
		}
		co.intent = true
		co.armLine = c.Line
		co.armPower = c.Power
		return
	}

	// Off. Gate closes now; the next motion must wait out the lead time.
	if co.gate {
		co.evs = append(co.evs, Event{T: co.now, Kind: Off, Power: co.pwr, Line: c.Line})
		co.gate = false
		co.requireGap(co.cfg.LeadTime.Seconds())
	}
	co.intent = false
	if c.Power != co.pwr {
		co.pwr = c.Power
		co.evs = append(co.evs, Event{T: co.now, Kind: Power, Power: c.Power, Line: c.Line})
	}
}

// appendSegment retimes one planned segment onto the adjusted clock,
// inserting gate transitions and holds as required by the segment kind.
func (co *coordinator) appendSegment(seg planner.Segment) error {
	switch {
	case seg.Dwell:
		// Intentional pause; the beam keeps its state.

	case seg.Rapid:
		if co.gate {
			// Jumps never carry the beam.
			if err := co.checkAtRest("rapid"); err != nil {
				return err
			}
			co.evs = append(co.evs, Event{T: co.now, Kind: Off, Power: co.pwr})
			co.gate = false
			co.requireGap(co.cfg.LeadTime.Seconds())
		}

	default: // marking move
		if co.intent && !co.gate {
			if err := co.armBeam(); err != nil {
				return err
			}
		} else if co.gate && co.stoppedBetweenMarks() {
			// Full stop between two marking moves: gate off/on around the
			// corner so the dwell point does not burn in.
			co.evs = append(co.evs, Event{T: co.now, Kind: Off, Power: co.pwr})
			hold := math.Max(co.cfg.LeadTime.Seconds(), co.settleTime()) + co.cfg.MarkDelay.Seconds()
			co.insertHold(hold, seg.Line)
			co.evs = append(co.evs, Event{T: co.now, Kind: On, Power: co.pwr})
		}
	}

	co.flushGap(seg.Line)
	seg.StartTime = co.now
	co.out = append(co.out, seg)
	co.now = seg.EndTime()
	if !seg.Dwell {
		co.pos = len(co.out) - 1
		if seg.Rapid {
			co.afterJump = true
		}
	}
	return nil
}

// armBeam inserts the settle+delay hold and emits the deferred on event at
// the moment motion resumes.
func (co *coordinator) armBeam() error {
	if err := co.checkAtRest("laser-on"); err != nil {
		return err
	}
	hold := co.settleTime() + co.cfg.MarkDelay.Seconds()
	if co.afterJump {
		hold += co.cfg.JumpDelay.Seconds()
	}
	if co.pendingGap > hold {
		hold = co.pendingGap
	}
	co.pendingGap = 0
	co.insertHold(hold, co.armLine)
	co.evs = append(co.evs, Event{T: co.now, Kind: On, Power: co.armPower, Line: co.armLine})
	co.gate = true
	co.pwr = co.armPower
	co.afterJump = false
	return nil
}

// stoppedBetweenMarks reports whether the previous appended motion segment
// was a marking move that decelerated to rest, with no dwell in between.
func (co *coordinator) stoppedBetweenMarks() bool {
	if co.pos < 0 || co.pos != len(co.out)-1 {
		return false
	}
	prev := &co.out[co.pos]
	return !prev.Rapid && !prev.Dwell && prev.StopsAtEnd()
}

// settleTime predicts how long after arrival the mirrors need to settle
// within the configured tolerance, from the arrival kinematics of the last
// motion segment: the residual of a second-order lag tracking the profile is
// of order |v|·tau + a·tau², decaying with time constant tau.
func (co *coordinator) settleTime() float64 {
	if co.pos < 0 {
		return 0
	}
	prev := &co.out[co.pos]
	tau := co.cfg.SettleTau.Seconds()
	residual := prev.EndV * tau
	if prev.DecelT > 0 {
		residual += prev.Accel * tau * tau
	}
	if residual <= co.cfg.SettleTolerance {
		return 0
	}
	return tau * math.Log(residual/co.cfg.SettleTolerance)
}

// checkAtRest guards gate transitions: the planner pins junction velocity to
// zero wherever the beam switches, so a moving boundary here is a planning
// inconsistency.
func (co *coordinator) checkAtRest(what string) error {
	if co.pos < 0 {
		return nil
	}
	if prev := &co.out[co.pos]; co.pos == len(co.out)-1 && !prev.StopsAtEnd() {
		return &TimingError{Reason: fmt.Sprintf("%s transition at %g mm/s; beam gating requires rest", what, prev.EndV)}
	}
	return nil
}

// requireGap records a minimum hold before the next segment may start.
func (co *coordinator) requireGap(d float64) {
	if d > co.pendingGap {
		co.pendingGap = d
	}
}

// flushGap materializes a pending lead-time hold.
func (co *coordinator) flushGap(line int) {
	if co.pendingGap > 0 {
		co.insertHold(co.pendingGap, line)
		co.pendingGap = 0
	}
}

// insertHold appends a zero-motion hold of d seconds at the current position
// and advances the clock.
func (co *coordinator) insertHold(d float64, line int) {
	if d <= 0 {
		return
	}
	pos := co.currentPos()
	co.out = append(co.out, planner.Segment{
		Start:     pos,
		End:       pos,
		Dwell:     true,
		CmdIndex:  -1,
		Line:      line,
		CruiseT:   d,
		StartTime: co.now,
	})
	co.now += d
}

func (co *coordinator) currentPos() (p geom.Point) {
	if len(co.out) == 0 {
		return p
	}
	return co.out[len(co.out)-1].End
}
