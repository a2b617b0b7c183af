// Package gcode parses the motion/laser subset of G-code used by galvo
// engraving jobs into a normalized command sequence. Modal state (position,
// units, feed, absolute/relative mode, laser power) is threaded explicitly
// through each parse call; coordinates and feeds are resolved to absolute
// millimetres and mm/s at parse time so downstream stages never see units or
// relative moves.
package gcode

import (
	"time"

	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/units"
)

// Command is one parsed G-code command. The variant set is closed: a consumer
// type-switching over all six kinds has handled every command the parser can
// produce.
type Command interface {
	cmd()
}

// Move is a linear move to Target. Rapid marks G0 (beam off, traversal speed
// comes from machine config); otherwise Feed is the marking speed in mm/s.
type Move struct {
	Line   int
	Target geom.Point // absolute, mm
	Rapid  bool
	Feed   float64 // mm/s, 0 for rapid moves
}

// Arc is a clockwise or counter-clockwise arc from the current position to
// Target about Center. Both I/J and R input forms are normalized to this
// canonical center representation at parse time. Target == start position
// denotes a full circle.
type Arc struct {
	Line      int
	Target    geom.Point // absolute, mm
	Center    geom.Point // absolute, mm
	Clockwise bool
	Feed      float64 // mm/s
}

// LaserSet switches the beam gate and/or power level. Power is percent,
// 0-100.
type LaserSet struct {
	Line  int
	On    bool
	Power float64
}

// UnitChange records a G20/G21 unit switch. The parser resolves all
// coordinates itself, so downstream stages may ignore it.
type UnitChange struct {
	Line  int
	Units string
}

// Dwell pauses motion in place for Duration.
type Dwell struct {
	Line     int
	Duration time.Duration
}

// ProgramEnd is M2/M30. Parsing stops here; anything after it is ignored.
type ProgramEnd struct {
	Line int
}

func (Move) cmd()       {}
func (Arc) cmd()        {}
func (LaserSet) cmd()   {}
func (UnitChange) cmd() {}
func (Dwell) cmd()      {}
func (ProgramEnd) cmd() {}

// MotionMode is the modal motion group (G0/G1). Bare coordinate lines reuse
// the last motion mode, as gcodetools output relies on.
type MotionMode int

const (
	// MotionNone means no motion word has been seen yet; bare coordinate
	// lines are an error in this mode.
	MotionNone MotionMode = iota
	// MotionRapid continues G0 moves.
	MotionRapid
	// MotionLinear continues G1 moves.
	MotionLinear
)

// State is the modal parser state. It is a value: ParseLine takes the current
// state and returns the successor, never mutating shared data.
type State struct {
	Position geom.Point // absolute, mm
	Units    string
	Feed     float64 // mm/s, 0 = no feed set yet
	Absolute bool
	Motion   MotionMode
	// Plane is the active arc plane. Only the XY plane (G17) is supported;
	// G18/G19 are fatal parse errors.
	Plane   string
	LaserOn bool
	Power   float64 // percent, 0-100
}

// DefaultState is the state before any line has been parsed: origin,
// millimetres, absolute positioning, XY plane, laser off.
func DefaultState() State {
	return State{
		Units:    units.Millimetres,
		Absolute: true,
		Plane:    "XY",
	}
}
