package gcode

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/units"
)

// ParseError reports a malformed or unsupported line. Motion-relevant codes
// the compiler cannot honor are fatal; ignorable codes become Warnings
// instead.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gcode line %d: %s", e.Line, e.Reason)
}

// Warning is a non-fatal condition noted while parsing, such as a skipped
// code or an ignored word.
type Warning struct {
	Line    int
	Message string
}

// Parser feeds lines through the modal parse step and collects warnings.
// It holds no modal state; that travels through ParseLine explicitly.
type Parser struct {
	line     int
	warnings []Warning
	notedN   bool
}

// NewParser returns a parser starting at line 1.
func NewParser() *Parser {
	return &Parser{}
}

// Warnings returns the warnings collected so far, in source order.
func (p *Parser) Warnings() []Warning {
	return p.warnings
}

func (p *Parser) warnf(n int, format string, args ...interface{}) {
	p.warnings = append(p.warnings, Warning{Line: n, Message: fmt.Sprintf(format, args...)})
}

// ParseLine consumes one line of text and returns the command it produces
// (nil for blanks, comments and modal-only lines) together with the successor
// modal state. Line numbers are counted internally from 1.
func (p *Parser) ParseLine(st State, line string) (Command, State, error) {
	p.line++
	n := p.line

	text, reason := stripComments(line)
	if reason != "" {
		return nil, st, &ParseError{Line: n, Reason: reason}
	}
	text = strings.TrimSpace(text)
	if text == "" || text == "%" {
		return nil, st, nil
	}

	words, reason := scanWords(text)
	if reason != "" {
		return nil, st, &ParseError{Line: n, Reason: reason}
	}
	cmd, next, err := p.exec(st, n, words)
	if err != nil {
		// Failed lines leave the modal state untouched.
		return nil, st, err
	}
	return cmd, next, nil
}

// Program is a fully parsed job: the normalized command sequence plus the
// warnings raised along the way.
type Program struct {
	Commands []Command
	Warnings []Warning
	Final    State
}

// ParseProgram drives ParseLine over an entire document. Parsing stops at
// the first ProgramEnd; trailing lines are ignored, matching M2 semantics.
func ParseProgram(r io.Reader) (*Program, error) {
	p := NewParser()
	st := DefaultState()
	var cmds []Command

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cmd, next, err := p.ParseLine(st, sc.Text())
		if err != nil {
			return nil, err
		}
		st = next
		if cmd == nil {
			continue
		}
		cmds = append(cmds, cmd)
		if _, done := cmd.(ProgramEnd); done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	return &Program{Commands: cmds, Warnings: p.Warnings(), Final: st}, nil
}

// stripComments removes (...) and ;-to-end comments. The returned reason is
// non-empty for unbalanced parentheses.
func stripComments(s string) (string, string) {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ';' && depth == 0:
			return b.String(), ""
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				return "", "unbalanced ')' outside comment"
			}
			depth--
		case depth == 0:
			b.WriteByte(c)
		}
	}
	if depth != 0 {
		return "", "unterminated '(' comment"
	}
	return b.String(), ""
}

type word struct {
	letter byte
	value  float64
}

func scanWords(s string) ([]word, string) {
	var ws []word
	i := 0
	for i < len(s) {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\r' {
			i++
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return nil, fmt.Sprintf("unexpected character %q", s[i])
		}
		i++
		start := i
		for i < len(s) && (s[i] == '+' || s[i] == '-' || s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if start == i {
			return nil, fmt.Sprintf("word %c has no value", c)
		}
		v, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return nil, fmt.Sprintf("word %c%s is not a number", c, s[start:i])
		}
		ws = append(ws, word{letter: c, value: v})
	}
	return ws, ""
}

// lineWords is the collected content of one line before canonical-order
// application (units, then mode, then feed, then the single command-producing
// code).
type lineWords struct {
	motion            *int // 0..3
	dwell             bool
	laserOn, laserOff bool
	end               bool
	unitTo            string
	abs               *bool
	g64               bool
	hasN              bool
	f, s              *float64
	x, y, z           *float64
	i, j, r, p        *float64
}

func intCode(v float64) (int, bool) {
	n := int(v)
	return n, float64(n) == v
}

func (p *Parser) collect(n int, words []word) (*lineWords, error) {
	lw := &lineWords{}
	for _, w := range words {
		switch w.letter {
		case 'N':
			lw.hasN = true
		case 'G':
			g, ok := intCode(w.value)
			if !ok {
				return nil, &ParseError{Line: n, Reason: fmt.Sprintf("unsupported code G%g", w.value)}
			}
			switch g {
			case 0, 1, 2, 3:
				if lw.motion != nil {
					return nil, &ParseError{Line: n, Reason: "multiple motion words on one line"}
				}
				m := g
				lw.motion = &m
			case 4:
				lw.dwell = true
			case 17:
				// XY plane, already the only supported plane
			case 18, 19:
				return nil, &ParseError{Line: n, Reason: fmt.Sprintf("G%d: only the XY plane (G17) is supported", g)}
			case 20:
				lw.unitTo = units.Inches
			case 21:
				lw.unitTo = units.Millimetres
			case 40, 49, 54, 80, 94:
				p.warnf(n, "G%d ignored", g)
			case 64:
				lw.g64 = true
			case 90:
				t := true
				lw.abs = &t
			case 91:
				f := false
				lw.abs = &f
			default:
				return nil, &ParseError{Line: n, Reason: fmt.Sprintf("unsupported code G%d", g)}
			}
		case 'M':
			m, ok := intCode(w.value)
			if !ok {
				return nil, &ParseError{Line: n, Reason: fmt.Sprintf("unsupported code M%g", w.value)}
			}
			switch m {
			case 0, 1:
				p.warnf(n, "program pause M%d ignored", m)
			case 2, 30:
				lw.end = true
			case 3:
				lw.laserOn = true
			case 4:
				p.warnf(n, "M4 dynamic power mode treated as constant power")
				lw.laserOn = true
			case 5:
				lw.laserOff = true
			case 7, 8, 9:
				p.warnf(n, "coolant/air control M%d ignored", m)
			default:
				return nil, &ParseError{Line: n, Reason: fmt.Sprintf("unsupported code M%d", m)}
			}
		case 'T':
			p.warnf(n, "tool change T%g ignored", w.value)
		case 'F':
			v := w.value
			lw.f = &v
		case 'S':
			v := w.value
			lw.s = &v
		case 'X':
			v := w.value
			lw.x = &v
		case 'Y':
			v := w.value
			lw.y = &v
		case 'Z':
			v := w.value
			lw.z = &v
		case 'I':
			v := w.value
			lw.i = &v
		case 'J':
			v := w.value
			lw.j = &v
		case 'R':
			v := w.value
			lw.r = &v
		case 'P':
			v := w.value
			lw.p = &v
		default:
			return nil, &ParseError{Line: n, Reason: fmt.Sprintf("unsupported word %c%g", w.letter, w.value)}
		}
	}
	return lw, nil
}

// exec applies one line's words in canonical order: units, positioning mode,
// feed, then the command-producing code. At most one command may result.
func (p *Parser) exec(st State, n int, words []word) (Command, State, error) {
	lw, err := p.collect(n, words)
	if err != nil {
		return nil, st, err
	}

	if lw.hasN && !p.notedN {
		p.warnf(n, "N line numbers present; ignored")
		p.notedN = true
	}

	var cmd Command
	setCmd := func(c Command) error {
		if cmd != nil {
			return &ParseError{Line: n, Reason: "multiple commands on one line"}
		}
		cmd = c
		return nil
	}

	if lw.unitTo != "" {
		st.Units = lw.unitTo
		if err := setCmd(UnitChange{Line: n, Units: lw.unitTo}); err != nil {
			return nil, st, err
		}
	}
	if lw.abs != nil {
		st.Absolute = *lw.abs
	}
	if lw.f != nil {
		if *lw.f <= 0 {
			return nil, st, &ParseError{Line: n, Reason: fmt.Sprintf("feed F%g must be positive", *lw.f)}
		}
		feed, err := units.FeedToMMPerSec(*lw.f, st.Units)
		if err != nil {
			return nil, st, &ParseError{Line: n, Reason: err.Error()}
		}
		st.Feed = feed
	}

	sConsumed := false
	pConsumed := false

	if lw.g64 {
		pConsumed = true
		p.warnf(n, "G64 path blending tolerance ignored")
	}

	if lw.end {
		if err := setCmd(ProgramEnd{Line: n}); err != nil {
			return nil, st, err
		}
	}

	if lw.laserOn || lw.laserOff {
		power := st.Power
		if lw.s != nil {
			if err := checkPower(n, *lw.s); err != nil {
				return nil, st, err
			}
			power = *lw.s
			sConsumed = true
		}
		st.Power = power
		if lw.laserOn {
			st.LaserOn = true
			if err := setCmd(LaserSet{Line: n, On: true, Power: power}); err != nil {
				return nil, st, err
			}
		}
		if lw.laserOff {
			st.LaserOn = false
			if err := setCmd(LaserSet{Line: n, On: false, Power: power}); err != nil {
				return nil, st, err
			}
		}
	}

	if lw.dwell {
		secs := 0.0
		switch {
		case lw.p != nil:
			secs = *lw.p
			pConsumed = true
		case lw.s != nil && !sConsumed:
			secs = *lw.s
			sConsumed = true
		default:
			return nil, st, &ParseError{Line: n, Reason: "G4 dwell requires a P (seconds) word"}
		}
		if secs < 0 {
			return nil, st, &ParseError{Line: n, Reason: fmt.Sprintf("negative dwell %gs", secs)}
		}
		if err := setCmd(Dwell{Line: n, Duration: time.Duration(secs * float64(time.Second))}); err != nil {
			return nil, st, err
		}
	}

	mcmd, next, err := p.execMotion(st, n, lw)
	if err != nil {
		return nil, st, err
	}
	st = next
	if mcmd != nil {
		if err := setCmd(mcmd); err != nil {
			return nil, st, err
		}
	}

	if lw.s != nil && !sConsumed {
		if lw.motion != nil || lw.x != nil || lw.y != nil {
			p.warnf(n, "S word on a motion line ignored")
		} else {
			if err := checkPower(n, *lw.s); err != nil {
				return nil, st, err
			}
			st.Power = *lw.s
			if err := setCmd(LaserSet{Line: n, On: st.LaserOn, Power: *lw.s}); err != nil {
				return nil, st, err
			}
		}
	}
	if lw.p != nil && !pConsumed {
		p.warnf(n, "P word ignored")
	}
	if lw.z != nil {
		p.warnf(n, "Z word ignored: the scan head has no Z axis")
	}

	return cmd, st, nil
}

// execMotion turns the line's motion content, if any, into a Move or Arc and
// advances the modal position and motion mode.
func (p *Parser) execMotion(st State, n int, lw *lineWords) (Command, State, error) {
	mode := -1
	switch {
	case lw.motion != nil:
		mode = *lw.motion
	case lw.x != nil || lw.y != nil:
		switch st.Motion {
		case MotionRapid:
			mode = 0
		case MotionLinear:
			mode = 1
		default:
			return nil, st, &ParseError{Line: n, Reason: "coordinate words with no active motion mode"}
		}
	default:
		return nil, st, nil
	}

	if mode == 2 || mode == 3 {
		return p.execArc(st, n, lw, mode == 2)
	}

	if lw.i != nil || lw.j != nil || lw.r != nil {
		p.warnf(n, "arc words ignored without G2/G3")
	}

	if lw.x == nil && lw.y == nil {
		// Bare G0/G1 (or with only ignored words) just sets the modal
		// motion group.
		st.Motion = motionModeOf(mode)
		return nil, st, nil
	}

	target, err := resolveTarget(st, n, lw.x, lw.y)
	if err != nil {
		return nil, st, err
	}
	mv := Move{Line: n, Target: target, Rapid: mode == 0}
	if mode == 1 {
		if st.Feed <= 0 {
			return nil, st, &ParseError{Line: n, Reason: "no feed rate set before G1"}
		}
		mv.Feed = st.Feed
	}
	st.Position = target
	st.Motion = motionModeOf(mode)
	return mv, st, nil
}

func (p *Parser) execArc(st State, n int, lw *lineWords, clockwise bool) (Command, State, error) {
	if st.Feed <= 0 {
		return nil, st, &ParseError{Line: n, Reason: "no feed rate set before arc"}
	}
	hasIJ := lw.i != nil || lw.j != nil
	if hasIJ && lw.r != nil {
		return nil, st, &ParseError{Line: n, Reason: "arc specifies both I/J and R"}
	}
	if !hasIJ && lw.r == nil {
		return nil, st, &ParseError{Line: n, Reason: "arc requires I/J or R"}
	}

	target, err := resolveTarget(st, n, lw.x, lw.y)
	if err != nil {
		return nil, st, err
	}

	var center geom.Point
	if hasIJ {
		// I/J are offsets from the start point, unit-converted but never
		// subject to G90/G91.
		di := mmOrZero(lw.i, st.Units)
		dj := mmOrZero(lw.j, st.Units)
		if di == 0 && dj == 0 {
			return nil, st, &ParseError{Line: n, Reason: "arc center offset I/J is zero"}
		}
		center = st.Position.Add(geom.Point{X: di, Y: dj})
	} else {
		r, _ := units.ToMillimetres(*lw.r, st.Units)
		center, err = radiusCenter(st.Position, target, r, clockwise)
		if err != nil {
			return nil, st, &ParseError{Line: n, Reason: err.Error()}
		}
	}

	arc := Arc{Line: n, Target: target, Center: center, Clockwise: clockwise, Feed: st.Feed}
	st.Position = target
	// Bare coordinate lines cannot repeat an arc (the center offset would be
	// stale), so arcs clear the modal motion group.
	st.Motion = MotionNone
	return arc, st, nil
}

// radiusCenter solves the arc center for the R form. A positive radius
// selects the minor (≤180°) arc, a negative radius the major arc.
func radiusCenter(start, target geom.Point, r float64, clockwise bool) (geom.Point, error) {
	if r == 0 {
		return geom.Point{}, fmt.Errorf("arc radius R is zero")
	}
	chord := target.Sub(start)
	d := chord.Norm()
	if d == 0 {
		return geom.Point{}, fmt.Errorf("R-form arc has coincident endpoints; use I/J for full circles")
	}
	half := d / 2
	if half > math.Abs(r)*(1+1e-9) {
		return geom.Point{}, fmt.Errorf("arc radius %g too small for chord length %g", r, d)
	}
	h := math.Sqrt(math.Max(0, r*r-half*half))
	if r < 0 {
		h = -h
	}
	mid := start.Lerp(target, 0.5)
	normal := geom.Point{X: -chord.Y / d, Y: chord.X / d}
	if clockwise {
		return mid.Sub(normal.Scale(h)), nil
	}
	return mid.Add(normal.Scale(h)), nil
}

func resolveTarget(st State, n int, x, y *float64) (geom.Point, error) {
	target := st.Position
	if x != nil {
		v, err := units.ToMillimetres(*x, st.Units)
		if err != nil {
			return geom.Point{}, &ParseError{Line: n, Reason: err.Error()}
		}
		if st.Absolute {
			target.X = v
		} else {
			target.X += v
		}
	}
	if y != nil {
		v, err := units.ToMillimetres(*y, st.Units)
		if err != nil {
			return geom.Point{}, &ParseError{Line: n, Reason: err.Error()}
		}
		if st.Absolute {
			target.Y = v
		} else {
			target.Y += v
		}
	}
	return target, nil
}

func mmOrZero(v *float64, unit string) float64 {
	if v == nil {
		return 0
	}
	mm, _ := units.ToMillimetres(*v, unit)
	return mm
}

func motionModeOf(g int) MotionMode {
	if g == 0 {
		return MotionRapid
	}
	return MotionLinear
}

func checkPower(n int, s float64) error {
	if s < 0 || s > 100 {
		return &ParseError{Line: n, Reason: fmt.Sprintf("laser power S%g out of range 0-100", s)}
	}
	return nil
}
