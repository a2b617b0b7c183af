package planner

import (
	"errors"
	"math"

	"github.com/ogcode-dev/ogcode/internal/geom"
)

// chordize subdivides the arc from start to target about center into the
// minimum number of chords whose sagitta (chord-to-arc deviation) stays
// within eps. The returned points are the chord endpoints, excluding start;
// the final point is the exact target. For a full circle (target == start)
// the last point closes back onto the start.
func chordize(start, target, center geom.Point, clockwise bool, eps float64) ([]geom.Point, error) {
	rv := start.Sub(center)
	r := rv.Norm()
	if r <= 0 {
		return nil, errors.New("arc radius is zero")
	}

	// Signed angular travel, counter-clockwise positive.
	rt := target.Sub(center)
	travel := math.Atan2(rv.X*rt.Y-rv.Y*rt.X, rv.X*rt.X+rv.Y*rt.Y)
	if travel < 0 {
		travel += 2 * math.Pi
	}
	if clockwise {
		travel -= 2 * math.Pi
	}
	if travel == 0 && target == start {
		travel = 2 * math.Pi
	}

	// Sagitta of a chord subtending angle a is r·(1−cos(a/2)); the widest
	// chord keeping it within eps subtends 2·acos(1−eps/r).
	cosHalf := 1 - eps/r
	var maxAngle float64
	if cosHalf <= -1 {
		maxAngle = 2 * math.Pi
	} else {
		maxAngle = 2 * math.Acos(cosHalf)
	}
	n := int(math.Ceil(math.Abs(travel) / maxAngle))
	if n < 1 {
		n = 1
	}

	pts := make([]geom.Point, n)
	step := travel / float64(n)
	for i := 1; i < n; i++ {
		pts[i-1] = center.Add(rv.Rotate(step * float64(i)))
	}
	// The last chord lands on the exact target so endpoint error never
	// accumulates.
	pts[n-1] = target
	return pts, nil
}
