package planner

import (
	"math"
	"testing"

	"github.com/ogcode-dev/ogcode/internal/geom"
)

// maxChordDeviation returns the largest sagitta over the chords described by
// start followed by pts, for an arc of radius r about center.
func maxChordDeviation(start geom.Point, pts []geom.Point, center geom.Point, r float64) float64 {
	worst := 0.0
	prev := start
	for _, pt := range pts {
		mid := prev.Lerp(pt, 0.5)
		if d := r - center.DistanceTo(mid); d > worst {
			worst = d
		}
		prev = pt
	}
	return worst
}

func TestChordizeDeviationBound(t *testing.T) {
	tests := []struct {
		name      string
		start     geom.Point
		target    geom.Point
		center    geom.Point
		clockwise bool
		eps       float64
	}{
		{"quarter ccw", geom.Point{X: 5}, geom.Point{Y: 5}, geom.Point{}, false, 0.01},
		{"quarter cw", geom.Point{X: 5}, geom.Point{Y: -5}, geom.Point{}, true, 0.01},
		{"half circle", geom.Point{X: 2}, geom.Point{X: -2}, geom.Point{}, false, 0.005},
		{"tiny arc", geom.Point{X: 1}, geom.Point{X: 0.9950041652780258, Y: 0.09983341664682815}, geom.Point{}, false, 0.0001},
		{"large radius", geom.Point{X: 100}, geom.Point{Y: 100}, geom.Point{}, false, 0.02},
		{"coarse epsilon", geom.Point{X: 5}, geom.Point{Y: 5}, geom.Point{}, false, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.start.DistanceTo(tt.center)
			pts, err := chordize(tt.start, tt.target, tt.center, tt.clockwise, tt.eps)
			if err != nil {
				t.Fatalf("chordize: %v", err)
			}
			if got := pts[len(pts)-1]; got != tt.target {
				t.Errorf("final chord point = %+v, want exact target %+v", got, tt.target)
			}
			if dev := maxChordDeviation(tt.start, pts, tt.center, r); dev > tt.eps+1e-12 {
				t.Errorf("chordal deviation %g exceeds epsilon %g over %d chords", dev, tt.eps, len(pts))
			}
		})
	}
}

func TestChordizeMinimality(t *testing.T) {
	// One chord fewer must violate the deviation bound, otherwise the count
	// is not minimal.
	start := geom.Point{X: 5}
	center := geom.Point{}
	eps := 0.01
	pts, err := chordize(start, start, center, true, eps)
	if err != nil {
		t.Fatalf("chordize: %v", err)
	}
	n := len(pts)
	if n < 2 {
		t.Fatalf("full circle produced %d chords", n)
	}
	// Sagitta for n-1 equal chords of a full circle.
	sagitta := 5 * (1 - math.Cos(math.Pi/float64(n-1)))
	if sagitta <= eps {
		t.Errorf("%d chords would already satisfy epsilon %g (sagitta %g); %d is not minimal", n-1, eps, sagitta, n)
	}
}

func TestChordizeFullCircle(t *testing.T) {
	// A G2 full circle of radius 5 with epsilon 0.01: deviation within bound
	// and the path closes exactly onto its start.
	start := geom.Point{X: 0, Y: 0}
	center := geom.Point{X: 5, Y: 0}
	pts, err := chordize(start, start, center, true, 0.01)
	if err != nil {
		t.Fatalf("chordize: %v", err)
	}
	if got := pts[len(pts)-1]; got != start {
		t.Errorf("full circle ends at %+v, want %+v", got, start)
	}
	if dev := maxChordDeviation(start, pts, center, 5); dev > 0.01+1e-12 {
		t.Errorf("full circle deviation %g exceeds 0.01", dev)
	}
	// All intermediate points stay on the circle.
	for i, pt := range pts {
		if r := center.DistanceTo(pt); math.Abs(r-5) > 1e-9 {
			t.Errorf("chord point %d at radius %g", i, r)
		}
	}
}

func TestChordizeZeroRadius(t *testing.T) {
	if _, err := chordize(geom.Point{X: 1, Y: 1}, geom.Point{X: 2}, geom.Point{X: 1, Y: 1}, true, 0.01); err == nil {
		t.Fatal("expected error for zero-radius arc")
	}
}
