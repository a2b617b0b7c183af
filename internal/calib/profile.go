// Package calib maps planned machine coordinates (mm) into scanner field
// coordinates (16-bit digital units) through a per-machine calibration
// profile: an affine stage (per-axis scale, rotation, offset about the field
// centre) followed by an optional distortion correction, either a bilinear
// grid or a fitted 2D polynomial. Points that land outside the addressable
// field fail with a CalibrationError.
package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/units"
)

// CalibrationError reports a planned point that the profile cannot place
// inside the scanner field. It is fatal before streaming starts: a job that
// fails calibration produces no frames.
type CalibrationError struct {
	Point  geom.Point // machine coordinates, mm
	Reason string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration: point (%g, %g): %s", e.Point.X, e.Point.Y, e.Reason)
}

// Profile is one machine's calibration. The zero value is unusable; build
// profiles with LoadProfile, ForField, or a literal followed by Validate.
type Profile struct {
	Name string

	// Affine stage. Scale is in DU per mm, rotation in degrees about the
	// field centre, offset in DU from the centre.
	ScaleX      float64
	ScaleY      float64
	RotationDeg float64
	OffsetX     float64
	OffsetY     float64

	// Optional distortion corrections, applied after the affine stage and
	// summed when both are present.
	Grid *GridCorrection
	Poly *PolyCorrection

	// Cached affine coefficients: [a b tx; d e ty] applied to (x, y, 1).
	a, b, tx float64
	d, e, ty float64
	ready    bool
}

// ForField returns a plain profile for a square field of the given size in
// mm: machine origin at the field centre, no rotation, no distortion.
func ForField(sizeMM float64) *Profile {
	p := &Profile{
		Name:   fmt.Sprintf("field-%gmm", sizeMM),
		ScaleX: float64(units.DUMax) / sizeMM,
		ScaleY: float64(units.DUMax) / sizeMM,
	}
	p.compose()
	return p
}

// Validate checks the profile parameters and prepares it for mapping.
func (p *Profile) Validate() error {
	if p.ScaleX == 0 || p.ScaleY == 0 {
		return fmt.Errorf("scale (%g, %g) du/mm must be nonzero", p.ScaleX, p.ScaleY)
	}
	if p.Grid != nil {
		if err := p.Grid.validate(); err != nil {
			return fmt.Errorf("grid correction: %w", err)
		}
	}
	if p.Poly != nil {
		if err := p.Poly.validate(); err != nil {
			return fmt.Errorf("poly correction: %w", err)
		}
	}
	p.compose()
	return nil
}

// compose caches the affine stage as a single matrix product
// translate(centre+offset) · rotate(θ) · scale.
func (p *Profile) compose() {
	th := p.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(th), math.Sin(th)
	scale := mat.NewDense(3, 3, []float64{
		p.ScaleX, 0, 0,
		0, p.ScaleY, 0,
		0, 0, 1,
	})
	rotate := mat.NewDense(3, 3, []float64{
		cos, -sin, 0,
		sin, cos, 0,
		0, 0, 1,
	})
	translate := mat.NewDense(3, 3, []float64{
		1, 0, units.DUCentre + p.OffsetX,
		0, 1, units.DUCentre + p.OffsetY,
		0, 0, 1,
	})

	var rs, m mat.Dense
	rs.Mul(rotate, scale)
	m.Mul(translate, &rs)

	p.a, p.b, p.tx = m.At(0, 0), m.At(0, 1), m.At(0, 2)
	p.d, p.e, p.ty = m.At(1, 0), m.At(1, 1), m.At(1, 2)
	p.ready = true
}

// Map transforms a machine-space point into field coordinates (DU, as
// floats). Points outside the addressable 0..65535 range on either axis fail
// with a CalibrationError.
func (p *Profile) Map(q geom.Point) (geom.Point, error) {
	if !p.ready {
		p.compose()
	}
	x := p.a*q.X + p.b*q.Y + p.tx
	y := p.d*q.X + p.e*q.Y + p.ty
	if p.Grid != nil {
		dx, dy := p.Grid.correction(normalize(x), normalize(y))
		x += dx
		y += dy
	}
	if p.Poly != nil {
		dx, dy := p.Poly.correction(normalize(x), normalize(y))
		x += dx
		y += dy
	}
	if !units.InDURange(x) || !units.InDURange(y) {
		return geom.Point{}, &CalibrationError{
			Point:  q,
			Reason: fmt.Sprintf("maps to (%.1f, %.1f) du, outside field 0..%d", x, y, units.DUMax),
		}
	}
	return geom.Point{X: x, Y: y}, nil
}

// MapDU transforms a machine-space point into the rounded 16-bit field
// coordinates the scanner protocol carries.
func (p *Profile) MapDU(q geom.Point) (x, y uint16, err error) {
	du, err := p.Map(q)
	if err != nil {
		return 0, 0, err
	}
	return uint16(math.Round(du.X)), uint16(math.Round(du.Y)), nil
}

// normalize maps a field coordinate into [-1, 1] about the centre, clamped.
// Distortion corrections are defined over this square so profiles are
// independent of the field's physical size.
func normalize(du float64) float64 {
	u := (du - units.DUCentre) / units.DUCentre
	if u < -1 {
		return -1
	}
	if u > 1 {
		return 1
	}
	return u
}

// GridCorrection is a regular NX×NY grid of correction deltas (DU) over the
// normalized field square, sampled bilinearly. DX and DY are row-major with
// X varying fastest; node (0,0) is the (-1,-1) field corner.
type GridCorrection struct {
	NX, NY int
	DX     []float64
	DY     []float64
}

func (g *GridCorrection) validate() error {
	if g.NX < 2 || g.NY < 2 {
		return fmt.Errorf("grid must be at least 2x2, got %dx%d", g.NX, g.NY)
	}
	if want := g.NX * g.NY; len(g.DX) != want || len(g.DY) != want {
		return fmt.Errorf("grid %dx%d needs %d deltas per axis, got dx=%d dy=%d",
			g.NX, g.NY, want, len(g.DX), len(g.DY))
	}
	return nil
}

// correction samples both delta tables at the normalized point.
func (g *GridCorrection) correction(u, v float64) (dx, dy float64) {
	return g.sample(g.DX, u, v), g.sample(g.DY, u, v)
}

// sample bilinearly interpolates one delta table. The cell index is clamped
// to the table so edge samples reuse the outermost cell.
func (g *GridCorrection) sample(tbl []float64, u, v float64) float64 {
	fx := (u + 1) * 0.5 * float64(g.NX-1)
	fy := (v + 1) * 0.5 * float64(g.NY-1)
	i := clampIndex(int(math.Floor(fx)), g.NX-2)
	j := clampIndex(int(math.Floor(fy)), g.NY-2)
	tx := fx - float64(i)
	ty := fy - float64(j)

	z00 := tbl[j*g.NX+i]
	z10 := tbl[j*g.NX+i+1]
	z01 := tbl[(j+1)*g.NX+i]
	z11 := tbl[(j+1)*g.NX+i+1]
	z0 := z00 + (z10-z00)*tx
	z1 := z01 + (z11-z01)*tx
	return z0 + (z1-z0)*ty
}

func clampIndex(i, hi int) int {
	if i < 0 {
		return 0
	}
	if i > hi {
		return hi
	}
	return i
}

// PolyCorrection is a pair of 2D polynomials over the normalized field
// square. Coefficients are ordered by total degree, then by descending power
// of u within each degree: 1, u, v, u², uv, v², u³, u²v, ...
type PolyCorrection struct {
	Degree int
	CX     []float64
	CY     []float64
}

// TermCount returns the number of coefficients a 2D polynomial of the given
// total degree carries.
func TermCount(degree int) int {
	return (degree + 1) * (degree + 2) / 2
}

func (p *PolyCorrection) validate() error {
	if p.Degree < 1 {
		return fmt.Errorf("degree %d must be at least 1", p.Degree)
	}
	if want := TermCount(p.Degree); len(p.CX) != want || len(p.CY) != want {
		return fmt.Errorf("degree %d needs %d coefficients per axis, got cx=%d cy=%d",
			p.Degree, want, len(p.CX), len(p.CY))
	}
	return nil
}

// correction evaluates both polynomials at the normalized point.
func (p *PolyCorrection) correction(u, v float64) (dx, dy float64) {
	up := powerTable(u, p.Degree)
	vp := powerTable(v, p.Degree)
	k := 0
	for s := 0; s <= p.Degree; s++ {
		for pu := s; pu >= 0; pu-- {
			t := up[pu] * vp[s-pu]
			dx += p.CX[k] * t
			dy += p.CY[k] * t
			k++
		}
	}
	return dx, dy
}

// powerTable returns [1, x, x², ..., x^degree].
func powerTable(x float64, degree int) []float64 {
	t := make([]float64, degree+1)
	t[0] = 1
	for i := 1; i <= degree; i++ {
		t[i] = t[i-1] * x
	}
	return t
}
