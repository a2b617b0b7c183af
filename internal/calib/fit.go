package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sample is one calibration measurement: a commanded field position in
// normalized coordinates (-1..1 about the field centre, the square the
// corrections are evaluated over) and the correction (DU) that would have
// placed the mark where it was commanded.
type Sample struct {
	U, V   float64
	DX, DY float64
}

// FitPoly fits a PolyCorrection of the given total degree to measured
// samples by linear least squares. At least TermCount(degree) samples are
// required, and in practice a grid of measurements several times that.
func FitPoly(degree int, samples []Sample) (*PolyCorrection, error) {
	if degree < 1 {
		return nil, fmt.Errorf("fit degree %d must be at least 1", degree)
	}
	terms := TermCount(degree)
	if len(samples) < terms {
		return nil, fmt.Errorf("degree %d needs at least %d samples, got %d", degree, terms, len(samples))
	}

	a := mat.NewDense(len(samples), terms, nil)
	bx := mat.NewVecDense(len(samples), nil)
	by := mat.NewVecDense(len(samples), nil)
	for i, s := range samples {
		up := powerTable(s.U, degree)
		vp := powerTable(s.V, degree)
		k := 0
		for d := 0; d <= degree; d++ {
			for pu := d; pu >= 0; pu-- {
				a.Set(i, k, up[pu]*vp[d-pu])
				k++
			}
		}
		bx.SetVec(i, s.DX)
		by.SetVec(i, s.DY)
	}

	var qr mat.QR
	qr.Factorize(a)
	var cx, cy mat.VecDense
	if err := qr.SolveVecTo(&cx, false, bx); err != nil {
		return nil, fmt.Errorf("x-axis fit is singular: %w", err)
	}
	if err := qr.SolveVecTo(&cy, false, by); err != nil {
		return nil, fmt.Errorf("y-axis fit is singular: %w", err)
	}

	p := &PolyCorrection{
		Degree: degree,
		CX:     make([]float64, terms),
		CY:     make([]float64, terms),
	}
	for j := 0; j < terms; j++ {
		p.CX[j] = cx.AtVec(j)
		p.CY[j] = cy.AtVec(j)
	}
	return p, nil
}

// Residual returns the per-axis RMS error of the correction against the
// samples, in DU. Reported by the fit command so operators can judge whether
// the chosen degree captures the distortion.
func (p *PolyCorrection) Residual(samples []Sample) (rmsX, rmsY float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sx, sy float64
	for _, s := range samples {
		dx, dy := p.correction(s.U, s.V)
		sx += (dx - s.DX) * (dx - s.DX)
		sy += (dy - s.DY) * (dy - s.DY)
	}
	n := float64(len(samples))
	return math.Sqrt(sx / n), math.Sqrt(sy / n)
}
