package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxProfileSize bounds calibration files; real profiles are a few KB even
// with dense correction grids.
const maxProfileSize = 1 * 1024 * 1024

// profileFile is the JSON schema for calibration profiles. Scale fields are
// required; everything else defaults to the identity.
type profileFile struct {
	Name        *string   `json:"name,omitempty"`
	ScaleX      *float64  `json:"scale_x_du_per_mm,omitempty"`
	ScaleY      *float64  `json:"scale_y_du_per_mm,omitempty"`
	RotationDeg *float64  `json:"rotation_deg,omitempty"`
	OffsetX     *float64  `json:"offset_x_du,omitempty"`
	OffsetY     *float64  `json:"offset_y_du,omitempty"`
	Grid        *gridFile `json:"grid,omitempty"`
	Poly        *polyFile `json:"poly,omitempty"`
}

type gridFile struct {
	NX *int      `json:"nx"`
	NY *int      `json:"ny"`
	DX []float64 `json:"dx"`
	DY []float64 `json:"dy"`
}

type polyFile struct {
	Degree *int      `json:"degree"`
	CX     []float64 `json:"cx"`
	CY     []float64 `json:"cy"`
}

// LoadProfile reads and validates a calibration profile from a JSON file.
func LoadProfile(path string) (*Profile, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("calibration profile must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration profile: %w", err)
	}
	if info.Size() > maxProfileSize {
		return nil, fmt.Errorf("calibration profile too large: %d bytes (max %d)", info.Size(), maxProfileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration profile: %w", err)
	}

	var pf profileFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse calibration profile: %w", err)
	}

	p, err := pf.toProfile()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration profile: %w", err)
	}
	return p, nil
}

func (pf *profileFile) toProfile() (*Profile, error) {
	if pf.ScaleX == nil || pf.ScaleY == nil {
		return nil, fmt.Errorf("calibration profile missing scale_x_du_per_mm/scale_y_du_per_mm")
	}
	p := &Profile{
		ScaleX: *pf.ScaleX,
		ScaleY: *pf.ScaleY,
	}
	if pf.Name != nil {
		p.Name = *pf.Name
	}
	if pf.RotationDeg != nil {
		p.RotationDeg = *pf.RotationDeg
	}
	if pf.OffsetX != nil {
		p.OffsetX = *pf.OffsetX
	}
	if pf.OffsetY != nil {
		p.OffsetY = *pf.OffsetY
	}
	if pf.Grid != nil {
		if pf.Grid.NX == nil || pf.Grid.NY == nil {
			return nil, fmt.Errorf("grid correction missing nx/ny")
		}
		p.Grid = &GridCorrection{
			NX: *pf.Grid.NX,
			NY: *pf.Grid.NY,
			DX: pf.Grid.DX,
			DY: pf.Grid.DY,
		}
	}
	if pf.Poly != nil {
		if pf.Poly.Degree == nil {
			return nil, fmt.Errorf("poly correction missing degree")
		}
		p.Poly = &PolyCorrection{
			Degree: *pf.Poly.Degree,
			CX:     pf.Poly.CX,
			CY:     pf.Poly.CY,
		}
	}
	return p, nil
}

// SaveProfile writes a profile as indented JSON, the same schema LoadProfile
// reads. Used by the calibration fitting command.
func SaveProfile(path string, p *Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid calibration profile: %w", err)
	}
	pf := profileFile{
		ScaleX: &p.ScaleX,
		ScaleY: &p.ScaleY,
	}
	if p.Name != "" {
		pf.Name = &p.Name
	}
	if p.RotationDeg != 0 {
		pf.RotationDeg = &p.RotationDeg
	}
	if p.OffsetX != 0 {
		pf.OffsetX = &p.OffsetX
	}
	if p.OffsetY != 0 {
		pf.OffsetY = &p.OffsetY
	}
	if p.Grid != nil {
		pf.Grid = &gridFile{NX: &p.Grid.NX, NY: &p.Grid.NY, DX: p.Grid.DX, DY: p.Grid.DY}
	}
	if p.Poly != nil {
		pf.Poly = &polyFile{Degree: &p.Poly.Degree, CX: p.Poly.CX, CY: p.Poly.CY}
	}
	data, err := json.MarshalIndent(&pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
