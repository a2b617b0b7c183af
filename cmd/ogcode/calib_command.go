package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/units"
)

func newCalibCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calib",
		Short: "Fit and inspect calibration profiles",
	}
	cmd.AddCommand(newCalibFitCommand(cctx))
	cmd.AddCommand(newCalibShowCommand())
	return cmd
}

type calibFitOptions struct {
	degree int
	field  float64
	base   string
	name   string
	out    string
}

func newCalibFitCommand(cctx *commandContext) *cobra.Command {
	var opts calibFitOptions

	cmd := &cobra.Command{
		Use:   "fit <samples.csv>",
		Short: "Fit a polynomial distortion correction to measured samples",
		Long: `Fit reads calibration measurements from a CSV file with the header

    u,v,dx_du,dy_du

where u,v is the commanded field position in normalized coordinates (-1..1
about the field centre) and dx_du,dy_du is the correction, in digital units,
that would have placed the mark where it was commanded. It fits a polynomial
correction by least squares, reports the per-axis RMS residual, and writes a
profile JSON that run and check accept via --calibration.

The affine stage of the written profile comes from --base when given,
otherwise from a plain square field of --field mm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fitCalibration(cctx, cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.degree, "degree", 3, "Total degree of the fitted polynomial")
	cmd.Flags().Float64Var(&opts.field, "field", 0, "Field size in mm for the affine stage (default from config)")
	cmd.Flags().StringVar(&opts.base, "base", "", "Existing profile whose affine stage to keep")
	cmd.Flags().StringVar(&opts.name, "name", "", "Name recorded in the written profile")
	cmd.Flags().StringVar(&opts.out, "out", "", "Output profile path (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func fitCalibration(cctx *commandContext, out io.Writer, samplesPath string, opts calibFitOptions) error {
	samples, err := readSampleCSV(samplesPath)
	if err != nil {
		return err
	}

	poly, err := calib.FitPoly(opts.degree, samples)
	if err != nil {
		return err
	}
	rmsX, rmsY := poly.Residual(samples)

	profile, err := baseProfile(cctx, opts)
	if err != nil {
		return err
	}
	profile.Poly = poly
	if opts.name != "" {
		profile.Name = opts.name
	}

	if err := calib.SaveProfile(opts.out, profile); err != nil {
		return err
	}

	fmt.Fprintf(out, "fitted degree %d to %d samples\n", opts.degree, len(samples))
	fmt.Fprintf(out, "residual RMS %.3f du x, %.3f du y\n", rmsX, rmsY)
	fmt.Fprintf(out, "wrote %s\n", opts.out)
	return nil
}

func baseProfile(cctx *commandContext, opts calibFitOptions) (*calib.Profile, error) {
	if opts.base != "" {
		p, err := calib.LoadProfile(opts.base)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	field := opts.field
	if field <= 0 {
		cfg, err := cctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		field = cfg.Field.SizeMM
	}
	return calib.ForField(field), nil
}

// readSampleCSV loads fit samples. The header row is required so a file with
// swapped columns fails loudly instead of producing a silently wrong fit.
func readSampleCSV(path string) ([]calib.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open samples: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("samples file %s has no data rows", path)
	}

	header := records[0]
	if len(header) != 4 ||
		strings.ToLower(strings.TrimSpace(header[0])) != "u" ||
		strings.ToLower(strings.TrimSpace(header[1])) != "v" ||
		strings.ToLower(strings.TrimSpace(header[2])) != "dx_du" ||
		strings.ToLower(strings.TrimSpace(header[3])) != "dy_du" {
		return nil, fmt.Errorf("invalid header in %s, expected: u,v,dx_du,dy_du", path)
	}

	samples := make([]calib.Sample, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != 4 {
			return nil, fmt.Errorf("invalid record at line %d: expected 4 fields", i+2)
		}
		var s calib.Sample
		for j, dst := range []*float64{&s.U, &s.V, &s.DX, &s.DY} {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s at line %d: %v", header[j], i+2, err)
			}
			*dst = v
		}
		if s.U < -1 || s.U > 1 || s.V < -1 || s.V > 1 {
			return nil, fmt.Errorf("sample at line %d outside the normalized field square: (%g, %g)", i+2, s.U, s.V)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func newCalibShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile.json>",
		Short: "Print the parameters of a calibration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCalibration(cmd.OutOrStdout(), args[0])
		},
	}
}

func showCalibration(out io.Writer, path string) error {
	p, err := calib.LoadProfile(path)
	if err != nil {
		return err
	}

	name := p.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "profile %s\n", name)
	fmt.Fprintf(out, "  scale    %.3f x %.3f du/mm (field %.2f x %.2f mm)\n",
		p.ScaleX, p.ScaleY, float64(units.DUMax)/p.ScaleX, float64(units.DUMax)/p.ScaleY)
	fmt.Fprintf(out, "  rotation %.3f deg\n", p.RotationDeg)
	fmt.Fprintf(out, "  offset   %.1f, %.1f du\n", p.OffsetX, p.OffsetY)
	switch {
	case p.Grid != nil && p.Poly != nil:
		fmt.Fprintf(out, "  distortion: %dx%d grid + degree-%d poly\n", p.Grid.NX, p.Grid.NY, p.Poly.Degree)
	case p.Grid != nil:
		fmt.Fprintf(out, "  distortion: %dx%d grid\n", p.Grid.NX, p.Grid.NY)
	case p.Poly != nil:
		fmt.Fprintf(out, "  distortion: degree-%d poly (%d terms per axis)\n",
			p.Poly.Degree, calib.TermCount(p.Poly.Degree))
	default:
		fmt.Fprintf(out, "  distortion: none\n")
	}
	return nil
}
