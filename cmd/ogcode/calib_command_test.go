package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/testutil"
)

// linearSamples renders a 5x5 grid of measurements over the normalized field
// square with an exactly linear distortion, so a degree-1 fit reproduces it
// to rounding error.
func linearSamples() string {
	var b strings.Builder
	b.WriteString("u,v,dx_du,dy_du\n")
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			u := float64(i)/2 - 1
			v := float64(j)/2 - 1
			fmt.Fprintf(&b, "%g,%g,%g,%g\n", u, v, 40*u-20, 5-10*v)
		}
	}
	return b.String()
}

func TestCalibFitWritesProfile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	samples := testutil.WriteTempFile(t, "samples.csv", linearSamples())
	profPath := filepath.Join(dir, "prof.json")

	out, _, err := runCLI(t, "calib", "fit",
		"--degree", "1", "--field", "100", "--name", "bench-a",
		"--out", profPath, samples)
	if err != nil {
		t.Fatalf("calib fit: %v", err)
	}
	if !strings.Contains(out, "fitted degree 1 to 25 samples") {
		t.Errorf("output %q missing fit summary", out)
	}
	if !strings.Contains(out, "residual RMS") {
		t.Errorf("output %q missing residual report", out)
	}

	p, err := calib.LoadProfile(profPath)
	if err != nil {
		t.Fatalf("load written profile: %v", err)
	}
	if p.Name != "bench-a" {
		t.Errorf("profile name = %q, want bench-a", p.Name)
	}
	if p.Poly == nil || p.Poly.Degree != 1 {
		t.Fatalf("profile poly = %+v, want degree 1", p.Poly)
	}
	rmsX, rmsY := p.Poly.Residual([]calib.Sample{
		{U: 0.5, V: 0.5, DX: 0, DY: 0},
		{U: 1, V: 0, DX: 20, DY: 5},
	})
	testutil.AssertNear(t, rmsX, 0, 1e-6)
	testutil.AssertNear(t, rmsY, 0, 1e-6)
}

func TestCalibShowDescribesProfile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	samples := testutil.WriteTempFile(t, "samples.csv", linearSamples())
	profPath := filepath.Join(dir, "prof.json")

	if _, _, err := runCLI(t, "calib", "fit",
		"--degree", "1", "--field", "100", "--out", profPath, samples); err != nil {
		t.Fatalf("calib fit: %v", err)
	}

	out, _, err := runCLI(t, "calib", "show", profPath)
	if err != nil {
		t.Fatalf("calib show: %v", err)
	}
	if !strings.Contains(out, "degree-1 poly") {
		t.Errorf("output %q missing distortion description", out)
	}
	if !strings.Contains(out, "field 100.00 x 100.00 mm") {
		t.Errorf("output %q missing field size", out)
	}
}

func TestCalibFitRejectsBadHeader(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := testutil.WriteTempFile(t, "swapped.csv", "dx_du,dy_du,u,v\n1,2,0,0\n")

	_, _, err := runCLI(t, "calib", "fit", "--field", "100",
		"--out", filepath.Join(dir, "p.json"), path)
	if err == nil || !strings.Contains(err.Error(), "invalid header") {
		t.Fatalf("err = %v, want invalid header", err)
	}
}

func TestCalibFitRejectsTooFewSamples(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	content := "u,v,dx_du,dy_du\n0,0,1,1\n1,0,1,1\n0,1,1,1\n1,1,1,1\n"
	path := testutil.WriteTempFile(t, "sparse.csv", content)

	_, _, err := runCLI(t, "calib", "fit", "--degree", "3", "--field", "100",
		"--out", filepath.Join(dir, "p.json"), path)
	if err == nil || !strings.Contains(err.Error(), "samples") {
		t.Fatalf("err = %v, want a sample-count failure", err)
	}
}
