// Package testutil provides shared test helpers for this module's tests.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// AssertNear fails the test unless got is within tol of want.
func AssertNear(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("got %v, want %v (tolerance %v)", got, want, tol)
	}
}

// WriteTempFile writes contents to a file named name under a per-test temp
// directory and returns its path.
func WriteTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}
