package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ogcode-dev/ogcode/internal/config"
	"github.com/ogcode-dev/ogcode/internal/geom"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	if cfg.Field.SizeMM != 110 {
		t.Errorf("field size = %g, want 110", cfg.Field.SizeMM)
	}
	if cfg.Emitter.QueueDepth != 4096 {
		t.Errorf("queue depth = %d, want 4096", cfg.Emitter.QueueDepth)
	}
	if cfg.Laser.MarkDelayUS != 150 {
		t.Errorf("mark delay = %d, want 150", cfg.Laser.MarkDelayUS)
	}
	if cfg.Serial.Device != "/dev/ttyUSB0" {
		t.Errorf("device = %q", cfg.Serial.Device)
	}
	wantDB := filepath.Join(tempHome, ".local", "share", "ogcode", "jobs.db")
	if cfg.Storage.DBPath != wantDB {
		t.Errorf("db path = %q, want %q", cfg.Storage.DBPath, wantDB)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.toml")
	body := `
[field]
size_mm = 50.0

[laser]
mark_delay_us = 300

[emitter]
sample_period_us = 20
park_x_mm = 10.0

[serial]
device = "/dev/ttyAMA1"
parity = "E"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q (exists %v), want %q", resolved, exists, path)
	}

	if cfg.Field.SizeMM != 50 {
		t.Errorf("field size = %g, want 50", cfg.Field.SizeMM)
	}
	if cfg.Laser.MarkDelayUS != 300 {
		t.Errorf("mark delay = %d, want 300", cfg.Laser.MarkDelayUS)
	}
	if cfg.Emitter.SamplePeriodUS != 20 || cfg.Emitter.ParkXMM != 10 {
		t.Errorf("emitter = %+v", cfg.Emitter)
	}
	if cfg.Serial.Device != "/dev/ttyAMA1" || cfg.Serial.Parity != "E" {
		t.Errorf("serial = %+v", cfg.Serial)
	}

	// Unset fields keep their defaults.
	if cfg.Laser.LeadTimeUS != 100 {
		t.Errorf("lead time = %d, want default 100", cfg.Laser.LeadTimeUS)
	}
	if cfg.Kinematics.MaxVelocityMMS != 2000 {
		t.Errorf("max velocity = %g, want default 2000", cfg.Kinematics.MaxVelocityMMS)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "zero acceleration",
			body:    "[kinematics]\nacceleration_mm_s2 = 0.0\n",
			wantErr: "kinematics",
		},
		{
			name:    "park outside field",
			body:    "[emitter]\npark_x_mm = 100.0\n",
			wantErr: "outside",
		},
		{
			name:    "bad parity",
			body:    "[serial]\nparity = \"Q\"\n",
			wantErr: "serial",
		},
		{
			name:    "negative settle tolerance",
			body:    "[laser]\nsettle_tolerance_mm = -1.0\n",
			wantErr: "laser",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "machine.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("Load accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestAssembledStageConfigs(t *testing.T) {
	cfg := config.Default()

	limits := cfg.PlannerLimits()
	if limits.MaxVelocity != 2000 || limits.RapidVelocity != 5000 ||
		limits.Acceleration != 50000 || limits.JunctionDeviation != 0.05 {
		t.Errorf("limits = %+v", limits)
	}

	lc := cfg.LaserConfig()
	if lc.MarkDelay != 150*time.Microsecond || lc.LeadTime != 100*time.Microsecond ||
		lc.JumpDelay != 200*time.Microsecond || lc.SettleTau != 250*time.Microsecond {
		t.Errorf("laser config = %+v", lc)
	}
	if lc.SettleTolerance != 0.005 {
		t.Errorf("settle tolerance = %g", lc.SettleTolerance)
	}

	ec := cfg.EmitterConfig()
	if ec.Period != 10*time.Microsecond || ec.QueueDepth != 4096 {
		t.Errorf("emitter config = %+v", ec)
	}
	if diff := cmp.Diff(geom.Point{}, ec.Park); diff != "" {
		t.Errorf("park mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ogcode", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(sample): %v", err)
	}
	if !exists {
		t.Fatal("sample file not found after CreateSample")
	}

	// The sample documents the defaults; the two must not drift apart.
	want := config.Default()
	if diff := cmp.Diff(want.Kinematics, cfg.Kinematics); diff != "" {
		t.Errorf("kinematics mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Laser, cfg.Laser); diff != "" {
		t.Errorf("laser mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Emitter, cfg.Emitter); diff != "" {
		t.Errorf("emitter mismatch (-want +got):\n%s", diff)
	}
}
