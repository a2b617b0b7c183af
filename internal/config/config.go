// Package config loads the machine configuration for a scan head: kinematic
// limits, laser timing, emitter pacing, the host serial link and storage
// paths. Values live in a TOML file; anything not set falls back to the
// repository defaults so a partial config is safe.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/geom"
	"github.com/ogcode-dev/ogcode/internal/laser"
	"github.com/ogcode-dev/ogcode/internal/opal"
	"github.com/ogcode-dev/ogcode/internal/planner"
)

//go:embed sample_config.toml
var sampleConfig string

// Field describes the marking area and its calibration.
type Field struct {
	SizeMM float64 `toml:"size_mm"`
	// Calibration is the path to a calibration profile JSON file. Empty
	// selects the uncorrected profile derived from the field size.
	Calibration string `toml:"calibration"`
}

// Kinematics holds the motion envelope of the scan head.
type Kinematics struct {
	MaxVelocityMMS      float64 `toml:"max_velocity_mm_s"`
	RapidVelocityMMS    float64 `toml:"rapid_velocity_mm_s"`
	AccelerationMMS2    float64 `toml:"acceleration_mm_s2"`
	SlewRateXMMS        float64 `toml:"slew_rate_x_mm_s"`
	SlewRateYMMS        float64 `toml:"slew_rate_y_mm_s"`
	JunctionDeviationMM float64 `toml:"junction_deviation_mm"`
	ArcEpsilonMM        float64 `toml:"arc_epsilon_mm"`
}

// Laser holds the source gating delays.
type Laser struct {
	MarkDelayUS       int64   `toml:"mark_delay_us"`
	LeadTimeUS        int64   `toml:"lead_time_us"`
	JumpDelayUS       int64   `toml:"jump_delay_us"`
	SettleTauUS       int64   `toml:"settle_tau_us"`
	SettleToleranceMM float64 `toml:"settle_tolerance_mm"`
}

// Emitter holds the frame pacing settings.
type Emitter struct {
	SamplePeriodUS int64   `toml:"sample_period_us"`
	QueueDepth     int     `toml:"queue_depth"`
	ParkXMM        float64 `toml:"park_x_mm"`
	ParkYMM        float64 `toml:"park_y_mm"`
	Realtime       bool    `toml:"realtime"`
}

// Serial holds the host link device and line settings.
type Serial struct {
	Device string `toml:"device"`
	opal.PortOptions
}

// Storage holds the job database location.
type Storage struct {
	DBPath string `toml:"db_path"`
}

// Logging holds log output settings.
type Logging struct {
	Verbose bool `toml:"verbose"`
}

// Config is the full machine configuration.
type Config struct {
	Field      Field      `toml:"field"`
	Kinematics Kinematics `toml:"kinematics"`
	Laser      Laser      `toml:"laser"`
	Emitter    Emitter    `toml:"emitter"`
	Serial     Serial     `toml:"serial"`
	Storage    Storage    `toml:"storage"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ogcode/config.toml")
}

// Load locates, parses and validates a configuration file. When no file
// exists the returned config holds the repository defaults; exists reports
// which case applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ogcode.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// normalize expands path fields and trims string settings.
func (c *Config) normalize() error {
	var err error
	if c.Field.Calibration = strings.TrimSpace(c.Field.Calibration); c.Field.Calibration != "" {
		if c.Field.Calibration, err = expandPath(c.Field.Calibration); err != nil {
			return err
		}
	}
	if c.Storage.DBPath = strings.TrimSpace(c.Storage.DBPath); c.Storage.DBPath != "" {
		if c.Storage.DBPath, err = expandPath(c.Storage.DBPath); err != nil {
			return err
		}
	}
	c.Serial.Device = strings.TrimSpace(c.Serial.Device)
	c.Serial.Parity = strings.TrimSpace(c.Serial.Parity)
	return nil
}

// PlannerLimits assembles the kinematic envelope for the motion planner.
func (c *Config) PlannerLimits() planner.Limits {
	return planner.Limits{
		MaxVelocity:       c.Kinematics.MaxVelocityMMS,
		RapidVelocity:     c.Kinematics.RapidVelocityMMS,
		Acceleration:      c.Kinematics.AccelerationMMS2,
		SlewRateX:         c.Kinematics.SlewRateXMMS,
		SlewRateY:         c.Kinematics.SlewRateYMMS,
		JunctionDeviation: c.Kinematics.JunctionDeviationMM,
		ArcEpsilon:        c.Kinematics.ArcEpsilonMM,
	}
}

// LaserConfig assembles the gating delays for the timing coordinator.
func (c *Config) LaserConfig() laser.Config {
	return laser.Config{
		MarkDelay:       time.Duration(c.Laser.MarkDelayUS) * time.Microsecond,
		LeadTime:        time.Duration(c.Laser.LeadTimeUS) * time.Microsecond,
		JumpDelay:       time.Duration(c.Laser.JumpDelayUS) * time.Microsecond,
		SettleTau:       time.Duration(c.Laser.SettleTauUS) * time.Microsecond,
		SettleTolerance: c.Laser.SettleToleranceMM,
	}
}

// EmitterConfig assembles the frame pacing settings.
func (c *Config) EmitterConfig() emitter.Config {
	return emitter.Config{
		Period:     time.Duration(c.Emitter.SamplePeriodUS) * time.Microsecond,
		QueueDepth: c.Emitter.QueueDepth,
		Park:       geom.Point{X: c.Emitter.ParkXMM, Y: c.Emitter.ParkYMM},
		Realtime:   c.Emitter.Realtime,
	}
}

// EnsureStorageDir creates the directory holding the job database.
func (c *Config) EnsureStorageDir() error {
	dir := filepath.Dir(c.Storage.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage directory %q: %w", dir, err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a commented sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
