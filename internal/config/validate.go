package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration describes a usable machine. Section
// values that feed a pipeline stage are checked by that stage's own
// validator so the rules cannot drift apart.
func (c *Config) Validate() error {
	if err := c.validateField(); err != nil {
		return err
	}
	if err := c.PlannerLimits().Validate(); err != nil {
		return fmt.Errorf("kinematics: %w", err)
	}
	if err := c.LaserConfig().Validate(); err != nil {
		return fmt.Errorf("laser: %w", err)
	}
	if err := c.EmitterConfig().Validate(); err != nil {
		return fmt.Errorf("emitter: %w", err)
	}
	if err := c.validateSerial(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateField() error {
	if c.Field.SizeMM <= 0 {
		return fmt.Errorf("field.size_mm must be positive, got %g", c.Field.SizeMM)
	}
	half := c.Field.SizeMM / 2
	if c.Emitter.ParkXMM < -half || c.Emitter.ParkXMM > half ||
		c.Emitter.ParkYMM < -half || c.Emitter.ParkYMM > half {
		return fmt.Errorf("emitter park (%g, %g) lies outside the %g mm field",
			c.Emitter.ParkXMM, c.Emitter.ParkYMM, c.Field.SizeMM)
	}
	return nil
}

func (c *Config) validateSerial() error {
	if c.Serial.Device == "" {
		return errors.New("serial.device must be set")
	}
	if _, err := c.Serial.PortOptions.Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path must be set")
	}
	return nil
}
