package main

import (
	"strings"
	"sync"

	"github.com/ogcode-dev/ogcode/internal/calib"
	"github.com/ogcode-dev/ogcode/internal/config"
	"github.com/ogcode-dev/ogcode/internal/db"
	"github.com/ogcode-dev/ogcode/internal/monitoring"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// configPath returns the --config flag value, or empty for the default
// search order.
func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, resolved, exists, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if exists {
			monitoring.Debugf("[cli] config loaded from %s", resolved)
		} else {
			monitoring.Debugf("[cli] no config file at %s, using defaults", resolved)
		}
		if cfg.Logging.Verbose {
			monitoring.SetVerbose(true)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// loadProfile picks the calibration profile: an explicit flag wins over the
// configured path; neither selects the ideal mapping for the field size.
func (c *commandContext) loadProfile(flagPath string) (*calib.Profile, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(flagPath)
	if path == "" {
		path = cfg.Field.Calibration
	}
	if path == "" {
		return calib.ForField(cfg.Field.SizeMM), nil
	}
	return calib.LoadProfile(path)
}

// openDB opens the job database and brings the schema up to date.
func (c *commandContext) openDB() (*db.DB, error) {
	d, err := c.openDBNoMigrate()
	if err != nil {
		return nil, err
	}
	if err := d.MigrateUp(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// openDBNoMigrate opens the job database without touching the schema. The
// migrate subcommands manage versions themselves; auto-upgrading under them
// would make `db migrate down` a no-op.
func (c *commandContext) openDBNoMigrate() (*db.DB, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureStorageDir(); err != nil {
		return nil, err
	}
	return db.Open(cfg.Storage.DBPath)
}
