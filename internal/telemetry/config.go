package telemetry

import (
	"time"

	"codeberg.org/mutker/simtempd/internal/errors"
)

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/simtempd/telemetry.db"

	// DefaultInterval is how often the runner snapshots the device.
	DefaultInterval = 10 * time.Second

	defaultBatchSize    = 8
	defaultBatchTimeout = 30 * time.Second
)

type Config struct {
	Enabled      bool
	DBPath       string
	Interval     time.Duration
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		DBPath:       defaultDBPath,
		Interval:     DefaultInterval,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.Interval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, c.Interval)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
