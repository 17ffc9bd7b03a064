package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/gridmarket/core/logger"
)

// Activator receives the per-period activation tick.
type Activator interface {
	Activate(now time.Time, period int64)
}

// Config defines the simulation clock parameters.
type Config struct {
	// PeriodSeconds is the wall-clock length of one simulated period.
	PeriodSeconds int `json:"period_seconds" yaml:"period_seconds"`
	// StartPeriod is the index assigned to the first activation.
	StartPeriod int64 `json:"start_period" yaml:"start_period"`
	// MaxPeriods stops the clock after this many periods; 0 runs until the
	// context is cancelled.
	MaxPeriods int64 `json:"max_periods" yaml:"max_periods"`
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.PeriodSeconds == 0 {
		c.PeriodSeconds = 3600
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.PeriodSeconds <= 0 {
		return fmt.Errorf("sim: period_seconds must be positive")
	}
	if c.MaxPeriods < 0 {
		return fmt.Errorf("sim: max_periods must not be negative")
	}
	return nil
}

// Period returns the configured period length.
func (c Config) Period() time.Duration {
	return time.Duration(c.PeriodSeconds) * time.Second
}

// Clock drives the market through its periods. In real-time mode it ticks at
// PeriodDuration; Step advances manually for tests and accelerated runs.
type Clock struct {
	cfg    Config
	target Activator
	log    logger.Logger
	period int64
}

// NewClock creates a clock driving target.
func NewClock(cfg Config, target Activator, log logger.Logger) (*Clock, error) {
	if target == nil {
		return nil, fmt.Errorf("sim: nil activator provided to NewClock")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Clock{cfg: cfg, target: target, log: log, period: cfg.StartPeriod}, nil
}

// Period returns the index of the next period to activate.
func (c *Clock) Period() int64 { return c.period }

// Step activates one period immediately and advances the counter.
func (c *Clock) Step(now time.Time) {
	c.target.Activate(now, c.period)
	c.period++
}

// Run ticks until the context is cancelled or MaxPeriods is reached. The
// first activation fires immediately so the market opens without waiting a
// full period.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Period())
	defer ticker.Stop()

	c.Step(time.Now())
	for !c.finished() {
		select {
		case now := <-ticker.C:
			c.Step(now)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.log.Infof("clock finished after %d periods", c.cfg.MaxPeriods)
	return nil
}

func (c *Clock) finished() bool {
	return c.cfg.MaxPeriods > 0 && c.period-c.cfg.StartPeriod >= c.cfg.MaxPeriods
}
