package host

import (
	"time"

	"github.com/mattjoyce/pluginhost/internal/config"
)

// Options tunes the fan-out. Zero fields take the defaults.
type Options struct {
	// BaselineInterval is the steady-state sleep between drains.
	BaselineInterval time.Duration

	// FastInterval replaces the baseline while a queue is above HighWaterMark.
	FastInterval  time.Duration
	HighWaterMark int

	// BatchSize caps how many records one drain hands to a plugin.
	BatchSize int

	// MaxReportedErrors is how many processing errors are kept per plugin.
	// Negative keeps none.
	MaxReportedErrors int
}

// DefaultOptions returns the built-in cadence: 5s baseline, 1s fast, 1000 records.
func DefaultOptions() Options {
	return Options{
		BaselineInterval:  5 * time.Second,
		FastInterval:      time.Second,
		HighWaterMark:     1000,
		BatchSize:         1000,
		MaxReportedErrors: 10,
	}
}

// OptionsFromConfig maps the host section of the config file. There
// max_reported_errors: 0 means report none.
func OptionsFromConfig(c config.HostConfig) Options {
	maxErrors := c.MaxReportedErrors
	if maxErrors == 0 {
		maxErrors = -1
	}
	return Options{
		BaselineInterval:  c.BaselineInterval,
		FastInterval:      c.FastInterval,
		HighWaterMark:     c.HighWaterMark,
		BatchSize:         c.BatchSize,
		MaxReportedErrors: maxErrors,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaselineInterval <= 0 {
		o.BaselineInterval = d.BaselineInterval
	}
	if o.FastInterval <= 0 {
		o.FastInterval = d.FastInterval
	}
	if o.HighWaterMark <= 0 {
		o.HighWaterMark = d.HighWaterMark
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxReportedErrors == 0 {
		o.MaxReportedErrors = d.MaxReportedErrors
	}
	return o
}
