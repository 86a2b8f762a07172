package monitor

import (
	"time"
)

// Config represents the configuration for the scheduler
type Config struct {
	// RoundInterval is the cadence of probe rounds
	RoundInterval time.Duration
	// PerNodeTimeout bounds each probe and the whole round's wall clock
	PerNodeTimeout time.Duration
	// ProbeCommand overrides the default diagnostic command
	ProbeCommand string
	// FailureThreshold is how many consecutive failures before alerting
	FailureThreshold int
	// SealGrace is extra slack allowed for in-deadline probes to report
	// back before the round is sealed
	SealGrace time.Duration
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		RoundInterval:    30 * time.Second,
		PerNodeTimeout:   5 * time.Second,
		FailureThreshold: 3,
		SealGrace:        250 * time.Millisecond,
	}
}
