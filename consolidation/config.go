// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consolidation

import (
	"time"
)

// Defaults of the consolidation loop.
const (
	DefaultInterval      = 30 * time.Second
	DefaultWindow        = 24 * time.Hour
	DefaultLockTimeout   = 300 * time.Second
	DefaultMaxRetries    = 3
	DefaultBatchSize     = 100
	DefaultConcurrency   = 10
	DefaultRetentionDays = 30
)

// Config declares eventual consistency for one (resource, field) pair.
// Every pair gets its own copy; the consolidator never shares a
// mutable config between pairs.
type Config struct {
	// Resource is the owning resource name.
	Resource string
	// Field is the dotted path of the consolidated numeric field.
	Field string

	// Interval is the period of the consolidation loop.
	Interval time.Duration
	// Window is how far back, in cohort hours, a round scans for
	// unapplied transactions.
	Window time.Duration
	// LockTimeout is the age past which an orphaned per-record lock is
	// reclaimed.
	LockTimeout time.Duration
	// MaxRetries bounds per-record retries on transient errors within
	// one round.
	MaxRetries int
	// BatchSize caps the records consolidated per round.
	BatchSize int
	// Concurrency bounds parallel record consolidations.
	Concurrency int
	// RetentionDays is how long applied transactions are kept before
	// the GC sweep removes them.
	RetentionDays int
	// Analytics enables hour/day/month roll-ups into the analytics
	// sibling resource.
	Analytics bool
	// Quiet suppresses the per-round structured log lines.
	Quiet bool
}

// withDefaults fills zero values.
func (config Config) withDefaults() Config {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	return config
}

// check guards the config at every consolidator entry point. A blank
// field would silently aggregate nothing, which historically points at
// a config object shared between pairs.
func (config *Config) check() error {
	if config.Resource == "" {
		return Error.New("config has no resource")
	}
	if config.Field == "" {
		return Error.New("config of resource %q has no field", config.Resource)
	}
	return nil
}

// TransactionsResource returns the name of the append-log sibling.
func (config *Config) TransactionsResource() string {
	return config.Resource + "_transactions_" + config.Field
}

// AnalyticsResource returns the name of the roll-up sibling.
func (config *Config) AnalyticsResource() string {
	return config.Resource + "_analytics_" + config.Field
}
