package pipeline

import (
	"os"
	"time"
)

// Config is the immutable orchestrator configuration, built once at startup.
type Config struct {
	// Concurrency bounds in-flight per-file reviews within one run.
	Concurrency int
	// FailFast fails the whole task when any file's model review fails. When
	// false the file keeps its static issues and the run continues.
	FailFast bool
	// FetchAttempts is the total number of fetch tries for UpstreamUnavailable errors.
	FetchAttempts   int
	FetchRetryDelay time.Duration
	// DefaultToken is used when a submission carries no credential.
	DefaultToken string
	// OwnerPID is recorded on tasks this orchestrator starts. Defaults to the
	// current process.
	OwnerPID int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		FailFast:        false,
		FetchAttempts:   3,
		FetchRetryDelay: 500 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.FetchAttempts < 1 {
		c.FetchAttempts = 1
	}
	if c.FetchRetryDelay <= 0 {
		c.FetchRetryDelay = 100 * time.Millisecond
	}
	if c.OwnerPID <= 0 {
		c.OwnerPID = os.Getpid()
	}
	return c
}
