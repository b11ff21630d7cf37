package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", candidate)
	}
	return d, nil
}

func (c ReadinessConfig) PollIntervalDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.PollInterval, DefaultReadinessPollInterval)
	if err != nil {
		return 0, fmt.Errorf("readiness poll interval: %w", err)
	}
	if d == 0 {
		return 0, fmt.Errorf("readiness poll interval must be positive")
	}
	return d, nil
}

// TimeoutDuration returns 0 when the gate should wait without a deadline.
func (c ReadinessConfig) TimeoutDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.Timeout, DefaultReadinessTimeout)
	if err != nil {
		return 0, fmt.Errorf("readiness timeout: %w", err)
	}
	return d, nil
}

func (c DatastoreConfig) ConnectionRetryDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.ConnectionRetry, DefaultDatastoreConnRetry)
	if err != nil {
		return 0, fmt.Errorf("datastore connection retry: %w", err)
	}
	return d, nil
}

func (c DatastoreConfig) ConnectionTimeoutDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.ConnectionTimeout, DefaultDatastoreConnTimeout)
	if err != nil {
		return 0, fmt.Errorf("datastore connection timeout: %w", err)
	}
	return d, nil
}

func (c DatastoreConfig) ReachTimeoutDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.ReachTimeout, DefaultDatastoreReachTimeout)
	if err != nil {
		return 0, fmt.Errorf("datastore reach timeout: %w", err)
	}
	return d, nil
}

func (c SupervisorConfig) StopTimeoutDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.StopTimeout, DefaultSupervisorStopTimeout)
	if err != nil {
		return 0, fmt.Errorf("supervisor stop timeout: %w", err)
	}
	return d, nil
}

func (c TeardownConfig) TimeoutDuration() (time.Duration, error) {
	d, err := DurationOrDefault(c.Timeout, DefaultTeardownTimeout)
	if err != nil {
		return 0, fmt.Errorf("teardown timeout: %w", err)
	}
	return d, nil
}
