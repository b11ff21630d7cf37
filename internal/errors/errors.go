package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the stages of a run
var (
	// ErrMissingTool - prerequisite tool absent and not installable (abort before allocating anything)
	ErrMissingTool = errors.New("missing prerequisite tool")

	// ErrProvision - sandbox, key material or datastore could not be provisioned
	ErrProvision = errors.New("provisioning failed")

	// ErrDatastoreUnknown - configs requested before the datastore endpoint is known
	ErrDatastoreUnknown = errors.New("datastore endpoint unknown")

	// ErrLaunch - the process supervisor could not be started
	ErrLaunch = errors.New("supervisor launch failed")

	// ErrReadinessTimeout - not every service reported ready before the deadline
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrServiceExited - the supervised group exited before every service reported ready
	ErrServiceExited = errors.New("service group exited")

	// ErrInvalidInput - malformed configuration or handoff data
	ErrInvalidInput = errors.New("invalid input")
)

// WithCategory attaches a sentinel category while keeping the cause in the chain
func WithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %w", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// InvalidInput wraps message as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// MissingTool wraps message as missing tool
func MissingTool(message string) error {
	return fmt.Errorf("%s: %w", message, ErrMissingTool)
}
