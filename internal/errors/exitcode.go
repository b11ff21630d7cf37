package errors

import (
	"errors"
)

// ExitFailure is reported for every orchestrator failure. Test runner
// statuses are forwarded untouched and never pass through here.
const ExitFailure = 1

// ExitCode maps an orchestrator error onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *ExitError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ExitFailure
}

// ExitError carries an explicit status up to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status"
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Category returns the name of the sentinel an error belongs to
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingTool):
		return "ErrMissingTool"
	case errors.Is(err, ErrDatastoreUnknown):
		return "ErrDatastoreUnknown"
	case errors.Is(err, ErrProvision):
		return "ErrProvision"
	case errors.Is(err, ErrLaunch):
		return "ErrLaunch"
	case errors.Is(err, ErrReadinessTimeout):
		return "ErrReadinessTimeout"
	case errors.Is(err, ErrServiceExited):
		return "ErrServiceExited"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	default:
		return "Unknown"
	}
}
