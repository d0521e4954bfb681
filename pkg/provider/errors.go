package provider

import (
	"errors"
	"fmt"
)

// SubmissionError means the vendor rejected the initial request (bad params,
// auth, quota). It is never retried automatically.
type SubmissionError struct {
	Provider Name
	Code     string
	Message  string
}

func (e *SubmissionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: submission rejected (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: submission rejected: %s", e.Provider, e.Message)
}

// TransientError wraps a network or server-side failure during a status
// check. The polling engine retries on the next interval.
type TransientError struct {
	Provider Name
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError means the vendor does not know the task id. Polling stops
// immediately.
type FatalError struct {
	Provider Name
	TaskID   string
	Message  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: task %s: %s", e.Provider, e.TaskID, e.Message)
}

// ErrUnknownProvider is returned by the registry for names with no constructor.
var ErrUnknownProvider = errors.New("unknown provider")

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsSubmission reports whether err (or anything it wraps) is a SubmissionError.
func IsSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
