package transitapi

import (
	"fmt"
	"strings"
)

// InvalidResponseError reports a response that decoded but does not make
// sense. URLs lists the cached responses that must not be trusted again;
// the client evicts each of them before failing.
type InvalidResponseError struct {
	Reason string
	URLs   []string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	msg := "invalid response"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.URLs) > 0 {
		msg += " (" + strings.Join(e.URLs, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

func invalid(reason string, err error, urls ...string) *InvalidResponseError {
	return &InvalidResponseError{Reason: reason, URLs: urls, Err: err}
}

// UnknownLocationError is returned for a name the location service has
// already been asked about without listing it.
type UnknownLocationError struct {
	Name string
}

func (e *UnknownLocationError) Error() string {
	return fmt.Sprintf("unknown location %q", e.Name)
}
