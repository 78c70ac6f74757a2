package fetch

import (
	"fmt"
)

// TransportError reports a failed backend request: a network error or a
// non-2xx status. Requests are not retried.
type TransportError struct {
	URL        string
	StatusCode int // 0 for network errors
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
