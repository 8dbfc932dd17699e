package toggl

import "fmt"

// TransportError is a network or server-side failure. Retryable with
// backoff by the caller.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("toggl: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("toggl: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is an invalid or missing credential. Fatal to the whole
// run, never retried.
type AuthError struct {
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("toggl: authentication failed: status %d", e.Status)
	}
	return "toggl: authentication failed: " + e.Reason
}

// FormatError is an unparseable export body. The period is treated as
// empty; the run continues.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "toggl: malformed export: " + e.Reason
}
