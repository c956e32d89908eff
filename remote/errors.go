package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrEndpointUnavailable means the base endpoint is unset, invalid or unreachable
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	// ErrPollNotReady means the results document does not exist yet
	ErrPollNotReady = errors.New("result not ready")
)

// RemoteRejectedError is returned when a one-shot call gets a non-success status
type RemoteRejectedError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteRejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s rejected with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s rejected with status %d: %s", e.Op, e.Status, e.Body)
}

// TransportError describes a failed asset upload. Status is 0 for network failures.
type TransportError struct {
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upload failed: %v", e.Cause)
	}
	if e.Cause == nil {
		return fmt.Sprintf("upload failed with status %d", e.Status)
	}
	return fmt.Sprintf("upload failed with status %d: %v", e.Status, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsRemoteRejected reports whether err carries a RemoteRejectedError
func IsRemoteRejected(err error) bool {
	var rejected *RemoteRejectedError
	return errors.As(err, &rejected)
}
