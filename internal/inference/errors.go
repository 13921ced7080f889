package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the collaborator could not be reached or reported
	// itself unhealthy.
	ErrUnavailable = errors.New("inference: collaborator unavailable")

	// ErrInvalidResponse means the collaborator answered with something that
	// is not a JSON object.
	ErrInvalidResponse = errors.New("inference: invalid response")
)

// StatusError is a non-2xx answer that is not an availability problem.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference: upstream returned %d: %s", e.StatusCode, e.Body)
}
