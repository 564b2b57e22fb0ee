package fluvius

import (
	"errors"
	"fmt"
)

// ErrAuthenticationFailed wraps every login failure returned by the client.
var ErrAuthenticationFailed = errors.New("authentication failed, check the credentials or verify the account at mijn.fluvius.be")

// NetworkError is a transport failure or a non-2xx answer from a data
// endpoint. It is not retried; the next scheduled refresh tries again.
type NetworkError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PayloadShapeError is returned when a data endpoint answers with something
// other than a JSON array of records.
type PayloadShapeError struct {
	Op  string
	Got string
}

func (e *PayloadShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected payload, expected a list but got %s", e.Op, e.Got)
}
