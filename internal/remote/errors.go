package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StatusError is returned when the backend answers with an unexpected HTTP status
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Message)
}

// TransportError is returned when a request never produced an HTTP response
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request failed because a deadline passed
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ErrMalformedResponse is wrapped when a success response cannot be decoded
var ErrMalformedResponse = errors.New("malformed response")
