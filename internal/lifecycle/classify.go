package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"

	"github.com/zombor/po-matcher/internal/remote"
)

// Outcome statuses produced for failed jobs
const (
	StatusTryAgain = "TRY AGAIN"
	StatusError    = "ERROR"
)

const (
	overloadSummary = "The matching service is temporarily overloaded or timed out. Your documents were not rejected."
	overloadDetail  = "Wait a minute and submit the same documents again."
)

// transientMarkers matches error text that signals backend overload or a timeout
var transientMarkers = regexp.MustCompile(`(?i)\b(?:503|504|408|429)\b|unavailable|time[ -]?out|timed out|deadline exceeded|overloaded|resource[_ ]exhausted`)

var transientCodes = map[int]bool{
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
	http.StatusRequestTimeout:     true,
	http.StatusTooManyRequests:    true,
}

// IsTransient reports whether err means the backend was overloaded or too slow to answer
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) && transientCodes[statusErr.Code] {
		return true
	}

	var transportErr *remote.TransportError
	if errors.As(err, &transportErr) && transportErr.Timeout() {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return transientMarkers.MatchString(err.Error())
}

// Classify turns a polling error into a failed outcome
func Classify(err error) Outcome {
	if IsTransient(err) {
		return Outcome{
			Matched: false,
			Status:  StatusTryAgain,
			Summary: overloadSummary,
			Details: []string{overloadDetail},
		}
	}
	return Outcome{
		Matched: false,
		Status:  StatusError,
		Summary: fmt.Sprintf("Job failed: %v", err),
		Details: []string{err.Error()},
	}
}

// submissionFailure is the outcome of a job the backend never accepted
func submissionFailure(err error) Outcome {
	return Outcome{
		Matched: false,
		Status:  StatusError,
		Summary: fmt.Sprintf("Job submission failed: %v", err),
		Details: []string{err.Error()},
	}
}
