package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
)

// ProviderError is an HTTP failure reported by an LLM provider
type ProviderError struct {
	Provider string
	Code     int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Code, e.Message)
}

// Retry defaults: five attempts with exponential backoff from 1s capped at 10s
const (
	DefaultAttempts    = 5
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 10 * time.Second
)

// Retrying wraps a Scanner and retries provider overload errors
type Retrying struct {
	next     Scanner
	attempts uint64
	base     time.Duration
	maxDelay time.Duration
}

// RetryOption configures a Retrying scanner
type RetryOption func(*Retrying)

// WithAttempts sets the total number of attempts, including the first
func WithAttempts(n uint64) RetryOption {
	return func(r *Retrying) {
		r.attempts = n
	}
}

// WithBackoff sets the first delay and the largest delay between attempts
func WithBackoff(base, maxDelay time.Duration) RetryOption {
	return func(r *Retrying) {
		r.base = base
		r.maxDelay = maxDelay
	}
}

// NewRetrying creates a Scanner that retries next on overload
func NewRetrying(next Scanner, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     next,
		attempts: DefaultAttempts,
		base:     DefaultBackoffBase,
		maxDelay: DefaultBackoffCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.attempts == 0 {
		r.attempts = 1
	}
	return r
}

// ScanDocument calls the wrapped scanner until it succeeds, fails permanently or runs out of attempts
func (r *Retrying) ScanDocument(ctx context.Context, data []byte, contentType, docType string) (*DocumentData, error) {
	backoff := retry.NewExponential(r.base)
	backoff = retry.WithCappedDuration(r.maxDelay, backoff)
	backoff = retry.WithMaxRetries(r.attempts-1, backoff)

	var (
		doc     *DocumentData
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		doc, err = r.next.ScanDocument(ctx, data, contentType, docType)
		if err == nil {
			return nil
		}
		if Overloaded(err) {
			slog.Warn("document extraction overloaded, retrying", "doc_type", docType, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if attempt > 1 {
			return nil, fmt.Errorf("extraction failed after %d attempts: %w", attempt, err)
		}
		return nil, err
	}
	return doc, nil
}

// Close closes the wrapped scanner
func (r *Retrying) Close() error {
	return r.next.Close()
}

// Overloaded reports whether err is a rate limit or unavailability signal from a provider
func Overloaded(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusServiceUnavailable
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Code == http.StatusTooManyRequests || providerErr.Code == http.StatusServiceUnavailable
	}

	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "UNAVAILABLE")
}
