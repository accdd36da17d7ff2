package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/po-matcher/internal/intake"
	"github.com/zombor/po-matcher/internal/remote"
)

const (
	// DefaultPollInterval is the delay between status checks
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultResultDelay is how long after success the result hook runs
	DefaultResultDelay = 100 * time.Millisecond

	// initialProgress keeps the indicator visibly alive before the first poll
	initialProgress = 0.01
)

var (
	// ErrPrecondition is returned when a submission is not allowed in the current state
	ErrPrecondition = errors.New("submission precondition not met")
	// ErrDisposed is returned once the controller has been disposed
	ErrDisposed = errors.New("controller disposed")
)

// Service is the remote side of a job
type Service interface {
	SubmitJob(ctx context.Context, invoice, po remote.File) (string, error)
	CheckStatus(ctx context.Context, jobID string) (*remote.JobStatus, error)
}

// Controller runs one matching job at a time from submission to a terminal outcome
type Controller struct {
	service      Service
	logger       *slog.Logger
	listener     func(State)
	resultHook   func(Outcome)
	pollInterval time.Duration
	resultDelay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	phase    Phase
	session  *Session
	outcome  *Outcome
	epoch    uint64
	stop     chan struct{}
	done     chan struct{}
	timer    *time.Timer
	disposed bool

	// listener calls take a ticket under mu and run in ticket order without holding it
	turn      *sync.Cond
	published uint64
	delivered uint64
}

// Option configures a Controller
type Option func(*Controller)

// WithListener registers a callback invoked with a fresh state after every transition
func WithListener(fn func(State)) Option {
	return func(c *Controller) {
		c.listener = fn
	}
}

// WithResultHook registers a callback run once, shortly after a job succeeds
func WithResultHook(fn func(Outcome)) Option {
	return func(c *Controller) {
		c.resultHook = fn
	}
}

// WithPollInterval overrides the delay between status checks
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.pollInterval = d
	}
}

// WithResultDelay overrides the delay before the result hook runs
func WithResultDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.resultDelay = d
	}
}

// WithLogger sets the logger used by the controller
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates an idle Controller
func New(service Service, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		service:      service,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		resultDelay:  DefaultResultDelay,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.turn = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a job for the two documents. It returns ErrPrecondition, leaving the state
// untouched, when a document is missing or not extracted or another job is active.
func (c *Controller) Submit(invoice, po *intake.Document) error {
	if !invoice.Finalized() {
		return fmt.Errorf("%w: invoice is not extracted", ErrPrecondition)
	}
	if !po.Finalized() {
		return fmt.Errorf("%w: purchase order is not extracted", ErrPrecondition)
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.session != nil && c.session.Active {
		c.mu.Unlock()
		return fmt.Errorf("%w: a job is already active", ErrPrecondition)
	}

	c.epoch++
	epoch := c.epoch
	c.stopTimer()
	c.outcome = nil
	c.phase = PhaseSubmitting
	c.session = &Session{Progress: initialProgress, Active: true}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop := c.stop
	c.wg.Add(1)

	c.logger.Info("submitting job", "invoice", invoice.DisplayName, "purchase_order", po.DisplayName)
	c.publish()

	go c.run(epoch, stop, invoice.File, po.File)
	return nil
}

func (c *Controller) run(epoch uint64, stop <-chan struct{}, invoice, po remote.File) {
	defer c.wg.Done()

	jobID, err := c.service.SubmitJob(c.ctx, invoice, po)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Error("job submission failed", "error", err)
		c.finish(PhaseFailed, submissionFailure(err))
		return
	}

	c.logger.Info("job accepted", "job_id", jobID)
	c.session.JobID = jobID
	c.phase = PhasePolling
	c.publish()

	c.poll(epoch, stop, jobID)
}

// poll checks the job on every tick until the session ends. Ticks are sequential and a
// result is only applied while epoch is still current.
func (c *Controller) poll(epoch uint64, stop <-chan struct{}, jobID string) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !c.current(epoch) {
			return
		}

		status, err := c.service.CheckStatus(c.ctx, jobID)
		if !c.apply(epoch, jobID, status, err) {
			return
		}
	}
}

func (c *Controller) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// apply records one status check and reports whether polling should continue
func (c *Controller) apply(epoch uint64, jobID string, status *remote.JobStatus, err error) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}

	if err == nil && status == nil {
		err = errors.New("empty status response")
	}
	if err != nil {
		c.logger.Error("polling failed", "job_id", jobID, "error", err)
		c.finish(PhaseFailed, Classify(err))
		return false
	}

	switch status.Status {
	case remote.StatusCompleted:
		result := status.Results.Normalize()
		c.logger.Info("job completed", "job_id", jobID, "match", result.IsMatch, "status", result.Status)
		c.session.Progress = 1
		c.finish(PhaseSucceeded, Outcome{
			Matched: result.IsMatch,
			Status:  result.Status,
			Summary: result.Summary,
			Details: result.Details,
		})
		return false

	case remote.StatusProcessing:
		if status.Progress == nil {
			c.mu.Unlock()
			return true
		}
		progress := clamp(float64(*status.Progress) / 100)
		if progress <= c.session.Progress {
			c.mu.Unlock()
			return true
		}
		c.session.Progress = progress
		c.publish()
		return true

	default:
		failure := fmt.Errorf("unexpected job status %q", status.Status)
		if status.Error != "" {
			failure = errors.New(status.Error)
		}
		c.logger.Error("job did not complete", "job_id", jobID, "status", status.Status, "error", failure)
		c.finish(PhaseFailed, Classify(failure))
		return false
	}
}

// finish must be called with c.mu held. It records the terminal outcome, tears the session
// down, publishes and then releases anyone blocked in Wait.
func (c *Controller) finish(phase Phase, outcome Outcome) {
	c.phase = phase
	c.outcome = &outcome
	done := c.teardown()

	if phase == PhaseSucceeded && c.resultHook != nil {
		c.scheduleResult(outcome)
	}

	c.publish()
	if done != nil {
		close(done)
	}
}

// teardown must be called with c.mu held. It invalidates the session's epoch and stops
// its poll loop, returning the done channel for the caller to close.
func (c *Controller) teardown() chan struct{} {
	c.epoch++
	if c.session != nil {
		c.session.Active = false
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	done := c.done
	c.done = nil
	return done
}

func (c *Controller) scheduleResult(outcome Outcome) {
	epoch := c.epoch
	c.timer = time.AfterFunc(c.resultDelay, func() {
		c.mu.Lock()
		if c.disposed || c.epoch != epoch {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		c.resultHook(outcome.clone())
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// State returns a snapshot of the controller
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Active reports whether a job is being submitted or polled
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.Active
}

// Wait blocks until the current job reaches a terminal state, the controller is disposed
// or ctx is done
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed && !c.phase.Terminal() {
		return c.stateLocked(), ErrDisposed
	}
	return c.stateLocked(), nil
}

// Dispose stops any running job, cancels in-flight requests and the pending result hook.
// It is safe to call more than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.stopTimer()
	done := c.teardown()
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Debug("controller disposed")
}

func (c *Controller) stateLocked() State {
	s := State{Phase: c.phase}
	if c.session != nil {
		session := *c.session
		s.Session = &session
	}
	if c.outcome != nil {
		outcome := c.outcome.clone()
		s.Outcome = &outcome
	}
	return s
}

// publish must be called with c.mu held and releases it. The listener runs without the lock,
// one call at a time, in the order the snapshots were taken.
func (c *Controller) publish() {
	if c.listener == nil {
		c.mu.Unlock()
		return
	}
	c.published++
	ticket := c.published
	s := c.stateLocked()
	for c.delivered != ticket-1 {
		c.turn.Wait()
	}
	c.mu.Unlock()

	c.listener(s)

	c.mu.Lock()
	c.delivered = ticket
	c.turn.Broadcast()
	c.mu.Unlock()
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
