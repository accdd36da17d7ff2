package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/po-matcher/internal/remote"
)

var (
	// ErrSubmissionActive is returned when a file is selected while a job is running
	ErrSubmissionActive = errors.New("a submission is active")
	// ErrExtractionInFlight is returned when another preview extraction is still outstanding
	ErrExtractionInFlight = errors.New("a preview extraction is already in flight")
	// ErrUnknownSlot is returned for a slot other than invoice or purchase order
	ErrUnknownSlot = errors.New("unknown document slot")
	// ErrClosed is returned after the tracker has been closed
	ErrClosed = errors.New("tracker closed")
)

// Extractor performs the preview extraction of a single file
type Extractor interface {
	PreviewExtract(ctx context.Context, file remote.File) (*remote.Preview, error)
}

// Tracker holds the invoice and purchase order slots and drives their preview extraction
type Tracker struct {
	extractor    Extractor
	logger       *slog.Logger
	gate         func() bool
	listener     func(Snapshot)
	singleFlight bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	slots    [slotCount]*Document
	seq      uint64
	inFlight int
	closed   bool

	// listener calls take a ticket under mu and run in ticket order without holding it
	turn      *sync.Cond
	published uint64
	delivered uint64
}

// Option configures a Tracker
type Option func(*Tracker)

// WithSubmissionGate rejects file selection while active reports true. active is called with
// the tracker locked and must not call back into it.
func WithSubmissionGate(active func() bool) Option {
	return func(t *Tracker) {
		t.gate = active
	}
}

// WithListener registers a callback invoked with a fresh snapshot after every transition
func WithListener(fn func(Snapshot)) Option {
	return func(t *Tracker) {
		t.listener = fn
	}
}

// WithConcurrentSelection allows a new selection while another preview is outstanding
func WithConcurrentSelection() Option {
	return func(t *Tracker) {
		t.singleFlight = false
	}
}

// WithLogger sets the logger used by the tracker
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// New creates a Tracker with both slots empty
func New(extractor Extractor, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		extractor:    extractor,
		logger:       slog.Default(),
		singleFlight: true,
		ctx:          ctx,
		cancel:       cancel,
	}
	t.turn = sync.NewCond(&t.mu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SelectFile installs file in slot as a pending document and starts its preview extraction.
// Extraction failures are recorded on the document, never returned.
func (t *Tracker) SelectFile(slot Slot, file remote.File) error {
	if !slot.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	t.mu.Lock()
	if t.gate != nil && t.gate() {
		t.mu.Unlock()
		return ErrSubmissionActive
	}
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.singleFlight && t.inFlight > 0 {
		t.mu.Unlock()
		return ErrExtractionInFlight
	}

	t.seq++
	doc := &Document{
		Slot:        slot,
		DisplayName: file.Name,
		Extraction:  Extraction{State: ExtractionPending},
		File:        file,
		seq:         t.seq,
	}
	t.slots[slot] = doc
	t.inFlight++
	t.wg.Add(1)

	t.logger.Info("document selected", "slot", slot, "file", file.Name)
	t.publish()

	go t.extract(slot, doc.seq, file)
	return nil
}

func (t *Tracker) extract(slot Slot, seq uint64, file remote.File) {
	defer t.wg.Done()

	preview, err := t.extractor.PreviewExtract(t.ctx, file)
	if err == nil && preview == nil {
		err = errors.New("empty preview response")
	}

	t.mu.Lock()
	t.inFlight--

	current := t.slots[slot]
	if t.closed || current == nil || current.seq != seq {
		t.mu.Unlock()
		t.logger.Debug("discarding stale preview", "slot", slot, "file", file.Name)
		return
	}

	updated := *current
	if err != nil {
		t.logger.Warn("preview extraction failed", "slot", slot, "file", file.Name, "error", err)
		updated.Extraction = Extraction{State: ExtractionFailed, Detail: err.Error()}
	} else {
		t.logger.Info("preview extracted", "slot", slot, "document_id", preview.DocumentID, "vendor", preview.VendorName)
		updated.Extraction = Extraction{
			State:      ExtractionResolved,
			DocumentID: preview.DocumentID,
			VendorName: preview.VendorName,
		}
	}
	t.slots[slot] = &updated
	t.publish()
}

// Snapshot returns a copy of both slots
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Wait blocks until every outstanding preview extraction has settled
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close stops publishing, abandons outstanding extractions and waits for them to return.
// It is safe to call more than once.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Invoice:       t.slots[SlotInvoice].clone(),
		PurchaseOrder: t.slots[SlotPurchaseOrder].clone(),
	}
}

// publish must be called with t.mu held and releases it. The listener runs without the lock,
// one call at a time, in the order the snapshots were taken.
func (t *Tracker) publish() {
	if t.listener == nil {
		t.mu.Unlock()
		return
	}
	t.published++
	ticket := t.published
	snap := t.snapshotLocked()
	for t.delivered != ticket-1 {
		t.turn.Wait()
	}
	t.mu.Unlock()

	t.listener(snap)

	t.mu.Lock()
	t.delivered = ticket
	t.turn.Broadcast()
	t.mu.Unlock()
}
