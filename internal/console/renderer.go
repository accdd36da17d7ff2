package console

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/zombor/po-matcher/internal/intake"
	"github.com/zombor/po-matcher/internal/lifecycle"
)

// Display placeholders for extraction state
const (
	Extracting    = "Extracting..."
	ExtractFailed = "Error"
	NotAvailable  = "N/A"
)

// Renderer writes intake, progress and outcome updates as plain text lines
type Renderer struct {
	mu           sync.Mutex
	w            io.Writer
	phase        lifecycle.Phase
	lastProgress int
}

// New creates a Renderer writing to w
func New(w io.Writer) *Renderer {
	return &Renderer{w: w, lastProgress: -1}
}

// Intake renders both document slots
func (r *Renderer) Intake(s intake.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, slot := range []intake.Slot{intake.SlotInvoice, intake.SlotPurchaseOrder} {
		doc := s.Get(slot)
		if doc == nil {
			continue
		}
		id, vendor := extractionFields(doc.Extraction)
		fmt.Fprintf(r.w, "%-15s %s  [ID: %s | Vendor: %s]\n", slotLabel(slot)+":", doc.DisplayName, id, vendor)
	}
}

// Job renders lifecycle transitions. Failures are rendered immediately; a success is left
// to Result, which runs from the controller's result hook.
func (r *Renderer) Job(s lifecycle.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Phase != r.phase {
		r.phase = s.Phase
		switch s.Phase {
		case lifecycle.PhaseSubmitting:
			r.lastProgress = -1
			fmt.Fprintln(r.w, "Submitting job...")
		case lifecycle.PhasePolling:
			if s.Session != nil {
				fmt.Fprintf(r.w, "Job %s accepted, processing...\n", s.Session.JobID)
			}
		case lifecycle.PhaseFailed:
			if s.Outcome != nil {
				r.outcome(*s.Outcome)
			}
			return
		}
	}

	if s.Phase == lifecycle.PhasePolling && s.Session != nil {
		pct := int(math.Round(s.Session.Progress * 100))
		if pct != r.lastProgress {
			r.lastProgress = pct
			fmt.Fprintf(r.w, "Progress: %3d%%\n", pct)
		}
	}
}

// Result renders the outcome banner and its details
func (r *Renderer) Result(o lifecycle.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome(o)
}

func (r *Renderer) outcome(o lifecycle.Outcome) {
	banner := strings.ToUpper(o.Status)
	if o.Matched {
		banner = "MATCH: " + banner
	}
	rule := strings.Repeat("=", len(banner)+4)

	fmt.Fprintln(r.w, rule)
	fmt.Fprintf(r.w, "  %s\n", banner)
	fmt.Fprintln(r.w, rule)
	fmt.Fprintln(r.w, o.Summary)
	for _, d := range o.Details {
		fmt.Fprintf(r.w, "  - %s\n", d)
	}
}

func extractionFields(e intake.Extraction) (string, string) {
	switch e.State {
	case intake.ExtractionPending:
		return Extracting, Extracting
	case intake.ExtractionFailed:
		return ExtractFailed, e.Detail
	default:
		return orNA(e.DocumentID), orNA(e.VendorName)
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

func slotLabel(s intake.Slot) string {
	if s == intake.SlotPurchaseOrder {
		return "Purchase Order"
	}
	return "Invoice"
}
