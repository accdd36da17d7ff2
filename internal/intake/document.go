package intake

import "github.com/zombor/po-matcher/internal/remote"

// Slot is one of the two document roles
type Slot int

const (
	SlotInvoice Slot = iota
	SlotPurchaseOrder

	slotCount = 2
)

func (s Slot) String() string {
	switch s {
	case SlotInvoice:
		return "invoice"
	case SlotPurchaseOrder:
		return "purchase_order"
	default:
		return "unknown"
	}
}

func (s Slot) valid() bool {
	return s >= 0 && s < slotCount
}

// ExtractionState is the progress of a document's preview extraction
type ExtractionState int

const (
	ExtractionPending ExtractionState = iota
	ExtractionResolved
	ExtractionFailed
)

func (s ExtractionState) String() string {
	switch s {
	case ExtractionPending:
		return "pending"
	case ExtractionResolved:
		return "resolved"
	case ExtractionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Extraction holds the preview result. DocumentID and VendorName are set when Resolved,
// Detail when Failed.
type Extraction struct {
	State      ExtractionState
	DocumentID string
	VendorName string
	Detail     string
}

// Document is a file selected for a slot
type Document struct {
	Slot        Slot
	DisplayName string
	Extraction  Extraction
	File        remote.File

	seq uint64
}

// Finalized reports whether the document's extraction resolved
func (d *Document) Finalized() bool {
	return d != nil && d.Extraction.State == ExtractionResolved
}

func (d *Document) clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Snapshot is a point-in-time copy of both slots. A nil document means the slot is empty.
type Snapshot struct {
	Invoice       *Document
	PurchaseOrder *Document
}

// Ready reports whether both documents are finalized
func (s Snapshot) Ready() bool {
	return s.Invoice.Finalized() && s.PurchaseOrder.Finalized()
}

// Get returns the document in slot
func (s Snapshot) Get(slot Slot) *Document {
	switch slot {
	case SlotInvoice:
		return s.Invoice
	case SlotPurchaseOrder:
		return s.PurchaseOrder
	default:
		return nil
	}
}
