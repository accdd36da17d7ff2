package scanning

import (
	"context"
	"strings"
	"time"
)

// Static is a Scanner that returns fixed documents. It stands in for an LLM when none is
// configured.
type Static struct {
	delay time.Duration
	docs  map[string]DocumentData
}

// NewStatic creates a Static scanner answering after delay with the sample TechSupply Co.
// invoice and purchase order
func NewStatic(delay time.Duration) *Static {
	items := []LineItem{{Description: "Laptop", Quantity: 1, UnitPrice: 1200.00}}
	return &Static{
		delay: delay,
		docs: map[string]DocumentData{
			DocumentInvoice: {
				DocumentType: DocumentInvoice,
				DocumentID:   "INV-2024-001",
				VendorName:   "TechSupply Co.",
				TotalAmount:  1295.00,
				Items:        items,
			},
			DocumentPurchaseOrder: {
				DocumentType: DocumentPurchaseOrder,
				DocumentID:   "PO-2024-001",
				VendorName:   "TechSupply Co.",
				TotalAmount:  1295.00,
				Items:        items,
			},
			DocumentGeneric: {
				DocumentType: DocumentGeneric,
				VendorName:   "TechSupply Co.",
			},
		},
	}
}

// Set replaces the document returned for docType
func (s *Static) Set(docType string, doc DocumentData) {
	s.docs[docType] = doc
}

// ScanDocument returns a copy of the fixed document for docType
func (s *Static) ScanDocument(ctx context.Context, data []byte, contentType, docType string) (*DocumentData, error) {
	if !supported(strings.ToLower(strings.TrimSpace(contentType))) {
		return nil, ErrUnsupportedFormat
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	doc, ok := s.docs[docType]
	if !ok {
		doc = s.docs[DocumentGeneric]
	}
	doc.Items = append([]LineItem{}, doc.Items...)
	return &doc, nil
}

// Close is a no-op
func (s *Static) Close() error {
	return nil
}
