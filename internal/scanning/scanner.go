package scanning

import (
	"context"
	"errors"
)

// Document types passed to a Scanner
const (
	DocumentInvoice       = "Invoice"
	DocumentPurchaseOrder = "Purchase Order"
	// DocumentGeneric is used for previews, where the role of the file is not yet known
	DocumentGeneric = "Document"
)

// ErrUnsupportedFormat is returned for files that are neither a PDF nor a supported image
var ErrUnsupportedFormat = errors.New("Unsupported file format.")

// LineItem is a single billed or ordered line
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// DocumentData contains the fields extracted from an invoice or purchase order
type DocumentData struct {
	DocumentType string     `json:"document_type"`
	DocumentID   string     `json:"document_id"`
	VendorName   string     `json:"vendor_name"`
	TotalAmount  float64    `json:"total_amount"`
	Items        []LineItem `json:"items"`
}

// Scanner defines the interface for document extraction
type Scanner interface {
	// ScanDocument reads an image or PDF and extracts the document fields. docType is one
	// of the Document constants.
	ScanDocument(ctx context.Context, data []byte, contentType, docType string) (*DocumentData, error)
	// Close closes the scanner and releases resources
	Close() error
}
