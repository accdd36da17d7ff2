package matcher

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/zombor/po-matcher/internal/scanning"
)

// Match statuses
const (
	StatusApproved    = "APPROVED"
	StatusNeedsReview = "NEEDS REVIEW"
)

// Mismatch categories
const (
	CategoryVendor   = "Vendor Mismatch"
	CategoryTotal    = "Total Price Variance"
	CategoryLineItem = "Line Item Discrepancy"
)

const (
	matchSummary = "Perfect 2-Way Match! All key fields and line items verified and approved for payment processing."
	// amountTolerance absorbs floating point noise in extracted amounts
	amountTolerance = 0.01
)

// Result is the outcome of comparing an invoice with its purchase order
type Result struct {
	IsMatch            bool                  `json:"isMatch"`
	Status             string                `json:"status"`
	Summary            string                `json:"summary"`
	Details            []string              `json:"details"`
	MismatchCategories []string              `json:"mismatch_categories"`
	InvoiceData        scanning.DocumentData `json:"invoice_data"`
	POData             scanning.DocumentData `json:"po_data"`
}

// Compare performs a two-way match of vendor, total and line items
func Compare(invoice, po scanning.DocumentData) Result {
	r := Result{
		IsMatch:            true,
		Status:             StatusApproved,
		Details:            []string{},
		MismatchCategories: []string{},
		InvoiceData:        invoice,
		POData:             po,
	}

	if NormalizeText(invoice.VendorName) != NormalizeText(po.VendorName) {
		r.mismatch(CategoryVendor, fmt.Sprintf("Vendor Mismatch: Invoice: '%s' vs. PO: '%s'", invoice.VendorName, po.VendorName))
	} else {
		r.Details = append(r.Details, fmt.Sprintf("Vendor Match: %s", invoice.VendorName))
	}

	if diff := math.Abs(invoice.TotalAmount - po.TotalAmount); diff > amountTolerance {
		r.mismatch(CategoryTotal, fmt.Sprintf("Total Amount Mismatch: Invoice: $%.2f vs. PO: $%.2f. Difference: $%.2f",
			invoice.TotalAmount, po.TotalAmount, diff))
	} else {
		r.Details = append(r.Details, fmt.Sprintf("Total Amount Match: $%.2f", invoice.TotalAmount))
	}

	if r.compareItems(invoice.Items, po.Items) {
		r.MismatchCategories = append(r.MismatchCategories, CategoryLineItem)
	} else {
		r.Details = append(r.Details, "✓ All Line Items Verified.")
	}

	if r.IsMatch {
		r.Summary = matchSummary
		return r
	}

	r.Status = StatusNeedsReview
	r.Summary = fmt.Sprintf("⚠️ CRITICAL DISCREPANCY: Review required due to %s. Please check the Verification Details below.",
		strings.Join(uniqueSorted(r.MismatchCategories), ", "))
	return r
}

func (r *Result) mismatch(category, detail string) {
	r.IsMatch = false
	r.MismatchCategories = append(r.MismatchCategories, category)
	r.Details = append(r.Details, detail)
}

// compareItems checks every invoice line against the purchase order, using each PO line at
// most once. It reports whether any discrepancy was found.
func (r *Result) compareItems(invoiceItems, poItems []scanning.LineItem) bool {
	remaining := append([]scanning.LineItem{}, poItems...)
	discrepancy := false
	flag := func(detail string) {
		r.IsMatch = false
		discrepancy = true
		r.Details = append(r.Details, detail)
	}

	for _, item := range invoiceItems {
		idx := bestItemMatch(item, remaining)
		if idx < 0 {
			flag(fmt.Sprintf("❌ UNMATCHED ITEM: Invoice item '%s' not found on PO.", item.Description))
			continue
		}
		ordered := remaining[idx]

		if item.Quantity != ordered.Quantity {
			flag(fmt.Sprintf("⚠️ QTY MISMATCH for Item '%s': Invoice Qty (%v) != PO Qty (%v)",
				item.Description, item.Quantity, ordered.Quantity))
		}
		if math.Abs(item.UnitPrice-ordered.UnitPrice) > amountTolerance {
			flag(fmt.Sprintf("⚠️ PRICE MISMATCH for Item '%s': Invoice Price ($%.2f) != PO Price ($%.2f)",
				item.Description, item.UnitPrice, ordered.UnitPrice))
		}

		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	if len(remaining) > 0 {
		flag(fmt.Sprintf("❌ MISSING ITEMS: %d item(s) ordered on PO but not found on Invoice.", len(remaining)))
	}
	return discrepancy
}

// bestItemMatch returns the index of the first PO line whose normalized description contains,
// or is contained in, the invoice line's description
func bestItemMatch(item scanning.LineItem, candidates []scanning.LineItem) int {
	want := NormalizeText(item.Description)
	for i, c := range candidates {
		have := NormalizeText(c.Description)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return i
		}
	}
	return -1
}

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// NormalizeText lowercases s, strips punctuation and collapses whitespace
func NormalizeText(s string) string {
	s = nonAlphanumeric.ReplaceAllString(strings.ToLower(s), "")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
