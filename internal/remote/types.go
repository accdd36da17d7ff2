package remote

import (
	"fmt"
	"os"
	"path/filepath"
)

// Job statuses reported by the backend
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Defaults applied to a partially populated results payload
const (
	DefaultResultStatus  = "UNKNOWN"
	DefaultResultSummary = "No summary available."
)

// File is a selected document: its name and raw bytes
type File struct {
	Name string
	Data []byte
}

// FileFromPath reads a local file into a File named after its base name
func FileFromPath(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading file: %w", err)
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// Preview is the result of a lightweight preview extraction
type Preview struct {
	DocumentID string `json:"document_id"`
	VendorName string `json:"vendor_name"`
}

// JobStatus is the body of a status poll
type JobStatus struct {
	Status   string   `json:"status"`
	Progress *int     `json:"progress,omitempty"`
	Results  *Results `json:"results,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Results is the comparison payload of a completed job. Every field is optional.
type Results struct {
	IsMatch *bool    `json:"isMatch,omitempty"`
	Status  *string  `json:"status,omitempty"`
	Summary *string  `json:"summary,omitempty"`
	Details []string `json:"details,omitempty"`
}

// MatchResult is a Results payload with defaults applied
type MatchResult struct {
	IsMatch bool
	Status  string
	Summary string
	Details []string
}

// Normalize fills in defaults for absent fields. A nil receiver yields all defaults.
func (r *Results) Normalize() MatchResult {
	result := MatchResult{
		Status:  DefaultResultStatus,
		Summary: DefaultResultSummary,
		Details: []string{},
	}
	if r == nil {
		return result
	}
	if r.IsMatch != nil {
		result.IsMatch = *r.IsMatch
	}
	if r.Status != nil {
		result.Status = *r.Status
	}
	if r.Summary != nil {
		result.Summary = *r.Summary
	}
	if len(r.Details) > 0 {
		result.Details = append(result.Details, r.Details...)
	}
	return result
}
