package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

// maxFormSize bounds multipart uploads, sized for high-resolution phone photos
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// errMissingUpload is returned when a form file part is absent
var errMissingUpload = errors.New("missing upload")

// errEmptyFilename is returned when a form file part has no filename
var errEmptyFilename = errors.New("empty filename")

// readUpload reads the form file named field
func readUpload(r *http.Request, field string) (Upload, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Upload{}, errMissingUpload
		}
		return Upload{}, fmt.Errorf("reading form file %s: %w", field, err)
	}
	defer f.Close()

	if header.Filename == "" {
		return Upload{}, errEmptyFilename
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, fmt.Errorf("reading file data: %w", err)
	}
	return Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return false
		}
		if errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return false
	}
	return true
}

// handleExtractPreview extracts the id and vendor of a single uploaded file
func (s *Server) handleExtractPreview(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	upload, err := readUpload(r, "file")
	switch {
	case errors.Is(err, errMissingUpload):
		writeError(w, "No file uploaded", http.StatusBadRequest)
		return
	case errors.Is(err, errEmptyFilename):
		writeError(w, "Filename cannot be empty.", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("Error reading upload", "error", err)
		writeError(w, fmt.Sprintf("Server error during preview extraction: %v", err), http.StatusInternalServerError)
		return
	}

	preview, err := s.service.Preview(r.Context(), upload)
	if err != nil {
		slog.Error("Error extracting preview", "error", err, "filename", upload.Filename)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// handleSubmitJob starts a matching job for an invoice and purchase order
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	invoice, invoiceErr := readUpload(r, "invoice_file")
	po, poErr := readUpload(r, "po_file")
	switch {
	case errors.Is(invoiceErr, errMissingUpload) || errors.Is(poErr, errMissingUpload):
		writeError(w, "Both 'invoice_file' and 'po_file' are required.", http.StatusBadRequest)
		return
	case errors.Is(invoiceErr, errEmptyFilename) || errors.Is(poErr, errEmptyFilename):
		writeError(w, "Filenames cannot be empty.", http.StatusBadRequest)
		return
	case invoiceErr != nil || poErr != nil:
		err := errors.Join(invoiceErr, poErr)
		slog.Error("Error reading uploads", "error", err)
		writeError(w, fmt.Sprintf("Error reading files: %v", err), http.StatusInternalServerError)
		return
	}

	jobID, err := s.service.Submit(invoice, po)
	if err != nil {
		slog.Error("Error submitting job", "error", err)
		writeError(w, "Service is shutting down", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type statusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Results  any    `json:"results,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleStatus reports the progress or outcome of a job
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Status(r.PathValue("job_id"))
	if err != nil {
		writeError(w, "Job not found", http.StatusNotFound)
		return
	}

	switch job.Status {
	case StatusCompleted:
		writeJSON(w, http.StatusOK, statusResponse{Status: StatusCompleted, Progress: ProgressDone, Results: job.Results})
	case StatusFailed:
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: StatusFailed, Progress: ProgressDone, Error: job.Error})
	default:
		writeJSON(w, http.StatusOK, statusResponse{Status: StatusProcessing, Progress: job.Progress})
	}
}
