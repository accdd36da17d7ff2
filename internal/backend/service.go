package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zombor/po-matcher/internal/matcher"
	"github.com/zombor/po-matcher/internal/scanning"
)

// DefaultRetention is how long finished jobs stay queryable
const DefaultRetention = time.Hour

// NotAvailable is reported for preview fields the extraction could not find
const NotAvailable = "N/A"

// IDGenerator generates unique IDs for jobs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is a file received from a client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Preview is the quick extraction shown while documents are being selected
type Preview struct {
	DocumentID string `json:"document_id"`
	VendorName string `json:"vendor_name"`
}

// Service runs matching jobs
type Service struct {
	scanner     scanning.Scanner
	cache       Cache
	jobs        *JobStore
	idGenerator IDGenerator
	timeSource  TimeSource
	retention   time.Duration

	extractions singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new Service with random job ids. A nil cache disables caching.
func NewService(scanner scanning.Scanner, cache Cache) *Service {
	return NewServiceWithDeps(scanner, cache, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(scanner scanning.Scanner, cache Cache, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cache == nil {
		cache = noCache{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		scanner:     scanner,
		cache:       cache,
		jobs:        NewJobStore(),
		idGenerator: idGen,
		timeSource:  timeSrc,
		retention:   DefaultRetention,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetRetention changes how long finished jobs are kept
func (s *Service) SetRetention(d time.Duration) {
	s.retention = d
}

// Preview extracts the document id and vendor of a single file
func (s *Service) Preview(ctx context.Context, upload Upload) (*Preview, error) {
	contentType, err := scanning.DetectContentType(upload.Filename, upload.ContentType, upload.Data)
	if err != nil {
		return nil, &ExtractionError{Stage: "Extraction failed", Err: err}
	}

	doc, err := s.extract(ctx, upload.Data, contentType, scanning.DocumentGeneric)
	if err != nil {
		return nil, &ExtractionError{Stage: "AI Parsing failed", Err: err}
	}

	slog.Info("Preview extracted", "filename", upload.Filename, "document_id", doc.DocumentID, "vendor", doc.VendorName)
	return &Preview{
		DocumentID: orNotAvailable(doc.DocumentID),
		VendorName: orNotAvailable(doc.VendorName),
	}, nil
}

// Submit registers a new job and starts it in the background
func (s *Service) Submit(invoice, po Upload) (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", fmt.Errorf("service closed: %w", err)
	}

	now := s.timeSource.Now()
	if n := s.jobs.Prune(now.Add(-s.retention)); n > 0 {
		slog.Info("Pruned finished jobs", "count", n)
	}

	job := &Job{
		ID:        s.idGenerator.Generate(),
		Status:    StatusProcessing,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs.Add(job)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job.ID, invoice, po)
	}()

	slog.Info("Job submitted", "job_id", job.ID, "invoice", invoice.Filename, "po", po.Filename)
	return job.ID, nil
}

// Status returns a snapshot of a job
func (s *Service) Status(id string) (*Job, error) {
	return s.jobs.Get(id)
}

// Wait blocks until every running job has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels running jobs and waits for them to stop
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(id string, invoice, po Upload) {
	slog.Info("Starting document matching", "job_id", id)
	s.setProgress(id, ProgressStarted)

	result, err := s.match(id, invoice, po)
	now := s.timeSource.Now()
	if err != nil {
		slog.Error("Job failed", "job_id", id, "error", err)
		s.jobs.Update(id, func(j *Job) {
			j.Status = StatusFailed
			j.Progress = ProgressDone
			j.Error = err.Error()
			j.UpdatedAt = now
		})
		return
	}

	slog.Info("Job completed", "job_id", id, "match", result.IsMatch, "status", result.Status)
	s.jobs.Update(id, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = ProgressDone
		j.Results = result
		j.UpdatedAt = now
	})
}

func (s *Service) match(id string, invoice, po Upload) (*matcher.Result, error) {
	invoiceType, invoiceErr := scanning.DetectContentType(invoice.Filename, invoice.ContentType, invoice.Data)
	s.setProgress(id, ProgressInvoiceRead)
	poType, poErr := scanning.DetectContentType(po.Filename, po.ContentType, po.Data)
	s.setProgress(id, ProgressPurchaseOrderRead)

	if invoiceErr != nil || poErr != nil {
		return nil, fmt.Errorf("File Extraction Error: %s | %s", errText(invoiceErr), errText(poErr))
	}

	var (
		invoiceData, poData *scanning.DocumentData
		mu                  sync.Mutex
		extracted           int
	)
	// the first document to finish reports 50, the second 75
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		extracted++
		if extracted == 1 {
			s.setProgress(id, ProgressFirstExtracted)
		} else {
			s.setProgress(id, ProgressBothExtracted)
		}
	}

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		doc, err := s.extract(ctx, invoice.Data, invoiceType, scanning.DocumentInvoice)
		if err != nil {
			return fmt.Errorf("AI Extraction Error (Invoice): %w", err)
		}
		invoiceData = doc
		done()
		return nil
	})
	g.Go(func() error {
		doc, err := s.extract(ctx, po.Data, poType, scanning.DocumentPurchaseOrder)
		if err != nil {
			return fmt.Errorf("AI Extraction Error (PO): %w", err)
		}
		poData = doc
		done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := matcher.Compare(*invoiceData, *poData)
	return &result, nil
}

// extract returns the cached extraction of data, or scans it. Concurrent extractions of the
// same bytes share one scanner call, which runs until the service closes; ctx only bounds
// how long this caller waits for it.
func (s *Service) extract(ctx context.Context, data []byte, contentType, docType string) (*scanning.DocumentData, error) {
	key := CacheKey(data, docType)

	cached, err := s.cache.Get(key)
	if err != nil {
		slog.Warn("Error reading extraction cache", "error", err)
	}
	if cached != nil {
		slog.Debug("Extraction cache hit", "doc_type", docType)
		return cached, nil
	}

	ch := s.extractions.DoChan(key, func() (interface{}, error) {
		doc, err := s.scanner.ScanDocument(s.ctx, data, contentType, docType)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(key, doc); err != nil {
			slog.Warn("Error writing extraction cache", "error", err)
		}
		return doc, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		slog.Debug("Shared in-flight extraction", "doc_type", docType)
	}

	doc := *res.Val.(*scanning.DocumentData)
	doc.Items = append([]scanning.LineItem{}, doc.Items...)
	return &doc, nil
}

func (s *Service) setProgress(id string, progress int) {
	now := s.timeSource.Now()
	s.jobs.Update(id, func(j *Job) {
		if progress > j.Progress {
			j.Progress = progress
			j.UpdatedAt = now
		}
	})
}

// ExtractionError is a failed preview extraction
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func orNotAvailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

func errText(err error) string {
	if err == nil {
		return "OK"
	}
	return err.Error()
}
