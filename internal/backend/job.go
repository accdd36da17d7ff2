package backend

import (
	"errors"
	"sync"
	"time"

	"github.com/zombor/po-matcher/internal/matcher"
)

// Job statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Progress milestones reported while a job runs
const (
	ProgressStarted           = 5
	ProgressInvoiceRead       = 15
	ProgressPurchaseOrderRead = 25
	ProgressFirstExtracted    = 50
	ProgressBothExtracted     = 75
	ProgressDone              = 100
)

// ErrJobNotFound is returned for unknown job ids
var ErrJobNotFound = errors.New("job not found")

// Job represents one invoice and purchase order comparison
type Job struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	Results   *matcher.Result `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Terminal reports whether the job has finished
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// JobStore keeps jobs in memory for the life of the process
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty JobStore
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Add stores a new job
func (s *JobStore) Add(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns a copy of the job with id
func (s *JobStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	c := *job
	return &c, nil
}

// Update applies fn to the stored job under the store's lock
func (s *JobStore) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	return nil
}

// Prune removes finished jobs last updated before cutoff and returns how many were removed
func (s *JobStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored jobs
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
