package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/forecast-api/internal/forecast"
)

// Registry is the authoritative in-memory store of job records. It supports
// concurrent creation and reads from request handlers; transitions are only
// ever applied by the single worker. Records are never evicted, so memory
// grows with the number of submissions for the life of the process.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // insertion order for List
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
	}
}

// Create allocates a fresh job in the pending state and returns a copy.
func (r *Registry) Create(req forecast.Request) Job {
	j := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Request:     req,
		SubmittedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	r.mu.Unlock()

	return j.clone()
}

// Get returns a snapshot of the job with the given id.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Len returns the total number of jobs ever created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns snapshots in submission order. An empty filter selects all
// statuses; limit <= 0 means no limit. The limit applies after filtering.
func (r *Registry) List(filter Status, limit int) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		j := r.jobs[id]
		if filter != "" && j.Status != filter {
			continue
		}
		jobs = append(jobs, j.clone())
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs
}

// CountByStatus returns job counts keyed by status, with every status
// present in the result.
func (r *Registry) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts
}

// MarkProcessing transitions a pending job to processing. Worker-only.
func (r *Registry) MarkProcessing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := r.mustGet(id)
	if j.Status != StatusPending {
		panic(fmt.Sprintf("job %s: invalid transition %s -> %s", id, j.Status, StatusProcessing))
	}
	j.Status = StatusProcessing
}

// MarkCompleted transitions a processing job to completed. Worker-only.
func (r *Registry) MarkCompleted(id string, result forecast.Prediction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := r.mustGet(id)
	if j.Status != StatusProcessing {
		panic(fmt.Sprintf("job %s: invalid transition %s -> %s", id, j.Status, StatusCompleted))
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.Result = &result
}

// MarkFailed transitions a processing job to failed. Worker-only.
func (r *Registry) MarkFailed(id string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := r.mustGet(id)
	if j.Status != StatusProcessing {
		panic(fmt.Sprintf("job %s: invalid transition %s -> %s", id, j.Status, StatusFailed))
	}
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.CompletedAt = &now
	j.Error = errMsg
}

// mustGet returns the stored record or panics. Transitions are only applied
// to ids handed out by Create, so a miss is a programming error.
func (r *Registry) mustGet(id string) *Job {
	j, ok := r.jobs[id]
	if !ok {
		panic(fmt.Sprintf("job %s: not in registry", id))
	}
	return j
}
