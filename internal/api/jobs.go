package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/pipeline"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrJobFinished is returned when cancelling a job that already ended.
var ErrJobFinished = errors.New("job already finished")

// Job is an asynchronous pipeline run.
type Job struct {
	ID          string           `json:"id"`
	Status      JobStatus        `json:"status"`
	Document    string           `json:"document"`
	Result      *pipeline.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	CompletedAt string           `json:"completed_at,omitempty"`
	ctx         context.Context
	cancel      context.CancelFunc
}

func (j *Job) finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// JobStore tracks jobs in memory and bounds how many run at once.
type JobStore struct {
	jobs  map[string]*Job
	mu    sync.RWMutex
	slots chan struct{}
	now   func() time.Time
}

// NewJobStore creates a job store running at most workers jobs concurrently.
func NewJobStore(workers int) *JobStore {
	if workers <= 0 {
		workers = 1
	}
	return &JobStore{
		jobs:  make(map[string]*Job),
		slots: make(chan struct{}, workers),
		now:   time.Now,
	}
}

func (s *JobStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Create registers a pending job.
func (s *JobStore) Create(document string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	now := s.timestamp()
	job := &Job{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		Document:  document,
		CreatedAt: now,
		UpdatedAt: now,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.jobs[job.ID] = job
	return *job
}

// Get returns a snapshot of a job.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs, oldest first.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt != jobs[j].CreatedAt {
			return jobs[i].CreatedAt < jobs[j].CreatedAt
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// Cancel stops a pending or running job. A running job's result is discarded.
func (s *JobStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ferrors.NewNotFound("job", id)
	}
	if job.finished() {
		return ErrJobFinished
	}

	job.cancel()
	job.Status = JobStatusCancelled
	job.UpdatedAt = s.timestamp()
	job.CompletedAt = job.UpdatedAt
	return nil
}

// start marks a pending job running. It reports false if the job was cancelled.
func (s *JobStore) start(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists || job.Status != JobStatusPending {
		return false
	}
	job.Status = JobStatusRunning
	job.UpdatedAt = s.timestamp()
	return true
}

// finish records the result unless the job was cancelled meanwhile.
func (s *JobStore) finish(id string, res pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists || job.Status != JobStatusRunning {
		return
	}
	job.Status = JobStatusCompleted
	if !res.Success {
		job.Status = JobStatusFailed
		job.Error = res.Error
	}
	job.Result = &res
	job.UpdatedAt = s.timestamp()
	job.CompletedAt = job.UpdatedAt
	job.cancel()
}

// run executes work for a job once a worker slot is free.
func (s *JobStore) run(job Job, work func() pipeline.Result) {
	select {
	case s.slots <- struct{}{}:
	case <-job.ctx.Done():
		return
	}
	defer func() { <-s.slots }()

	if !s.start(job.ID) {
		return
	}
	s.finish(job.ID, work())
}

// handleJobs handles GET /jobs and POST /jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs := s.jobs.List()
		respondList(w, jobs, len(jobs))
	case http.MethodPost:
		in, err := s.readRunInput(w, r)
		if err != nil {
			respondRequestError(w, err)
			return
		}
		job := s.jobs.Create(in.DocumentName)
		s.hub.Broadcast(RunEvent{Type: EventJobQueued, JobID: job.ID, Document: job.Document})
		go s.jobs.run(job, func() pipeline.Result {
			res, _ := s.process(job.ctx, in)
			return res
		})
		respond(w, http.StatusAccepted, job)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and POST are allowed")
	}
}

// handleJobByID handles GET /jobs/{id} and DELETE /jobs/{id}.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateID(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, exists := s.jobs.Get(id)
		if !exists {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
			return
		}
		respond(w, http.StatusOK, job)
	case http.MethodDelete:
		err := s.jobs.Cancel(id)
		switch {
		case ferrors.Is(err, ferrors.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		case errors.Is(err, ErrJobFinished):
			respondError(w, http.StatusConflict, "JOB_FINISHED", err.Error())
		default:
			s.hub.Broadcast(RunEvent{Type: EventJobCancelled, JobID: id})
			respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
		}
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
	}
}
