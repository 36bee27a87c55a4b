package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docchat/internal/metrics"
)

// failedRetention is how long an unbound ERROR job stays visible by id.
const failedRetention = 30 * time.Minute

// AbortSignaller stops in-flight streams that still read an old document.
type AbortSignaller interface {
	Signal(ctx context.Context, sessionID string)
	Reset(ctx context.Context, sessionID string)
}

// BindingStore is the durable session -> document pointer.
type BindingStore interface {
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

// Tracker owns every tracked job plus the session -> job index. All mutation
// happens under mu, so a session never ends up with two live jobs.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	bySession map[string]string

	aborts   AbortSignaller
	bindings BindingStore
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewTracker(aborts AbortSignaller, bindings BindingStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:      make(map[string]*Job),
		bySession: make(map[string]string),
		aborts:    aborts,
		bindings:  bindings,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create installs a new job for the session, replacing any existing one.
// Keys in required that have no non-empty value in metadata become Missing.
func (t *Tracker) Create(ctx context.Context, sessionID string, metadata map[string]string, required []string) (Job, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Job{}, ErrInvalidInput
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if oldID, ok := t.bySession[sessionID]; ok {
		t.replaceLocked(ctx, sessionID, oldID)
	}
	t.pruneLocked()

	now := t.now()
	j := &Job{
		Kind:      KindTracked,
		ID:        t.newID(),
		SessionID: sessionID,
		Metadata:  make(map[string]string, len(metadata)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for k, v := range metadata {
		if v = strings.TrimSpace(v); v != "" {
			j.Metadata[k] = v
		}
	}
	for _, key := range required {
		if j.Metadata[key] == "" {
			j.Missing = append(j.Missing, key)
		}
	}
	if len(j.Missing) > 0 {
		j.Status = StatusWaitForMetadata
	} else {
		j.Status = StatusProcessing
	}

	t.jobs[j.ID] = j
	t.bySession[sessionID] = j.ID
	metrics.JobTransitions.WithLabelValues(string(j.Status)).Inc()
	t.logger.Info("job created", "job_id", j.ID, "session_id", sessionID, "status", j.Status, "missing", j.Missing)
	return j.clone(), nil
}

// replaceLocked force-errors the old job and drops it from the table, stops
// streams reading its document and clears the durable binding before the
// caller installs a new job. Late transitions on the old id then miss with
// ErrJobNotFound and cannot touch the new job's binding.
func (t *Tracker) replaceLocked(ctx context.Context, sessionID, oldID string) {
	if t.aborts != nil {
		t.aborts.Signal(ctx, sessionID)
	}
	if _, ok := t.jobs[oldID]; ok {
		metrics.JobTransitions.WithLabelValues(string(StatusError)).Inc()
		delete(t.jobs, oldID)
	}
	delete(t.bySession, sessionID)
	t.clearBinding(ctx, sessionID)
	t.logger.Info("job replaced", "old_job_id", oldID, "session_id", sessionID)
}

// Get resolves a job id or a session id. ERROR jobs are returned as-is.
func (t *Tracker) Get(idOrSession string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if j, ok := t.jobs[idOrSession]; ok {
		return j.clone(), true
	}
	if id, ok := t.bySession[idOrSession]; ok {
		if j, ok := t.jobs[id]; ok {
			return j.clone(), true
		}
	}
	return Job{}, false
}

// ForSession returns the job currently bound to the session.
func (t *Tracker) ForSession(sessionID string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.bySession[sessionID]
	if !ok {
		return Job{}, false
	}
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Bind points a session at an existing job.
func (t *Tracker) Bind(sessionID, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.SessionID != sessionID {
		return fmt.Errorf("%w: job %s belongs to another session", ErrStateViolation, jobID)
	}
	t.bySession[sessionID] = jobID
	return nil
}

// UpdateMetadata merges values into a job waiting for metadata. Once every
// missing key is filled the job moves to PROCESSING.
func (t *Tracker) UpdateMetadata(jobID string, values map[string]string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if j.Status != StatusWaitForMetadata {
		return Job{}, fmt.Errorf("%w: metadata is immutable in %s", ErrStateViolation, j.Status)
	}

	for k, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			j.Metadata[k] = v
		}
	}
	remaining := j.Missing[:0]
	for _, key := range j.Missing {
		if j.Metadata[key] == "" {
			remaining = append(remaining, key)
		}
	}
	j.Missing = remaining
	if len(j.Missing) == 0 {
		j.Status = StatusProcessing
		metrics.JobTransitions.WithLabelValues(string(StatusProcessing)).Inc()
	}
	j.UpdatedAt = t.now()
	return j.clone(), nil
}

// BeginCommit claims a PROCESSING job for ingestion. A second claim on the
// same job fails until the first ends in MarkReady or MarkError.
func (t *Tracker) BeginCommit(jobID string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if j.Status != StatusProcessing {
		return j.clone(), fmt.Errorf("%w: cannot commit %s job", ErrStateViolation, j.Status)
	}
	if j.Committing {
		return j.clone(), fmt.Errorf("%w: commit already running", ErrStateViolation)
	}
	j.Committing = true
	j.UpdatedAt = t.now()
	return j.clone(), nil
}

func (t *Tracker) MarkReady(jobID string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if j.Status != StatusProcessing {
		return Job{}, fmt.Errorf("%w: cannot mark %s job ready", ErrStateViolation, j.Status)
	}
	j.Status = StatusReady
	j.Committing = false
	j.UpdatedAt = t.now()
	metrics.JobTransitions.WithLabelValues(string(StatusReady)).Inc()
	t.logger.Info("job ready", "job_id", j.ID, "session_id", j.SessionID)
	return j.clone(), nil
}

// MarkError is legal from any state. When the job is still the session's
// current one it unbinds the session and clears the durable binding, so the
// session never points at a half-ingested document.
func (t *Tracker) MarkError(ctx context.Context, jobID, message string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	j.Status = StatusError
	j.Error = message
	j.Committing = false
	j.UpdatedAt = t.now()
	if t.bySession[j.SessionID] == j.ID {
		delete(t.bySession, j.SessionID)
		t.clearBinding(ctx, j.SessionID)
	}
	metrics.JobTransitions.WithLabelValues(string(StatusError)).Inc()
	t.logger.Warn("job failed", "job_id", j.ID, "session_id", j.SessionID, "error", message)
	return j.clone(), nil
}

// ClearSession drops the session's job and resets its abort flag.
func (t *Tracker) ClearSession(ctx context.Context, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.bySession[sessionID]; ok {
		delete(t.jobs, id)
		delete(t.bySession, sessionID)
	}
	if t.aborts != nil {
		t.aborts.Reset(ctx, sessionID)
	}
}

// pruneLocked drops ERROR jobs that no session points at once they are older
// than failedRetention.
func (t *Tracker) pruneLocked() {
	cutoff := t.now().Add(-failedRetention)
	for id, j := range t.jobs {
		if j.Status != StatusError || t.bySession[j.SessionID] == id {
			continue
		}
		if j.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
}

func (t *Tracker) clearBinding(ctx context.Context, sessionID string) {
	if t.bindings == nil {
		return
	}
	if err := t.bindings.DeleteBySessionID(ctx, sessionID); err != nil {
		t.logger.Warn("clear active document failed", "session_id", sessionID, "error", err)
	}
}
