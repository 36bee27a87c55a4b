// Package job implements the in-memory ingestion job state machine.
package job

import (
	"errors"
	"slices"
	"time"
)

type Status string

const (
	StatusWaitForMetadata Status = "WAIT_FOR_METADATA"
	StatusProcessing      Status = "PROCESSING"
	StatusReady           Status = "READY"
	StatusError           Status = "ERROR"
)

func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Kind tags where a Job value came from. Only tracked jobs can be mutated,
// and only through the Tracker.
type Kind int

const (
	KindTracked Kind = iota
	// KindRecovered is a read-only READY snapshot rebuilt from a durable
	// active-document binding after the in-memory job is gone.
	KindRecovered
)

// Well-known metadata keys.
const (
	KeyDocumentID   = "company_document_id"
	KeyRevision     = "revision_number"
	KeyFilename     = "filename"
	KeyDocumentType = "document_type"
	KeyRevisionCode = "revision_code"
	KeyRevisionDate = "revision_date"
)

var (
	ErrStateViolation = errors.New("job state violation")
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidInput   = errors.New("invalid job input")
)

// Job is a copy of a job's state. Mutating it does not affect the tracker.
type Job struct {
	Kind      Kind              `json:"-"`
	ID        string            `json:"job_id"`
	SessionID string            `json:"session_id"`
	Status    Status            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	Missing   []string          `json:"missing_fields"`
	Error     string            `json:"error,omitempty"`
	// Committing is set while chunk/embed/index runs for the job.
	Committing bool      `json:"committing,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (j Job) Recovered() bool {
	return j.Kind == KindRecovered
}

// DocumentID and Revision form the retrieval scope once the job is ready.
func (j Job) DocumentID() string { return j.Metadata[KeyDocumentID] }
func (j Job) Revision() string   { return j.Metadata[KeyRevision] }
func (j Job) Filename() string   { return j.Metadata[KeyFilename] }

// NewRecovered builds the read-only snapshot used when a session has a
// durable binding but no tracked job (for example after a restart).
func NewRecovered(sessionID, documentID, revision, filename string, updatedAt time.Time) Job {
	return Job{
		Kind:      KindRecovered,
		ID:        "recovered:" + sessionID,
		SessionID: sessionID,
		Status:    StatusReady,
		Metadata: map[string]string{
			KeyDocumentID: documentID,
			KeyRevision:   revision,
			KeyFilename:   filename,
		},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func (j *Job) clone() Job {
	out := *j
	out.Metadata = make(map[string]string, len(j.Metadata))
	for k, v := range j.Metadata {
		out.Metadata[k] = v
	}
	out.Missing = slices.Clone(j.Missing)
	return out
}
