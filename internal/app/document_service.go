package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat/internal/answer"
	"docchat/internal/ingest"
	"docchat/internal/job"
	"docchat/internal/metrics"
	"docchat/internal/model"
	"docchat/internal/objectstore"
	"docchat/internal/pkg/pdfextract"
	"docchat/internal/retrieval"
)

const pdfMagic = "%PDF-"

// editableMetadata may be supplied at upload or through SubmitMetadata.
var editableMetadata = map[string]bool{
	job.KeyDocumentType: true,
	job.KeyRevisionCode: true,
	job.KeyRevisionDate: true,
}

var identityMetadata = map[string]bool{
	job.KeyDocumentID: true,
	job.KeyRevision:   true,
	job.KeyFilename:   true,
}

type JobTracker interface {
	Create(ctx context.Context, sessionID string, metadata map[string]string, required []string) (job.Job, error)
	Get(idOrSession string) (job.Job, bool)
	UpdateMetadata(jobID string, values map[string]string) (job.Job, error)
	BeginCommit(jobID string) (job.Job, error)
	MarkReady(jobID string) (job.Job, error)
	MarkError(ctx context.Context, jobID, message string) (job.Job, error)
}

type RevisionSource interface {
	NextRevision(ctx context.Context, documentID string) (string, error)
}

type Indexer interface {
	Run(ctx context.Context, req ingest.Request, progress ingest.Progress) (ingest.Result, error)
}

type BindingStore interface {
	Upsert(ctx context.Context, doc *model.ActiveDocument) error
	GetBySessionID(ctx context.Context, sessionID string) (*model.ActiveDocument, error)
}

type UsedChunkClearer interface {
	ClearUsedChunkIDs(ctx context.Context, sessionID string) error
}

type DocumentService struct {
	jobs      JobTracker
	sessions  SessionAccess
	objects   objectstore.Store
	revisions RevisionSource
	indexer   Indexer
	bindings  BindingStore
	memory    UsedChunkClearer
	maxBytes  int64
	extract   func(io.Reader) ([]pdfextract.Page, error)
	logger    *slog.Logger
}

func NewDocumentService(
	jobs JobTracker,
	sessions SessionAccess,
	objects objectstore.Store,
	revisions RevisionSource,
	indexer Indexer,
	bindings BindingStore,
	memory UsedChunkClearer,
	maxUploadMB int,
	logger *slog.Logger,
) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &DocumentService{
		jobs:      jobs,
		sessions:  sessions,
		objects:   objects,
		revisions: revisions,
		indexer:   indexer,
		bindings:  bindings,
		memory:    memory,
		maxBytes:  int64(maxUploadMB) << 20,
		extract:   pdfextract.ExtractPages,
		logger:    logger,
	}
}

// MaxUploadBytes is the upload cap, for transports that limit body size.
func (s *DocumentService) MaxUploadBytes() int64 { return s.maxBytes }

// DocumentID derives a stable id from the lowercased base filename, so
// re-uploading the same file name adds a revision to the same document.
func DocumentID(filename string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/")))
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(base)).String()
}

type UploadInput struct {
	Owner     string
	SessionID string
	Filename  string
	Data      []byte
	Metadata  map[string]string
}

type UploadResult struct {
	Job        job.Job                     `json:"job"`
	Extracted  map[string]ingest.Candidate `json:"extracted_metadata"`
	ObjectPath string                      `json:"object_path"`
	Event      *answer.Event               `json:"event,omitempty"`
}

// Upload stages the file and opens a job. The job waits for metadata when a
// required key was neither supplied nor extracted with enough confidence.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	filename := path.Base(strings.ReplaceAll(strings.TrimSpace(in.Filename), "\\", "/"))
	if sessionID == "" || filename == "" || filename == "." || filename == "/" {
		return nil, ErrInvalidInput
	}
	if !strings.EqualFold(path.Ext(filename), ".pdf") || !bytes.HasPrefix(in.Data, []byte(pdfMagic)) {
		return nil, ErrUnsupportedFile
	}
	if int64(len(in.Data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	supplied, err := editable(in.Metadata)
	if err != nil {
		return nil, err
	}
	if err := claimSession(ctx, s.sessions, in.Owner, sessionID); err != nil {
		return nil, err
	}

	pages, err := s.extract(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFile, err)
	}
	extracted := ingest.ExtractMetadata(pages, supplied)

	documentID := DocumentID(filename)
	revision, err := s.revisions.NextRevision(ctx, documentID)
	if err != nil {
		return nil, err
	}

	objectPath, err := s.objects.Put(ctx, objectstore.Key{DocumentID: documentID, Revision: revision, Filename: filename}, bytes.NewReader(in.Data), "application/pdf")
	if err != nil {
		return nil, err
	}

	metadata := ingest.Accepted(extracted)
	if v := supplied[job.KeyRevisionDate]; v != "" {
		metadata[job.KeyRevisionDate] = v
	}
	metadata[job.KeyDocumentID] = documentID
	metadata[job.KeyRevision] = revision
	metadata[job.KeyFilename] = filename

	j, err := s.jobs.Create(ctx, sessionID, metadata, ingest.RequiredMetadata)
	if err != nil {
		return nil, err
	}
	s.clearMemory(ctx, sessionID)

	res := &UploadResult{Job: j, Extracted: extracted, ObjectPath: objectPath}
	if j.Status == job.StatusWaitForMetadata {
		ev := answer.RequestMetadata(answer.FieldsForKeys(j.Missing))
		res.Event = &ev
	}
	s.logger.Info("document staged", "session_id", sessionID, "job_id", j.ID, "document_id", documentID, "revision", revision, "status", j.Status, "pages", len(pages))
	return res, nil
}

type MetadataResult struct {
	Job   job.Job       `json:"job"`
	Event *answer.Event `json:"event,omitempty"`
}

// SubmitMetadata fills missing keys of a job waiting for metadata.
func (s *DocumentService) SubmitMetadata(ctx context.Context, owner, jobID string, values map[string]string) (*MetadataResult, error) {
	if strings.TrimSpace(jobID) == "" || len(values) == 0 {
		return nil, ErrInvalidInput
	}
	accepted, err := editable(values)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedJob(ctx, owner, jobID); err != nil {
		return nil, err
	}
	j, err := s.jobs.UpdateMetadata(jobID, accepted)
	if err != nil {
		return nil, err
	}
	s.clearMemory(ctx, j.SessionID)

	res := &MetadataResult{Job: j}
	switch j.Status {
	case job.StatusProcessing:
		ev := answer.MetadataConfirmed("Metadata confirmed. Document is ready to be processed.")
		res.Event = &ev
	case job.StatusWaitForMetadata:
		ev := answer.RequestMetadata(answer.FieldsForKeys(j.Missing))
		res.Event = &ev
	}
	return res, nil
}

// Commit indexes the staged file of a PROCESSING job. It runs to the end
// even if ctx is cancelled; progress is best effort. Any failure moves the
// job to ERROR.
func (s *DocumentService) Commit(ctx context.Context, owner, jobID string, progress func(answer.Event)) (job.Job, error) {
	if progress == nil {
		progress = func(answer.Event) {}
	}
	j, err := s.ownedJob(ctx, owner, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.Recovered() {
		return j, fmt.Errorf("%w: status %s", ErrJobNotReady, j.Status)
	}
	// Only one commit per job gets past the claim.
	if j, err = s.jobs.BeginCommit(j.ID); err != nil {
		if errors.Is(err, job.ErrStateViolation) {
			return j, fmt.Errorf("%w: %w", ErrJobNotReady, err)
		}
		return j, err
	}

	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	progress(answer.Progress(5, "Loading document"))

	scope := retrieval.Scope{DocumentID: j.DocumentID(), Revision: j.Revision()}
	res, err := s.indexer.Run(ctx, ingest.Request{
		Scope:        scope,
		Filename:     j.Filename(),
		DocumentType: j.Metadata[job.KeyDocumentType],
		RevisionCode: j.Metadata[job.KeyRevisionCode],
	}, func(value int, label string) {
		progress(answer.Progress(value, label))
	})
	if err != nil {
		return s.fail(ctx, j, started, err)
	}

	ready, err := s.jobs.MarkReady(j.ID)
	if errors.Is(err, job.ErrStateViolation) || errors.Is(err, job.ErrJobNotFound) {
		// A replaced or already settled job is left as it is.
		return j, fmt.Errorf("%w: %w", ErrJobNotReady, err)
	}
	if err != nil {
		return s.fail(ctx, j, started, err)
	}
	if err := s.bindings.Upsert(ctx, &model.ActiveDocument{
		SessionID:  j.SessionID,
		DocumentID: scope.DocumentID,
		Revision:   scope.Revision,
		Filename:   j.Filename(),
	}); err != nil {
		return s.fail(ctx, ready, started, err)
	}
	s.clearMemory(ctx, j.SessionID)

	metrics.IngestDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	progress(answer.Progress(100, "Document ready"))
	progress(answer.SystemMessage(fmt.Sprintf("Document %s (revision %s) is ready: %d chunks indexed.", j.Filename(), scope.Revision, res.Chunks)))
	return ready, nil
}

func (s *DocumentService) fail(ctx context.Context, j job.Job, started time.Time, cause error) (job.Job, error) {
	metrics.IngestDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
	failed, err := s.jobs.MarkError(ctx, j.ID, cause.Error())
	if err != nil {
		s.logger.Error("mark job error failed", "job_id", j.ID, "error", err)
		failed = j
	}
	return failed, fmt.Errorf("commit document failed: %w", cause)
}

// ownedJob looks up a job by id or session id. A job of another owner's
// session reads as not found.
func (s *DocumentService) ownedJob(ctx context.Context, owner, jobID string) (job.Job, error) {
	j, ok := s.jobs.Get(strings.TrimSpace(jobID))
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	if err := ownSession(ctx, s.sessions, owner, j.SessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (s *DocumentService) ActiveDocument(ctx context.Context, owner, sessionID string) (*model.ActiveDocument, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidInput
	}
	if err := ownSession(ctx, s.sessions, owner, sessionID); err != nil {
		return nil, err
	}
	doc, err := s.bindings.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNoActiveDocument
	}
	return doc, nil
}

func (s *DocumentService) clearMemory(ctx context.Context, sessionID string) {
	if s.memory == nil {
		return
	}
	if err := s.memory.ClearUsedChunkIDs(ctx, sessionID); err != nil {
		s.logger.Warn("clear used chunk ids failed", "session_id", sessionID, "error", err)
	}
}

func editable(values map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch {
		case identityMetadata[k]:
			return nil, fmt.Errorf("%w: %s", ErrImmutableField, k)
		case !editableMetadata[k]:
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out, nil
}
