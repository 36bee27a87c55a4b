package app

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/abort"
	"docchat/internal/answer"
	"docchat/internal/job"
	"docchat/internal/objectstore"
	"docchat/internal/pkg/pdfextract"
)

type docFixture struct {
	svc      *DocumentService
	tracker  *job.Tracker
	bindings *fakeBindings
	indexer  *fakeIndexer
	memory   *fakeMemory
	objects  *objectstore.Local
	sessions *fakeSessions
}

func newDocFixture(t *testing.T, firstPage string) *docFixture {
	t.Helper()
	aborts := abort.NewCoordinator(nil, 0, nil)
	bindings := newFakeBindings()
	tracker := newTracker(aborts, bindings)
	indexer := &fakeIndexer{}
	memory := &fakeMemory{}
	objects := objectstore.NewLocal(t.TempDir())
	sessions := newFakeSessions()
	svc := NewDocumentService(tracker, sessions, objects, fakeRevisions{next: "3"}, indexer, bindings, memory, 1, nil)
	svc.extract = func(io.Reader) ([]pdfextract.Page, error) {
		return []pdfextract.Page{{Number: 1, Lines: []pdfextract.Line{{Cells: []pdfextract.Cell{{Text: firstPage}}}}}}, nil
	}
	return &docFixture{svc: svc, tracker: tracker, bindings: bindings, indexer: indexer, memory: memory, objects: objects, sessions: sessions}
}

var pdfBytes = []byte("%PDF-1.7 fake body")

func TestDocumentIDIsStable(t *testing.T) {
	assert.Equal(t, DocumentID("Plant BOD.pdf"), DocumentID("plant bod.pdf"))
	assert.Equal(t, DocumentID("dir/Plant BOD.pdf"), DocumentID("Plant BOD.pdf"))
	assert.NotEqual(t, DocumentID("a.pdf"), DocumentID("b.pdf"))
}

func TestUploadValidation(t *testing.T) {
	f := newDocFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadInput{Filename: "a.pdf", Data: pdfBytes})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "a.docx", Data: pdfBytes})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "a.pdf", Data: []byte("not a pdf")})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	big := append([]byte(pdfMagic), make([]byte, 1<<20)...)
	_, err = f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "a.pdf", Data: big})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "a.pdf", Data: pdfBytes, Metadata: map[string]string{job.KeyRevision: "9"}})
	assert.ErrorIs(t, err, ErrImmutableField)
}

func TestUploadWaitsForMissingMetadata(t *testing.T) {
	f := newDocFixture(t, "Project Basis of Design")

	res, err := f.svc.Upload(context.Background(), UploadInput{Owner: "alice", SessionID: "s1", Filename: "bod.pdf", Data: pdfBytes})
	require.NoError(t, err)

	assert.Equal(t, job.StatusWaitForMetadata, res.Job.Status)
	assert.Equal(t, []string{job.KeyRevisionCode}, res.Job.Missing)
	assert.Equal(t, "Basis of Design", res.Job.Metadata[job.KeyDocumentType])
	assert.Equal(t, DocumentID("bod.pdf"), res.Job.DocumentID())
	assert.Equal(t, "3", res.Job.Revision())
	require.NotNil(t, res.Event)
	assert.Equal(t, answer.EventRequestMetadata, res.Event.Type)
	assert.Contains(t, f.memory.cleared, "s1")

	rc, err := f.objects.Get(context.Background(), objectstore.Key{DocumentID: res.Job.DocumentID(), Revision: "3", Filename: "bod.pdf"})
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, pdfBytes, body)
}

func TestMetadataThenCommit(t *testing.T) {
	f := newDocFixture(t, "unrelated cover page")
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "bod.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{job.KeyDocumentType, job.KeyRevisionCode}, up.Job.Missing)

	_, err = f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	assert.ErrorIs(t, err, ErrJobNotReady)

	_, err = f.svc.SubmitMetadata(ctx, "alice", up.Job.ID, map[string]string{job.KeyDocumentID: "x"})
	assert.ErrorIs(t, err, ErrImmutableField)
	_, err = f.svc.SubmitMetadata(ctx, "alice", up.Job.ID, map[string]string{"color": "red"})
	assert.ErrorIs(t, err, ErrUnknownField)

	partial, err := f.svc.SubmitMetadata(ctx, "alice", up.Job.ID, map[string]string{job.KeyDocumentType: "Datasheet"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusWaitForMetadata, partial.Job.Status)

	done, err := f.svc.SubmitMetadata(ctx, "alice", up.Job.ID, map[string]string{job.KeyRevisionCode: "C01"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, done.Job.Status)
	require.NotNil(t, done.Event)
	assert.Equal(t, answer.EventMetadataConfirmed, done.Event.Type)

	var events []string
	ready, err := f.svc.Commit(ctx, "alice", up.Job.ID, func(e answer.Event) { events = append(events, e.Encode()) })
	require.NoError(t, err)
	assert.Equal(t, job.StatusReady, ready.Status)
	assert.Equal(t, "C01", f.indexer.req.RevisionCode)
	assert.Equal(t, "Datasheet", f.indexer.req.DocumentType)
	assert.Equal(t, "bod.pdf", f.indexer.req.Filename)

	joined := strings.Join(events, "")
	assert.Contains(t, joined, `"value":50`)
	assert.Contains(t, joined, `"value":100`)
	assert.Contains(t, joined, "4 chunks indexed")

	binding, err := f.svc.ActiveDocument(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, up.Job.DocumentID(), binding.DocumentID)
	assert.Equal(t, "3", binding.Revision)

	_, err = f.svc.SubmitMetadata(ctx, "alice", up.Job.ID, map[string]string{job.KeyRevisionCode: "C02"})
	assert.ErrorIs(t, err, job.ErrStateViolation)
}

func TestCommitFailureMarksError(t *testing.T) {
	f := newDocFixture(t, "basis of design")
	f.indexer.err = errBoom
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "bod.pdf", Data: pdfBytes, Metadata: map[string]string{job.KeyRevisionCode: "A"}})
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, up.Job.Status)

	failed, err := f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, job.StatusError, failed.Status)

	_, err = f.svc.ActiveDocument(ctx, "alice", "s1")
	assert.ErrorIs(t, err, ErrNoActiveDocument)
}

func TestRetriedCommitKeepsFirstCommitReady(t *testing.T) {
	f := newDocFixture(t, "basis of design")
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "bod.pdf", Data: pdfBytes, Metadata: map[string]string{job.KeyRevisionCode: "A"}})
	require.NoError(t, err)

	// A client retry lands while the first commit is still indexing.
	var retryErr error
	f.indexer.during = func() {
		_, retryErr = f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	}

	ready, err := f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusReady, ready.Status)
	assert.False(t, ready.Committing)

	assert.ErrorIs(t, retryErr, ErrJobNotReady)
	assert.ErrorIs(t, retryErr, job.ErrStateViolation)
	assert.Equal(t, 1, f.indexer.runs)

	// A commit after the first one finished is rejected the same way.
	_, err = f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	assert.ErrorIs(t, err, ErrJobNotReady)

	got, ok := f.tracker.Get(up.Job.ID)
	require.True(t, ok)
	assert.Equal(t, job.StatusReady, got.Status)
	doc, err := f.svc.ActiveDocument(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, "3", doc.Revision)
}

func TestCommitBindingFailureMarksError(t *testing.T) {
	f := newDocFixture(t, "basis of design")
	f.bindings.err = errBoom
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "bod.pdf", Data: pdfBytes, Metadata: map[string]string{job.KeyRevisionCode: "A"}})
	require.NoError(t, err)

	failed, err := f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, job.StatusError, failed.Status)
}

func TestCommitUnknownJob(t *testing.T) {
	f := newDocFixture(t, "")
	_, err := f.svc.Commit(context.Background(), "alice", "nope", nil)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestDocumentOwnership(t *testing.T) {
	f := newDocFixture(t, "basis of design")
	ctx := context.Background()

	up, err := f.svc.Upload(ctx, UploadInput{Owner: "alice", SessionID: "s1", Filename: "bod.pdf", Data: pdfBytes, Metadata: map[string]string{job.KeyRevisionCode: "A"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", f.sessions.rows["s1"].Owner)

	_, err = f.svc.Upload(ctx, UploadInput{Owner: "bob", SessionID: "s1", Filename: "other.pdf", Data: pdfBytes})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	current, ok := f.tracker.Get("s1")
	require.True(t, ok)
	assert.Equal(t, up.Job.ID, current.ID)

	_, err = f.svc.SubmitMetadata(ctx, "bob", up.Job.ID, map[string]string{job.KeyRevisionCode: "B"})
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	_, err = f.svc.Commit(ctx, "bob", up.Job.ID, nil)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	assert.Empty(t, f.indexer.req.Filename)
	_, err = f.svc.ActiveDocument(ctx, "bob", "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ready, err := f.svc.Commit(ctx, "alice", up.Job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusReady, ready.Status)
}
