package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/abort"
	"docchat/internal/answer"
	"docchat/internal/job"
	"docchat/internal/model"
	"docchat/internal/retrieval"
)

type chatFixture struct {
	svc      *ChatService
	tracker  *job.Tracker
	bindings *fakeBindings
	aborts   *abort.Coordinator
	answers  *fakeAnswerer
	sessions *fakeSessions
}

func newChatFixture() *chatFixture {
	aborts := abort.NewCoordinator(nil, 0, nil)
	bindings := newFakeBindings()
	tracker := newTracker(aborts, bindings)
	answers := &fakeAnswerer{aborts: aborts}
	history := NewChatHistory(&fakeMessages{}, nil, nil, nil)
	sessions := newFakeSessions()
	svc := NewChatService(tracker, bindings, sessions, aborts, NewStreams(), answers, history, nil)
	return &chatFixture{svc: svc, tracker: tracker, bindings: bindings, aborts: aborts, answers: answers, sessions: sessions}
}

func TestStreamRequiresSession(t *testing.T) {
	f := newChatFixture()
	err := f.svc.Stream(context.Background(), StreamInput{Question: "hi"}, (&lines{}).emit)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStreamEmptyQuestion(t *testing.T) {
	f := newChatFixture()
	out := &lines{}
	require.NoError(t, f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "  "}, out.emit))
	assert.Contains(t, out.joined(), answer.MsgEmptyQuestion)
	assert.Empty(t, f.answers.turns)
}

func TestStreamGatesOnJobStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("waiting for metadata", func(t *testing.T) {
		f := newChatFixture()
		_, err := f.tracker.Create(ctx, "s1", map[string]string{job.KeyDocumentID: "d", job.KeyRevision: "1"}, []string{job.KeyRevisionCode})
		require.NoError(t, err)

		out := &lines{}
		require.NoError(t, f.svc.Stream(ctx, StreamInput{Owner: "alice", SessionID: "s1", Question: "what is it"}, out.emit))
		assert.Contains(t, out.joined(), `"type":"REQUEST_METADATA"`)
		assert.Contains(t, out.joined(), job.KeyRevisionCode)
		assert.Empty(t, f.answers.turns)
	})

	t.Run("processing", func(t *testing.T) {
		f := newChatFixture()
		_, err := f.tracker.Create(ctx, "s1", map[string]string{job.KeyDocumentID: "d", job.KeyRevision: "1"}, nil)
		require.NoError(t, err)

		out := &lines{}
		require.NoError(t, f.svc.Stream(ctx, StreamInput{Owner: "alice", SessionID: "s1", Question: "what is it"}, out.emit))
		assert.Contains(t, out.joined(), MsgDocumentProcessing)
		assert.Empty(t, f.answers.turns)
	})

	t.Run("ready", func(t *testing.T) {
		f := newChatFixture()
		j, err := f.tracker.Create(ctx, "s1", map[string]string{job.KeyDocumentID: "d", job.KeyRevision: "1"}, nil)
		require.NoError(t, err)
		_, err = f.tracker.MarkReady(j.ID)
		require.NoError(t, err)

		out := &lines{}
		require.NoError(t, f.svc.Stream(ctx, StreamInput{Owner: "alice", SessionID: "s1", Question: "what is it", Mode: answer.ModeNet}, out.emit))
		assert.Equal(t, "answer", out.joined())
		turn := f.answers.lastTurn()
		assert.Equal(t, retrieval.Scope{DocumentID: "d", Revision: "1"}, turn.Scope)
		assert.Equal(t, answer.ModeNet, turn.Mode)
	})
}

func TestStreamRecoversBindingAfterRestart(t *testing.T) {
	f := newChatFixture()
	require.NoError(t, f.bindings.Upsert(context.Background(), &model.ActiveDocument{SessionID: "s1", DocumentID: "d", Revision: "A2"}))

	out := &lines{}
	require.NoError(t, f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "pressure?"}, out.emit))
	assert.Equal(t, retrieval.Scope{DocumentID: "d", Revision: "A2"}, f.answers.lastTurn().Scope)
}

func TestStreamWithoutDocumentHasNoScope(t *testing.T) {
	f := newChatFixture()
	require.NoError(t, f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "hello"}, (&lines{}).emit))
	assert.False(t, f.answers.lastTurn().Scope.Valid())
}

func TestStreamClearsStaleAbortFlag(t *testing.T) {
	f := newChatFixture()
	f.aborts.Signal(context.Background(), "s1")

	out := &lines{}
	require.NoError(t, f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "hello"}, out.emit))
	assert.Equal(t, "answer", out.joined())
}

func TestNewStreamStopsRunningOne(t *testing.T) {
	f := newChatFixture()
	f.answers.started = make(chan struct{}, 2)
	f.answers.release = make(chan struct{})

	first := &lines{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "first"}, first.emit)
	}()
	<-f.answers.started

	require.ErrorIs(t, f.svc.ResetAbort(context.Background(), "alice", "s1"), ErrStreamInFlight)
	status, err := f.svc.AbortStatus(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.True(t, status.Streaming)

	second := &lines{}
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_ = f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "second"}, second.emit)
	}()

	require.Eventually(t, func() bool { return f.aborts.IsAborted(context.Background(), "s1") }, time.Second, 5*time.Millisecond)
	f.answers.release <- struct{}{}
	<-done
	assert.Contains(t, first.joined(), answer.MsgAborted)

	<-f.answers.started
	f.answers.release <- struct{}{}
	<-secondDone
	assert.Equal(t, "answer", second.joined())
}

func TestStreamBusyWhenPreviousDoesNotDrain(t *testing.T) {
	f := newChatFixture()
	f.svc.drainTimeout = 20 * time.Millisecond
	end := f.svc.streams.Begin("s1")
	defer end()

	out := &lines{}
	require.NoError(t, f.svc.Stream(context.Background(), StreamInput{Owner: "alice", SessionID: "s1", Question: "hello"}, out.emit))
	assert.Contains(t, out.joined(), MsgStreamBusy)
	assert.Empty(t, f.answers.turns)
}

func TestAbortAndReset(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	f.sessions.rows["s1"] = model.Session{ID: "s1", Owner: "alice"}

	require.NoError(t, f.svc.Abort(ctx, "alice", "s1"))
	status, err := f.svc.AbortStatus(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.True(t, status.Aborted)
	require.NoError(t, f.svc.ResetAbort(ctx, "alice", "s1"))
	status, err = f.svc.AbortStatus(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.False(t, status.Aborted)

	assert.ErrorIs(t, f.svc.Abort(ctx, "alice", " "), ErrInvalidInput)
}

func TestSessionOwnershipIsEnforced(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.Stream(ctx, StreamInput{Owner: "alice", SessionID: "s1", Question: "hello"}, (&lines{}).emit))
	assert.Equal(t, "alice", f.sessions.rows["s1"].Owner)

	out := &lines{}
	err := f.svc.Stream(ctx, StreamInput{Owner: "bob", SessionID: "s1", Question: "hello"}, out.emit)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, out.joined())
	assert.Len(t, f.answers.turns, 1)

	assert.ErrorIs(t, f.svc.Abort(ctx, "bob", "s1"), ErrSessionNotFound)
	assert.False(t, f.aborts.IsAborted(ctx, "s1"))
	assert.ErrorIs(t, f.svc.ResetAbort(ctx, "bob", "s1"), ErrSessionNotFound)
	_, err = f.svc.AbortStatus(ctx, "bob", "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.History(ctx, "bob", "s1", 10)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.History(ctx, "alice", "s1", 10)
	assert.NoError(t, err)
	assert.ErrorIs(t, f.svc.Abort(ctx, "alice", "unknown"), ErrSessionNotFound)
}
