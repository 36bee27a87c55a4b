package answer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/confidence"
	"docchat/internal/retrieval"
)

func TestSummarizeRetrieval(t *testing.T) {
	chunks := []retrieval.Chunk{
		{ID: "a", Section: "Design", Type: retrieval.ChunkText, Score: 0.9},
		{ID: "b", Section: "Design", Type: retrieval.ChunkParent, Score: 0.5},
		{ID: "c", Section: "Testing", Type: retrieval.ChunkText, Score: math.NaN()},
	}
	conf := confidence.Result{Score: 0.6, Level: confidence.LevelMedium}

	stat := SummarizeRetrieval("s1", scopeD1, "q", chunks, conf, 40*time.Millisecond)

	assert.Equal(t, 3, stat.ChunkCount)
	assert.Equal(t, []string{"text", "parent"}, stat.ChunkTypes)
	assert.Equal(t, []string{"Design", "Testing"}, stat.Sections)
	require.NotNil(t, stat.AvgScore)
	require.NotNil(t, stat.MaxScore)
	assert.InDelta(t, 0.7, *stat.AvgScore, 1e-9)
	assert.InDelta(t, 0.9, *stat.MaxScore, 1e-9)
	assert.Equal(t, conf, stat.Confidence)
	assert.Equal(t, scopeD1, stat.Scope)
}

func TestSummarizeRetrievalWithoutChunks(t *testing.T) {
	stat := SummarizeRetrieval("s1", scopeD1, "q", nil, confidence.Low, 0)
	assert.Zero(t, stat.ChunkCount)
	assert.Nil(t, stat.AvgScore)
	assert.Nil(t, stat.MaxScore)
	assert.NotNil(t, stat.Sections)
}

func TestAnswerRecordsRetrievalStats(t *testing.T) {
	stats := newFakeStats()
	o := New(Deps{
		Retriever:  &fakeRetriever{chunks: evidence()},
		History:    &fakeHistory{},
		Generators: Generators{Lite: &fakeGenerator{fragments: []string{"10 bar."}}},
		Stats:      stats,
	})

	var out sink
	res := o.Answer(context.Background(), Turn{SessionID: "s1", Question: "design pressure", Scope: scopeD1}, out.emit)

	require.Equal(t, OutcomeCompleted, res.Outcome)
	stat := stats.next(t)
	assert.Equal(t, 2, stat.ChunkCount)
	assert.Equal(t, res.Confidence, stat.Confidence)
}

func TestSlowStatsDoNotDelayAnswer(t *testing.T) {
	stats := newFakeStats()
	stats.release = make(chan struct{})
	defer close(stats.release)
	o := New(Deps{
		Retriever:  &fakeRetriever{chunks: evidence()},
		History:    &fakeHistory{},
		Generators: Generators{Lite: &fakeGenerator{fragments: []string{"10 bar."}}},
		Stats:      stats,
	})

	var out sink
	res := o.Answer(context.Background(), Turn{SessionID: "s1", Question: "design pressure", Scope: scopeD1}, out.emit)

	// The recorder is still blocked, yet the answer is complete.
	stats.next(t)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"10 bar."}, out.text)
}

func TestFailingStatsLeaveAnswerIntact(t *testing.T) {
	failing := newFakeStats()
	failing.err = errors.New("table locked")
	panicking := newFakeStats()
	panicking.panic = true

	for name, stats := range map[string]*fakeStats{
		"error": failing,
		"panic": panicking,
	} {
		t.Run(name, func(t *testing.T) {
			hist := &fakeHistory{}
			o := New(Deps{
				Retriever:  &fakeRetriever{chunks: evidence()},
				History:    hist,
				Generators: Generators{Lite: &fakeGenerator{fragments: []string{"Design pressure ", "is 10 bar."}}},
				Stats:      stats,
			})

			var out sink
			res := o.Answer(context.Background(), Turn{SessionID: "s1", Question: "design pressure", Scope: scopeD1}, out.emit)
			stats.next(t)

			assert.Equal(t, OutcomeCompleted, res.Outcome)
			assert.Equal(t, "Design pressure is 10 bar.", res.Answer)
			assert.Equal(t, []string{"Design pressure ", "is 10 bar."}, out.text)
			assert.False(t, hasEvent(out.events, EventError))
			assert.Len(t, hist.saved, 1)
		})
	}
}
