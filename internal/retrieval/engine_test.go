package retrieval

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSemantic struct{ mock.Mock }

func (m *MockSemantic) Search(ctx context.Context, query string, k int, scope Scope) ([]Chunk, error) {
	args := m.Called(ctx, query, k, scope)
	res, _ := args.Get(0).([]Chunk)
	return res, args.Error(1)
}

type MockKeyword struct{ mock.Mock }

func (m *MockKeyword) SearchKeywords(ctx context.Context, scope Scope, keywords []string, limit int) ([]Chunk, error) {
	args := m.Called(ctx, scope, keywords, limit)
	res, _ := args.Get(0).([]Chunk)
	return res, args.Error(1)
}

type MockParents struct{ mock.Mock }

func (m *MockParents) GetParent(ctx context.Context, scope Scope, parentID string) (*Chunk, error) {
	args := m.Called(ctx, scope, parentID)
	res, _ := args.Get(0).(*Chunk)
	return res, args.Error(1)
}

// scoreReranker scores by a fixed table and keeps reranker order on ties.
type scoreReranker struct {
	scores map[string]float64
	err    error
	seen   []string
}

func (r *scoreReranker) Rerank(_ context.Context, _ string, candidates []Chunk, topK int) ([]Chunk, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]Chunk, len(candidates))
	copy(out, candidates)
	for i := range out {
		r.seen = append(r.seen, out[i].ID)
		out[i].Score = r.scores[out[i].ID]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

var scopeD1 = Scope{DocumentID: "D1", Revision: "3"}

func ids(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func TestRetrieveRejectsMissingScope(t *testing.T) {
	sem := new(MockSemantic)
	e := NewEngine(sem, nil, nil, nil, DefaultOptions(), nil)

	for _, scope := range []Scope{{}, {DocumentID: "D1"}, {Revision: "3"}, {DocumentID: " ", Revision: "3"}} {
		_, err := e.Retrieve(context.Background(), Request{Question: "pressure", Scope: scope})
		assert.ErrorIs(t, err, ErrMissingScope)
	}
	sem.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRetrieveFusesRerankTopTwo(t *testing.T) {
	sem := new(MockSemantic)
	kw := new(MockKeyword)
	sem.On("Search", mock.Anything, "design pressure value", 25, scopeD1).Return([]Chunk{
		{ID: "c1", Content: "a", Score: 0.9},
		{ID: "c2", Content: "b", Score: 0.2},
	}, nil)
	kw.On("SearchKeywords", mock.Anything, scopeD1, []string{"design", "pressure", "value"}, 10).Return([]Chunk{
		{ID: "c2", Content: "b"},
		{ID: "c3", Content: "design pressure"},
	}, nil)
	rr := &scoreReranker{scores: map[string]float64{"c1": 0.8, "c2": 0.1, "c3": 0.7}}

	e := NewEngine(sem, kw, nil, rr, DefaultOptions(), nil)
	opts := e.opts
	opts.TopK = 2
	e.opts = opts

	got, err := e.Retrieve(context.Background(), Request{Question: "design pressure value", Scope: scopeD1})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, rr.seen)
	assert.Equal(t, []string{"c1", "c3"}, ids(got))
	assert.InDelta(t, 0.8, got[0].Score, 1e-9)
	assert.InDelta(t, 0.7, got[1].Score, 1e-9)
}

func TestRetrieveDetailedWidensCounts(t *testing.T) {
	sem := new(MockSemantic)
	sem.On("Search", mock.Anything, mock.Anything, 35, scopeD1).Return([]Chunk{}, nil)

	e := NewEngine(sem, nil, nil, nil, DefaultOptions(), nil)
	got, err := e.Retrieve(context.Background(), Request{Question: "x", Scope: scopeD1, Detailed: true})
	require.NoError(t, err)
	assert.Empty(t, got)
	sem.AssertExpectations(t)
}

func TestFuseDedupsByIDOnly(t *testing.T) {
	a := []Chunk{{ID: "1", Content: "same"}, {ID: "2"}, {ID: "3"}}
	b := []Chunk{{ID: "2"}, {ID: "3"}, {ID: "4", Content: "same"}, {ID: ""}}

	fused := Fuse(a, b)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(fused))
}

func TestRetrieveCarriedChunksCompete(t *testing.T) {
	sem := new(MockSemantic)
	sem.On("Search", mock.Anything, mock.Anything, mock.Anything, scopeD1).Return([]Chunk{{ID: "new"}}, nil)
	rr := &scoreReranker{scores: map[string]float64{"old": 0.9, "new": 0.5}}

	e := NewEngine(sem, nil, nil, rr, DefaultOptions(), nil)
	got, err := e.Retrieve(context.Background(), Request{
		Question: "it",
		Scope:    scopeD1,
		Carried:  []Chunk{{ID: "old", Score: 1.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, ids(got))
}

func TestRetrieveResolvesParentsOnce(t *testing.T) {
	sem := new(MockSemantic)
	parents := new(MockParents)
	sem.On("Search", mock.Anything, mock.Anything, mock.Anything, scopeD1).Return([]Chunk{
		{ID: "row1", Type: ChunkChild, ParentID: "tbl"},
		{ID: "txt", Type: ChunkText},
		{ID: "row2", Type: ChunkChild, ParentID: "tbl"},
	}, nil)
	parents.On("GetParent", mock.Anything, scopeD1, "tbl").Return(&Chunk{ID: "tbl", Type: ChunkParent, Content: "| a | b |"}, nil).Once()
	rr := &scoreReranker{scores: map[string]float64{"row1": 0.9, "txt": 0.6, "row2": 0.5}}

	e := NewEngine(sem, nil, parents, rr, DefaultOptions(), nil)
	got, err := e.Retrieve(context.Background(), Request{Question: "table", Scope: scopeD1})
	require.NoError(t, err)

	assert.Equal(t, []string{"tbl", "txt"}, ids(got))
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	for _, c := range got {
		assert.NotEqual(t, ChunkChild, c.Type)
	}
	parents.AssertExpectations(t)
}

func TestRetrieveDropsRowsWithoutParent(t *testing.T) {
	sem := new(MockSemantic)
	parents := new(MockParents)
	sem.On("Search", mock.Anything, mock.Anything, mock.Anything, scopeD1).Return([]Chunk{
		{ID: "row1", Type: ChunkChild, ParentID: "tbl1"},
		{ID: "t1", Type: ChunkText},
	}, nil)
	parents.On("GetParent", mock.Anything, scopeD1, "tbl1").Return(nil, nil)

	e := NewEngine(sem, nil, parents, nil, DefaultOptions(), nil)
	got, err := e.Retrieve(context.Background(), Request{Question: "table", Scope: scopeD1})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids(got))
	parents.AssertExpectations(t)
}

func TestRetrieveParentFailureReturnsRows(t *testing.T) {
	sem := new(MockSemantic)
	parents := new(MockParents)
	sem.On("Search", mock.Anything, mock.Anything, mock.Anything, scopeD1).Return([]Chunk{
		{ID: "row1", Type: ChunkChild, ParentID: "tbl", Score: 0.4},
	}, nil)
	parents.On("GetParent", mock.Anything, scopeD1, "tbl").Return(nil, errors.New("index down"))

	e := NewEngine(sem, nil, parents, nil, DefaultOptions(), nil)
	got, err := e.Retrieve(context.Background(), Request{Question: "table", Scope: scopeD1})
	require.NoError(t, err)
	assert.Equal(t, []string{"row1"}, ids(got))
}

func TestRetrieveDegradesOnInfrastructureErrors(t *testing.T) {
	sem := new(MockSemantic)
	kw := new(MockKeyword)
	sem.On("Search", mock.Anything, mock.Anything, mock.Anything, scopeD1).Return(nil, errors.New("weaviate down"))
	kw.On("SearchKeywords", mock.Anything, scopeD1, mock.Anything, 10).Return([]Chunk{
		{ID: "k1", Content: "flange rating"},
		{ID: "k2", Content: "flange"},
	}, nil)
	rr := &scoreReranker{err: errors.New("reranker down")}

	e := NewEngine(sem, kw, nil, rr, DefaultOptions(), nil)
	got, err := e.Retrieve(context.Background(), Request{Question: "flange rating", Scope: scopeD1})
	require.NoError(t, err)

	// First-stage keyword scores order the fallback.
	assert.Equal(t, []string{"k1", "k2"}, ids(got))
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, 0.5, got[1].Score, 1e-9)
}
