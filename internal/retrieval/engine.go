// Package retrieval implements scoped hybrid search: semantic recall plus
// keyword precision, fused by chunk id, reranked, then expanded from table
// rows to their parent tables.
package retrieval

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/metrics"
)

type Options struct {
	CandidateK        int
	DetailedExtraK    int
	KeywordLimit      int
	TopK              int
	DetailedExtraTopK int
}

func DefaultOptions() Options {
	return Options{
		CandidateK:        25,
		DetailedExtraK:    10,
		KeywordLimit:      10,
		TopK:              8,
		DetailedExtraTopK: 2,
	}
}

type Request struct {
	Question string
	Scope    Scope
	Detailed bool
	// Carried are chunks from an earlier turn that compete with fresh
	// candidates (follow-up continuity). They enter before fusion.
	Carried []Chunk
}

type Engine struct {
	semantic SemanticIndex
	keyword  KeywordIndex
	parents  ParentLookup
	reranker Reranker
	opts     Options
	logger   *slog.Logger
}

func NewEngine(semantic SemanticIndex, keyword KeywordIndex, parents ParentLookup, reranker Reranker, opts Options, logger *slog.Logger) *Engine {
	def := DefaultOptions()
	if opts.CandidateK <= 0 {
		opts.CandidateK = def.CandidateK
	}
	if opts.KeywordLimit <= 0 {
		opts.KeywordLimit = def.KeywordLimit
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.DetailedExtraK < 0 {
		opts.DetailedExtraK = 0
	}
	if opts.DetailedExtraTopK < 0 {
		opts.DetailedExtraTopK = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		semantic: semantic,
		keyword:  keyword,
		parents:  parents,
		reranker: reranker,
		opts:     opts,
		logger:   logger,
	}
}

// Retrieve never searches outside req.Scope; an invalid scope is rejected.
// Index, reranker and parent lookup failures narrow the result instead of
// failing the call.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]Chunk, error) {
	if !req.Scope.Valid() {
		return nil, ErrMissingScope
	}
	started := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(started).Seconds()) }()

	question := strings.TrimSpace(req.Question)
	candidateK, topK := e.opts.CandidateK, e.opts.TopK
	if req.Detailed {
		candidateK += e.opts.DetailedExtraK
		topK += e.opts.DetailedExtraTopK
	}

	semantic, keyword := e.search(ctx, question, req.Scope, candidateK)

	candidates := Fuse(req.Carried, semantic, keyword)
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := e.rerank(ctx, question, candidates, topK)
	return e.resolveParents(ctx, req.Scope, ranked), nil
}

func (e *Engine) search(ctx context.Context, question string, scope Scope, candidateK int) (semantic, keyword []Chunk) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := e.semantic.Search(gctx, question, candidateK, scope)
		if err != nil {
			metrics.RetrievalDegraded.WithLabelValues("semantic").Inc()
			e.logger.Warn("semantic search failed", "document_id", scope.DocumentID, "revision", scope.Revision, "error", err)
			return nil
		}
		semantic = res
		return nil
	})
	g.Go(func() error {
		keyword = e.keywordSearch(gctx, question, scope)
		return nil
	})
	_ = g.Wait()
	return semantic, keyword
}

func (e *Engine) keywordSearch(ctx context.Context, question string, scope Scope) []Chunk {
	if e.keyword == nil {
		return nil
	}
	keywords := ExtractKeywords(question)
	if len(keywords) == 0 {
		return nil
	}
	res, err := e.keyword.SearchKeywords(ctx, scope, keywords, e.opts.KeywordLimit)
	if err != nil {
		metrics.RetrievalDegraded.WithLabelValues("keyword").Inc()
		e.logger.Warn("keyword search failed", "document_id", scope.DocumentID, "error", err)
		return nil
	}
	for i := range res {
		if res[i].Score == 0 {
			res[i].Score = KeywordMatchScore(res[i].Content, keywords)
		}
	}
	return res
}

// Fuse unions candidate lists in order, deduplicating strictly by chunk id.
// Chunks without an id are dropped.
func Fuse(lists ...[]Chunk) []Chunk {
	size := 0
	for _, l := range lists {
		size += len(l)
	}
	seen := make(map[string]struct{}, size)
	out := make([]Chunk, 0, size)
	for _, l := range lists {
		for _, c := range l {
			if c.ID == "" {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) rerank(ctx context.Context, question string, candidates []Chunk, topK int) []Chunk {
	if e.reranker != nil {
		ranked, err := e.reranker.Rerank(ctx, question, candidates, topK)
		if err == nil {
			if len(ranked) > topK {
				ranked = ranked[:topK]
			}
			return ranked
		}
		metrics.RetrievalDegraded.WithLabelValues("rerank").Inc()
		e.logger.Warn("rerank failed, keeping first-stage order", "candidates", len(candidates), "error", err)
	}

	fallback := slices.Clone(candidates)
	slices.SortStableFunc(fallback, func(a, b Chunk) int { return cmp.Compare(b.Score, a.Score) })
	if len(fallback) > topK {
		fallback = fallback[:topK]
	}
	return fallback
}

// resolveParents swaps table rows for their parent table, once per parent.
// Rows whose parent does not exist are dropped. On a lookup error the
// reranked list is returned unexpanded.
func (e *Engine) resolveParents(ctx context.Context, scope Scope, ranked []Chunk) []Chunk {
	if e.parents == nil {
		return ranked
	}
	seen := make(map[string]struct{}, len(ranked))
	out := make([]Chunk, 0, len(ranked))
	for _, c := range ranked {
		if c.Type != ChunkChild || c.ParentID == "" {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
			continue
		}

		if _, dup := seen[c.ParentID]; dup {
			continue
		}
		parent, err := e.parents.GetParent(ctx, scope, c.ParentID)
		if err != nil {
			metrics.RetrievalDegraded.WithLabelValues("parent").Inc()
			e.logger.Warn("parent lookup failed, returning rows", "parent_id", c.ParentID, "error", err)
			return ranked
		}
		if parent == nil {
			metrics.RetrievalDegraded.WithLabelValues("orphan").Inc()
			e.logger.Warn("table row has no parent, dropping", "chunk_id", c.ID, "parent_id", c.ParentID)
			continue
		}
		p := *parent
		p.Score = c.Score
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
