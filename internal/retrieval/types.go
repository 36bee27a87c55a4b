package retrieval

import (
	"context"
	"errors"
	"strings"
)

var ErrMissingScope = errors.New("retrieval scope requires document id and revision")

type ChunkType string

const (
	ChunkText   ChunkType = "text"
	ChunkParent ChunkType = "parent"
	ChunkChild  ChunkType = "child"
)

// Scope limits every search to one document revision.
type Scope struct {
	DocumentID string `json:"company_document_id"`
	Revision   string `json:"revision_number"`
}

func (s Scope) Valid() bool {
	return strings.TrimSpace(s.DocumentID) != "" && strings.TrimSpace(s.Revision) != ""
}

// Chunk is one piece of evidence. ID is deterministic and never synthesized
// during retrieval; Score is in [0,1].
type Chunk struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Section    string    `json:"section"`
	Type       ChunkType `json:"chunk_type"`
	ParentID   string    `json:"parent_id,omitempty"`
	Page       int       `json:"page_number"`
	BBox       string    `json:"bbox,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	Score      float64   `json:"score"`
}

// SemanticIndex is the recall-oriented similarity search.
type SemanticIndex interface {
	Search(ctx context.Context, query string, k int, scope Scope) ([]Chunk, error)
}

// KeywordIndex is the precision-oriented substring search.
type KeywordIndex interface {
	SearchKeywords(ctx context.Context, scope Scope, keywords []string, limit int) ([]Chunk, error)
}

// ParentLookup fetches a table-parent chunk by id; nil when absent.
type ParentLookup interface {
	GetParent(ctx context.Context, scope Scope, parentID string) (*Chunk, error)
}

// ChunkLoader rehydrates chunks by id, preserving the order of ids.
type ChunkLoader interface {
	GetByIDs(ctx context.Context, scope Scope, ids []string) ([]Chunk, error)
}

// Reranker returns at most topK candidates, best first, with relevance
// scores set on each.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Chunk, topK int) ([]Chunk, error)
}
