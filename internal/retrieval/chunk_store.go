package retrieval

import (
	"context"

	"docchat/internal/model"
)

type chunkRepository interface {
	SearchKeywords(ctx context.Context, documentID, revision string, keywords []string, limit int) ([]model.Chunk, error)
	GetByIDs(ctx context.Context, documentID, revision string, ids []string) ([]model.Chunk, error)
	GetParent(ctx context.Context, documentID, revision, parentID string) (*model.Chunk, error)
}

// ChunkStore serves keyword search, parent lookup and rehydration from the
// relational chunk table.
type ChunkStore struct {
	repo chunkRepository
}

func NewChunkStore(repo chunkRepository) *ChunkStore {
	return &ChunkStore{repo: repo}
}

func (s *ChunkStore) SearchKeywords(ctx context.Context, scope Scope, keywords []string, limit int) ([]Chunk, error) {
	if !scope.Valid() {
		return nil, nil
	}
	rows, err := s.repo.SearchKeywords(ctx, scope.DocumentID, scope.Revision, keywords, limit)
	if err != nil {
		return nil, err
	}
	return FromModels(rows), nil
}

func (s *ChunkStore) GetByIDs(ctx context.Context, scope Scope, ids []string) ([]Chunk, error) {
	if !scope.Valid() {
		return nil, ErrMissingScope
	}
	rows, err := s.repo.GetByIDs(ctx, scope.DocumentID, scope.Revision, ids)
	if err != nil {
		return nil, err
	}
	return FromModels(rows), nil
}

func (s *ChunkStore) GetParent(ctx context.Context, scope Scope, parentID string) (*Chunk, error) {
	row, err := s.repo.GetParent(ctx, scope.DocumentID, scope.Revision, parentID)
	if err != nil || row == nil {
		return nil, err
	}
	c := FromModel(*row)
	return &c, nil
}

func FromModel(m model.Chunk) Chunk {
	return Chunk{
		ID:         m.ChunkID,
		Content:    m.Content,
		Section:    m.Section,
		Type:       ChunkType(m.ChunkType),
		ParentID:   m.ParentID,
		Page:       m.PageNumber,
		BBox:       m.BBox,
		SourceFile: m.SourceFile,
	}
}

func FromModels(rows []model.Chunk) []Chunk {
	out := make([]Chunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromModel(r))
	}
	return out
}
