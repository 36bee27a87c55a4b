package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
)

const chunkBatchSize = 200

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// CreateBatch is idempotent: chunk ids are deterministic, so re-ingesting
// the same content is a no-op.
func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&chunks, chunkBatchSize).Error
	if err != nil {
		return fmt.Errorf("create chunks batch failed: %w", err)
	}
	return nil
}

// SearchKeywords returns scoped chunks containing any keyword, shortest first.
func (r *ChunkRepository) SearchKeywords(ctx context.Context, documentID, revision string, keywords []string, limit int) ([]model.Chunk, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(keywords))
	args := make([]interface{}, 0, len(keywords))
	for _, kw := range keywords {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+escapeLike(kw)+"%")
	}

	var chunks []model.Chunk
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND revision = ?", documentID, revision).
		Where(strings.Join(clauses, " OR "), args...).
		Order("LENGTH(content) ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return chunks, nil
}

// GetByIDs loads chunks in the order of ids; unknown ids are skipped.
func (r *ChunkRepository) GetByIDs(ctx context.Context, documentID, revision string, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chunks []model.Chunk
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND revision = ? AND chunk_id IN ?", documentID, revision, ids).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids failed: %w", err)
	}
	byID := make(map[string]model.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	ordered := make([]model.Chunk, 0, len(chunks))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// GetParent loads one parent chunk by id inside the scope; nil when absent.
func (r *ChunkRepository) GetParent(ctx context.Context, documentID, revision, parentID string) (*model.Chunk, error) {
	var chunks []model.Chunk
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND revision = ? AND chunk_id = ? AND chunk_type = ?", documentID, revision, parentID, model.ChunkTypeParent).
		Limit(1).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("get parent chunk failed: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return &chunks[0], nil
}

func (r *ChunkRepository) DeleteByScope(ctx context.Context, documentID, revision string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ? AND revision = ?", documentID, revision).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by scope failed: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
