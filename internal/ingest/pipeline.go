package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docchat/internal/model"
	"docchat/internal/objectstore"
	"docchat/internal/retrieval"
)

var ErrNoContent = errors.New("document has no extractable text")

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, scope retrieval.Scope, chunks []retrieval.Chunk, vectors [][]float32) error
	DeleteScope(ctx context.Context, scope retrieval.Scope) error
}

type ChunkWriter interface {
	CreateBatch(ctx context.Context, chunks []model.Chunk) error
	DeleteByScope(ctx context.Context, documentID, revision string) error
}

type DocumentWriter interface {
	Create(ctx context.Context, doc *model.Document) error
}

// Progress receives a 0-100 value and a short label per finished stage.
type Progress func(value int, label string)

type Request struct {
	Scope        retrieval.Scope
	Filename     string
	DocumentType string
	RevisionCode string
}

type Result struct {
	ObjectPath string
	Chunks     int
	Parents    int
}

// Pipeline indexes a staged source file: parse, chunk, embed, write the
// vectors and the chunk text, then record the document revision.
type Pipeline struct {
	objects   objectstore.Store
	parser    Parser
	embedder  Embedder
	index     VectorIndex
	chunks    ChunkWriter
	documents DocumentWriter
	logger    *slog.Logger
}

func NewPipeline(objects objectstore.Store, parser Parser, embedder Embedder, index VectorIndex, chunks ChunkWriter, documents DocumentWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		objects:   objects,
		parser:    parser,
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		documents: documents,
		logger:    logger,
	}
}

func (p *Pipeline) Run(ctx context.Context, req Request, progress Progress) (Result, error) {
	if !req.Scope.Valid() {
		return Result{}, retrieval.ErrMissingScope
	}
	if progress == nil {
		progress = func(int, string) {}
	}
	key := objectstore.Key{DocumentID: req.Scope.DocumentID, Revision: req.Scope.Revision, Filename: req.Filename}
	objectPath, err := key.Path()
	if err != nil {
		return Result{}, err
	}

	rc, err := p.objects.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("load staged file failed: %w", err)
	}
	elements, err := p.parser.Parse(rc)
	rc.Close()
	if err != nil {
		return Result{}, err
	}
	progress(20, "Parsed document")

	chunks := Chunk(elements, req.Scope, req.Filename)
	if len(chunks) == 0 {
		return Result{}, ErrNoContent
	}
	progress(40, "Chunked document")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, err
	}
	progress(70, "Embedded chunks")

	if err := p.index.Upsert(ctx, req.Scope, chunks, vectors); err != nil {
		p.rollback(ctx, req.Scope)
		return Result{}, err
	}
	if err := p.chunks.CreateBatch(ctx, ToModels(req.Scope, chunks)); err != nil {
		p.rollback(ctx, req.Scope)
		return Result{}, err
	}
	progress(90, "Indexed chunks")

	doc := &model.Document{
		DocumentID:   req.Scope.DocumentID,
		Revision:     req.Scope.Revision,
		RevisionCode: req.RevisionCode,
		DocumentType: req.DocumentType,
		Filename:     req.Filename,
		ObjectPath:   objectPath,
		ChunkCount:   len(chunks),
	}
	if err := p.documents.Create(ctx, doc); err != nil {
		p.rollback(ctx, req.Scope)
		return Result{}, err
	}

	res := Result{ObjectPath: objectPath, Chunks: len(chunks)}
	for _, c := range chunks {
		if c.Type == retrieval.ChunkParent {
			res.Parents++
		}
	}
	p.logger.Info("document indexed", "document_id", req.Scope.DocumentID, "revision", req.Scope.Revision, "chunks", res.Chunks, "tables", res.Parents)
	return res, nil
}

// rollback removes whatever part of a revision reached the index or the
// chunk table, so a failed commit leaves nothing searchable behind.
func (p *Pipeline) rollback(ctx context.Context, scope retrieval.Scope) {
	ctx = context.WithoutCancel(ctx)
	if err := p.index.DeleteScope(ctx, scope); err != nil {
		p.logger.Warn("rollback vector index failed", "document_id", scope.DocumentID, "revision", scope.Revision, "error", err)
	}
	if err := p.chunks.DeleteByScope(ctx, scope.DocumentID, scope.Revision); err != nil {
		p.logger.Warn("rollback chunk rows failed", "document_id", scope.DocumentID, "revision", scope.Revision, "error", err)
	}
}

func ToModels(scope retrieval.Scope, chunks []retrieval.Chunk) []model.Chunk {
	out := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, model.Chunk{
			ChunkID:    c.ID,
			DocumentID: scope.DocumentID,
			Revision:   scope.Revision,
			ChunkType:  string(c.Type),
			ParentID:   c.ParentID,
			Section:    c.Section,
			Content:    c.Content,
			PageNumber: c.Page,
			BBox:       c.BBox,
			SourceFile: c.SourceFile,
		})
	}
	return out
}
