// Package vectorstore keeps chunk embeddings in Weaviate. Every object
// carries the deterministic chunk id and its document scope as filterable
// properties, so searches never leave one document revision.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docchat/internal/retrieval"
)

const (
	DefaultClassName = "DocumentChunk"
	upsertBatchSize  = 100
)

// chunkNamespace derives object UUIDs from chunk ids; re-ingesting the same
// content overwrites rather than duplicates.
var chunkNamespace = uuid.MustParse("6f1c2a9e-3b54-4d7e-9a21-c0d7e5b8a413")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Weaviate struct {
	client    *wv.Client
	embedder  Embedder
	className string
	logger    *slog.Logger
}

func NewWeaviate(client *wv.Client, embedder Embedder, className string, logger *slog.Logger) *Weaviate {
	if className == "" {
		className = DefaultClassName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Weaviate{client: client, embedder: embedder, className: className, logger: logger}
}

// Schema is the class definition; vectors are supplied by the caller.
func Schema(className string) *models.Class {
	filterable := true
	text := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: &filterable,
			Tokenization:    "field",
		}
	}
	return &models.Class{
		Class:       className,
		Description: "One retrievable chunk of an ingested document revision.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			text("chunk_id", "Deterministic chunk identifier."),
			text("document_id", "Company document id."),
			text("revision", "Revision identifier, kept as text."),
			text("section", "Section heading the chunk belongs to."),
			text("chunk_type", "text, parent or child."),
			text("parent_id", "Parent chunk id for table rows."),
			text("bbox", "Bounding box for highlighting."),
			text("source_file", "Original filename."),
			{Name: "content", DataType: []string{"text"}, Description: "Chunk text.", Tokenization: "word"},
			{Name: "page_number", DataType: []string{"int"}, Description: "Originating page.", IndexFilterable: &filterable},
		},
	}
}

// EnsureSchema creates the class if it does not exist yet.
func (w *Weaviate) EnsureSchema(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx); err == nil {
		return nil
	}
	w.logger.Info("creating weaviate class", "class", w.className)
	if err := w.client.Schema().ClassCreator().WithClass(Schema(w.className)).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class failed: %w", err)
	}
	return nil
}

func (w *Weaviate) Search(ctx context.Context, query string, k int, scope retrieval.Scope) ([]retrieval.Chunk, error) {
	if !scope.Valid() {
		return nil, retrieval.ErrMissingScope
	}
	vec, err := w.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "content"},
		{Name: "section"},
		{Name: "chunk_type"},
		{Name: "parent_id"},
		{Name: "page_number"},
		{Name: "bbox"},
		{Name: "source_file"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithWhere(scopeFilter(scope)).
		WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}
	return parseChunks(result.Data, w.className), nil
}

// Upsert writes chunks with their vectors; vectors[i] belongs to chunks[i].
func (w *Weaviate) Upsert(ctx context.Context, scope retrieval.Scope, chunks []retrieval.Chunk, vectors [][]float32) error {
	if !scope.Valid() {
		return retrieval.ErrMissingScope
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("upsert needs one vector per chunk: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		objs := make([]*models.Object, 0, end-start)
		for i := start; i < end; i++ {
			c := chunks[i]
			if c.ID == "" {
				continue
			}
			objs = append(objs, &models.Object{
				Class:  w.className,
				ID:     ObjectID(c.ID),
				Vector: vectors[i],
				Properties: map[string]any{
					"chunk_id":    c.ID,
					"document_id": scope.DocumentID,
					"revision":    scope.Revision,
					"section":     c.Section,
					"chunk_type":  string(c.Type),
					"parent_id":   c.ParentID,
					"content":     c.Content,
					"page_number": c.Page,
					"bbox":        c.BBox,
					"source_file": c.SourceFile,
				},
			})
		}
		resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate batch upsert failed: %w", err)
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("weaviate object %s rejected: %s", r.ID, r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

// DeleteScope removes every object of one document revision.
func (w *Weaviate) DeleteScope(ctx context.Context, scope retrieval.Scope) error {
	if !scope.Valid() {
		return retrieval.ErrMissingScope
	}
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithWhere(scopeFilter(scope)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate delete scope failed: %w", err)
	}
	return nil
}

func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

func scopeFilter(scope retrieval.Scope) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"document_id"}).WithOperator(filters.Equal).WithValueString(scope.DocumentID),
			filters.Where().WithPath([]string{"revision"}).WithOperator(filters.Equal).WithValueString(scope.Revision),
		})
}

var errNoData = errors.New("no data")

// parseChunks reads Get.<class>[] out of a GraphQL response. Objects without
// a chunk_id are dropped: ids are never invented here.
func parseChunks(data map[string]models.JSONObject, className string) []retrieval.Chunk {
	objects, err := classObjects(data, className)
	if err != nil {
		return nil
	}
	out := make([]retrieval.Chunk, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id := str(obj["chunk_id"])
		if id == "" {
			continue
		}
		c := retrieval.Chunk{
			ID:         id,
			Content:    str(obj["content"]),
			Section:    str(obj["section"]),
			Type:       retrieval.ChunkType(str(obj["chunk_type"])),
			ParentID:   str(obj["parent_id"]),
			Page:       int(num(obj["page_number"])),
			BBox:       str(obj["bbox"]),
			SourceFile: str(obj["source_file"]),
		}
		if c.Type == "" {
			c.Type = retrieval.ChunkText
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			c.Score = num(add["certainty"])
		}
		out = append(out, c)
	}
	return out
}

func classObjects(data map[string]models.JSONObject, className string) ([]any, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, errNoData
	}
	objects, ok := get[className].([]any)
	if !ok {
		return nil, errNoData
	}
	return objects, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
