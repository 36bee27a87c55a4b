package model

import "time"

const (
	ChunkTypeText   = "text"
	ChunkTypeParent = "parent"
	ChunkTypeChild  = "child"
)

// Chunk is the text copy of an indexed chunk. It backs keyword search,
// parent resolution and follow-up rehydration; vectors live in the index.
type Chunk struct {
	ChunkID    string    `gorm:"primaryKey;size:32" json:"chunk_id"`
	DocumentID string    `gorm:"size:64;not null;index:idx_chunk_scope" json:"company_document_id"`
	Revision   string    `gorm:"size:32;not null;index:idx_chunk_scope" json:"revision_number"`
	ChunkType  string    `gorm:"size:16;not null" json:"chunk_type"`
	ParentID   string    `gorm:"size:32;index" json:"parent_id,omitempty"`
	Section    string    `gorm:"size:255" json:"section"`
	Content    string    `gorm:"type:mediumtext;not null" json:"content"`
	PageNumber int       `json:"page_number"`
	BBox       string    `gorm:"size:255" json:"bbox,omitempty"`
	SourceFile string    `gorm:"size:255" json:"source_file"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Chunk) TableName() string { return "document_chunks" }
