package model

import "time"

// Document is one stored revision of an uploaded source file.
type Document struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DocumentID   string    `gorm:"size:64;not null;uniqueIndex:idx_doc_rev" json:"company_document_id"`
	Revision     string    `gorm:"size:32;not null;uniqueIndex:idx_doc_rev" json:"revision_number"`
	RevisionCode string    `gorm:"size:64" json:"revision_code,omitempty"`
	DocumentType string    `gorm:"size:64" json:"document_type,omitempty"`
	Filename     string    `gorm:"size:255;not null" json:"filename"`
	ObjectPath   string    `gorm:"size:512;not null" json:"object_path"`
	ChunkCount   int       `json:"chunk_count"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Document) TableName() string { return "documents" }
