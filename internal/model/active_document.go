package model

import "time"

// ActiveDocument is the durable pointer from a chat session to the document
// revision it is currently allowed to query. Revision is kept as a string
// because revision codes may be alphanumeric.
type ActiveDocument struct {
	SessionID  string    `gorm:"primaryKey;size:64" json:"session_id"`
	DocumentID string    `gorm:"size:64;not null" json:"company_document_id"`
	Revision   string    `gorm:"size:32;not null" json:"revision_number"`
	Filename   string    `gorm:"size:255" json:"filename,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ActiveDocument) TableName() string { return "session_active_documents" }
