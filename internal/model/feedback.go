package model

import "time"

// Feedback labels a user can attach to an answer.
const (
	FeedbackCorrect        = "correct"
	FeedbackPartial        = "partial"
	FeedbackIncorrect      = "incorrect"
	FeedbackHallucination  = "hallucination"
	FeedbackMissingContext = "missing_context"
)

// RetrievalFeedback is a user's verdict on one answer and the chunks it used.
type RetrievalFeedback struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:64;index" json:"session_id,omitempty"`
	JobID      string    `gorm:"size:64" json:"job_id,omitempty"`
	DocumentID string    `gorm:"size:64;not null;index:idx_feedback_scope" json:"company_document_id"`
	Revision   string    `gorm:"size:32;not null;index:idx_feedback_scope" json:"revision_number"`
	Question   string    `gorm:"type:text;not null" json:"question"`
	Answer     string    `gorm:"type:text;not null" json:"answer"`
	Label      string    `gorm:"size:32;not null;index" json:"feedback_label"`
	Score      *int      `json:"feedback_score,omitempty"`
	Comment    string    `gorm:"type:text" json:"comment,omitempty"`
	ChunkIDs   []string  `gorm:"serializer:json;type:json" json:"chunk_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RetrievalFeedback) TableName() string { return "retrieval_feedback" }

// RetrievalStat records what retrieval returned for one question. It is
// passive telemetry and never feeds back into answers.
type RetrievalStat struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SessionID       string    `gorm:"size:64;index" json:"session_id,omitempty"`
	DocumentID      string    `gorm:"size:64;not null;index:idx_stats_scope" json:"company_document_id"`
	Revision        string    `gorm:"size:32;not null;index:idx_stats_scope" json:"revision_number"`
	Question        string    `gorm:"type:text;not null" json:"question"`
	ChunkCount      int       `gorm:"not null" json:"chunk_count"`
	ChunkTypes      []string  `gorm:"serializer:json;type:json" json:"chunk_types"`
	Sections        []string  `gorm:"serializer:json;type:json" json:"sections"`
	AvgScore        *float64  `json:"avg_score,omitempty"`
	MaxScore        *float64  `json:"max_score,omitempty"`
	Confidence      float64   `json:"confidence"`
	ConfidenceLevel string    `gorm:"size:16" json:"confidence_level"`
	LatencyMS       int64     `json:"latency_ms"`
	CreatedAt       time.Time `gorm:"index:idx_stats_scope" json:"created_at"`
}

func (RetrievalStat) TableName() string { return "retrieval_stats" }
