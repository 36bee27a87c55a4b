package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

type FeedbackHandler struct {
	feedback *app.FeedbackService
}

type FeedbackRequest struct {
	SessionID  string   `json:"session_id" binding:"max=64"`
	JobID      string   `json:"job_id" binding:"max=64"`
	DocumentID string   `json:"company_document_id" binding:"required,max=64"`
	Revision   string   `json:"revision_number" binding:"required,max=32"`
	Question   string   `json:"question" binding:"required"`
	Answer     string   `json:"answer" binding:"required"`
	Label      string   `json:"feedback_label" binding:"required"`
	Score      *int     `json:"feedback_score"`
	Comment    string   `json:"comment"`
	ChunkIDs   []string `json:"chunk_ids"`
}

func NewFeedbackHandler(feedback *app.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

func (h *FeedbackHandler) Submit(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	err := h.feedback.Submit(c.Request.Context(), owner, app.FeedbackInput{
		SessionID:  req.SessionID,
		JobID:      req.JobID,
		DocumentID: req.DocumentID,
		Revision:   req.Revision,
		Question:   req.Question,
		Answer:     req.Answer,
		Label:      req.Label,
		Score:      req.Score,
		Comment:    req.Comment,
		ChunkIDs:   req.ChunkIDs,
	})
	if err != nil {
		writeError(c, err, "submit feedback failed")
		return
	}
	response.OK(c, gin.H{"status": "ok", "message": "Feedback recorded"})
}
