package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat/internal/answer"
	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type StreamRequest struct {
	SessionID string `json:"session_id" binding:"required,max=64"`
	Question  string `json:"question"`
	Mode      string `json:"mode"`
}

type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required,max=64"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Stream writes raw answer text and encoded UI events, one unit per write.
func (h *ChatHandler) Stream(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	stream := &lazyStream{c: c}
	err := h.chatService.Stream(c.Request.Context(), app.StreamInput{
		Owner:     owner,
		SessionID: req.SessionID,
		Question:  req.Question,
		Mode:      answer.ParseMode(req.Mode),
	}, stream.Emit)
	if err == nil {
		return
	}
	if !stream.Started() {
		writeError(c, err, "chat failed")
		return
	}
	_ = stream.Emit(answer.ErrorEvent(err.Error()).Encode())
}

func (h *ChatHandler) History(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	messages, err := h.chatService.History(c.Request.Context(), owner, c.Query("session_id"), limit)
	if err != nil {
		writeError(c, err, "get history failed")
		return
	}
	response.OK(c, messages)
}

func (h *ChatHandler) Abort(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if err := h.chatService.Abort(c.Request.Context(), owner, req.SessionID); err != nil {
		writeError(c, err, "abort failed")
		return
	}
	response.OK(c, gin.H{"session_id": req.SessionID, "aborted": true})
}

func (h *ChatHandler) ResetAbort(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if err := h.chatService.ResetAbort(c.Request.Context(), owner, req.SessionID); err != nil {
		writeError(c, err, "reset abort failed")
		return
	}
	response.OK(c, gin.H{"session_id": req.SessionID, "aborted": false})
}

func (h *ChatHandler) AbortStatus(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	status, err := h.chatService.AbortStatus(c.Request.Context(), owner, c.Param("session_id"))
	if err != nil {
		writeError(c, err, "get abort status failed")
		return
	}
	response.OK(c, status)
}
