package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

type SessionHandler struct {
	sessions *app.SessionService
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"max=128"`
}

func NewSessionHandler(sessions *app.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Create(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	// The body is optional; an empty one gets the default title.
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), owner, req.Title)
	if err != nil {
		writeError(c, err, "create session failed")
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.List(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	if err := h.sessions.Delete(c.Request.Context(), owner, sessionID); err != nil {
		writeError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

// Job accepts a job id or a session id.
func (h *SessionHandler) Job(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	j, err := h.sessions.Job(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		writeError(c, err, "get job failed")
		return
	}
	response.OK(c, j)
}
