package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/answer"
	"docchat/internal/app"
	"docchat/internal/job"
	"docchat/internal/transport/http/response"
)

// multipartSlack covers form fields and boundaries around the file part.
const multipartSlack = 1 << 20

type DocumentHandler struct {
	documents *app.DocumentService
}

type MetadataRequest struct {
	JobID    string            `json:"job_id" binding:"required"`
	Metadata map[string]string `json:"metadata" binding:"required"`
}

type CommitRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

func NewDocumentHandler(documents *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload accepts multipart form data: session_id, file, and optionally the
// editable metadata keys as plain fields.
func (h *DocumentHandler) Upload(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	limit := h.documents.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, app.ErrFileTooLarge, "")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is required")
		return
	}
	if fh.Size > limit {
		writeError(c, app.ErrFileTooLarge, "")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read upload failed")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read upload failed")
		return
	}

	metadata := map[string]string{}
	for _, key := range []string{job.KeyDocumentType, job.KeyRevisionCode, job.KeyRevisionDate} {
		if v := c.PostForm(key); v != "" {
			metadata[key] = v
		}
	}

	res, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		Owner:     owner,
		SessionID: c.PostForm("session_id"),
		Filename:  fh.Filename,
		Data:      data,
		Metadata:  metadata,
	})
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}
	response.OK(c, res)
}

func (h *DocumentHandler) SubmitMetadata(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	res, err := h.documents.SubmitMetadata(c.Request.Context(), owner, req.JobID, req.Metadata)
	if err != nil {
		writeError(c, err, "update metadata failed")
		return
	}
	response.OK(c, res)
}

// Commit streams PROGRESS events while the document is indexed. Lifecycle
// errors found before indexing starts are plain JSON errors.
func (h *DocumentHandler) Commit(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	stream := &lazyStream{c: c}
	_, err := h.documents.Commit(c.Request.Context(), owner, req.JobID, func(e answer.Event) {
		_ = stream.Emit(e.Encode())
	})
	if err == nil {
		return
	}
	if !stream.Started() {
		writeError(c, err, "commit failed")
		return
	}
	_ = stream.Emit(answer.ErrorEvent("Document processing failed: " + err.Error()).Encode())
}

func (h *DocumentHandler) Active(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	doc, err := h.documents.ActiveDocument(c.Request.Context(), owner, c.Param("session_id"))
	if err != nil {
		writeError(c, err, "get active document failed")
		return
	}
	response.OK(c, doc)
}
