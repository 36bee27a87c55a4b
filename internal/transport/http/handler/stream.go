package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/transport/http/response"
)

var errStreamUnsupported = errors.New("stream not supported")

// lineStream prepares a chunked text response and returns an emit func that
// writes and flushes one unit per call.
func lineStream(c *gin.Context) (func(string) error, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeStreamUnsupported, "stream not supported")
		return nil, false
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	return func(line string) error {
		if err := c.Request.Context().Err(); err != nil {
			return err
		}
		if _, err := c.Writer.WriteString(line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, true
}

// lazyStream opens the line stream on the first write, so an error found
// before any output can still go out as a JSON error.
type lazyStream struct {
	c    *gin.Context
	emit func(string) error
}

func (s *lazyStream) Emit(line string) error {
	if s.emit == nil {
		emit, ok := lineStream(s.c)
		if !ok {
			emit = func(string) error { return errStreamUnsupported }
		}
		s.emit = emit
	}
	return s.emit(line)
}

func (s *lazyStream) Started() bool { return s.emit != nil }
