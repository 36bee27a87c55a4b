package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                = 0
	CodeBadRequest        = 40000
	CodeImmutableField    = 40001
	CodeMissingScope      = 40002
	CodeUnauthorized      = 40100
	CodeSessionNotFound   = 40401
	CodeJobNotFound       = 40402
	CodeNoActiveDocument  = 40403
	CodeJobNotReady       = 40901
	CodeStreamInFlight    = 40902
	CodeFileTooLarge      = 41300
	CodeUnsupportedFile   = 41500
	CodeRateLimited       = 42900
	CodeInternalServer    = 50000
	CodeStreamUnsupported = 50001
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
