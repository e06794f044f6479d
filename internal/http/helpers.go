package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// --- Response Types ---

// ErrorResponse is the standard error response format for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`    // machine-readable error code
	Details any    `json:"details,omitempty"` // additional context (per-record errors, etc.)
}

// SuccessResponse is a standard success response with optional data.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// --- Error Response Helpers ---

func respondBadRequest(c *gin.Context, message string) {
	c.IndentedJSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

func respondNotFound(c *gin.Context, message string) {
	c.IndentedJSON(http.StatusNotFound, ErrorResponse{Error: message})
}

func respondInternalError(c *gin.Context, message string) {
	c.IndentedJSON(http.StatusInternalServerError, ErrorResponse{Error: message})
}

func respondUnprocessable(c *gin.Context, message string, details any) {
	c.IndentedJSON(http.StatusUnprocessableEntity, ErrorResponse{Error: message, Details: details})
}

// readPayload extracts the import payload and its filename from either a
// multipart upload (field "file") or a JSON body {"filename", "content"}.
func readPayload(c *gin.Context, maxBytes int64) ([]byte, string, error) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		content, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
		if err != nil {
			return nil, "", err
		}
		return content, file.Filename, nil
	}

	var req struct {
		Filename string `json:"filename"`
		Content  string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, "", err
	}
	return []byte(req.Content), req.Filename, nil
}
