package middleware

import (
	"github.com/gin-gonic/gin"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
)

// ErrorBody is the OpenAI-compatible error envelope
type ErrorBody struct {
	Message string            `json:"message"`
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Envelope wraps ErrorBody under the top-level "error" key.
type Envelope struct {
	Error ErrorBody `json:"error"`
}

// writeError renders err as the standard envelope and sets the HTTP status.
func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, Envelope{Error: ErrorBody{
		Message: gwerrors.Message(err),
		Type:    string(gwerrors.EnvelopeType(err)),
		Code:    gwerrors.EnvelopeCode(err),
	}})
}
