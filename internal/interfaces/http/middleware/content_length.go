package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
)

// MaxBodyBytes is the request body cap resource caps (1 MiB).
const MaxBodyBytes = 1 << 20

// LimitBody rejects malformed, negative, or oversized Content-Length headers
// before the body is read. A missing Content-Length is
// allowed through (chunked transfer encoding has none) and capped downstream
// by http.MaxBytesReader.
func LimitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		cl := c.Request.ContentLength
		if cl < 0 && c.GetHeader("Content-Length") != "" {
			writeError(c, http.StatusBadRequest, gwerrors.NewInvalidArgument("malformed Content-Length"))
			c.Abort()
			return
		}
		if cl > MaxBodyBytes {
			writeError(c, http.StatusRequestEntityTooLarge, gwerrors.NewInvalidArgument("request body exceeds 1 MiB"))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
		c.Next()
	}
}
