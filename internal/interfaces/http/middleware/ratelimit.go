package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
)

// keyTruncateLen bounds how much of an API key or bearer token is used as
// a rate-limit key.
const keyTruncateLen = 20

// extractKey implements the fixed key-extraction priority ladder: API key
// header (truncated), then bearer token (truncated), then the first
// X-Forwarded-For entry if it syntactically validates as an address, then
// the peer address under the same validation, else the literal
// "anonymous". An invalid candidate at any step falls through to the next
// rather than producing an error.
func extractKey(c *gin.Context) string {
	if v := c.GetHeader("X-API-Key"); v != "" {
		return truncate(v, keyTruncateLen)
	}

	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return truncate(token, keyTruncateLen)
		}
	}

	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if isValidAddr(first) {
			return first
		}
	}

	if peer := c.ClientIP(); isValidAddr(peer) {
		return peer
	}

	return "anonymous"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isValidAddr checks the syntactic constraints a rate-limit key candidate
// must meet: length ≤ 45 (the longest possible IPv6 literal with an
// embedded IPv4 tail) and composed only of hex digits, dots, colons, or a
// "%zone" suffix of letters and digits.
func isValidAddr(s string) bool {
	if s == "" || len(s) > 45 {
		return false
	}
	inZone := false
	for _, r := range s {
		if inZone {
			if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return false
			}
			continue
		}
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '.' || r == ':':
		case r == '%':
			inZone = true
		default:
			return false
		}
	}
	return true
}

// RateLimit applies the sliding-window admission check to every route it
// wraps, keyed by extractKey's priority ladder. Rate-limit headers are set
// on every response, allowed or not.
func RateLimit(limiter service.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractKey(c)

		decision := limiter.Check(key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.MaxRequests()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if decision.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		}

		if !decision.Allowed {
			writeError(c, http.StatusTooManyRequests, gwerrors.NewRateLimited("rate limit exceeded"))
			c.Abort()
			return
		}

		c.Next()
	}
}
