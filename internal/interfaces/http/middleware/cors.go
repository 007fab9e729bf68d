package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS builds the permissive cross-origin policy: every route
// carries `Allow-Origin *`, and an `OPTIONS` preflight is answered with 204
// and no body, using gin-contrib/cors rather than hand-rolled headers.
func CORS() gin.HandlerFunc {
	cfg := cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization", "X-API-Key", "X-Session-Id"},
		MaxAge:          12 * time.Hour,
	}
	return cors.New(cfg)
}
