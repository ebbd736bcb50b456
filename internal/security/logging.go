package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs each HTTP request with method, path, status, and duration.
// Paths listed in skipPaths are silently passed through without logging.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", duration,
			"clientIP", c.ClientIP(),
			"userAgent", c.Request.UserAgent(),
		)
	}
}

// LifecycleAuditMiddleware writes one audit line per export or erasure request
// and counts it by outcome. Bodies are never logged.
func LifecycleAuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		operation := lifecycleOperation(c.Request)
		if operation == "" {
			c.Next()
			return
		}

		c.Next()

		status := c.Writer.Status()
		outcome := "success"
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			outcome = "denied"
		case status >= 400 && status < 500:
			outcome = "rejected"
		case status >= 500:
			outcome = "failed"
		}
		RecordLifecycle(operation, outcome)
		log.Info("Lifecycle audit",
			"operation", operation,
			"caller", GetIdentity(c).ID,
			"outcome", outcome,
			"status", status,
			"clientIP", c.ClientIP(),
		)
	}
}

func lifecycleOperation(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodGet && path == "/v1/export":
		return "export"
	case r.Method == http.MethodDelete && path == "/v1/account":
		return "erase"
	default:
		return ""
	}
}
