// Package apierror maps store and security errors to JSON responses shared by
// every route plugin.
package apierror

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/config"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
)

// Handle writes the response for err and aborts the request.
func Handle(c *gin.Context, err error) {
	var (
		authn      *security.AuthenticationError
		authz      *security.AuthorizationError
		validation *registrystore.ValidationError
		notFound   *registrystore.NotFoundError
		conflict   *registrystore.ConflictError
	)
	switch {
	case errors.As(err, &authn):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": authn.Error()})
	case errors.As(err, &authz):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": authz.Error()})
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"code":  "validation_error",
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.As(err, &notFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "not_found", "error": notFound.Error()})
	case errors.As(err, &conflict):
		code := conflict.Code
		if code == "" {
			code = "conflict"
		}
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"code": code, "error": conflict.Error()})
	default:
		Internal(c, err)
	}
}

// Internal logs err and answers 500. The cause is only echoed back in
// testing mode.
func Internal(c *gin.Context, err error) {
	log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
	body := gin.H{"code": "internal_error", "error": "internal server error"}
	if config.FromContext(c.Request.Context()).TestingMode() {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
}

// BadRequest answers 400 for malformed input that never reached the store.
func BadRequest(c *gin.Context, field, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"code":  "validation_error",
		"error": message,
		"field": field,
	})
}

// BindJSON decodes the request body into dst, answering 400 on failure.
func BindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"code": "body_too_large", "error": "request body too large"})
			return false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
