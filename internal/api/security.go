package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
)

// SecurityHeaders adds the response headers every API answer carries.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// RequestTimeout bounds each request's context. Batch routes that sweep
// the whole dataset are mounted outside it.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Timeout", strconv.Itoa(int(d.Seconds())))

		c.Next()
	}
}

// ValidateContentType rejects request bodies that are not JSON.
func ValidateContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		contentType := c.GetHeader("Content-Type")
		if contentType != "" && c.Request.ContentLength != 0 &&
			!strings.Contains(strings.ToLower(contentType), "application/json") {
			appErr := apperrors.NewValidationError("unsupported content type", "Content-Type")
			appErr.HTTPStatus = http.StatusUnsupportedMediaType
			_ = c.Error(appErr)
			c.Abort()
			return
		}

		c.Next()
	}
}
