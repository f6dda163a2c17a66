package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsCarryCategoryAndStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
	}{
		{"validation", NewValidationError("reason is required", "reason"), CategoryValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("project", "p1"), CategoryNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("score is not in preview", nil), CategoryConflict, http.StatusConflict},
		{"unauthorized", NewUnauthorizedError("missing bearer token"), CategoryUnauthorized, http.StatusUnauthorized},
		{"forbidden", NewForbiddenError("reviewer"), CategoryForbidden, http.StatusForbidden},
		{"rate limit", NewRateLimitError(30 * time.Second), CategoryRateLimit, http.StatusTooManyRequests},
		{"external", NewExternalAPIError("github", errors.New("boom")), CategoryExternalAPI, http.StatusBadGateway},
		{"timeout", NewTimeoutError("slow", nil), CategoryTimeout, http.StatusGatewayTimeout},
		{"configuration", NewConfigurationError("bad rate", nil), CategoryConfiguration, http.StatusInternalServerError},
		{"internal", NewInternalError("oops", nil), CategoryInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Contains(t, tt.err.Error(), string(tt.category))
		})
	}
}

func TestDetailsAndCause(t *testing.T) {
	nf := NewNotFoundError("person", "abc")
	assert.Equal(t, "person not found", nf.ErrBuilder.Msg)
	assert.Equal(t, "abc", nf.Details()["id"])

	assert.Nil(t, NewValidationError("bad", "").Details())

	cause := errors.New("connection reset")
	ext := NewExternalAPIError("blockfrost", cause)
	assert.True(t, errors.Is(ext, cause))
	assert.Equal(t, "blockfrost", ext.Details()["api_name"])
}

func TestCategoryPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("filing dispute: %w", NewConflictError("duplicate", nil))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.True(t, IsNotFound(NewNotFoundError("score", "s")))
	assert.True(t, IsValidation(NewValidationError("x", "")))
	assert.False(t, IsValidation(errors.New("plain")))
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
	}{
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"cancelled", fmt.Errorf("wrap: %w", context.Canceled), CategoryTimeout},
		{"refused", errors.New("dial tcp: connection refused"), CategoryExternalAPI},
		{"plain", errors.New("something"), CategoryInternal},
		{"already app error", fmt.Errorf("ctx: %w", NewNotFoundError("fund", "1")), CategoryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, ToAppError(tt.err).Category)
		})
	}
	assert.Nil(t, ToAppError(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewExternalAPIError("github", nil)))
	assert.True(t, IsRetryable(NewRateLimitError(time.Second)))
	assert.False(t, IsRetryable(NewValidationError("bad", "")))
	assert.False(t, IsRetryable(NewNotFoundError("x", "")))
}

func TestErrorHandlerRendersLastError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/missing", func(c *gin.Context) {
		_ = c.Error(NewNotFoundError("project", "p9"))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("kaput"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CategoryNotFound, body.Error.Category)
	assert.Equal(t, "project not found", body.Error.Message)
	assert.Equal(t, "p9", body.Error.Details["id"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecoveryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryHandler())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"internal"`)
}
