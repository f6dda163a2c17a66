// Package cache holds successful GET responses of the read API for a short
// TTL. Any successful write through the same server flushes it.
package cache

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Entry is one captured response.
type Entry struct {
	ContentType string
	Body        []byte
}

// ResponseCache stores rendered responses keyed by request URI.
type ResponseCache struct {
	items   *gocache.Cache
	ttl     time.Duration
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

// NewResponseCache creates a cache with the given TTL. metrics and logger
// may be nil.
func NewResponseCache(ttl time.Duration, metrics *monitoring.Metrics, logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = monitoring.Discard()
	}
	return &ResponseCache{
		items:   gocache.New(ttl, 2*ttl),
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.With("component", "response_cache"),
	}
}

// Get returns the entry stored under key.
func (c *ResponseCache) Get(key string) (Entry, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Set stores an entry under key for the cache TTL.
func (c *ResponseCache) Set(key string, e Entry) {
	c.items.Set(key, e, gocache.DefaultExpiration)
}

// Flush drops every entry.
func (c *ResponseCache) Flush() {
	c.items.Flush()
}

// Size returns the number of stored entries, expired ones included until
// the janitor runs.
func (c *ResponseCache) Size() int {
	return c.items.ItemCount()
}

// Stats reports the cache size and TTL.
func (c *ResponseCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"items":       c.items.ItemCount(),
		"ttl_seconds": c.ttl.Seconds(),
	}
}

// Middleware serves cached GET responses and stores fresh 200 responses. A
// non-GET request that succeeds flushes the cache, since it may have
// changed anything a read returns.
func (c *ResponseCache) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodGet {
			ctx.Next()
			if ctx.Writer.Status() < http.StatusBadRequest && len(ctx.Errors) == 0 {
				c.Flush()
			}
			return
		}

		key := ctx.Request.URL.RequestURI()
		if entry, ok := c.Get(key); ok {
			c.hit()
			ctx.Header("X-Cache", "HIT")
			ctx.Data(http.StatusOK, entry.ContentType, entry.Body)
			ctx.Abort()
			return
		}
		c.miss()

		wrapper := &responseWriter{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = wrapper
		ctx.Header("X-Cache", "MISS")
		ctx.Next()

		if wrapper.Status() == http.StatusOK && len(ctx.Errors) == 0 {
			c.Set(key, Entry{ContentType: wrapper.Header().Get("Content-Type"), Body: wrapper.body.Bytes()})
			c.logger.Debug("Response cached", "key", key)
		}
	}
}

func (c *ResponseCache) hit() {
	if c.metrics != nil {
		c.metrics.IncrementCacheHit()
	}
}

func (c *ResponseCache) miss() {
	if c.metrics != nil {
		c.metrics.IncrementCacheMiss()
	}
}

// responseWriter copies the body while passing it through.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
