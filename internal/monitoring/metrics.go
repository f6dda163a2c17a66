package monitoring

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BatchStats accumulates outcomes of one kind of sweep.
type BatchStats struct {
	Runs       int64     `json:"runs"`
	Calculated int64     `json:"calculated"`
	Errors     int64     `json:"errors"`
	LastRun    time.Time `json:"last_run"`
}

// Metrics holds process counters exposed on the health endpoint.
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	CacheHits           int64
	CacheMisses         int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	ExternalAPIRequests   map[string]int64
	ExternalAPIErrorCount map[string]int64
	ExternalAPIMutex      sync.RWMutex

	SignalFailures map[string]int64
	Batches        map[string]*BatchStats
	BatchMutex     sync.RWMutex

	RateLimitBlocks        int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:             time.Now(),
		ResponseTimes:         make([]time.Duration, 0, 1000),
		RequestCountByStatus:  make(map[int]int64),
		ExternalAPIRequests:   make(map[string]int64),
		ExternalAPIErrorCount: make(map[string]int64),
		SignalFailures:        make(map[string]int64),
		Batches:               make(map[string]*BatchStats),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	atomic.StoreInt64(&m.AverageResponseTime, (current+duration.Nanoseconds())/2)

	// keep the last 1000 samples
	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// RecordExternalAPIRequest records a provider request
func (m *Metrics) RecordExternalAPIRequest(apiName string, success bool) {
	m.ExternalAPIMutex.Lock()
	defer m.ExternalAPIMutex.Unlock()

	m.ExternalAPIRequests[apiName]++
	if !success {
		m.ExternalAPIErrorCount[apiName]++
	}
}

// RecordSignalFailure counts a signal source that failed for one project.
func (m *Metrics) RecordSignalFailure(source string) {
	m.BatchMutex.Lock()
	defer m.BatchMutex.Unlock()
	m.SignalFailures[source]++
}

// RecordBatch accumulates the outcome of a sweep of the given kind.
func (m *Metrics) RecordBatch(kind string, calculated, errors int) {
	m.BatchMutex.Lock()
	defer m.BatchMutex.Unlock()

	stats, ok := m.Batches[kind]
	if !ok {
		stats = &BatchStats{}
		m.Batches[kind] = stats
	}
	stats.Runs++
	stats.Calculated += int64(calculated)
	stats.Errors += int64(errors)
	stats.LastRun = time.Now()
}

// BatchSnapshot copies the per-kind batch counters.
func (m *Metrics) BatchSnapshot() map[string]BatchStats {
	m.BatchMutex.RLock()
	defer m.BatchMutex.RUnlock()

	out := make(map[string]BatchStats, len(m.Batches))
	for k, v := range m.Batches {
		out[k] = *v
	}
	return out
}

// SignalFailureSnapshot copies the per-source failure counters.
func (m *Metrics) SignalFailureSnapshot() map[string]int64 {
	m.BatchMutex.RLock()
	defer m.BatchMutex.RUnlock()

	out := make(map[string]int64, len(m.SignalFailures))
	for k, v := range m.SignalFailures {
		out[k] = v
	}
	return out
}

// IncrementRateLimitBlock counts a rejected request
func (m *Metrics) IncrementRateLimitBlock() {
	atomic.AddInt64(&m.RateLimitBlocks, 1)
}

// IncrementRateLimitRedisError counts a redis failure in the limiter
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback counts a decision served by the in-memory fallback
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

func (m *Metrics) externalAPIStats() map[string]interface{} {
	m.ExternalAPIMutex.RLock()
	defer m.ExternalAPIMutex.RUnlock()

	stats := make(map[string]interface{}, len(m.ExternalAPIRequests))
	for api, requests := range m.ExternalAPIRequests {
		errs := m.ExternalAPIErrorCount[api]
		stats[api] = map[string]interface{}{
			"requests":   requests,
			"errors":     errs,
			"error_rate": float64(errs) / float64(requests) * 100,
		}
	}
	return stats
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errs := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errs) / float64(requests) * 100
	}
	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	m.StatusMutex.RLock()
	byStatus := make(map[int]int64, len(m.RequestCountByStatus))
	for code, n := range m.RequestCountByStatus {
		byStatus[code] = n
	}
	m.StatusMutex.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.StartTime).Seconds(),
		"total_requests":           requests,
		"error_count":              errs,
		"error_rate_percent":       errorRate,
		"cache_hits":               cacheHits,
		"cache_misses":             cacheMisses,
		"cache_hit_rate_percent":   cacheHitRate,
		"avg_response_time_ms":     float64(atomic.LoadInt64(&m.AverageResponseTime)) / 1e6,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1e6,
		"status_code_distribution": byStatus,
		"external_api_stats":       m.externalAPIStats(),
		"signal_failures":          m.SignalFailureSnapshot(),
		"batches":                  m.BatchSnapshot(),
		"rate_limit": map[string]int64{
			"blocks":         atomic.LoadInt64(&m.RateLimitBlocks),
			"redis_errors":   atomic.LoadInt64(&m.RateLimitRedisErrors),
			"fallback_count": atomic.LoadInt64(&m.RateLimitFallbackCount),
		},
		"go_gc_count":         mem.NumGC,
		"go_heap_alloc_bytes": mem.HeapAlloc,
		"start_time":          m.StartTime.Format(time.RFC3339),
	}
}
