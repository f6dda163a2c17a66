package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBatchAccumulates(t *testing.T) {
	m := NewMetrics()
	m.RecordBatch("roi", 10, 1)
	m.RecordBatch("roi", 5, 0)
	m.RecordBatch("accountability", 3, 2)

	snap := m.BatchSnapshot()
	require.Contains(t, snap, "roi")
	assert.Equal(t, int64(2), snap["roi"].Runs)
	assert.Equal(t, int64(15), snap["roi"].Calculated)
	assert.Equal(t, int64(1), snap["roi"].Errors)
	assert.Equal(t, int64(2), snap["accountability"].Errors)
}

func TestSignalFailures(t *testing.T) {
	m := NewMetrics()
	m.RecordSignalFailure("github")
	m.RecordSignalFailure("github")
	m.RecordSignalFailure("blockfrost")

	assert.Equal(t, map[string]int64{"github": 2, "blockfrost": 1}, m.SignalFailureSnapshot())
}

func TestPercentileResponseTime(t *testing.T) {
	m := NewMetrics()
	assert.Zero(t, m.GetPercentileResponseTime(95))
	for i := 1; i <= 100; i++ {
		m.RecordResponseTime(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 95*time.Millisecond, m.GetPercentileResponseTime(95))
}

func TestGetStatsShape(t *testing.T) {
	m := NewMetrics()
	m.IncrementRequest()
	m.IncrementError()
	m.RecordExternalAPIRequest("github", false)
	m.IncrementRateLimitBlock()

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats["total_requests"])
	assert.Equal(t, 100.0, stats["error_rate_percent"])
	assert.Contains(t, stats, "external_api_stats")
	assert.Equal(t, int64(1), stats["rate_limit"].(map[string]int64)["blocks"])
}

func TestLoggerLevelsAndFormat(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))

	var buf bytes.Buffer
	logger := NewLogger("info", &buf)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "v", entry["k"])
	assert.Contains(t, entry, "timestamp")
}
