package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceCacheHitRatio(t *testing.T) {
	m := NewMetricsService()

	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)

	assert.InDelta(t, 0.75, testutil.ToFloat64(m.cacheHitRatio), 0.001)
	assert.InDelta(t, 3, testutil.ToFloat64(m.cacheHits), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheMisses), 0.001)
}

func TestMetricsServiceNilReceiverIsSafe(t *testing.T) {
	var m *MetricsService

	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordLogin(true)
	m.RecordTokenRotation()
	m.RecordTokenReuse()
	m.RecordCascadeRevocation()
	m.ObserveCacheWrite(time.Millisecond)
	m.ObserveDBQuery("select", time.Millisecond)
	m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	assert.NotNil(t, m.Handler())
}
