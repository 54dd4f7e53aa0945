package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheRequest(ResultHit)
		m.CacheComputation(true)
		m.CacheWriteError()
		m.SetCacheEntries(3)
		m.ObserveHeatmap(time.Now())
		m.HTTPRequest("GET", "/health", "200")
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.CacheRequest(ResultHit)
	m.CacheRequest(ResultHit)
	m.CacheRequest(ResultMiss)
	m.CacheComputation(false)
	m.CacheWriteError()
	m.SetCacheEntries(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues(ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheComputations.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheWriteErrors))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cacheEntries))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "geolens_cache_requests_total"))
}
