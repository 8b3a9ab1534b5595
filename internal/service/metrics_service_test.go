package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordSession(OpRefresh, "ok")
	m.RecordSession(OpRefresh, "ok")
	m.RecordGuardDecision(DecisionFailClosed)
	m.RecordBackgroundFailure(JobTypeLogoutStamp)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.sessions.WithLabelValues(OpRefresh, "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.guardDecisions.WithLabelValues(DecisionFailClosed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.backgroundFailures.WithLabelValues(JobTypeLogoutStamp)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var m *MetricsService

	assert.NotPanics(t, func() {
		m.RecordSession(OpLogin, "ok")
		m.RecordGuardDecision(DecisionAccepted)
		m.ObserveIdentityCall("get_by_id", time.Millisecond)
		m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}
