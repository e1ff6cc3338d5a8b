package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Heartbeat()
	m.Registration(true)
	m.CommandCreated("lock")
	m.CommandsCleaned(3)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Instrument("x", h))
}

func TestCounters(t *testing.T) {
	m := New()
	m.Registration(true)
	m.Registration(false)
	m.Registration(false)
	m.CommandCreated("wipe")
	m.CommandTransition("completed")
	m.CommandsCleaned(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("new")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsCreated.WithLabelValues("wipe")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.commandsCleaned))
}

func TestInstrumentAndHandler(t *testing.T) {
	m := New()
	h := m.Instrument("heartbeat", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/device/heartbeat", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reqCnt.WithLabelValues("heartbeat", "post", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
