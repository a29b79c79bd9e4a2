package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func labelsOf(metric *dto.Metric) map[string]string {
	labels := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func TestMetrics_RecordAlertAndReload(t *testing.T) {
	m := NewMetrics()
	m.RecordAlert("main", StatusSuccess)
	m.RecordAlert("main", StatusSuccess)
	m.RecordAlert("main", StatusPartialSuccess)
	m.RecordConfigReload("error")

	assert.InDelta(t, 2, testutil.ToFloat64(m.alertsTotal.WithLabelValues("main", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.alertsTotal.WithLabelValues("main", StatusPartialSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.configReloads.WithLabelValues("error")), 0)
}

func TestMetrics_MiddlewareLabelsByPattern(t *testing.T) {
	m := NewMetrics()
	mux := http.NewServeMux()
	mux.HandleFunc(RouteIngress, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := m.Middleware(mux)

	do(t, h, http.MethodPost, "/i/alpha", "{}")
	do(t, h, http.MethodPost, "/i/beta", "{}")
	do(t, h, http.MethodGet, "/elsewhere", "")

	mf := findFamily(t, m, "relay_http_requests_total")
	require.Equal(t, dto.MetricType_COUNTER, mf.GetType())

	counts := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		labels := labelsOf(metric)
		counts[labels["route"]+" "+labels["status_code"]] += metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"POST /i/{endpoint} 202": 2,
		"unmatched 404":          1,
	}, counts)
}

func TestMetrics_RecordHTTPRequestObservesDuration(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest(http.MethodGet, RouteHealth, "200", 250*time.Millisecond)

	mf := findFamily(t, m, "relay_http_request_duration_seconds")
	require.Len(t, mf.GetMetric(), 1)
	hist := mf.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.InDelta(t, 0.25, hist.GetSampleSum(), 1e-9)
}
