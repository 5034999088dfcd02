package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "provisioning_jobs_total", Help: "jobs"}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "provisioning_job_duration_seconds", Help: "latency"})
	registry.MustRegister(jobs, duration)
	jobs.WithLabelValues("completed").Add(3)
	duration.Observe(1)
	return registry
}

func TestRemoteWritePusher_SendsCounters(t *testing.T) {
	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, compressed)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, "secret", srv.Client())
	pusher.now = func() time.Time { return time.UnixMilli(1_750_000_000_000) }

	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, got.Timeseries, 1)
	series := got.Timeseries[0]
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "provisioning_jobs_total"},
		{Name: "status", Value: "completed"},
	}, series.Labels)
	require.Len(t, series.Samples, 1)
	assert.Equal(t, 3.0, series.Samples[0].Value)
	assert.Equal(t, int64(1_750_000_000_000), series.Samples[0].Timestamp)
}

func TestRemoteWritePusher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "", srv.Client()).Push(context.Background(), testRegistry(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPushgatewayPusher_UsesJobAndGrouping(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "provisioning", map[string]string{"environment": "test", "blank": " "})

	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/provisioning"))
	assert.Contains(t, path, "/environment/test")
	assert.NotContains(t, path, "blank")
}

func TestNewPusher(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Enabled: true}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Enabled: true, Exporter: "statsd", Endpoint: "http://x"}}, log))

	pusher := NewPusher(config.Config{AppName: "provisioning", MetricsPush: config.MetricsPushConfig{Enabled: true, Endpoint: "http://gateway:9091"}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pusher)

	pusher = NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Enabled: true, Exporter: ExporterRemoteWrite, Endpoint: "http://mimir/api/v1/push"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, pusher)
}
