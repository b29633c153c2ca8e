package server

import (
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nikiz24/registry-exporter/exposition"
	"github.com/nikiz24/registry-exporter/metric"
)

type fakeSource struct {
	collected int
}

func (s *fakeSource) Collect() iter.Seq[metric.Family] {
	s.collected++
	return slices.Values([]metric.Family{
		metric.NewGaugeFamily("pool_size", "Pool size.", slices.Values([]metric.NumericMetric{
			{Labels: metric.FromPairs("pool", "foo"), Value: 1},
		})),
	})
}

func (s *fakeSource) GlobalLabels() metric.Labels {
	return metric.FromPairs("app_cluster", "c1")
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMetrics_DefaultsToText(t *testing.T) {
	h := New(&fakeSource{})

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exposition.TextContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "# HELP pool_size Pool size.\n")
	assert.Regexp(t, `pool_size\{pool="foo",app_cluster="c1"\} 1\.0 \d+\n`, rec.Body.String())
}

func TestMetrics_Negotiation(t *testing.T) {
	h := New(&fakeSource{})

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"prometheus", "/metrics", "application/openmetrics-text;version=1.0.0,text/plain;version=0.0.4;q=0.5,*/*;q=0.1", exposition.TextContentType},
		{"json", "/metrics", "application/json", exposition.JSONContentType},
		{"weighted", "/metrics", "text/plain;q=0.2, application/json;q=0.9", exposition.JSONContentType},
		{"browser", "/metrics", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", exposition.HTMLContentType},
		{"wildcard", "/metrics", "*/*", exposition.TextContentType},
		{"x-accept overrides header", "/metrics?x-accept=application/json", "text/plain", exposition.JSONContentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, map[string]string{"Accept": tt.accept})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, rec.Header().Get("Content-Type"))
		})
	}
}

func TestMetrics_JSONBody(t *testing.T) {
	rec := do(t, New(&fakeSource{}), http.MethodGet, "/metrics?x-accept=application/json&help=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	families := doc["metricFamilies"].(map[string]any)
	pool := families["pool_size"].(map[string]any)
	assert.Equal(t, "GAUGE", pool["type"])
	assert.NotContains(t, pool, "help")
}

func TestMetrics_HelpPolicy(t *testing.T) {
	promUA := map[string]string{"User-Agent": "Prometheus/2.53.0"}
	curlUA := map[string]string{"User-Agent": "curl/8.0"}

	auto := New(&fakeSource{})
	assert.NotContains(t, do(t, auto, http.MethodGet, "/metrics", promUA).Body.String(), "# HELP")
	assert.Contains(t, do(t, auto, http.MethodGet, "/metrics", curlUA).Body.String(), "# HELP")
	assert.Contains(t, do(t, auto, http.MethodGet, "/metrics?help=TRUE", promUA).Body.String(), "# HELP")

	exclude := New(&fakeSource{}, WithHelpPolicy(HelpExclude))
	assert.NotContains(t, do(t, exclude, http.MethodGet, "/metrics", curlUA).Body.String(), "# HELP")

	include := New(&fakeSource{}, WithHelpPolicy(HelpInclude))
	assert.Contains(t, do(t, include, http.MethodGet, "/metrics", promUA).Body.String(), "# HELP")
	assert.NotContains(t, do(t, include, http.MethodGet, "/metrics?help=false", promUA).Body.String(), "# HELP")
}

func TestMetrics_Head(t *testing.T) {
	src := &fakeSource{}
	rec := do(t, New(src), http.MethodHead, "/metrics", map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exposition.JSONContentType, rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
	assert.Zero(t, src.collected, "HEAD does not collect")
}

func TestErrors(t *testing.T) {
	h := New(&fakeSource{})

	tests := []struct {
		name   string
		method string
		target string
		header map[string]string
		status int
		body   string
	}{
		{"unknown path", http.MethodGet, "/nope", nil, http.StatusNotFound, "could not be found"},
		{"wrong method", http.MethodPost, "/metrics", nil, http.StatusMethodNotAllowed, "not allowed"},
		{"bad help", http.MethodGet, "/metrics?help=maybe", nil, http.StatusBadRequest, "'help'"},
		{"bad x-accept", http.MethodGet, "/metrics?x-accept=", nil, http.StatusBadRequest, "'x-accept'"},
		{"bad accept", http.MethodGet, "/metrics", map[string]string{"Accept": "garbage"}, http.StatusBadRequest, "Accept header"},
		{"unsupported", http.MethodGet, "/metrics", map[string]string{"Accept": "image/png"}, http.StatusNotAcceptable, "None of the specified"},
		{"root wants html", http.MethodGet, "/", map[string]string{"Accept": "application/json"}, http.StatusNotAcceptable, "None of the specified"},
		{"no self metrics", http.MethodGet, "/exporter/metrics", nil, http.StatusNotFound, "could not be found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.header)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "close", rec.Header().Get("Connection"))
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestRoot(t *testing.T) {
	h := New(&fakeSource{})

	rec := do(t, h, http.MethodGet, "/", map[string]string{"Accept": "text/html"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exposition.HTMLContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `href="/metrics"`)

	rec = do(t, h, http.MethodHead, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestHealthz(t *testing.T) {
	healthy := true
	h := New(&fakeSource{}, WithHealth(func() (bool, string) {
		if healthy {
			return true, ""
		}
		return false, ""
	}))

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	healthy = false
	rec = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy\n", rec.Body.String())
}

func TestSelfMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zapcore.DebugLevel)
	h := New(&fakeSource{},
		WithGatherer(reg),
		WithMetrics(NewMetrics("app", reg)),
		WithLogger(zap.New(core)),
	)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", nil).Code)
	do(t, h, http.MethodGet, "/missing", nil)

	rec := do(t, h, http.MethodGet, "/exporter/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `app_exporter_scrapes_total{format="text"} 1`)
	assert.Contains(t, body, `app_exporter_http_errors_total{code="404"} 1`)
	assert.True(t, strings.Contains(body, "app_exporter_scrape_bytes_total"))

	served := logs.FilterMessage("Served metrics exposition").All()
	require.Len(t, served, 1)
	assert.NotEmpty(t, served[0].ContextMap()["scrape_id"])
}

func TestParseHelpPolicy(t *testing.T) {
	p, err := ParseHelpPolicy("Exclude")
	require.NoError(t, err)
	assert.Equal(t, HelpExclude, p)
	assert.Equal(t, "exclude", p.String())

	_, err = ParseHelpPolicy("sometimes")
	assert.Error(t, err)
}
