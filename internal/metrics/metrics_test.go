package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_CacheAndDispatch(t *testing.T) {
	m := New()

	m.CacheHit("memory")
	m.CacheHit("memory")
	m.CacheMiss("redis")
	m.DispatchCompleted(8, true, 2, 10*time.Millisecond)
	m.DispatchCompleted(2, false, 0, time.Millisecond)
	m.ObserveComputation("var", "ok", time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `riskengine_cache_hits_total{layer="memory"} 2`)
	assert.Contains(t, body, `riskengine_cache_misses_total{layer="redis"} 1`)
	assert.Contains(t, body, `riskengine_dispatches_total{mode="parallel"} 1`)
	assert.Contains(t, body, `riskengine_dispatches_total{mode="inline"} 1`)
	assert.Contains(t, body, `riskengine_task_failures_total 2`)
	assert.Contains(t, body, `riskengine_computation_duration_seconds_count{operation="var",outcome="ok"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CacheHit("memory")

	assert.Contains(t, scrape(t, a), `riskengine_cache_hits_total{layer="memory"} 1`)
	assert.NotContains(t, scrape(t, b), `riskengine_cache_hits_total{layer="memory"}`)
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/risk/metrics/{portfolioId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/risk/metrics/p-1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `riskengine_http_requests_total{route="/risk/metrics/{portfolioId}",status="418"} 1`)
}
