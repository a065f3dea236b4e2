package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/engine"
	"github.com/aristath/riskengine/internal/metrics"
	"github.com/aristath/riskengine/internal/modules/stress"
	testhelpers "github.com/aristath/riskengine/internal/testing"
)

type stubEngine struct{}

func (stubEngine) VaR(context.Context, engine.VaRInput) (domain.RiskReport, error) {
	return domain.NewRiskReport(domain.RiskReportParams{Method: domain.VaRHistorical}), nil
}

func (stubEngine) PortfolioMetrics(context.Context, string, engine.MetricsInput) (domain.RiskReport, error) {
	return domain.RiskReport{}, domain.ErrNotFound
}

func (stubEngine) StressTest(context.Context, engine.StressInput) (domain.StressResult, error) {
	return domain.StressResult{}, nil
}

func (stubEngine) StressTestAll(context.Context, domain.Portfolio, []string) ([]domain.StressResult, error) {
	return nil, nil
}

func (stubEngine) Scenarios() []domain.StressScenario {
	return stress.Presets()
}

func (stubEngine) Optimize(context.Context, engine.OptimizeInput) (domain.OptimizationResult, error) {
	return domain.OptimizationResult{}, nil
}

func (stubEngine) EfficientFrontier(context.Context, engine.FrontierInput) (domain.EfficientFrontier, error) {
	return domain.EfficientFrontier{}, nil
}

func newTestServer(t *testing.T, databases map[string]*database.DB) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return New(Config{
		Log:         zerolog.Nop(),
		Port:        0,
		DevMode:     true,
		Engine:      stubEngine{},
		Databases:   databases,
		Metrics:     m,
		MaxInFlight: 4,
	}), m
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy stores", func(t *testing.T) {
		db, cleanup := testhelpers.NewTestDB(t, "history")
		defer cleanup()

		s, _ := newTestServer(t, map[string]*database.DB{"history": db})
		rec := get(t, s, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "riskengine", body.Service)
		assert.Equal(t, "ok", body.Databases["history"])
	})

	t.Run("closed store degrades", func(t *testing.T) {
		db, cleanup := testhelpers.NewTestDB(t, "portfolio")
		defer cleanup()
		require.NoError(t, db.Close())

		s, _ := newTestServer(t, map[string]*database.DB{"portfolio": db})
		rec := get(t, s, "/health")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "unavailable", body.Databases["portfolio"])
	})

	t.Run("no stores", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)
	})
}

func TestRoutes_API(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := get(t, s, "/api/risk/scenarios")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["data"], len(stress.Presets()))

	rec = get(t, s, "/api/risk/metrics/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, s, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSystemStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := get(t, s, "/api/system/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.MaxInFlight)
	assert.Positive(t, body.Goroutines)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, get(t, s, "/api/risk/scenarios").Code)

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `riskengine_http_requests_total{route="/api/risk/scenarios",status="200"} 1`)
}
