// Package handlers provides HTTP handlers for VaR, risk metrics and stress testing.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/riskengine/internal/api"
	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/engine"
)

// Service is the engine surface used by the risk handlers
type Service interface {
	VaR(ctx context.Context, in engine.VaRInput) (domain.RiskReport, error)
	PortfolioMetrics(ctx context.Context, portfolioID string, in engine.MetricsInput) (domain.RiskReport, error)
	StressTest(ctx context.Context, in engine.StressInput) (domain.StressResult, error)
	StressTestAll(ctx context.Context, portfolio domain.Portfolio, names []string) ([]domain.StressResult, error)
	Scenarios() []domain.StressScenario
}

// Handler handles risk HTTP requests
type Handler struct {
	service Service
	respond *api.Responder
	log     zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	l := log.With().Str("handler", "risk").Logger()
	return &Handler{
		service: service,
		respond: api.NewResponder(l),
		log:     l,
	}
}

// VaRRequest is the body of POST /risk/var
type VaRRequest struct {
	Portfolio    domain.Portfolio `json:"portfolio" validate:"required"`
	Confidence   float64          `json:"confidence" validate:"omitempty,gt=0,lt=1"`
	Confidences  []float64        `json:"confidences" validate:"omitempty,dive,gt=0,lt=1"`
	Method       string           `json:"method" validate:"required,oneof=historical parametric monte_carlo"`
	ReturnMethod string           `json:"returnMethod" validate:"omitempty,oneof=simple log"`
	Start        string           `json:"start" validate:"required"`
	End          string           `json:"end" validate:"required"`
	Seed         *uint64          `json:"seed"`
	Simulations  int              `json:"simulations" validate:"gte=0"`
	Benchmark    string           `json:"benchmark"`
	Breakdown    bool             `json:"breakdown"`
}

// StressRequest is the body of POST /risk/stress-test
type StressRequest struct {
	Portfolio domain.Portfolio   `json:"portfolio" validate:"required"`
	Scenario  string             `json:"scenario"`
	Shocks    map[string]float64 `json:"shocks"`
	// Value overrides portfolio.value
	Value *float64 `json:"value" validate:"omitempty,gte=0"`
}

// StressAllRequest is the body of POST /risk/stress-test/all
type StressAllRequest struct {
	Portfolio domain.Portfolio `json:"portfolio" validate:"required"`
	Scenarios []string         `json:"scenarios" validate:"omitempty,dive,required"`
}

// HandleVaR handles POST /api/risk/var
func (h *Handler) HandleVaR(w http.ResponseWriter, r *http.Request) {
	var req VaRRequest
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	window, err := api.ParseWindow(req.Start, req.End)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	report, err := h.service.VaR(r.Context(), engine.VaRInput{
		Portfolio:    req.Portfolio,
		Window:       window,
		Confidences:  confidences(req.Confidence, req.Confidences),
		Method:       domain.VaRMethod(req.Method),
		ReturnMethod: domain.ReturnMethod(req.ReturnMethod),
		Seed:         req.Seed,
		Simulations:  req.Simulations,
		Benchmark:    req.Benchmark,
		Breakdown:    req.Breakdown,
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, report)
}

// HandleStressTest handles POST /api/risk/stress-test
func (h *Handler) HandleStressTest(w http.ResponseWriter, r *http.Request) {
	var req StressRequest
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	if req.Value != nil {
		req.Portfolio.Value = decimal.NewFromFloat(*req.Value)
	}

	result, err := h.service.StressTest(r.Context(), engine.StressInput{
		Portfolio: req.Portfolio,
		Scenario:  req.Scenario,
		Shocks:    req.Shocks,
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, result)
}

// HandleStressTestAll handles POST /api/risk/stress-test/all
func (h *Handler) HandleStressTestAll(w http.ResponseWriter, r *http.Request) {
	var req StressAllRequest
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	results, err := h.service.StressTestAll(r.Context(), req.Portfolio, req.Scenarios)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, results)
}

// HandleGetPortfolioMetrics handles GET /api/risk/metrics/{portfolioId}
// Query: confidence (comma separated, default 0.95), method (default historical),
// returnMethod, start, end (default: the year up to today).
func (h *Handler) HandleGetPortfolioMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	window, err := api.ParseWindow(q.Get("start"), q.Get("end"))
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	levels, err := parseConfidences(q.Get("confidence"))
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	method := domain.VaRMethod(q.Get("method"))
	if method == "" {
		method = domain.VaRHistorical
	}

	report, err := h.service.PortfolioMetrics(r.Context(), chi.URLParam(r, "portfolioId"), engine.MetricsInput{
		Window:       window,
		Confidences:  levels,
		Method:       method,
		ReturnMethod: domain.ReturnMethod(q.Get("returnMethod")),
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, report)
}

// HandleGetScenarios handles GET /api/risk/scenarios
func (h *Handler) HandleGetScenarios(w http.ResponseWriter, r *http.Request) {
	h.respond.JSON(w, http.StatusOK, h.service.Scenarios())
}

// confidences merges the single and list forms; neither means 95%
func confidences(single float64, list []float64) []float64 {
	out := append([]float64(nil), list...)
	if single != 0 {
		out = append([]float64{single}, out...)
	}
	if len(out) == 0 {
		out = []float64{0.95}
	}
	return out
}

func parseConfidences(raw string) ([]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return []float64{0.95}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		c, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, &domain.InvalidParameterError{Field: "confidence", Message: "confidence must be a number such as 0.95"}
		}
		out = append(out, c)
	}
	return out, nil
}
