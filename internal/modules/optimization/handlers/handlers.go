// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/api"
	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/engine"
)

// Service is the engine surface used by the optimization handlers
type Service interface {
	Optimize(ctx context.Context, in engine.OptimizeInput) (domain.OptimizationResult, error)
	EfficientFrontier(ctx context.Context, in engine.FrontierInput) (domain.EfficientFrontier, error)
}

// Handler handles optimization HTTP requests
type Handler struct {
	service Service
	respond *api.Responder
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	l := log.With().Str("handler", "optimization").Logger()
	return &Handler{
		service: service,
		respond: api.NewResponder(l),
		log:     l,
	}
}

// ConstraintsRequest mirrors domain.Constraints
type ConstraintsRequest struct {
	AllowShort   bool    `json:"allowShort"`
	RiskFreeRate float64 `json:"riskFreeRate"`
}

// OptimizeRequest is the body of POST /optimization/optimize
type OptimizeRequest struct {
	AssetUniverse   []string           `json:"assetUniverse" validate:"required,min=1,dive,required"`
	Objective       string             `json:"objective" validate:"required,oneof=min_variance max_sharpe target_return"`
	TargetReturn    *float64           `json:"targetReturn" validate:"required_if=Objective target_return"`
	Constraints     ConstraintsRequest `json:"constraints"`
	ExpectedReturns map[string]float64 `json:"expectedReturns"`
	ReturnMethod    string             `json:"returnMethod" validate:"omitempty,oneof=simple log"`
	Start           string             `json:"start" validate:"required"`
	End             string             `json:"end" validate:"required"`
}

// FrontierRequest is the body of POST /optimization/efficient-frontier
type FrontierRequest struct {
	AssetUniverse   []string           `json:"assetUniverse" validate:"required,min=1,dive,required"`
	PointCount      int                `json:"pointCount" validate:"gte=0"`
	Constraints     ConstraintsRequest `json:"constraints"`
	ExpectedReturns map[string]float64 `json:"expectedReturns"`
	ReturnMethod    string             `json:"returnMethod" validate:"omitempty,oneof=simple log"`
	Start           string             `json:"start" validate:"required"`
	End             string             `json:"end" validate:"required"`
}

// HandleOptimize handles POST /api/optimization/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	window, err := api.ParseWindow(req.Start, req.End)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	objective := domain.Objective{Kind: domain.ObjectiveKind(req.Objective)}
	if req.TargetReturn != nil {
		objective.TargetReturn = *req.TargetReturn
	}

	result, err := h.service.Optimize(r.Context(), engine.OptimizeInput{
		Symbols:         req.AssetUniverse,
		Window:          window,
		ReturnMethod:    domain.ReturnMethod(req.ReturnMethod),
		Objective:       objective,
		Constraints:     domain.Constraints(req.Constraints),
		ExpectedReturns: req.ExpectedReturns,
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.log.Info().
		Str("objective", req.Objective).
		Int("assets", len(req.AssetUniverse)).
		Float64("sharpe", result.SharpeRatio).
		Msg("Optimization served")

	h.respond.JSON(w, http.StatusOK, result)
}

// HandleEfficientFrontier handles POST /api/optimization/efficient-frontier
func (h *Handler) HandleEfficientFrontier(w http.ResponseWriter, r *http.Request) {
	var req FrontierRequest
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	window, err := api.ParseWindow(req.Start, req.End)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	frontier, err := h.service.EfficientFrontier(r.Context(), engine.FrontierInput{
		Symbols:         req.AssetUniverse,
		Window:          window,
		ReturnMethod:    domain.ReturnMethod(req.ReturnMethod),
		PointCount:      req.PointCount,
		Constraints:     domain.Constraints(req.Constraints),
		ExpectedReturns: req.ExpectedReturns,
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, frontier)
}
