package risk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/aristath/riskengine/internal/domain"
)

// checkEvery is how many draws run between context and budget checks
const checkEvery = 1024

// Simulation describes one Monte Carlo run over correlated normal asset returns
type Simulation struct {
	Means      []float64
	Covariance domain.CovarianceMatrix
	Weights    []float64
	Draws      int
	Seed       uint64
}

// SimulationResult holds simulated portfolio returns sorted ascending
type SimulationResult struct {
	Sorted   []float64
	Warnings []domain.Warning
}

// Simulate draws correlated asset returns x = μ + L·z (LLᵗ = Σ, z ~ N(0, I)) and records the
// portfolio return wᵗx of each draw. Identical inputs and seed give identical output.
func (c *Calculator) Simulate(ctx context.Context, sim Simulation) (SimulationResult, error) {
	k := len(sim.Means)
	if k == 0 || len(sim.Weights) != k || sim.Covariance.Size() != k {
		return SimulationResult{}, &domain.InvalidParameterError{Field: "covariance", Message: "simulation inputs have mismatched dimensions"}
	}
	if sim.Draws <= 0 {
		sim.Draws = c.simulations
	}

	l, clipped, err := choleskyFactor(sim.Covariance)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("failed to factorize covariance: %w", err)
	}

	var warnings []domain.Warning
	if clipped > 0 {
		detail := fmt.Sprintf("%d eigenvalue(s) of the %dx%d covariance matrix clipped before Cholesky decomposition", clipped, k, k)
		warnings = append(warnings, domain.Warning{Kind: domain.WarningCovarianceClipped, Detail: detail})
		c.log.Warn().Int("clipped", clipped).Int("assets", k).Msg("Covariance matrix not positive definite, eigenvalues clipped")
	}

	// wᵗ(μ + Lz) = wᵗμ + (Lᵗw)ᵗz, so each draw only needs a k-length dot product
	mu := dot(sim.Weights, sim.Means)
	v := make([]float64, k)
	for j := 0; j < k; j++ {
		for i := j; i < k; i++ {
			v[j] += l.At(i, j) * sim.Weights[i]
		}
	}

	rng := rand.New(rand.NewPCG(sim.Seed, sim.Seed^0x9e3779b97f4a7c15))
	deadline := time.Now().Add(c.budget)
	out := make([]float64, sim.Draws)

	for d := 0; d < sim.Draws; d++ {
		if d%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return SimulationResult{}, &domain.ComputationTimeoutError{Operation: "monte_carlo", Cause: err}
				}
				return SimulationResult{}, err
			}
			if d > 0 && time.Now().After(deadline) {
				c.log.Warn().Int("draws", d).Dur("budget", c.budget).Msg("Monte Carlo budget exhausted")
				return SimulationResult{}, &domain.ComputationTimeoutError{Operation: "monte_carlo", Budget: c.budget}
			}
		}

		r := mu
		for j := 0; j < k; j++ {
			r += v[j] * rng.NormFloat64()
		}
		out[d] = r
	}

	sort.Float64s(out)
	return SimulationResult{Sorted: out, Warnings: warnings}, nil
}

// DeriveSeed hashes the request inputs (FNV-64a) so identical requests reuse the same stream
func DeriveSeed(req VaRRequest) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		h.Write(buf)
	}

	for _, hold := range req.Portfolio.Holdings {
		h.Write([]byte(hold.Symbol))
		h.Write([]byte{0})
		writeFloat(hold.Weight)
	}
	for _, c := range req.Confidences {
		writeFloat(c)
	}
	for _, r := range req.Returns {
		binary.LittleEndian.PutUint64(buf, uint64(r.Len()))
		h.Write(buf)
		if n := len(r.Times); n > 0 {
			binary.LittleEndian.PutUint64(buf, uint64(r.Times[0].Unix()))
			h.Write(buf)
			binary.LittleEndian.PutUint64(buf, uint64(r.Times[n-1].Unix()))
			h.Write(buf)
		}
		if n := len(r.Values); n > 0 {
			writeFloat(r.Values[0])
			writeFloat(r.Values[n-1])
		}
	}
	return h.Sum64()
}
