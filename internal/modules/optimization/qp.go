package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/riskengine/internal/domain"
)

const (
	// stepTolerance is the max |p| below which the current point is stationary on its face
	stepTolerance = 1e-11
	// multiplierTolerance is how negative a bound multiplier may be and still count as optimal
	multiplierTolerance = 1e-10
	// machineEpsilon scales the singular value cutoff of least-squares solves
	machineEpsilon = 2.220446049250313e-16
)

// qpProblem is: minimize wᵗΣw subject to A·w = b and, when bounded, w ≥ 0.
type qpProblem struct {
	sigma   *mat.SymDense
	a       [][]float64
	b       []float64
	bounded bool
	maxIter int
}

// newQPProblem scales Σ and every constraint row to unit magnitude, which leaves the
// solution unchanged and keeps the KKT systems well conditioned
func newQPProblem(cov domain.CovarianceMatrix, a [][]float64, b []float64, bounded bool, maxIter int) *qpProblem {
	n := cov.Size()

	scale := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			scale = math.Max(scale, math.Abs(cov.Values[i][j]))
		}
	}
	if scale == 0 {
		scale = 1
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, (cov.Values[i][j]+cov.Values[j][i])/(2*scale))
		}
	}

	rows := make([][]float64, len(a))
	rhs := make([]float64, len(b))
	for r := range a {
		rowScale := 0.0
		for _, v := range a[r] {
			rowScale = math.Max(rowScale, math.Abs(v))
		}
		if rowScale == 0 {
			rowScale = 1
		}
		rows[r] = make([]float64, n)
		for i, v := range a[r] {
			rows[r][i] = v / rowScale
		}
		rhs[r] = b[r] / rowScale
	}

	return &qpProblem{sigma: sigma, a: rows, b: rhs, bounded: bounded, maxIter: maxIter}
}

// solve runs a primal active-set method from the feasible point w0. Indices with w0 == 0
// start in the working set of active bounds. It returns the optimum and the iteration count.
func (q *qpProblem) solve(ctx context.Context, w0 []float64) ([]float64, int, error) {
	n := len(w0)
	w := append([]float64(nil), w0...)

	working := make([]bool, n)
	if q.bounded {
		for i, v := range w {
			if v <= 0 {
				w[i] = 0
				working[i] = true
			}
		}
	}

	// Working sets already found stationary; revisiting one means a degenerate vertex
	stationary := make(map[string]bool)

	for iter := 1; iter <= q.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, iter, &domain.ComputationTimeoutError{Operation: "optimize", Cause: err}
			}
			return nil, iter, err
		}

		free := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if !working[i] {
				free = append(free, i)
			}
		}

		g := q.gradient(w)
		p, lambda, err := q.eqpStep(free, g)
		if err != nil {
			return nil, iter, err
		}

		maxStep := 0.0
		for _, v := range p {
			maxStep = math.Max(maxStep, math.Abs(v))
		}

		if maxStep <= stepTolerance {
			if !q.bounded {
				return w, iter, nil
			}
			key := workingKey(working)
			if stationary[key] {
				return w, iter, nil
			}
			stationary[key] = true

			// ν_i = g_i + (Aᵗλ)_i for every active bound; all ν ≥ 0 means KKT holds
			release, worst := -1, -multiplierTolerance
			for i := 0; i < n; i++ {
				if !working[i] {
					continue
				}
				nu := g[i]
				for r := range q.a {
					nu += q.a[r][i] * lambda[r]
				}
				if nu < worst {
					release, worst = i, nu
				}
			}
			if release < 0 {
				return w, iter, nil
			}
			working[release] = false
			continue
		}

		alpha, blocking := 1.0, -1
		if q.bounded {
			for k, i := range free {
				if p[k] < 0 {
					if ratio := math.Max(-w[i]/p[k], 0); ratio < alpha {
						alpha, blocking = ratio, i
					}
				}
			}
		}

		for k, i := range free {
			w[i] += alpha * p[k]
		}
		if blocking >= 0 {
			w[blocking] = 0
			working[blocking] = true
		}
	}

	return nil, q.maxIter, &domain.ComputationTimeoutError{Operation: "optimize", Iterations: q.maxIter}
}

func workingKey(working []bool) string {
	b := make([]byte, len(working))
	for i, active := range working {
		if active {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

func (q *qpProblem) gradient(w []float64) []float64 {
	n := len(w)
	g := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g[i] += q.sigma.At(i, j) * w[j]
		}
	}
	return g
}

// eqpStep solves the equality-constrained subproblem on the free set:
//
//	[Σ_FF  A_Fᵗ] [p_F]   [-g_F]
//	[A_F   0   ] [ λ ] = [  0 ]
func (q *qpProblem) eqpStep(free []int, g []float64) (p, lambda []float64, err error) {
	nf, m := len(free), len(q.a)
	if nf == 0 {
		// unreachable from a feasible start: the equality rows need at least one free variable
		return []float64{}, make([]float64, m), nil
	}

	size := nf + m
	kkt := mat.NewDense(size, size, nil)
	rhs := make([]float64, size)

	for r, i := range free {
		for c, j := range free {
			kkt.Set(r, c, q.sigma.At(i, j))
		}
		for k := 0; k < m; k++ {
			kkt.Set(r, nf+k, q.a[k][i])
			kkt.Set(nf+k, r, q.a[k][i])
		}
		rhs[r] = -g[i]
	}

	x, err := solveLeastSquares(kkt, rhs)
	if err != nil {
		return nil, nil, err
	}
	return x[:nf], x[nf:], nil
}

// solveLeastSquares returns the minimum-norm least-squares solution of a·x = b using the
// SVD pseudo-inverse, discarding singular values below max(rows, cols)·ε·σ_max
func solveLeastSquares(a *mat.Dense, b []float64) ([]float64, error) {
	rows, cols := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD factorization of %dx%d KKT system failed", rows, cols)
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	x := make([]float64, cols)
	if len(values) == 0 || values[0] == 0 {
		return x, nil
	}
	cutoff := float64(max(rows, cols)) * machineEpsilon * values[0]

	_, k := u.Dims()
	coef := make([]float64, k)
	for j := 0; j < k; j++ {
		if values[j] <= cutoff {
			continue
		}
		s := 0.0
		for i := 0; i < rows; i++ {
			s += u.At(i, j) * b[i]
		}
		coef[j] = s / values[j]
	}

	for i := 0; i < cols; i++ {
		s := 0.0
		for j := 0; j < k; j++ {
			s += v.At(i, j) * coef[j]
		}
		x[i] = s
	}
	return x, nil
}
