package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/riskengine/internal/domain"
)

// eigenFloor is the smallest eigenvalue kept after clipping, relative to the mean variance
const eigenFloor = 1e-12

func toSymDense(cov domain.CovarianceMatrix) *mat.SymDense {
	k := cov.Size()
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, (cov.Values[i][j]+cov.Values[j][i])/2)
		}
	}
	return sym
}

// clipFloor returns the eigenvalue floor for a matrix with the given trace
func clipFloor(sym *mat.SymDense) float64 {
	k := sym.SymmetricDim()
	trace := 0.0
	for i := 0; i < k; i++ {
		trace += sym.At(i, i)
	}
	return math.Max(eigenFloor*trace/float64(k), 1e-16)
}

// clipEigenvalues rebuilds sym as V·max(Λ, floor)·Vᵗ. It returns the corrected matrix and
// the number of eigenvalues that were raised to the floor.
func clipEigenvalues(sym *mat.SymDense) (*mat.SymDense, int, error) {
	k := sym.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, 0, fmt.Errorf("eigen decomposition of %dx%d covariance failed", k, k)
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	floor := clipFloor(sym)
	clipped := 0
	for i, v := range values {
		if v < floor {
			values[i] = floor
			clipped++
		}
	}

	var scaled mat.Dense
	scaled.Mul(&vectors, mat.NewDiagDense(k, values))
	var rebuilt mat.Dense
	rebuilt.Mul(&scaled, vectors.T())

	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, (rebuilt.At(i, j)+rebuilt.At(j, i))/2)
		}
	}
	return out, clipped, nil
}

// choleskyFactor returns the lower-triangular L with LLᵗ = Σ. Matrices that are not
// positive definite are corrected by eigenvalue clipping first; clipped reports that.
func choleskyFactor(cov domain.CovarianceMatrix) (l *mat.TriDense, clipped int, err error) {
	sym := toSymDense(cov)

	var chol mat.Cholesky
	if chol.Factorize(sym) {
		l = &mat.TriDense{}
		chol.LTo(l)
		return l, 0, nil
	}

	corrected, clipped, err := clipEigenvalues(sym)
	if err != nil {
		return nil, 0, err
	}
	if clipped == 0 {
		// Positive definite by eigenvalues but Cholesky rejected it; force the floor on the diagonal
		floor := clipFloor(sym)
		for i := 0; i < corrected.SymmetricDim(); i++ {
			corrected.SetSym(i, i, corrected.At(i, i)+floor)
		}
		clipped = 1
	}
	if !chol.Factorize(corrected) {
		return nil, clipped, fmt.Errorf("covariance matrix is not positive definite after eigenvalue clipping")
	}
	l = &mat.TriDense{}
	chol.LTo(l)
	return l, clipped, nil
}

// NearestPSD returns the covariance with negative (and numerically zero) eigenvalues
// clipped, and how many were clipped
func NearestPSD(cov domain.CovarianceMatrix) (domain.CovarianceMatrix, int, error) {
	corrected, clipped, err := clipEigenvalues(toSymDense(cov))
	if err != nil {
		return domain.CovarianceMatrix{}, 0, err
	}
	out := domain.CovarianceMatrix{
		Symbols: append([]string(nil), cov.Symbols...),
		Values:  make([][]float64, cov.Size()),
	}
	for i := range out.Values {
		out.Values[i] = make([]float64, cov.Size())
		for j := range out.Values[i] {
			out.Values[i][j] = corrected.At(i, j)
		}
	}
	return out, clipped, nil
}
