package stationarity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var errSingularDesign = errors.New("singular design matrix")

// regression is a single-equation least squares fit.
type regression struct {
	beta   []float64
	stdErr []float64
	ssr    float64
	nobs   int
}

// llf is the Gaussian log-likelihood at the ML variance estimate.
func (r *regression) llf() float64 {
	n := float64(r.nobs)
	return -n / 2 * (math.Log(2*math.Pi) + math.Log(r.ssr/n) + 1)
}

func (r *regression) aic() float64 {
	return -2*r.llf() + 2*float64(len(r.beta))
}

// fitOLS solves y = X b by the normal equations, falling back to the SVD
// pseudo-inverse when X'X cannot be inverted.
func fitOLS(X *mat.Dense, y []float64) (*regression, error) {
	n, m := X.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("ols: %d rows but %d responses", n, len(y))
	}
	if n <= m {
		return nil, fmt.Errorf("ols: %d observations for %d regressors", n, m)
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		var svd mat.SVD
		if !svd.Factorize(&xtx, mat.SVDFull) {
			return nil, errSingularDesign
		}
		rank := svd.Rank(1e-12)
		if rank == 0 {
			return nil, errSingularDesign
		}
		eye := mat.NewDiagDense(m, nil)
		for i := 0; i < m; i++ {
			eye.SetDiag(i, 1)
		}
		svd.SolveTo(&xtxInv, eye, rank)
	}

	yv := mat.NewVecDense(n, y)
	var xty, b mat.VecDense
	xty.MulVec(X.T(), yv)
	b.MulVec(&xtxInv, &xty)

	var fitted, resid mat.VecDense
	fitted.MulVec(X, &b)
	resid.SubVec(yv, &fitted)
	ssr := mat.Dot(&resid, &resid)

	s2 := ssr / float64(n-m)
	se := make([]float64, m)
	for i := range se {
		se[i] = math.Sqrt(s2 * xtxInv.At(i, i))
	}

	beta := make([]float64, m)
	copy(beta, b.RawVector().Data)
	if floats.HasNaN(beta) || floats.HasNaN(se) {
		return nil, errSingularDesign
	}
	return &regression{beta: beta, stdErr: se, ssr: ssr, nobs: n}, nil
}
