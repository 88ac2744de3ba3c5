package varmodel

import (
	"gonum.org/v1/gonum/mat"

	"fredcast/internal/timeseries"
)

type Deterministic int

// Deterministic Constants for VAR
const (
	DetNone Deterministic = iota
	DetConst
	DetTrend
	DetConstTrend
)

func (d Deterministic) String() string {
	switch d {
	case DetConst:
		return "const"
	case DetTrend:
		return "trend"
	case DetConstTrend:
		return "const+trend"
	default:
		return "none"
	}
}

func (d Deterministic) hasConst() bool { return d == DetConst || d == DetConstTrend }
func (d Deterministic) hasTrend() bool { return d == DetTrend || d == DetConstTrend }

// What kind of model to fit
type ModelSpec struct {
	// How many lags?
	Lags int
	// What kind of constant to include
	Deterministic Deterministic
	// Seasonal period; s > 1 adds s-1 dummy columns, dummy i is 1 on rows
	// whose index is i modulo s
	Seasons int
	// Exogenous regressors are not supported; Estimate rejects them
	HasExogenous bool
}

// DetCols is the number of deterministic regressors, ordered constant,
// trend, seasonal dummies.
func (s ModelSpec) DetCols() int {
	n := 0
	if s.Deterministic.hasConst() {
		n++
	}
	if s.Deterministic.hasTrend() {
		n++
	}
	if s.Seasons > 1 {
		n += s.Seasons - 1
	}
	return n
}

// detRow fills the deterministic regressors for data row t (0-based). The
// trend takes the value t+1.
func (s ModelSpec) detRow(dst []float64, t int) {
	col := 0
	if s.Deterministic.hasConst() {
		dst[col] = 1
		col++
	}
	if s.Deterministic.hasTrend() {
		dst[col] = float64(t + 1)
		col++
	}
	if s.Seasons > 1 {
		for i := 0; i < s.Seasons-1; i++ {
			dst[col+i] = 0
		}
		if k := t % s.Seasons; k < s.Seasons-1 {
			dst[col+k] = 1
		}
	}
}

type ReducedFormVAR struct {
	Model ModelSpec

	// Coefficient matrices for each lag A_1, A_2, etc (each KxK matrix)
	A []*mat.Dense

	// Deterministic terms, K x detCols: constant, trend, seasonal dummies
	// in that order
	C *mat.Dense

	// Covariance of residuals (KxK), degrees-of-freedom adjusted
	SigmaU *mat.SymDense
	// Maximum likelihood residual covariance U'U / NObs
	SigmaUMLE *mat.SymDense

	// Rows used in the regression
	NObs int
}

type ReducedForm interface {
	// Returns the model specification
	Spec() ModelSpec
	// Returns the coefficient matrices
	Phi() []*mat.Dense
	// Returns the error covariance
	CovU() *mat.SymDense

	// compute the forecasts for a given history
	Forecast(yHist mat.Matrix, steps int) (*mat.Dense, error)
	// Simulates effect of one-time shock in 1 variable on all variables over time
	IRF(horizon int, shockIndex int) (*mat.Dense, error)
}

var _ ReducedForm = (*ReducedFormVAR)(nil)

// EstimationOptions adjusts the sample used by Estimate.
type EstimationOptions struct {
	// Leading rows excluded from the sample, so that models with different
	// lag orders can be fit on the same observations
	Offset int
}

type Estimator interface {
	// Turns the data we have into a reduced form VAR
	Estimate(ds *timeseries.Dataset, spec ModelSpec, opts EstimationOptions) (*ReducedFormVAR, error)
}

// --- Plain OLS VAR estimator ---

type OLSEstimator struct{}

var _ Estimator = (*OLSEstimator)(nil)

// InfoCriteria holds the information criteria of a fitted VAR.
type InfoCriteria struct {
	AIC  float64
	BIC  float64
	HQIC float64
	FPE  float64
}
