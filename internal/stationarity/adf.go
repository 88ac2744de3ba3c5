package stationarity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fredcast/internal/timeseries"
)

// trendTerms is the number of deterministic regressors in the test
// regression: constant, linear and quadratic trend.
const trendTerms = 3

var (
	// ErrTooShort is returned when the series cannot support the regression.
	ErrTooShort = errors.New("series too short for unit-root regression")
	// ErrConstant is returned for a series without variation.
	ErrConstant = errors.New("series is constant")
	// ErrMissing is returned when the series contains NaN.
	ErrMissing = errors.New("series has missing values")
)

// TestError reports a column whose unit-root test failed.
type TestError struct {
	Column string
	Err    error
}

func (e *TestError) Error() string {
	return fmt.Sprintf("unit-root test on %s: %v", e.Column, e.Err)
}

func (e *TestError) Unwrap() error { return e.Err }

// Options configures ADF.
type Options struct {
	// MaxLag bounds the lag search. Negative selects the default
	// ceil(12*(n/100)^(1/4)), capped so the largest regression is identified.
	MaxLag int
	// FixedLag skips the AIC search and uses MaxLag lagged differences.
	FixedLag bool
}

// DefaultOptions searches lags by AIC up to the default bound.
func DefaultOptions() Options { return Options{MaxLag: -1} }

// Result holds the outcome of an augmented Dickey-Fuller test.
type Result struct {
	Statistic float64
	PValue    float64
	// Lagged differences in the final regression
	UsedLag int
	NObs    int
	// Information criterion of the selected lag, NaN for a fixed lag
	AIC float64
}

// ADF runs the augmented Dickey-Fuller test with constant, linear and
// quadratic trend. The lag length is chosen by AIC over a common sample,
// then the regression is refit on every usable observation.
func ADF(x []float64, opts Options) (*Result, error) {
	n := len(x)
	if n < 2 {
		return nil, ErrTooShort
	}
	if floats.HasNaN(x) {
		return nil, ErrMissing
	}
	if stat.Variance(x, nil) == 0 {
		return nil, ErrConstant
	}

	bound := n/2 - trendTerms - 1
	maxlag := opts.MaxLag
	if maxlag < 0 {
		maxlag = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
		if bound < maxlag {
			maxlag = bound
		}
	}
	if maxlag < 0 || maxlag > bound {
		return nil, fmt.Errorf("%w: %d observations, max lag %d", ErrTooShort, n, maxlag)
	}

	dx := make([]float64, n-1)
	for i := range dx {
		dx[i] = x[i+1] - x[i]
	}

	usedLag, aic := maxlag, math.NaN()
	if !opts.FixedLag {
		best, bestAIC, err := selectLag(x, dx, maxlag)
		if err != nil {
			return nil, err
		}
		usedLag, aic = best, bestAIC
	}

	X, y := design(x, dx, usedLag, usedLag)
	fit, err := fitOLS(X, y)
	if err != nil {
		return nil, err
	}
	tstat := fit.beta[0] / fit.stdErr[0]

	return &Result{
		Statistic: tstat,
		PValue:    MacKinnonP(tstat),
		UsedLag:   usedLag,
		NObs:      len(y),
		AIC:       aic,
	}, nil
}

// selectLag fits every lag in [0, maxlag] on the sample left after the
// largest lag and returns the one with the lowest AIC; ties keep the
// shorter lag.
func selectLag(x, dx []float64, maxlag int) (int, float64, error) {
	best, bestAIC := -1, math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		X, y := design(x, dx, lag, maxlag)
		fit, err := fitOLS(X, y)
		if err != nil {
			return 0, 0, err
		}
		if a := fit.aic(); a < bestAIC {
			best, bestAIC = lag, a
		}
	}
	if best < 0 {
		return 0, 0, errSingularDesign
	}
	return best, bestAIC, nil
}

// design builds the regression of dx[t] on x[t], dx[t-1..t-lag] and the
// trend terms, over the rows that the lag skip leaves available. The trend
// is scaled to (0, 1]; this leaves the level t-statistic unchanged.
func design(x, dx []float64, lag, skip int) (*mat.Dense, []float64) {
	nobs := len(dx) - skip
	cols := 1 + lag + trendTerms
	X := mat.NewDense(nobs, cols, nil)
	y := make([]float64, nobs)

	for r := 0; r < nobs; r++ {
		t := skip + r // index into dx
		y[r] = dx[t]
		X.Set(r, 0, x[t])
		for l := 1; l <= lag; l++ {
			X.Set(r, l, dx[t-l])
		}
		tau := float64(r+1) / float64(nobs)
		X.Set(r, lag+1, 1)
		X.Set(r, lag+2, tau)
		X.Set(r, lag+3, tau*tau)
	}
	return X, y
}

// UnitRootTest returns the ADF p-value of every column of ds.
func UnitRootTest(ds *timeseries.Dataset) (map[string]float64, error) {
	_, K := ds.Dims()
	out := make(map[string]float64, K)
	for j := 0; j < K; j++ {
		res, err := ADF(ds.Column(j), DefaultOptions())
		if err != nil {
			return nil, &TestError{Column: ds.Names[j], Err: err}
		}
		out[ds.Names[j]] = res.PValue
	}
	return out, nil
}
