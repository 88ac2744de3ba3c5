package coint

import (
	"fmt"

	"fredcast/internal/timeseries"
	"fredcast/internal/varmodel"
)

const (
	// DefaultMaxLags bounds the lag-order search.
	DefaultMaxLags = 15
	// DefaultSeasons is the period of the seasonal dummies in the search.
	DefaultSeasons = 4
)

// LagOrderOptions selects the deterministic part of the candidate VARs.
type LagOrderOptions struct {
	Deterministic varmodel.Deterministic
	Seasons       int
}

// DefaultLagOrderOptions uses a constant, a linear trend and quarterly
// seasonal dummies.
func DefaultLagOrderOptions() LagOrderOptions {
	return LagOrderOptions{Deterministic: varmodel.DetConstTrend, Seasons: DefaultSeasons}
}

// LagOrderResult lists the information criteria of every candidate and the
// order each criterion selects. Orders count lagged differences, so VAR(p)
// corresponds to order p-1.
type LagOrderResult struct {
	// Upper bound actually searched; lower than requested when the sample
	// cannot identify the largest model
	MaxLags int
	// Criteria[i] belongs to VAR(i+1)
	Criteria []varmodel.InfoCriteria

	AIC  int
	BIC  int
	FPE  int
	HQIC int
}

// Average is the floor of the mean of the four selected orders.
func (r *LagOrderResult) Average() int {
	return (r.AIC + r.BIC + r.FPE + r.HQIC) / 4
}

// SelectOrder fits VAR(1) ... VAR(maxlags+1) on a common sample and picks the
// order minimizing each information criterion.
func SelectOrder(ds *timeseries.Dataset, maxlags int, opts LagOrderOptions) (*LagOrderResult, error) {
	if maxlags < 0 {
		return nil, fmt.Errorf("select order: maxlags must be >= 0, got %d", maxlags)
	}
	T, K := ds.Dims()
	spec := varmodel.ModelSpec{Deterministic: opts.Deterministic, Seasons: opts.Seasons}

	kExog := spec.DetCols()
	for ; maxlags >= 0; maxlags-- {
		nobs := T - maxlags - 1
		if nobs-(maxlags+1)*K-kExog > 0 {
			break
		}
	}
	if maxlags < 0 {
		return nil, fmt.Errorf("select order: %d observations are too few for %d series", T, K)
	}

	res := &LagOrderResult{MaxLags: maxlags, Criteria: make([]varmodel.InfoCriteria, 0, maxlags+1)}
	est := &varmodel.OLSEstimator{}
	for p := 1; p <= maxlags+1; p++ {
		spec.Lags = p
		rf, err := est.Estimate(ds, spec, varmodel.EstimationOptions{Offset: maxlags + 1 - p})
		if err != nil {
			return nil, fmt.Errorf("select order: VAR(%d): %w", p, err)
		}
		ic, err := rf.InfoCriteria()
		if err != nil {
			return nil, fmt.Errorf("select order: VAR(%d): %w", p, err)
		}
		res.Criteria = append(res.Criteria, ic)
	}

	res.AIC = argmin(res.Criteria, func(ic varmodel.InfoCriteria) float64 { return ic.AIC })
	res.BIC = argmin(res.Criteria, func(ic varmodel.InfoCriteria) float64 { return ic.BIC })
	res.FPE = argmin(res.Criteria, func(ic varmodel.InfoCriteria) float64 { return ic.FPE })
	res.HQIC = argmin(res.Criteria, func(ic varmodel.InfoCriteria) float64 { return ic.HQIC })
	return res, nil
}

// LagOrder returns the averaged lag order of ds with the default search.
func LagOrder(ds *timeseries.Dataset) (int, error) {
	res, err := SelectOrder(ds, DefaultMaxLags, DefaultLagOrderOptions())
	if err != nil {
		return 0, err
	}
	return res.Average(), nil
}

func argmin(ics []varmodel.InfoCriteria, f func(varmodel.InfoCriteria) float64) int {
	best := 0
	for i := 1; i < len(ics); i++ {
		if f(ics[i]) < f(ics[best]) {
			best = i
		}
	}
	return best
}
