package stationarity

import "gonum.org/v1/gonum/stat/distuv"

// MacKinnon (1994, 2010) response surface for the constant + linear +
// quadratic trend regression with a single series.
const (
	tauMax  = 0.54
	tauMin  = -17.17
	tauStar = -3.21
)

var (
	smallP = []float64{4.0003, 1.658, 0.048288}
	largeP = []float64{3.0778, 0.49529, -0.41477, -0.059359}
)

// MacKinnonP returns the approximate p-value of an ADF statistic.
func MacKinnonP(stat float64) float64 {
	switch {
	case stat > tauMax:
		return 1
	case stat < tauMin:
		return 0
	case stat <= tauStar:
		return distuv.UnitNormal.CDF(polyval(smallP, stat))
	default:
		return distuv.UnitNormal.CDF(polyval(largeP, stat))
	}
}

// polyval evaluates c[0] + c[1]x + c[2]x^2 + ...
func polyval(c []float64, x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}
