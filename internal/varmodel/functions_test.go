package varmodel

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"fredcast/internal/timeseries"
)

// helper: compare floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// helper: daily dataset over row-major data with K columns
func dataset(t *testing.T, data []float64, K int) *timeseries.Dataset {
	t.Helper()
	T := len(data) / K
	dates := make([]time.Time, T)
	names := make([]string, K)
	for i := range dates {
		dates[i] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}
	for k := range names {
		names[k] = string(rune('a' + k))
	}
	ds, err := timeseries.NewDataset(dates, names, data)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	return ds
}

// --- Forecast tests ---

// VAR(1) scalar without deterministics: y_t = 0.5 y_{t-1}
// If last observed value is y_T = 1/16, then forecasts should be:
// y_{T+1} = 0.5 * 1/16 = 1/32, etc.
func TestForecast_SimpleVAR1_NoDeterministic(t *testing.T) {
	spec := ModelSpec{
		Lags:          1,
		Deterministic: DetNone,
	}

	rf := &ReducedFormVAR{
		Model: spec,
		A:     []*mat.Dense{mat.NewDense(1, 1, []float64{0.5})},
	}

	yHist := mat.NewDense(5, 1, []float64{1.0, 0.5, 0.25, 0.125, 0.0625})

	steps := 3
	fcst, err := rf.Forecast(yHist, steps)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}

	if r, c := fcst.Dims(); r != steps || c != 1 {
		t.Fatalf("Forecast dims = %dx%d, want %dx1", r, c, steps)
	}

	expected := []float64{
		0.03125,   // 1/32
		0.015625,  // 1/64
		0.0078125, // 1/128
	}

	for i := 0; i < steps; i++ {
		got := fcst.At(i, 0)
		if !almostEqual(got, expected[i], 1e-6) {
			t.Errorf("Forecast[%d] = %v, want %v", i, got, expected[i])
		}
	}
}

// VAR(1) scalar with constant only: y_t = c, c = 1.0
// A_1 = 0, C = 1, so all forecasts should be 1.
func TestForecast_Var1_ConstantOnly(t *testing.T) {
	rf := &ReducedFormVAR{
		Model: ModelSpec{Lags: 1, Deterministic: DetConst},
		A:     []*mat.Dense{mat.NewDense(1, 1, []float64{0.0})},
		C:     mat.NewDense(1, 1, []float64{1.0}),
	}

	yHist := mat.NewDense(3, 1, []float64{0, 0, 0})

	steps := 4
	fcst, err := rf.Forecast(yHist, steps)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}

	for i := 0; i < steps; i++ {
		if got := fcst.At(i, 0); !almostEqual(got, 1.0, 1e-6) {
			t.Errorf("Forecast[%d] = %v, want 1.0", i, got)
		}
	}
}

// Trend and lags together: y_t = 0.5 y_{t-1} + 2 t, with t = row index + 1.
func TestForecast_TrendAndLag(t *testing.T) {
	rf := &ReducedFormVAR{
		Model: ModelSpec{Lags: 1, Deterministic: DetTrend},
		A:     []*mat.Dense{mat.NewDense(1, 1, []float64{0.5})},
		C:     mat.NewDense(1, 1, []float64{2.0}),
	}

	yHist := mat.NewDense(4, 1, []float64{0, 0, 0, 10})
	fcst, err := rf.Forecast(yHist, 2)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}

	// row 4 has t = 5, row 5 has t = 6
	want0 := 0.5*10 + 2*5
	want1 := 0.5*want0 + 2*6
	if got := fcst.At(0, 0); !almostEqual(got, want0, 1e-9) {
		t.Errorf("Forecast[0] = %v, want %v", got, want0)
	}
	if got := fcst.At(1, 0); !almostEqual(got, want1, 1e-9) {
		t.Errorf("Forecast[1] = %v, want %v", got, want1)
	}
}

func TestForecast_Seasonal(t *testing.T) {
	// constant 0, dummies for seasons 0 and 1 of a period of 3
	rf := &ReducedFormVAR{
		Model: ModelSpec{Lags: 1, Deterministic: DetConst, Seasons: 3},
		A:     []*mat.Dense{mat.NewDense(1, 1, []float64{0})},
		C:     mat.NewDense(1, 3, []float64{0, 10, 20}),
	}

	// 4 history rows: forecast rows are data rows 4, 5, 6 -> seasons 1, 2, 0
	fcst, err := rf.Forecast(mat.NewDense(4, 1, nil), 3)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}
	want := []float64{20, 0, 10}
	for i, w := range want {
		if got := fcst.At(i, 0); !almostEqual(got, w, 1e-12) {
			t.Errorf("Forecast[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestForecast_Errors(t *testing.T) {
	rf := &ReducedFormVAR{
		Model: ModelSpec{Lags: 2},
		A:     []*mat.Dense{mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil)},
	}
	if _, err := rf.Forecast(mat.NewDense(1, 1, nil), 1); err == nil {
		t.Errorf("expected error for history shorter than the lag order")
	}
	if _, err := rf.Forecast(mat.NewDense(5, 2, nil), 1); err == nil {
		t.Errorf("expected error for column mismatch")
	}
	if _, err := rf.Forecast(mat.NewDense(5, 1, nil), 0); err == nil {
		t.Errorf("expected error for zero steps")
	}
}

// --- IRF tests ---

// Scalar VAR(1): y_t = a y_{t-1} + u_t, Var(u_t) = 1
// With Cholesky, shock = 1, and Psi_h = a^h, so IRF(h) = a^h.
func TestIRF_ScalarVAR1(t *testing.T) {
	a := 0.5
	rf := &ReducedFormVAR{
		Model:  ModelSpec{Lags: 1},
		A:      []*mat.Dense{mat.NewDense(1, 1, []float64{a})},
		SigmaU: mat.NewSymDense(1, []float64{1.0}),
	}

	horizon := 5
	irf, err := rf.IRF(horizon, 0)
	if err != nil {
		t.Fatalf("IRF returned error: %v", err)
	}

	if r, c := irf.Dims(); r != horizon || c != 1 {
		t.Fatalf("IRF dims = %dx%d, want %dx1", r, c, horizon)
	}

	// expected: [1, a, a^2, ..., a^(horizon-1)]
	val := 1.0
	for h := 0; h < horizon; h++ {
		if got := irf.At(h, 0); !almostEqual(got, val, 1e-6) {
			t.Errorf("IRF[%d] = %v, want %v", h, got, val)
		}
		val *= a
	}
}

// --- Estimate tests ---

// Check that Estimate recovers roughly the correct coefficient
// for y_t = 0.5 y_{t-1} with no deterministic terms.
func TestEstimate_SimpleVAR1_NoDeterministic(t *testing.T) {
	ds := dataset(t, []float64{1.0, 0.5, 0.25, 0.125, 0.0625, 0.03125, 0.015625}, 1)

	rf, err := (&OLSEstimator{}).Estimate(ds, ModelSpec{Lags: 1}, EstimationOptions{})
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}

	if len(rf.A) != 1 {
		t.Fatalf("len(rf.A) = %d, want 1", len(rf.A))
	}
	if phiHat := rf.A[0].At(0, 0); !almostEqual(phiHat, 0.5, 1e-2) {
		t.Errorf("Estimated phi = %v, want approx 0.5", phiHat)
	}
	if rf.C != nil {
		t.Errorf("Expected no deterministic coefficients (C == nil), got C != nil")
	}
	if rf.NObs != 6 {
		t.Errorf("NObs = %d, want 6", rf.NObs)
	}
}

// Force X'X to be singular to test the SVD / pseudoinverse path.
func TestEstimate_PseudoinverseFallback(t *testing.T) {
	ds := dataset(t, []float64{0, 0, 0, 0}, 1)

	rf, err := (&OLSEstimator{}).Estimate(ds, ModelSpec{Lags: 1}, EstimationOptions{})
	if err != nil {
		t.Fatalf("Estimate returned error (pseudoinverse path): %v", err)
	}

	// With all-zero regressors and responses, the least-squares solution should be 0.
	if phiHat := rf.A[0].At(0, 0); !almostEqual(phiHat, 0.0, 1e-6) {
		t.Errorf("Estimated phi (pseudoinverse) = %v, want 0.0", phiHat)
	}
}

// Bivariate VAR(1) with constant, simulated; the estimate should be close.
func TestEstimate_Bivariate(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	A := []float64{0.5, 0.1, -0.2, 0.3}
	c := []float64{1, -1}
	T := 2000
	data := make([]float64, 2*T)
	for i := 1; i < T; i++ {
		y0, y1 := data[2*(i-1)], data[2*(i-1)+1]
		data[2*i] = c[0] + A[0]*y0 + A[1]*y1 + 0.1*rng.NormFloat64()
		data[2*i+1] = c[1] + A[2]*y0 + A[3]*y1 + 0.1*rng.NormFloat64()
	}

	rf, err := (&OLSEstimator{}).Estimate(dataset(t, data, 2), ModelSpec{Lags: 1, Deterministic: DetConst}, EstimationOptions{})
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := rf.A[0].At(i, j); !almostEqual(got, A[2*i+j], 0.05) {
				t.Errorf("A[%d,%d] = %v, want approx %v", i, j, got, A[2*i+j])
			}
		}
	}

	// the intercept is poorly identified when the mean is far from zero; the
	// implied mean (I - A)^-1 c is not
	mean := func(a mat.Matrix, c mat.Vector) *mat.VecDense {
		var ia mat.Dense
		ia.Sub(eye(2), a)
		var mu mat.VecDense
		if err := mu.SolveVec(&ia, c); err != nil {
			t.Fatalf("solve: %v", err)
		}
		return &mu
	}
	want := mean(mat.NewDense(2, 2, A), mat.NewVecDense(2, c))
	got := mean(rf.A[0], rf.C.ColView(0))
	for i := 0; i < 2; i++ {
		if !almostEqual(got.AtVec(i), want.AtVec(i), 0.05) {
			t.Errorf("implied mean[%d] = %v, want approx %v", i, got.AtVec(i), want.AtVec(i))
		}
	}
	if got := rf.SigmaU.At(0, 0); !almostEqual(got, 0.01, 0.002) {
		t.Errorf("SigmaU[0,0] = %v, want approx 0.01", got)
	}
}

func TestEstimate_OffsetKeepsCommonSample(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := make([]float64, 60)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	ds := dataset(t, data, 2)

	maxlags := 4
	for p := 1; p <= maxlags+1; p++ {
		rf, err := (&OLSEstimator{}).Estimate(ds, ModelSpec{Lags: p, Deterministic: DetConstTrend, Seasons: 4},
			EstimationOptions{Offset: maxlags + 1 - p})
		if err != nil {
			t.Fatalf("p=%d: %v", p, err)
		}
		if rf.NObs != 30-maxlags-1 {
			t.Errorf("p=%d: NObs = %d, want %d", p, rf.NObs, 30-maxlags-1)
		}
		if _, c := rf.C.Dims(); c != 5 {
			t.Errorf("p=%d: C has %d columns, want 5", p, c)
		}
		ic, err := rf.InfoCriteria()
		if err != nil {
			t.Fatalf("p=%d: InfoCriteria: %v", p, err)
		}
		if !(ic.BIC > ic.AIC) {
			t.Errorf("p=%d: BIC %v should penalize more than AIC %v", p, ic.BIC, ic.AIC)
		}
	}
}

func TestEstimate_Rejects(t *testing.T) {
	ds := dataset(t, []float64{1, 2, 3, 4}, 1)
	if _, err := (&OLSEstimator{}).Estimate(ds, ModelSpec{Lags: 1, HasExogenous: true}, EstimationOptions{}); err == nil {
		t.Errorf("expected error for exogenous regressors")
	}
	if _, err := (&OLSEstimator{}).Estimate(ds, ModelSpec{Lags: 4}, EstimationOptions{}); err == nil {
		t.Errorf("expected error for too few observations")
	}
	ds.Y.Set(2, 0, math.NaN())
	if _, err := (&OLSEstimator{}).Estimate(ds, ModelSpec{Lags: 1}, EstimationOptions{}); err == nil {
		t.Errorf("expected error for missing values")
	}
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
