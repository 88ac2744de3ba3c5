package coint

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fredcast/internal/timeseries"
)

var (
	// ErrTooManyVariables is returned when no critical values are tabulated
	// for the number of series.
	ErrTooManyVariables = errors.New("critical values are tabulated for at most 12 series")
	// ErrSingular is returned when a moment matrix cannot be factorized.
	ErrSingular = errors.New("singular moment matrix")
)

// traceCritical holds the 90%, 95% and 99% critical values of the trace
// statistic with a constant term (det_order 0), indexed by the number of
// series under test minus one (Osterwald-Lenum 1992, MacKinnon et al. 1999).
var traceCritical = [][3]float64{
	{2.7055, 3.8415, 6.6349},
	{13.4294, 15.4943, 19.9349},
	{27.0669, 29.7961, 35.4628},
	{44.4929, 47.8545, 54.6815},
	{65.8202, 69.8189, 77.8202},
	{91.1090, 95.7542, 104.9637},
	{120.3673, 125.6185, 135.9825},
	{153.6341, 159.5290, 171.0905},
	{190.8714, 197.3772, 210.0366},
	{232.1030, 239.2468, 253.2526},
	{277.3740, 285.1402, 300.2821},
	{326.5354, 334.9795, 351.2150},
}

// JohansenResult is the outcome of the Johansen trace test.
type JohansenResult struct {
	// Eigenvalues in descending order
	Eigenvalues []float64
	// Trace[r] tests rank <= r against rank K
	Trace []float64
	// MaxEigen[r] tests rank r against rank r+1
	MaxEigen []float64
	// Critical values of Trace[r] at 90%, 95% and 99%
	TraceCritical [][3]float64
	NObs          int
}

// Johansen runs the Johansen cointegration test with the data demeaned
// (detOrder 0) or left as is (detOrder -1), and kArDiff lagged differences.
func Johansen(ds *timeseries.Dataset, detOrder, kArDiff int) (*JohansenResult, error) {
	if detOrder != 0 && detOrder != -1 {
		return nil, fmt.Errorf("johansen: unsupported deterministic order %d", detOrder)
	}
	if kArDiff < 1 {
		return nil, fmt.Errorf("johansen: need at least one lagged difference, got %d", kArDiff)
	}
	N, K := ds.Dims()
	if K > len(traceCritical) {
		return nil, ErrTooManyVariables
	}
	t := N - 1 - kArDiff
	if t <= K*kArDiff+K {
		return nil, fmt.Errorf("johansen: %d observations are too few for %d series with %d lags", N, K, kArDiff)
	}
	if ds.HasMissing() {
		return nil, fmt.Errorf("johansen: dataset has missing values")
	}

	x := mat.DenseCopyOf(ds.Y)
	if detOrder == 0 {
		demean(x)
	}

	dx := mat.NewDense(N-1, K, nil)
	for i := 0; i < N-1; i++ {
		for j := 0; j < K; j++ {
			dx.Set(i, j, x.At(i+1, j)-x.At(i, j))
		}
	}

	// z row r holds dx[r+k-1], ..., dx[r] for response dx[r+k]
	z := mat.NewDense(t, K*kArDiff, nil)
	resp := mat.NewDense(t, K, nil)
	lvl := mat.NewDense(t, K, nil)
	for r := 0; r < t; r++ {
		resp.SetRow(r, dx.RawRowView(r+kArDiff))
		for l := 1; l <= kArDiff; l++ {
			for j := 0; j < K; j++ {
				z.Set(r, (l-1)*K+j, dx.At(r+kArDiff-l, j))
			}
		}
		lvl.SetRow(r, x.RawRowView(r+1))
	}
	demean(z)
	demean(resp)
	demean(lvl)

	r0t, err := residuals(resp, z)
	if err != nil {
		return nil, err
	}
	rkt, err := residuals(lvl, z)
	if err != nil {
		return nil, err
	}

	skk := moment(rkt, rkt, t)
	sk0 := moment(rkt, r0t, t)
	s00 := moment(r0t, r0t, t)

	eig, _, err := ReducedRankEigen(skk, sk0, s00)
	if err != nil {
		return nil, err
	}
	for _, l := range eig {
		if l >= 1 || l < -1e-10 {
			return nil, fmt.Errorf("johansen: eigenvalue %v outside [0, 1)", l)
		}
	}

	res := &JohansenResult{
		Eigenvalues:   eig,
		Trace:         make([]float64, K),
		MaxEigen:      make([]float64, K),
		TraceCritical: make([][3]float64, K),
		NObs:          t,
	}
	for i := 0; i < K; i++ {
		for _, l := range eig[i:] {
			res.Trace[i] -= float64(t) * math.Log(1-l)
		}
		res.MaxEigen[i] = -float64(t) * math.Log(1-eig[i])
		res.TraceCritical[i] = traceCritical[K-i-1]
	}
	return res, nil
}

// Rank returns the cointegration rank at 5% significance: the first r whose
// trace statistic falls below its critical value, or K when none does.
func (r *JohansenResult) Rank() int {
	for i, s := range r.Trace {
		if s < r.TraceCritical[i][1] {
			return i
		}
	}
	return len(r.Trace)
}

// Rank estimates the cointegration rank of the columns of ds with the trace
// test, a demeaned model and one lagged difference.
func Rank(ds *timeseries.Dataset) (int, error) {
	res, err := Johansen(ds, 0, 1)
	if err != nil {
		return 0, err
	}
	return res.Rank(), nil
}

// ReducedRankEigen solves the reduced-rank regression eigenproblem
// |lambda S11 - S10 S00^-1 S01| = 0 through its symmetric form
// L^-1 S10 S00^-1 S01 L^-T with S11 = L L'. It returns the eigenvalues in
// descending order and the matching eigenvectors as columns, normalized so
// that V' S11 V = I. s11 is m x m, s10 is m x K and s00 is K x K.
func ReducedRankEigen(s11, s10, s00 *mat.Dense) ([]float64, *mat.Dense, error) {
	m, _ := s11.Dims()

	var c11 mat.Cholesky
	if !c11.Factorize(symmetrize(s11)) {
		return nil, nil, fmt.Errorf("%w: S11 is not positive definite", ErrSingular)
	}
	var c00 mat.Cholesky
	if !c00.Factorize(symmetrize(s00)) {
		return nil, nil, fmt.Errorf("%w: S00 is not positive definite", ErrSingular)
	}

	// sig = S10 S00^-1 S01
	var s00inv01 mat.Dense
	if err := c00.SolveTo(&s00inv01, s10.T()); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var sig mat.Dense
	sig.Mul(s10, &s00inv01)

	var L, Linv mat.TriDense
	c11.LTo(&L)
	if err := Linv.InverseTri(&L); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var w, a mat.Dense
	w.Mul(&Linv, &sig)
	a.Mul(&w, Linv.T())

	var es mat.EigenSym
	if !es.Factorize(symmetrize(&a), true) {
		return nil, nil, fmt.Errorf("%w: eigen decomposition failed", ErrSingular)
	}
	vals := es.Values(nil)
	var u mat.Dense
	es.VectorsTo(&u)

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return vals[order[i]] > vals[order[j]] })

	sorted := make([]float64, m)
	us := mat.NewDense(m, m, nil)
	for k, i := range order {
		sorted[k] = vals[i]
		us.SetCol(k, mat.Col(nil, i, &u))
	}

	// V = L^-T U
	var v mat.Dense
	v.Mul(Linv.T(), us)
	return sorted, &v, nil
}

func symmetrize(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

func demean(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, m)
		mu := stat.Mean(col, nil)
		for i := 0; i < r; i++ {
			m.Set(i, j, col[i]-mu)
		}
	}
}

// residuals regresses y on x and returns y - x b.
func residuals(y, x *mat.Dense) (*mat.Dense, error) {
	var qr mat.QR
	qr.Factorize(x)
	var b mat.Dense
	if err := qr.SolveTo(&b, false, y); err != nil {
		return nil, fmt.Errorf("johansen: %w: %v", ErrSingular, err)
	}
	var fit mat.Dense
	fit.Mul(x, &b)
	fit.Sub(y, &fit)
	return &fit, nil
}

func moment(a, b *mat.Dense, n int) *mat.Dense {
	var m mat.Dense
	m.Mul(a.T(), b)
	m.Scale(1/float64(n), &m)
	return &m
}
