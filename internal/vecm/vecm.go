package vecm

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"fredcast/internal/coint"
	"fredcast/internal/timeseries"
	"fredcast/internal/varmodel"
)

// ErrEstimation is wrapped by every EstimationError.
var ErrEstimation = errors.New("vecm estimation failed")

// EstimationError reports a fit that could not be completed.
type EstimationError struct {
	Rank     int
	DiffLags int
	Reason   string
	Err      error
}

func (e *EstimationError) Error() string {
	msg := fmt.Sprintf("vecm (rank %d, %d lagged differences): %s", e.Rank, e.DiffLags, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EstimationError) Unwrap() error { return e.Err }

func (e *EstimationError) Is(target error) bool { return target == ErrEstimation }

// Options selects the deterministic terms. Restricted terms enter the
// cointegrating relation, unrestricted terms the short-run equations; a term
// cannot be both.
type Options struct {
	RestrictedConst   bool
	RestrictedTrend   bool
	UnrestrictedConst bool
	UnrestrictedTrend bool
}

// DefaultOptions restricts a constant and a linear trend to the
// cointegrating relation.
func DefaultOptions() Options {
	return Options{RestrictedConst: true, RestrictedTrend: true}
}

func (o Options) validate() error {
	if o.RestrictedConst && o.UnrestrictedConst {
		return fmt.Errorf("constant cannot be both restricted and unrestricted")
	}
	if o.RestrictedTrend && o.UnrestrictedTrend {
		return fmt.Errorf("trend cannot be both restricted and unrestricted")
	}
	return nil
}

func (o Options) restricted() int   { return b2i(o.RestrictedConst) + b2i(o.RestrictedTrend) }
func (o Options) unrestricted() int { return b2i(o.UnrestrictedConst) + b2i(o.UnrestrictedTrend) }

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Model is a fitted vector error-correction model
//
//	dy_t = alpha beta' [y_{t-1}; d_t] + sum_i Gamma_i dy_{t-i} + c_t + u_t
//
// bound to the columns, rank and lag order it was fit with. The trend term
// of row t (0-based) takes the value t+1.
type Model struct {
	Names    []string
	Rank     int
	DiffLags int
	Options  Options

	// K x r loadings
	Alpha *mat.Dense
	// (K + restricted terms) x r cointegrating vectors, normalized so the
	// first r rows form the identity
	Beta *mat.Dense
	// K x K short-run coefficients, one per lagged difference
	Gamma []*mat.Dense
	// K x (unrestricted terms) coefficients, constant before trend
	Det *mat.Dense
	// Residual covariance
	SigmaU *mat.SymDense
	// Eigenvalues of the reduced-rank problem, descending
	Eigenvalues []float64
	NObs        int
}

// Fit estimates a VECM by reduced-rank regression: both dy_t and the lagged
// levels (with the restricted terms) are concentrated on the lagged
// differences, the cointegrating vectors are the leading eigenvectors of the
// resulting moment problem, and the short-run terms follow by least squares.
func Fit(ds *timeseries.Dataset, rank, diffLags int, opts Options) (*Model, error) {
	fail := func(reason string, err error) error {
		return &EstimationError{Rank: rank, DiffLags: diffLags, Reason: reason, Err: err}
	}

	if err := opts.validate(); err != nil {
		return nil, fail("deterministic terms", err)
	}
	N, K := ds.Dims()
	if rank < 0 || rank > K {
		return nil, fail(fmt.Sprintf("rank must be in [0, %d]", K), nil)
	}
	if diffLags < 0 {
		return nil, fail("negative lag order", nil)
	}
	if ds.HasMissing() {
		return nil, fail("dataset has missing values", nil)
	}

	p := diffLags + 1
	T := N - p
	m := K + opts.restricted()
	q := K*diffLags + opts.unrestricted()
	if need := diffLags + rank + K + opts.restricted() + opts.unrestricted(); N < need || T <= m+q {
		return nil, fail(fmt.Sprintf("%d observations are too few for %d series", N, K), nil)
	}

	dy := mat.NewDense(T, K, nil)
	ylag := mat.NewDense(T, m, nil)
	var dx *mat.Dense
	if q > 0 {
		dx = mat.NewDense(T, q, nil)
	}
	for r := 0; r < T; r++ {
		t := p + r
		for k := 0; k < K; k++ {
			dy.Set(r, k, ds.Y.At(t, k)-ds.Y.At(t-1, k))
			ylag.Set(r, k, ds.Y.At(t-1, k))
		}
		col := K
		if opts.RestrictedConst {
			ylag.Set(r, col, 1)
			col++
		}
		if opts.RestrictedTrend {
			ylag.Set(r, col, float64(t+1))
		}

		col = 0
		for i := 1; i <= diffLags; i++ {
			for k := 0; k < K; k++ {
				dx.Set(r, col, ds.Y.At(t-i, k)-ds.Y.At(t-i-1, k))
				col++
			}
		}
		if opts.UnrestrictedConst {
			dx.Set(r, col, 1)
			col++
		}
		if opts.UnrestrictedTrend {
			dx.Set(r, col, float64(t+1))
		}
	}

	r0, r1 := dy, ylag
	if dx != nil {
		var err error
		if r0, err = residuals(dy, dx); err != nil {
			return nil, fail("concentrating differences", err)
		}
		if r1, err = residuals(ylag, dx); err != nil {
			return nil, fail("concentrating levels", err)
		}
	}

	s00 := moment(r0, r0, T)
	s01 := moment(r0, r1, T)
	s11 := moment(r1, r1, T)

	model := &Model{
		Names:    append([]string(nil), ds.Names...),
		Rank:     rank,
		DiffLags: diffLags,
		Options:  opts,
		NObs:     T,
	}

	// Pi = alpha beta' (K x m), zero at rank 0
	pi := mat.NewDense(K, m, nil)
	if rank > 0 {
		vals, v, err := coint.ReducedRankEigen(s11, mat.DenseCopyOf(s01.T()), s00)
		if err != nil {
			return nil, fail("eigenproblem", err)
		}
		model.Eigenvalues = vals

		beta := mat.DenseCopyOf(v.Slice(0, m, 0, rank))
		var head, headInv mat.Dense
		head.CloneFrom(beta.Slice(0, rank, 0, rank))
		if err := headInv.Inverse(&head); err != nil {
			return nil, fail("normalizing cointegrating vectors", err)
		}
		var norm mat.Dense
		norm.Mul(beta, &headInv)
		beta = &norm

		// alpha = S01 beta (beta' S11 beta)^-1
		var sb, bsb, bsbInv, s01b mat.Dense
		sb.Mul(s11, beta)
		bsb.Mul(beta.T(), &sb)
		if err := bsbInv.Inverse(&bsb); err != nil {
			return nil, fail("loadings", err)
		}
		s01b.Mul(s01, beta)
		var alpha mat.Dense
		alpha.Mul(&s01b, &bsbInv)

		model.Alpha = &alpha
		model.Beta = beta
		pi.Mul(&alpha, beta.T())
	}

	// short-run terms: regress dy - ylag Pi' on dx
	var resid mat.Dense
	resid.Mul(ylag, pi.T())
	resid.Sub(dy, &resid)
	if dx != nil {
		g, err := leastSquares(dx, &resid)
		if err != nil {
			return nil, fail("short-run coefficients", err)
		}
		gt := mat.DenseCopyOf(g.T()) // K x q
		model.Gamma = make([]*mat.Dense, diffLags)
		for i := 0; i < diffLags; i++ {
			model.Gamma[i] = mat.DenseCopyOf(gt.Slice(0, K, i*K, (i+1)*K))
		}
		if u := opts.unrestricted(); u > 0 {
			model.Det = mat.DenseCopyOf(gt.Slice(0, K, diffLags*K, q))
		}
		var fitted mat.Dense
		fitted.Mul(dx, g)
		resid.Sub(&resid, &fitted)
	}

	var rr mat.SymDense
	rr.SymOuterK(1/float64(T), resid.T())
	model.SigmaU = &rr

	return model, nil
}

// Pi returns alpha beta' restricted to the level columns (K x K).
func (m *Model) Pi() *mat.Dense {
	K := len(m.Names)
	pi := mat.NewDense(K, K, nil)
	if m.Rank == 0 {
		return pi
	}
	pi.Mul(m.Alpha, m.Beta.Slice(0, K, 0, m.Rank).T())
	return pi
}

// VAR returns the equivalent levels VAR of order DiffLags+1:
// A_1 = I + Pi + Gamma_1, A_i = Gamma_i - Gamma_{i-1}, A_p = -Gamma_{p-1}.
func (m *Model) VAR() *varmodel.ReducedFormVAR {
	K := len(m.Names)
	p := m.DiffLags + 1

	A := make([]*mat.Dense, p)
	for i := range A {
		A[i] = mat.NewDense(K, K, nil)
	}
	A[0].Add(A[0], m.Pi())
	for k := 0; k < K; k++ {
		A[0].Set(k, k, A[0].At(k, k)+1)
	}
	for i, g := range m.Gamma {
		A[i].Add(A[i], g)
		A[i+1].Sub(A[i+1], g)
	}

	// deterministic terms from the restricted part alpha beta_d' and the
	// unrestricted coefficients
	var constant, trend []float64
	hasConst := m.Options.RestrictedConst || m.Options.UnrestrictedConst
	hasTrend := m.Options.RestrictedTrend || m.Options.UnrestrictedTrend
	if hasConst {
		constant = make([]float64, K)
	}
	if hasTrend {
		trend = make([]float64, K)
	}
	if m.Rank > 0 {
		var ab mat.Dense
		ab.Mul(m.Alpha, m.Beta.T()) // K x (K + restricted)
		col := K
		if m.Options.RestrictedConst {
			for k := 0; k < K; k++ {
				constant[k] += ab.At(k, col)
			}
			col++
		}
		if m.Options.RestrictedTrend {
			for k := 0; k < K; k++ {
				trend[k] += ab.At(k, col)
			}
		}
	}
	col := 0
	if m.Options.UnrestrictedConst {
		for k := 0; k < K; k++ {
			constant[k] += m.Det.At(k, col)
		}
		col++
	}
	if m.Options.UnrestrictedTrend {
		for k := 0; k < K; k++ {
			trend[k] += m.Det.At(k, col)
		}
	}

	spec := varmodel.ModelSpec{Lags: p}
	var C *mat.Dense
	switch {
	case hasConst && hasTrend:
		spec.Deterministic = varmodel.DetConstTrend
		C = mat.NewDense(K, 2, nil)
		C.SetCol(0, constant)
		C.SetCol(1, trend)
	case hasConst:
		spec.Deterministic = varmodel.DetConst
		C = mat.NewDense(K, 1, constant)
	case hasTrend:
		spec.Deterministic = varmodel.DetTrend
		C = mat.NewDense(K, 1, trend)
	}

	return &varmodel.ReducedFormVAR{
		Model:  spec,
		A:      A,
		C:      C,
		SigmaU: m.SigmaU,
		NObs:   m.NObs,
	}
}

// Forecast extends ds by steps rows of recursive forecasts. ds must have the
// columns the model was fit on, in the same order, and start on the same
// date as the fitted sample so the trend continues correctly.
func (m *Model) Forecast(ds *timeseries.Dataset, steps int) (*timeseries.Dataset, error) {
	if err := m.checkColumns(ds); err != nil {
		return nil, err
	}
	fc, err := m.VAR().Forecast(ds.Y, steps)
	if err != nil {
		return nil, fmt.Errorf("vecm forecast: %w", err)
	}
	return ds.AppendRows(fc)
}

// IRF returns the orthogonalized impulse responses of every column to a
// shock in column shockIndex.
func (m *Model) IRF(horizon, shockIndex int) (*mat.Dense, error) {
	return m.VAR().IRF(horizon, shockIndex)
}

func (m *Model) checkColumns(ds *timeseries.Dataset) error {
	if len(ds.Names) != len(m.Names) {
		return fmt.Errorf("vecm: model has %d columns, dataset has %d", len(m.Names), len(ds.Names))
	}
	for j, name := range m.Names {
		if ds.Names[j] != name {
			return fmt.Errorf("vecm: column %d is %q, model expects %q", j, ds.Names[j], name)
		}
	}
	return nil
}

func residuals(y, x *mat.Dense) (*mat.Dense, error) {
	b, err := leastSquares(x, y)
	if err != nil {
		return nil, err
	}
	var fit mat.Dense
	fit.Mul(x, b)
	fit.Sub(y, &fit)
	return &fit, nil
}

func leastSquares(x, y *mat.Dense) (*mat.Dense, error) {
	var qr mat.QR
	qr.Factorize(x)
	var b mat.Dense
	if err := qr.SolveTo(&b, false, y); err != nil {
		return nil, err
	}
	return &b, nil
}

func moment(a, b *mat.Dense, n int) *mat.Dense {
	var m mat.Dense
	m.Mul(a.T(), b)
	m.Scale(1/float64(n), &m)
	return &m
}
