package varmodel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fredcast/internal/timeseries"
)

// ErrNotPositiveDefinite is returned when a residual covariance has no
// Cholesky factor.
var ErrNotPositiveDefinite = errors.New("residual covariance is not positive definite")

// --- FUNCTIONS FOR BASE ---
// Returns current Model Spec
func (rf *ReducedFormVAR) Spec() ModelSpec { return rf.Model }

// Returns coefficient matrices
func (rf *ReducedFormVAR) Phi() []*mat.Dense { return rf.A }

// Returns error covariance matrix
func (rf *ReducedFormVAR) CovU() *mat.SymDense { return rf.SigmaU }

// Forecast produces multi-step ahead forecasts given the historical data of yHist.
// yHist: T x K (rows: time, cols: variables). Only last p rows are used as lags,
// but T fixes the position of the trend and the seasonal dummies: the first
// forecast row is data row T.
// Returns: steps x K matrix of forecasts
func (rf *ReducedFormVAR) Forecast(yHist mat.Matrix, steps int) (*mat.Dense, error) {
	if rf == nil || len(rf.A) == 0 {
		return nil, fmt.Errorf("VAR model not estimated")
	}
	if steps <= 0 {
		return nil, fmt.Errorf("steps must be > 0")
	}

	p := rf.Model.Lags
	if p <= 0 || p != len(rf.A) {
		return nil, fmt.Errorf("lags must be > 0 and match the coefficient matrices to forecast, got %d for %d matrices", p, len(rf.A))
	}

	// dimensions of yHist, T rows, K cols
	T, K := yHist.Dims()
	if T < p {
		return nil, fmt.Errorf("need at least %d rows in yHist, got %d", p, T)
	}
	if ka, _ := rf.A[0].Dims(); ka != K {
		return nil, fmt.Errorf("model has %d variables, yHist has %d", ka, K)
	}

	detCols := rf.Model.DetCols()
	if detCols > 0 {
		if rf.C == nil {
			return nil, fmt.Errorf("model spec has %d deterministic terms but C is nil", detCols)
		}
		if _, c := rf.C.Dims(); c != detCols {
			return nil, fmt.Errorf("C has %d columns, model spec needs %d", c, detCols)
		}
	}

	totalRows := p + steps
	out := mat.NewDense(totalRows, K, nil)
	out.Slice(0, p, 0, K).(*mat.Dense).Copy(mat.DenseCopyOf(yHist).Slice(T-p, T, 0, K))

	det := make([]float64, detCols)

	for step := 0; step < steps; step++ {
		row := p + step
		if detCols > 0 {
			rf.Model.detRow(det, T+step)
		}

		for eq := 0; eq < K; eq++ {
			val := 0.0

			for d := 0; d < detCols; d++ {
				val += rf.C.At(eq, d) * det[d]
			}

			// lagged part: sum_j A_j * y_{t-j}
			for lag := 1; lag <= p; lag++ {
				A := rf.A[lag-1]
				prevRow := row - lag
				for j := 0; j < K; j++ {
					val += A.At(eq, j) * out.At(prevRow, j)
				}
			}
			out.Set(row, eq, val)
		}
	}
	// Returns only the forecasted rows
	return mat.DenseCopyOf(out.Slice(p, totalRows, 0, K)), nil
}

// IRF computes impulse responses to a one-time structural shock in a variable shockIndex
// Horizon: number of periods to compute (h=0, ..., horizon-1)
// shockIndex: index of variable to shock, (0-based)
// Returns: horizon x K matrix. where row h is response of all K vars at horizon h
func (rf *ReducedFormVAR) IRF(horizon int, shockIndex int) (*mat.Dense, error) {
	if rf == nil || len(rf.A) == 0 {
		return nil, fmt.Errorf("VAR model not estimated")
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be > 0")
	}

	p := len(rf.A)
	K, _ := rf.A[0].Dims()
	if shockIndex < 0 || shockIndex >= K {
		return nil, fmt.Errorf("shockIndex must be between 0 and %d", K-1)
	}

	shock := make([]float64, K)
	var chol mat.Cholesky
	if rf.SigmaU != nil && chol.Factorize(rf.SigmaU) {
		// SigmaU = L * L^T, the shock is column shockIndex of L
		var L mat.TriDense
		chol.LTo(&L)
		for i := 0; i < K; i++ {
			shock[i] = L.At(i, shockIndex)
		}
	} else {
		// unit shock without a usable covariance
		shock[shockIndex] = 1.0
	}

	// Moving-average coeff matrix Psi_h, Psi_0 = I_K
	Psi := make([]*mat.Dense, horizon)
	Psi[0] = mat.NewDense(K, K, nil)
	for i := 0; i < K; i++ {
		Psi[0].Set(i, i, 1)
	}

	for h := 1; h < horizon; h++ {
		M := mat.NewDense(K, K, nil)
		maxLag := p
		if h < p {
			maxLag = h
		}
		for j := 1; j <= maxLag; j++ {
			var tmp mat.Dense
			tmp.Mul(rf.A[j-1], Psi[h-j]) // A_j * Psi_{h-j}
			M.Add(M, &tmp)
		}
		Psi[h] = M
	}

	// IRF[h] = Psi_h * shock
	irf := mat.NewDense(horizon, K, nil)
	shockVec := mat.NewVecDense(K, shock)
	for h := 0; h < horizon; h++ {
		var resp mat.VecDense
		resp.MulVec(Psi[h], shockVec)
		irf.SetRow(h, resp.RawVector().Data)
	}

	return irf, nil
}

// --- OLS IMPLEMENTATION ---
func (e *OLSEstimator) Estimate(ds *timeseries.Dataset, spec ModelSpec, opts EstimationOptions) (*ReducedFormVAR, error) {
	if ds == nil || ds.Y == nil {
		return nil, fmt.Errorf("time series data not provided")
	}

	T, K := ds.Y.Dims()
	p := spec.Lags

	if p <= 0 {
		return nil, fmt.Errorf("lags must be > 0")
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0, got %d", opts.Offset)
	}
	if T-opts.Offset <= p {
		return nil, fmt.Errorf("need at least p+1 observations after offset: p = %d, T = %d, offset = %d", p, T, opts.Offset)
	}
	if spec.HasExogenous {
		return nil, fmt.Errorf("exogenous variables not supported")
	}
	if ds.HasMissing() {
		return nil, fmt.Errorf("time series has missing values")
	}

	start := opts.Offset + p // first response row
	Treg := T - start

	// Response matrix Yreg: rows are y_start, ..., y_{T-1}
	Yreg := mat.DenseCopyOf(ds.Y.Slice(start, T, 0, K))

	detCols := spec.DetCols()
	m := detCols + p*K // total regressors

	X := mat.NewDense(Treg, m, nil)
	det := make([]float64, detCols)
	for t := 0; t < Treg; t++ {
		spec.detRow(det, start+t)
		col := 0
		for _, v := range det {
			X.Set(t, col, v)
			col++
		}

		// Lagged Y's: [ y_{t-1}, y_{t-2}, ..., y_{t-p}]
		for j := 1; j <= p; j++ {
			srcRow := start + t - j
			for k := 0; k < K; k++ {
				X.Set(t, col, ds.Y.At(srcRow, k))
				col++
			}
		}
	}

	B, err := leastSquares(X, Yreg)
	if err != nil {
		return nil, err
	}

	// Split B into C (deterministic) and A_j's
	var C *mat.Dense
	if detCols > 0 {
		C = mat.DenseCopyOf(B.Slice(0, detCols, 0, K).T())
	}

	A := make([]*mat.Dense, p)
	for j := 0; j < p; j++ {
		rowOffset := detCols + j*K // start row of this lag block in B
		A[j] = mat.DenseCopyOf(B.Slice(rowOffset, rowOffset+K, 0, K).T())
	}

	// Residual covariance SigmaU
	var U mat.Dense
	U.Mul(X, B)
	U.Sub(Yreg, &U) // Treg x K

	var utu mat.SymDense
	utu.SymOuterK(1, U.T())

	df := float64(Treg - m)
	if df <= 0 {
		df = float64(Treg) // fallback
	}
	SigmaU := mat.NewSymDense(K, nil)
	SigmaU.ScaleSym(1/df, &utu)
	SigmaUMLE := mat.NewSymDense(K, nil)
	SigmaUMLE.ScaleSym(1/float64(Treg), &utu)

	return &ReducedFormVAR{
		Model:     spec,
		A:         A,
		C:         C,
		SigmaU:    SigmaU,
		SigmaUMLE: SigmaUMLE,
		NObs:      Treg,
	}, nil
}

// leastSquares solves X B = Y by the normal equations, or with the SVD
// minimum-norm solution when X'X is singular.
func leastSquares(X, Y mat.Matrix) (*mat.Dense, error) {
	var B mat.Dense

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	err := xtxInv.Inverse(&xtx)
	if err == nil {
		var xty mat.Dense
		xty.Mul(X.T(), Y)
		B.Mul(&xtxInv, &xty)
		return &B, nil
	}

	// X'X is singular or badly conditioned: minimum-norm B from the SVD
	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDFullU|mat.SVDFullV); !ok {
		return nil, fmt.Errorf("OLS failed: X'X singular and SVD factorization failed: %v", err)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		// all regressors are zero
		_, m := X.Dims()
		_, k := Y.Dims()
		return mat.NewDense(m, k, nil), nil
	}
	svd.SolveTo(&B, Y, rank)
	return &B, nil
}

// InfoCriteria returns AIC, BIC, HQIC and FPE computed from the maximum
// likelihood residual covariance, counting K^2 p lag coefficients plus K per
// deterministic regressor.
func (rf *ReducedFormVAR) InfoCriteria() (InfoCriteria, error) {
	if rf == nil || rf.SigmaUMLE == nil || rf.NObs == 0 {
		return InfoCriteria{}, fmt.Errorf("VAR model not estimated")
	}
	K := rf.SigmaUMLE.SymmetricDim()
	p := len(rf.A)
	kExog := rf.Model.DetCols()

	var chol mat.Cholesky
	if !chol.Factorize(rf.SigmaUMLE) {
		return InfoCriteria{}, ErrNotPositiveDefinite
	}
	ld := chol.LogDet()

	n := float64(rf.NObs)
	free := float64(p*K*K + K*kExog)
	dfModel := float64(K*p + kExog)
	dfResid := n - dfModel

	return InfoCriteria{
		AIC:  ld + 2/n*free,
		BIC:  ld + math.Log(n)/n*free,
		HQIC: ld + 2*math.Log(math.Log(n))/n*free,
		FPE:  math.Pow((n+dfModel)/dfResid, float64(K)) * math.Exp(ld),
	}, nil
}
