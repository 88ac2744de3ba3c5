package vecm

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fredcast/internal/timeseries"
)

var start = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

// pair returns a random walk A and B = A + stationary noise.
func pair(t *testing.T, n int, seed int64) *timeseries.Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	dates := make([]time.Time, n)
	data := make([]float64, 0, 2*n)
	a := 10.0
	for i := 0; i < n; i++ {
		dates[i] = start.AddDate(0, 0, i)
		a += rng.NormFloat64()
		data = append(data, a, a+0.3*rng.NormFloat64())
	}
	ds, err := timeseries.NewDataset(dates, []string{"A", "B"}, data)
	require.NoError(t, err)
	return ds
}

func TestFit_RecoversCointegratingVector(t *testing.T) {
	ds := pair(t, 600, 1)
	m, err := Fit(ds, 1, 1, DefaultOptions())
	require.NoError(t, err)

	r, c := m.Beta.Dims()
	assert.Equal(t, 4, r, "two levels plus restricted constant and trend")
	assert.Equal(t, 1, c)
	assert.InDelta(t, 1.0, m.Beta.At(0, 0), 1e-12)
	assert.InDelta(t, -1.0, m.Beta.At(1, 0), 0.05)

	require.Len(t, m.Gamma, 1)
	assert.Equal(t, 598, m.NObs)
	assert.Len(t, m.Eigenvalues, 4)
	assert.Greater(t, m.Eigenvalues[0], m.Eigenvalues[1])
}

func TestForecast_AppendsDailyRows(t *testing.T) {
	ds := pair(t, 200, 2)
	m, err := Fit(ds, 1, 2, DefaultOptions())
	require.NoError(t, err)

	out, err := m.Forecast(ds, 5)
	require.NoError(t, err)

	T, K := out.Dims()
	assert.Equal(t, 205, T)
	assert.Equal(t, 2, K)
	assert.Equal(t, ds.Names, out.Names)
	assert.True(t, out.IsDaily())
	assert.Equal(t, ds.Last().AddDate(0, 0, 1), out.Dates[200])
	assert.Equal(t, ds.Last().AddDate(0, 0, 5), out.Last())
	assert.False(t, out.HasMissing())
	assert.True(t, mat.Equal(ds.Y, out.Y.Slice(0, 200, 0, 2)), "history unchanged")
}

func TestForecast_MatchesErrorCorrectionForm(t *testing.T) {
	ds := pair(t, 150, 3)
	m, err := Fit(ds, 1, 1, DefaultOptions())
	require.NoError(t, err)

	out, err := m.Forecast(ds, 1)
	require.NoError(t, err)

	N := 150
	ylag := []float64{ds.Y.At(N-1, 0), ds.Y.At(N-1, 1), 1, float64(N + 1)}
	for k := 0; k < 2; k++ {
		// alpha beta' [y; 1; t+1] + Gamma_1 dy_{t-1}
		ec := 0.0
		for j, v := range ylag {
			ec += m.Alpha.At(k, 0) * m.Beta.At(j, 0) * v
		}
		sr := 0.0
		for j := 0; j < 2; j++ {
			sr += m.Gamma[0].At(k, j) * (ds.Y.At(N-1, j) - ds.Y.At(N-2, j))
		}
		want := ds.Y.At(N-1, k) + ec + sr
		assert.InDelta(t, want, out.Y.At(N, k), 1e-9, "column %d", k)
	}
}

func TestFit_RankZero(t *testing.T) {
	ds := pair(t, 100, 4)
	m, err := Fit(ds, 0, 1, DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, m.Beta)
	assert.True(t, mat.Equal(m.Pi(), mat.NewDense(2, 2, nil)))

	rf := m.VAR()
	require.Len(t, rf.A, 2)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := m.Gamma[0].At(i, j)
			if i == j {
				want++
			}
			assert.InDelta(t, want, rf.A[0].At(i, j), 1e-12)
			assert.InDelta(t, -m.Gamma[0].At(i, j), rf.A[1].At(i, j), 1e-12)
		}
	}

	_, err = m.Forecast(ds, 3)
	require.NoError(t, err)
}

func TestFit_NoLaggedDifferences(t *testing.T) {
	ds := pair(t, 120, 5)
	m, err := Fit(ds, 1, 0, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, m.Gamma)
	assert.Len(t, m.VAR().A, 1)
}

func TestFit_UnrestrictedTerms(t *testing.T) {
	ds := pair(t, 200, 6)
	m, err := Fit(ds, 1, 1, Options{UnrestrictedConst: true})
	require.NoError(t, err)
	r, c := m.Det.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 1, c)
	rows, _ := m.Beta.Dims()
	assert.Equal(t, 2, rows)
}

func TestFit_Errors(t *testing.T) {
	ds := pair(t, 100, 7)

	cases := map[string]func() error{
		"rank above columns": func() error { _, err := Fit(ds, 3, 1, DefaultOptions()); return err },
		"negative rank":      func() error { _, err := Fit(ds, -1, 1, DefaultOptions()); return err },
		"too short": func() error {
			short, err := ds.Between(time.Time{}, start.AddDate(0, 0, 4))
			require.NoError(t, err)
			_, err = Fit(short, 1, 2, DefaultOptions())
			return err
		},
		"conflicting constant": func() error {
			_, err := Fit(ds, 1, 1, Options{RestrictedConst: true, UnrestrictedConst: true})
			return err
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			err := run()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEstimation)
			var ee *EstimationError
			assert.ErrorAs(t, err, &ee)
		})
	}
}

func TestForecast_RejectsOtherColumns(t *testing.T) {
	ds := pair(t, 100, 8)
	m, err := Fit(ds, 1, 1, DefaultOptions())
	require.NoError(t, err)

	swapped, err := ds.Select([]string{"B", "A"})
	require.NoError(t, err)
	_, err = m.Forecast(swapped, 3)
	assert.Error(t, err)
}

func TestIRF(t *testing.T) {
	ds := pair(t, 200, 9)
	m, err := Fit(ds, 1, 1, DefaultOptions())
	require.NoError(t, err)

	irf, err := m.IRF(10, 0)
	require.NoError(t, err)
	r, c := irf.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, 2, c)
	assert.Greater(t, irf.At(0, 0), 0.0)
}
