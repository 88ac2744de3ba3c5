package differencing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fredcast/internal/timeseries"
)

func sample(t *testing.T, n int) *timeseries.Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	dates := make([]time.Time, n)
	data := make([]float64, 0, 2*n)
	level := 100.0
	for i := 0; i < n; i++ {
		dates[i] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		level += 0.5 + rng.NormFloat64()
		data = append(data, level, rng.NormFloat64())
	}
	ds, err := timeseries.NewDataset(dates, []string{"LEVEL", "NOISE"}, data)
	require.NoError(t, err)
	return ds
}

func TestDifference_OnlyNonStationaryColumns(t *testing.T) {
	ds := sample(t, 120)
	p := map[string]float64{"LEVEL": 0.9, "NOISE": 0.001}
	before := ds.Column(0)

	out, after, err := Difference(ds, p)
	require.NoError(t, err)

	assert.Equal(t, ds.Column(1), out.Column(1), "stationary column untouched")
	lv := ds.Column(0)
	d := out.Column(0)
	for i := 1; i < len(d); i++ {
		assert.InDelta(t, lv[i]-lv[i-1], d[i], 1e-12)
	}
	assert.Equal(t, d[1], d[0], "first row back-filled")

	assert.Contains(t, after, "LEVEL")
	assert.Contains(t, after, "NOISE")
	assert.Equal(t, before, ds.Column(0), "input not modified")
}

func TestInverseDifference_RoundTrip(t *testing.T) {
	ds := sample(t, 120)
	p := map[string]float64{"LEVEL": 0.7, "NOISE": 0.01}

	diffed, _, err := Difference(ds, p)
	require.NoError(t, err)

	back, err := InverseDifference(diffed, ds, p)
	require.NoError(t, err)

	T, _ := ds.Dims()
	for i := 0; i < T; i++ {
		assert.InDelta(t, ds.Y.At(i, 0), back.Y.At(i, 0), 1e-9, "row %d", i)
		assert.Equal(t, ds.Y.At(i, 1), back.Y.At(i, 1), "row %d", i)
	}
}

func TestInverseDifference_ExtendsIntoForecast(t *testing.T) {
	ds := sample(t, 60)
	p := map[string]float64{"LEVEL": 0.7}
	diffed, _, err := Difference(ds, p)
	require.NoError(t, err)

	extra := mat.NewDense(3, 2, []float64{1, 0, 1, 0, 1, 0})
	fc, err := diffed.AppendRows(extra)
	require.NoError(t, err)

	back, err := InverseDifference(fc, ds, p)
	require.NoError(t, err)
	last := ds.Y.At(59, 0)
	for k := 1; k <= 3; k++ {
		assert.InDelta(t, last+float64(k), back.Y.At(59+k, 0), 1e-9)
	}
}

func TestInverseDifference_Mismatch(t *testing.T) {
	ds := sample(t, 30)
	other, err := ds.Select([]string{"NOISE", "LEVEL"})
	require.NoError(t, err)

	_, err = InverseDifference(other, ds, map[string]float64{"LEVEL": 0.9})
	assert.Error(t, err)

	_, err = InverseDifference(ds, ds, map[string]float64{"GHOST": 0.9})
	assert.Error(t, err)
}

func TestIsNonStationary(t *testing.T) {
	assert.False(t, IsNonStationary(Threshold))
	assert.True(t, IsNonStationary(0.0501))
}
