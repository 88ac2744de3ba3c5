package differencing

import (
	"fmt"
	"math"

	"fredcast/internal/stationarity"
	"fredcast/internal/timeseries"
)

// Threshold is the p-value above which a column is treated as non-stationary.
const Threshold = 0.05

// IsNonStationary reports whether a unit-root p-value calls for differencing.
func IsNonStationary(p float64) bool { return p > Threshold }

// Difference replaces every non-stationary column with its first difference,
// back-fills the undefined first row from the second, and re-tests the result.
// Columns missing from pValues are left unchanged. The input is not modified.
func Difference(ds *timeseries.Dataset, pValues map[string]float64) (*timeseries.Dataset, map[string]float64, error) {
	T, _ := ds.Dims()
	if T < 2 {
		return nil, nil, fmt.Errorf("difference: need at least 2 rows, got %d", T)
	}

	out := ds.Clone()
	for j, name := range ds.Names {
		p, ok := pValues[name]
		if !ok || !IsNonStationary(p) {
			continue
		}
		col := ds.Column(j)
		d := make([]float64, T)
		for i := 1; i < T; i++ {
			d[i] = col[i] - col[i-1]
		}
		d[0] = d[1]
		out.SetColumn(j, d)
	}

	after, err := stationarity.UnitRootTest(out)
	if err != nil {
		return nil, nil, fmt.Errorf("difference: re-test: %w", err)
	}
	return out, after, nil
}

// InverseDifference restores the level of every column that was differenced,
// judged by the original (pre-differencing) p-values: row 0 is seeded with
// the original first value and the column is cumulatively summed. Other
// columns are copied unchanged.
func InverseDifference(forecast, original *timeseries.Dataset, pValues map[string]float64) (*timeseries.Dataset, error) {
	if len(forecast.Names) != len(original.Names) {
		return nil, fmt.Errorf("inverse difference: %d columns, original has %d", len(forecast.Names), len(original.Names))
	}
	for j, name := range forecast.Names {
		if original.Names[j] != name {
			return nil, fmt.Errorf("inverse difference: column %d is %q, original has %q", j, name, original.Names[j])
		}
	}
	for name := range pValues {
		if forecast.Index(name) < 0 {
			return nil, fmt.Errorf("inverse difference: p-value for unknown column %q", name)
		}
	}

	out := forecast.Clone()
	for j, name := range forecast.Names {
		p, ok := pValues[name]
		if !ok || !IsNonStationary(p) {
			continue
		}
		col := forecast.Column(j)
		seed := original.Y.At(0, j)
		if math.IsNaN(seed) {
			return nil, fmt.Errorf("inverse difference: column %q has no first value", name)
		}
		col[0] = seed
		for i := 1; i < len(col); i++ {
			col[i] += col[i-1]
		}
		out.SetColumn(j, col)
	}
	return out, nil
}
