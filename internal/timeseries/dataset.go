package timeseries

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Dataset is a date-indexed, multi-column numeric matrix.
type Dataset struct {
	// One calendar date per row, ascending
	Dates []time.Time
	// Column labels, usually series ids
	Names []string
	// Matrix for data, T x K (rows: dates, cols: series). Missing values are NaN
	Y *mat.Dense
}

// NewDataset builds a dataset from row-major data. data may be nil, in which
// case the matrix is zero-filled.
func NewDataset(dates []time.Time, names []string, data []float64) (*Dataset, error) {
	if len(dates) == 0 || len(names) == 0 {
		return nil, fmt.Errorf("dataset needs at least one row and one column, got %dx%d", len(dates), len(names))
	}
	if data != nil && len(data) != len(dates)*len(names) {
		return nil, fmt.Errorf("dataset data length %d does not match %dx%d", len(data), len(dates), len(names))
	}
	ds := &Dataset{
		Dates: make([]time.Time, len(dates)),
		Names: append([]string(nil), names...),
		Y:     mat.NewDense(len(dates), len(names), data),
	}
	for i, d := range dates {
		ds.Dates[i] = Truncate(d)
	}
	return ds, nil
}

// Dims returns the number of rows and columns.
func (ds *Dataset) Dims() (int, int) {
	if ds == nil || ds.Y == nil {
		return 0, 0
	}
	return ds.Y.Dims()
}

// Index returns the column position of name, or -1.
func (ds *Dataset) Index(name string) int {
	for j, n := range ds.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// Column returns a copy of column j.
func (ds *Dataset) Column(j int) []float64 {
	return mat.Col(nil, j, ds.Y)
}

// ColumnByName returns a copy of the named column.
func (ds *Dataset) ColumnByName(name string) ([]float64, error) {
	j := ds.Index(name)
	if j < 0 {
		return nil, fmt.Errorf("column %q not in dataset", name)
	}
	return ds.Column(j), nil
}

// SetColumn overwrites column j in place.
func (ds *Dataset) SetColumn(j int, values []float64) {
	ds.Y.SetCol(j, values)
}

// Clone returns a deep copy.
func (ds *Dataset) Clone() *Dataset {
	return &Dataset{
		Dates: append([]time.Time(nil), ds.Dates...),
		Names: append([]string(nil), ds.Names...),
		Y:     mat.DenseCopyOf(ds.Y),
	}
}

// Last returns the last date of the index.
func (ds *Dataset) Last() time.Time {
	return ds.Dates[len(ds.Dates)-1]
}

// IsDaily reports whether the index is a sorted, gap-free daily range.
func (ds *Dataset) IsDaily() bool {
	for i := 1; i < len(ds.Dates); i++ {
		if DaysBetween(ds.Dates[i-1], ds.Dates[i]) != 1 {
			return false
		}
	}
	return true
}

// HasMissing reports whether any cell is NaN.
func (ds *Dataset) HasMissing() bool {
	r, c := ds.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(ds.Y.At(i, j)) {
				return true
			}
		}
	}
	return false
}

// AppendRows returns a new dataset with rows appended after the last date.
// The new dates continue the index with daily spacing.
func (ds *Dataset) AppendRows(rows mat.Matrix) (*Dataset, error) {
	T, K := ds.Dims()
	n, k := rows.Dims()
	if k != K {
		return nil, fmt.Errorf("append %d columns to dataset with %d columns", k, K)
	}
	if n == 0 {
		return ds.Clone(), nil
	}

	out := mat.NewDense(T+n, K, nil)
	out.Slice(0, T, 0, K).(*mat.Dense).Copy(ds.Y)
	out.Slice(T, T+n, 0, K).(*mat.Dense).Copy(rows)

	dates := make([]time.Time, T+n)
	copy(dates, ds.Dates)
	last := ds.Last()
	for i := 0; i < n; i++ {
		dates[T+i] = last.AddDate(0, 0, i+1)
	}

	return &Dataset{Dates: dates, Names: append([]string(nil), ds.Names...), Y: out}, nil
}

// Select returns a new dataset with the named columns, in the given order.
func (ds *Dataset) Select(names []string) (*Dataset, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("select: no columns requested")
	}
	T, _ := ds.Dims()
	out := mat.NewDense(T, len(names), nil)
	for j, name := range names {
		src := ds.Index(name)
		if src < 0 {
			return nil, fmt.Errorf("select: column %q not in dataset", name)
		}
		out.SetCol(j, ds.Column(src))
	}
	return &Dataset{Dates: append([]time.Time(nil), ds.Dates...), Names: append([]string(nil), names...), Y: out}, nil
}

// Between returns the rows whose date falls in [start, end]. A zero bound is
// open.
func (ds *Dataset) Between(start, end time.Time) (*Dataset, error) {
	first, last := -1, -1
	for i, d := range ds.Dates {
		if !start.IsZero() && d.Before(Truncate(start)) {
			continue
		}
		if !end.IsZero() && d.After(Truncate(end)) {
			break
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return nil, fmt.Errorf("no rows between %s and %s", start.Format(DateLayout), end.Format(DateLayout))
	}
	_, K := ds.Dims()
	return &Dataset{
		Dates: append([]time.Time(nil), ds.Dates[first:last+1]...),
		Names: append([]string(nil), ds.Names...),
		Y:     mat.DenseCopyOf(ds.Y.Slice(first, last+1, 0, K)),
	}, nil
}

// FillGaps fills missing cells column by column: interior gaps take the next
// known value, trailing gaps the last known value and leading gaps the first
// known value. A column without any known value is an error.
func (ds *Dataset) FillGaps() error {
	T, K := ds.Dims()
	for j := 0; j < K; j++ {
		col := ds.Column(j)
		first, last := -1, -1
		for i, v := range col {
			if !math.IsNaN(v) {
				if first < 0 {
					first = i
				}
				last = i
			}
		}
		if first < 0 {
			return fmt.Errorf("column %q has no values", ds.Names[j])
		}
		for i := last - 1; i > first; i-- {
			if math.IsNaN(col[i]) {
				col[i] = col[i+1]
			}
		}
		for i := last + 1; i < T; i++ {
			col[i] = col[last]
		}
		for i := 0; i < first; i++ {
			col[i] = col[first]
		}
		ds.SetColumn(j, col)
	}
	return nil
}

// Melt reshapes the dataset into long form: one observation per cell,
// ordered by column then date.
func (ds *Dataset) Melt() []Observation {
	T, K := ds.Dims()
	out := make([]Observation, 0, T*K)
	for j := 0; j < K; j++ {
		for i := 0; i < T; i++ {
			out = append(out, Observation{
				SeriesID: ds.Names[j],
				Date:     ds.Dates[i],
				Value:    ds.Y.At(i, j),
			})
		}
	}
	return out
}
