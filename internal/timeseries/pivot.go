package timeseries

import (
	"fmt"
	"math"
	"time"
)

// Pivot turns long-form observations into a wide dataset: one row per
// calendar day between the earliest and latest date, one column per series
// (sorted by id). Days a series does not report are NaN.
func Pivot(obs []Observation) (*Dataset, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("pivot: no observations")
	}

	ids, parts := GroupBySeries(obs)

	start, end := Truncate(obs[0].Date), Truncate(obs[0].Date)
	for _, o := range obs {
		d := Truncate(o.Date)
		if d.Before(start) {
			start = d
		}
		if d.After(end) {
			end = d
		}
	}

	T := DaysBetween(start, end) + 1
	dates := make([]time.Time, T)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}

	data := make([]float64, T*len(ids))
	for i := range data {
		data[i] = math.NaN()
	}
	K := len(ids)
	for j, id := range ids {
		seen := make(map[int]bool, len(parts[id]))
		for _, o := range parts[id] {
			row := DaysBetween(start, o.Date)
			if seen[row] {
				return nil, fmt.Errorf("pivot: duplicate observation for %s on %s", id, o.Date.Format(DateLayout))
			}
			seen[row] = true
			data[row*K+j] = o.Value
		}
	}

	return NewDataset(dates, ids, data)
}
