package timeseries

import (
	"math"
	"sort"
	"time"
)

// DateLayout is the calendar-date format used by FRED and by storage.
const DateLayout = "2006-01-02"

// Observation is one reported value of one series.
// An absent value (FRED reports it as ".") is stored as NaN.
type Observation struct {
	SeriesID      string
	Date          time.Time
	Value         float64
	RealtimeStart time.Time
	RealtimeEnd   time.Time
	IsTransformed bool
}

// Known reports whether the observation carries a value.
func (o Observation) Known() bool { return !math.IsNaN(o.Value) }

// SeriesMeta is the descriptive record FRED returns for a series.
type SeriesMeta struct {
	ID                      string
	RealtimeStart           time.Time
	RealtimeEnd             time.Time
	Title                   string
	ObservationStart        time.Time
	ObservationEnd          time.Time
	Frequency               string
	FrequencyShort          string
	Units                   string
	UnitsShort              string
	SeasonalAdjustment      string
	SeasonalAdjustmentShort string
	LastUpdated             time.Time
	Popularity              int
	Notes                   string
	IsTransformed           bool
}

// Prediction is one row of a long-form forecast, tagged with the analysis
// group (model) that produced it.
type Prediction struct {
	RunID    string
	SeriesID string
	Model    string
	Date     time.Time
	Value    float64
}

// Truncate strips the clock part so dates compare as calendar days.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Truncate(b).Sub(Truncate(a)).Hours() / 24)
}

// GroupBySeries partitions observations by series id. Each partition is
// sorted by date; the returned ids are sorted too so callers iterate
// deterministically.
func GroupBySeries(obs []Observation) ([]string, map[string][]Observation) {
	parts := make(map[string][]Observation)
	for _, o := range obs {
		parts[o.SeriesID] = append(parts[o.SeriesID], o)
	}
	ids := make([]string, 0, len(parts))
	for id, p := range parts {
		sort.SliceStable(p, func(i, j int) bool { return p[i].Date.Before(p[j].Date) })
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, parts
}
