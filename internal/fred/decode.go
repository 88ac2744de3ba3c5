package fred

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"fredcast/internal/timeseries"
)

// absentValue is how FRED reports a missing observation.
const absentValue = "."

// lastUpdatedLayout matches FRED's "2024-05-01 07:52:02-05".
const lastUpdatedLayout = "2006-01-02 15:04:05-07"

var errNoPayload = errors.New("response has neither seriess nor observations")

func decodeSeries(body []byte) ([]timeseries.SeriesMeta, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	if len(p.Seriess) == 0 {
		return nil, errNoPayload
	}
	// FRED answers a series request with exactly one record
	s := p.Seriess[0]
	meta := timeseries.SeriesMeta{
		ID:                      s.ID,
		Title:                   s.Title,
		Frequency:               s.Frequency,
		FrequencyShort:          s.FrequencyShort,
		Units:                   s.Units,
		UnitsShort:              s.UnitsShort,
		SeasonalAdjustment:      s.SeasonalAdjustment,
		SeasonalAdjustmentShort: s.SeasonalAdjustmentShort,
		Popularity:              s.Popularity,
		Notes:                   s.Notes,
	}
	dates := []struct {
		dst *time.Time
		src string
	}{
		{&meta.RealtimeStart, s.RealtimeStart},
		{&meta.RealtimeEnd, s.RealtimeEnd},
		{&meta.ObservationStart, s.ObservationStart},
		{&meta.ObservationEnd, s.ObservationEnd},
	}
	for _, d := range dates {
		t, err := parseDate(d.src)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.ID, err)
		}
		*d.dst = t
	}
	if s.LastUpdated != "" {
		t, err := time.Parse(lastUpdatedLayout, s.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("series %s: last_updated: %w", s.ID, err)
		}
		meta.LastUpdated = t
	}
	return []timeseries.SeriesMeta{meta}, nil
}

func decodeObservations(body []byte, seriesID string) ([]timeseries.Observation, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	if p.Observations == nil {
		return nil, errNoPayload
	}
	out := make([]timeseries.Observation, 0, len(p.Observations))
	for _, o := range p.Observations {
		obs := timeseries.Observation{SeriesID: seriesID, Value: math.NaN()}
		var err error
		if obs.Date, err = parseDate(o.Date); err != nil {
			return nil, err
		}
		if obs.RealtimeStart, err = parseDate(o.RealtimeStart); err != nil {
			return nil, err
		}
		if obs.RealtimeEnd, err = parseDate(o.RealtimeEnd); err != nil {
			return nil, err
		}
		if o.Value != absentValue {
			if obs.Value, err = strconv.ParseFloat(o.Value, 64); err != nil {
				return nil, fmt.Errorf("observation %s: %w", o.Date, err)
			}
		}
		out = append(out, obs)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeseries.DateLayout, s)
}
