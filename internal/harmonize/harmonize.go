package harmonize

import (
	"fmt"

	"fredcast/internal/config"
	"fredcast/internal/timeseries"
)

// Error reports a series that could not be harmonized.
type Error struct {
	SeriesID string
	Strategy config.Strategy
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("harmonize %s (%s): %v", e.SeriesID, e.Strategy, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Harmonize applies s to every series in obs independently and returns the
// daily points keyed by series id. The first failing series, in id order,
// aborts the call.
func Harmonize(obs []timeseries.Observation, s Strategy) (map[string][]Point, error) {
	if len(obs) == 0 {
		return nil, &Error{Strategy: s.Name(), Err: insufficient(0, 1)}
	}
	ids, parts := timeseries.GroupBySeries(obs)
	out := make(map[string][]Point, len(ids))
	for _, id := range ids {
		pts, err := s.apply(parts[id])
		if err != nil {
			return nil, &Error{SeriesID: id, Strategy: s.Name(), Err: err}
		}
		out[id] = pts
	}
	return out, nil
}

// HarmonizeAll harmonizes every series with its configured strategy. A series
// that fails is left out of the result and reported; configured series with
// no observations at all are reported too, unless they pass through.
func HarmonizeAll(obs []timeseries.Observation, cfg config.PipelineConfig) ([]timeseries.Observation, []*Error) {
	ids, parts := timeseries.GroupBySeries(obs)

	var (
		out  = make([]timeseries.Observation, 0, len(obs))
		errs []*Error
	)
	for _, id := range ids {
		s, err := ForStrategy(cfg.StrategyFor(id))
		if err != nil {
			errs = append(errs, &Error{SeriesID: id, Strategy: cfg.StrategyFor(id), Err: err})
			continue
		}
		if _, ok := s.(Passthrough); ok {
			out = append(out, parts[id]...)
			continue
		}
		pts, err := s.apply(parts[id])
		if err != nil {
			errs = append(errs, &Error{SeriesID: id, Strategy: s.Name(), Err: err})
			continue
		}
		for _, p := range pts {
			out = append(out, timeseries.Observation{
				SeriesID:      id,
				Date:          p.Date,
				Value:         p.Value,
				IsTransformed: true,
			})
		}
	}

	for _, id := range cfg.SeriesIDs {
		if _, ok := parts[id]; ok {
			continue
		}
		if st := cfg.StrategyFor(id); st != config.Untransformed {
			errs = append(errs, &Error{SeriesID: id, Strategy: st, Err: insufficient(0, 1)})
		}
	}
	return out, errs
}
