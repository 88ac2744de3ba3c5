package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"fredcast/internal/timeseries"
)

// StoreSeries upserts the series records.
func (s *Store) StoreSeries(ctx context.Context, series []timeseries.SeriesMeta) error {
	query := s.dialect.rebind(`INSERT INTO series (
		id, realtime_start, realtime_end, title, observation_start, observation_end,
		frequency, frequency_short, units, units_short, seasonal_adjustment,
		seasonal_adjustment_short, last_updated, popularity, notes, is_transformed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		realtime_start = excluded.realtime_start,
		realtime_end = excluded.realtime_end,
		title = excluded.title,
		observation_start = excluded.observation_start,
		observation_end = excluded.observation_end,
		frequency = excluded.frequency,
		frequency_short = excluded.frequency_short,
		units = excluded.units,
		units_short = excluded.units_short,
		seasonal_adjustment = excluded.seasonal_adjustment,
		seasonal_adjustment_short = excluded.seasonal_adjustment_short,
		last_updated = excluded.last_updated,
		popularity = excluded.popularity,
		notes = excluded.notes,
		is_transformed = excluded.is_transformed`)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range series {
			var lastUpdated any
			if !m.LastUpdated.IsZero() {
				lastUpdated = m.LastUpdated.Format(time.RFC3339)
			}
			if _, err := stmt.ExecContext(ctx,
				m.ID, dateArg(m.RealtimeStart), dateArg(m.RealtimeEnd), m.Title,
				dateArg(m.ObservationStart), dateArg(m.ObservationEnd),
				m.Frequency, m.FrequencyShort, m.Units, m.UnitsShort, m.SeasonalAdjustment,
				m.SeasonalAdjustmentShort, lastUpdated, m.Popularity, m.Notes, m.IsTransformed,
			); err != nil {
				return fmt.Errorf("series %s: %w", m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store series: %w", err)
	}
	s.logger.Debug("stored series", "count", len(series))
	return nil
}

// StoreObservations replaces the stored observations of every series present
// in obs. Absent values are stored as NULL.
func (s *Store) StoreObservations(ctx context.Context, obs []timeseries.Observation) error {
	ids, parts := timeseries.GroupBySeries(obs)
	del := s.dialect.rebind(`DELETE FROM observations WHERE series_id = ?`)
	ins := s.dialect.rebind(`INSERT INTO observations
		(series_id, realtime_start, realtime_end, date, value, is_transformed)
		VALUES (?, ?, ?, ?, ?, ?)`)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, ins)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, del, id); err != nil {
				return fmt.Errorf("series %s: %w", id, err)
			}
			for _, o := range parts[id] {
				if _, err := stmt.ExecContext(ctx, o.SeriesID, dateArg(o.RealtimeStart), dateArg(o.RealtimeEnd),
					o.Date.Format(timeseries.DateLayout), valueArg(o.Value), o.IsTransformed); err != nil {
					return fmt.Errorf("series %s: %w", id, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store observations: %w", err)
	}
	s.logger.Debug("stored observations", "series", len(ids), "count", len(obs))
	return nil
}

// StorePredictions appends prediction rows.
func (s *Store) StorePredictions(ctx context.Context, preds []timeseries.Prediction) error {
	ins := s.dialect.rebind(`INSERT INTO predictions (run_id, series_id, model, date, value) VALUES (?, ?, ?, ?, ?)`)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, ins)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range preds {
			if _, err := stmt.ExecContext(ctx, p.RunID, p.SeriesID, p.Model,
				p.Date.Format(timeseries.DateLayout), valueArg(p.Value)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store predictions: %w", err)
	}
	return nil
}

// LoadObservations reads every stored observation ordered by series and date.
func (s *Store) LoadObservations(ctx context.Context) ([]timeseries.Observation, error) {
	out, err := s.queryObservations(ctx, `SELECT series_id, realtime_start, realtime_end, date, value, is_transformed
		FROM observations ORDER BY series_id, date`)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	return out, nil
}

// ObservationsBySeries reads the observations of one series ordered by date.
// It returns ErrNotFound when there are none.
func (s *Store) ObservationsBySeries(ctx context.Context, seriesID string) ([]timeseries.Observation, error) {
	out, err := s.queryObservations(ctx, `SELECT series_id, realtime_start, realtime_end, date, value, is_transformed
		FROM observations WHERE series_id = ? ORDER BY date`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("observations of %s: %w", seriesID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("observations of %s: %w", seriesID, ErrNotFound)
	}
	return out, nil
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]timeseries.Observation, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []timeseries.Observation
	for rows.Next() {
		var (
			o           timeseries.Observation
			rtStart     sql.NullString
			rtEnd       sql.NullString
			date        string
			value       sql.NullFloat64
			transformed bool
		)
		if err := rows.Scan(&o.SeriesID, &rtStart, &rtEnd, &date, &value, &transformed); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if o.Date, err = time.Parse(timeseries.DateLayout, date); err != nil {
			return nil, err
		}
		if o.RealtimeStart, err = parseNullDate(rtStart); err != nil {
			return nil, err
		}
		if o.RealtimeEnd, err = parseNullDate(rtEnd); err != nil {
			return nil, err
		}
		o.Value = floatOf(value)
		o.IsTransformed = transformed
		out = append(out, o)
	}
	return out, rows.Err()
}

// PredictionsBySeries reads the predictions of one series and model from the
// most recent run that produced them, ordered by date. It returns
// ErrNotFound when there are none.
func (s *Store) PredictionsBySeries(ctx context.Context, seriesID, model string) ([]timeseries.Prediction, error) {
	out, err := s.queryPredictions(ctx, `SELECT run_id, series_id, model, date, value FROM predictions
		WHERE series_id = ? AND model = ? AND run_id = (
			SELECT run_id FROM predictions WHERE series_id = ? AND model = ? ORDER BY id DESC LIMIT 1
		) ORDER BY date`, seriesID, model, seriesID, model)
	if err != nil {
		return nil, fmt.Errorf("predictions of %s/%s: %w", seriesID, model, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("predictions of %s/%s: %w", seriesID, model, ErrNotFound)
	}
	return out, nil
}

// LatestRunID returns the run id of the most recently stored prediction.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM predictions ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// PredictionsByRun reads every prediction of a run ordered by model, series
// and date.
func (s *Store) PredictionsByRun(ctx context.Context, runID string) ([]timeseries.Prediction, error) {
	out, err := s.queryPredictions(ctx, `SELECT run_id, series_id, model, date, value FROM predictions
		WHERE run_id = ? ORDER BY model, series_id, date`, runID)
	if err != nil {
		return nil, fmt.Errorf("predictions of run %s: %w", runID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("predictions of run %s: %w", runID, ErrNotFound)
	}
	return out, nil
}

func (s *Store) queryPredictions(ctx context.Context, query string, args ...any) ([]timeseries.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []timeseries.Prediction
	for rows.Next() {
		var (
			p     timeseries.Prediction
			date  string
			value sql.NullFloat64
		)
		if err := rows.Scan(&p.RunID, &p.SeriesID, &p.Model, &date, &value); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if p.Date, err = time.Parse(timeseries.DateLayout, date); err != nil {
			return nil, err
		}
		p.Value = floatOf(value)
		out = append(out, p)
	}
	return out, rows.Err()
}

func dateArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(timeseries.DateLayout)
}

func valueArg(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func parseNullDate(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeseries.DateLayout, s.String)
}
