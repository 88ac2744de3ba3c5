package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fredcast/internal/coint"
	"fredcast/internal/config"
	"fredcast/internal/differencing"
	"fredcast/internal/stationarity"
	"fredcast/internal/timeseries"
	"fredcast/internal/varmodel"
	"fredcast/internal/vecm"
)

// GroupResult is the outcome of one analysis group.
type GroupResult struct {
	Group    string
	Rank     int
	LagOrder int
	// Lag search bound after any reduction for short samples
	MaxLags       int
	PValuesBefore map[string]float64
	PValuesAfter  map[string]float64
	Model         *vecm.Model
	// Level forecast: history followed by the forecast rows
	Forecast    *timeseries.Dataset
	Predictions []timeseries.Prediction
}

// AnalyzeGroup runs the stages from Select to Tag on the harmonized dataset.
// It performs no I/O and leaves ds unchanged. A failure is returned as a
// *GroupError naming the stage.
func (p *Pipeline) AnalyzeGroup(ctx context.Context, ds *timeseries.Dataset, group config.GroupConfig, runID string) (*GroupResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.group", trace.WithAttributes(
		attribute.String("group", group.Name),
		attribute.String("run.id", runID),
	))
	defer span.End()

	logger := p.logger.With(slog.String("group", group.Name))
	if runID != "" {
		logger = logger.With(slog.String("run_id", runID))
	}
	res := &GroupResult{Group: group.Name}

	var (
		selected *timeseries.Dataset
		snap     Snapshot
		diffed   *timeseries.Dataset
		fcast    *timeseries.Dataset
		long     []timeseries.Observation
	)

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageSelect, func(context.Context) error {
			var err error
			selected, err = selectGroup(ds, group)
			return err
		}},
		{StageTestStationarity, func(context.Context) error {
			pv, err := stationarity.UnitRootTest(selected)
			if err != nil {
				return err
			}
			snap = newSnapshot(selected, pv)
			res.PValuesBefore = snap.PValues()
			return nil
		}},
		{StageDifference, func(context.Context) error {
			var err error
			diffed, res.PValuesAfter, err = differencing.Difference(snap.Dataset(), snap.PValues())
			if err != nil {
				return err
			}
			for _, name := range diffed.Names {
				if differencing.IsNonStationary(res.PValuesBefore[name]) {
					logger.Debug("differenced", slog.String("series_id", name),
						slog.Float64("p_before", res.PValuesBefore[name]),
						slog.Float64("p_after", res.PValuesAfter[name]))
				}
			}
			return nil
		}},
		{StageSelectRankAndLag, func(context.Context) error {
			rank, err := coint.Rank(diffed)
			if err != nil {
				return err
			}
			order, err := coint.SelectOrder(diffed, p.maxLags(), coint.LagOrderOptions{
				Deterministic: varmodel.DetConstTrend,
				Seasons:       p.cfg.Seasons,
			})
			if err != nil {
				return err
			}
			if order.MaxLags < p.maxLags() {
				logger.Warn("lag search bound reduced",
					slog.Int("requested", p.maxLags()), slog.Int("used", order.MaxLags))
			}
			res.Rank, res.LagOrder, res.MaxLags = rank, order.Average(), order.MaxLags
			return nil
		}},
		{StageFit, func(context.Context) error {
			var err error
			res.Model, err = vecm.Fit(diffed, res.Rank, res.LagOrder, vecm.DefaultOptions())
			return err
		}},
		{StageForecast, func(context.Context) error {
			var err error
			fcast, err = res.Model.Forecast(diffed, group.Steps)
			return err
		}},
		{StageInverseTransform, func(context.Context) error {
			var err error
			res.Forecast, err = differencing.InverseDifference(fcast, snap.Dataset(), snap.PValues())
			return err
		}},
		{StageReshape, func(context.Context) error {
			long = res.Forecast.Melt()
			return nil
		}},
		{StageTag, func(context.Context) error {
			res.Predictions = tag(long, runID, group.Name)
			return nil
		}},
	}

	for _, s := range steps {
		if err := p.stage(ctx, group.Name, s.stage, s.fn); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	logger.Info("group analyzed",
		slog.Int("rank", res.Rank),
		slog.Int("lag_order", res.LagOrder),
		slog.Int("steps", group.Steps))
	return res, nil
}

func (p *Pipeline) maxLags() int {
	if p.cfg.MaxLags > 0 {
		return p.cfg.MaxLags
	}
	return coint.DefaultMaxLags
}

// selectGroup slices the group's columns and date range out of ds and fills
// the gaps left by series starting or ending at different dates.
func selectGroup(ds *timeseries.Dataset, group config.GroupConfig) (*timeseries.Dataset, error) {
	start, end, err := group.Range()
	if err != nil {
		return nil, err
	}
	out, err := ds.Select(group.SeriesIDs)
	if err != nil {
		return nil, err
	}
	if out, err = out.Between(start, end); err != nil {
		return nil, err
	}
	if err := out.FillGaps(); err != nil {
		return nil, err
	}
	if !out.IsDaily() {
		return nil, fmt.Errorf("dates of group %s are not a daily sequence", group.Name)
	}
	return out, nil
}

func tag(long []timeseries.Observation, runID, model string) []timeseries.Prediction {
	out := make([]timeseries.Prediction, len(long))
	for i, o := range long {
		out[i] = timeseries.Prediction{
			RunID:    runID,
			SeriesID: o.SeriesID,
			Model:    model,
			Date:     o.Date,
			Value:    o.Value,
		}
	}
	return out
}
