package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fredcast/internal/config"
	"fredcast/internal/harmonize"
	"fredcast/internal/timeseries"
)

// TracerName names the pipeline's OpenTelemetry tracer.
const TracerName = "fredcast/pipeline"

// Retriever fetches raw records from the statistics provider. Failed
// requests are left out of the results.
type Retriever interface {
	SeriesMeta(ctx context.Context, seriesIDs []string) []timeseries.SeriesMeta
	Observations(ctx context.Context, seriesIDs []string) []timeseries.Observation
}

// Store is the persistence collaborator. Every call is one transaction.
type Store interface {
	CreateSchema(ctx context.Context) error
	StoreSeries(ctx context.Context, series []timeseries.SeriesMeta) error
	StoreObservations(ctx context.Context, obs []timeseries.Observation) error
	StorePredictions(ctx context.Context, preds []timeseries.Prediction) error
	LoadObservations(ctx context.Context) ([]timeseries.Observation, error)
}

// Pipeline runs retrieval, harmonization, persistence and the per-group
// analysis.
type Pipeline struct {
	cfg       config.PipelineConfig
	retriever Retriever
	store     Store
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline. retriever and store may be nil when only
// AnalyzeGroup is used.
func New(cfg config.PipelineConfig, retriever Retriever, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		retriever: retriever,
		store:     store,
		logger:    slog.Default(),
		tracer:    otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.logger = p.logger.With(slog.String("component", "pipeline"))
	return p
}

// Report summarizes a run.
type Report struct {
	RunID        string
	Started      time.Time
	Finished     time.Time
	Series       int
	Observations int
	// Series dropped during harmonization
	HarmonizationErrors []*harmonize.Error
	Groups              []*GroupResult
	Failures            []*GroupError
}

// Run executes the whole pipeline once. Errors of the shared stages
// (retrieval through pivot) abort the run; a failing group is recorded in
// the report and the remaining groups still run.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if p.retriever == nil || p.store == nil {
		return nil, fmt.Errorf("pipeline: retriever and store are required to run")
	}

	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	logger := p.logger.With(slog.String("run_id", report.RunID))

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.series", len(p.cfg.SeriesIDs)),
	))
	defer span.End()

	ds, err := p.collect(ctx, logger, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("pipeline aborted", slog.String("error", err.Error()))
		return nil, err
	}

	for _, group := range p.cfg.Groups {
		res, gerr := p.runGroup(ctx, logger, ds, group, report.RunID)
		if gerr != nil {
			report.Failures = append(report.Failures, gerr)
			continue
		}
		report.Groups = append(report.Groups, res)
	}

	report.Finished = time.Now()
	logger.Info("pipeline finished",
		slog.Int("groups_ok", len(report.Groups)),
		slog.Int("groups_failed", len(report.Failures)),
		slog.Int("series_dropped", len(report.HarmonizationErrors)),
		slog.Duration("duration", report.Finished.Sub(report.Started)))
	return report, nil
}

// collect runs the shared stages and returns the pivoted dataset.
func (p *Pipeline) collect(ctx context.Context, logger *slog.Logger, report *Report) (*timeseries.Dataset, error) {
	if err := p.store.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	meta := p.retriever.SeriesMeta(ctx, p.cfg.SeriesIDs)
	raw := p.retriever.Observations(ctx, p.cfg.SeriesIDs)
	p.metrics.ObservationsRetrieved.Add(float64(len(raw)))
	logger.Info("retrieved", slog.Int("series", len(meta)), slog.Int("observations", len(raw)))

	harmonized, herrs := harmonize.HarmonizeAll(raw, p.cfg)
	for _, herr := range herrs {
		p.metrics.HarmonizationFailures.WithLabelValues(string(herr.Strategy)).Inc()
		logger.Warn("series dropped",
			slog.String("series_id", herr.SeriesID),
			slog.String("strategy", string(herr.Strategy)),
			slog.String("error", herr.Err.Error()))
	}
	report.HarmonizationErrors = herrs
	for i := range meta {
		meta[i].IsTransformed = p.cfg.StrategyFor(meta[i].ID) != config.Untransformed
	}

	if err := p.store.StoreSeries(ctx, meta); err != nil {
		return nil, fmt.Errorf("store series: %w", err)
	}
	if err := p.store.StoreObservations(ctx, harmonized); err != nil {
		return nil, fmt.Errorf("store observations: %w", err)
	}

	loaded, err := p.store.LoadObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	ds, err := timeseries.Pivot(loaded)
	if err != nil {
		return nil, err
	}
	report.Series, report.Observations = len(ds.Names), len(loaded)
	return ds, nil
}

// runGroup analyzes one group and persists its predictions.
func (p *Pipeline) runGroup(ctx context.Context, logger *slog.Logger, ds *timeseries.Dataset, group config.GroupConfig, runID string) (*GroupResult, *GroupError) {
	res, err := p.AnalyzeGroup(ctx, ds, group, runID)
	if err != nil {
		gerr := asGroupError(group.Name, err)
		logger.Error("group failed",
			slog.String("group", gerr.Group),
			slog.String("stage", string(gerr.Stage)),
			slog.String("error", gerr.Err.Error()))
		return nil, gerr
	}

	err = p.stage(ctx, group.Name, StagePersist, func(ctx context.Context) error {
		return p.store.StorePredictions(ctx, res.Predictions)
	})
	if err != nil {
		gerr := asGroupError(group.Name, err)
		logger.Error("group failed",
			slog.String("group", gerr.Group),
			slog.String("stage", string(gerr.Stage)),
			slog.String("error", gerr.Err.Error()))
		return nil, gerr
	}
	p.metrics.PredictionsStored.WithLabelValues(group.Name).Add(float64(len(res.Predictions)))
	logger.Info("group stored",
		slog.String("group", group.Name),
		slog.Int("rank", res.Rank),
		slog.Int("lag_order", res.LagOrder),
		slog.Int("predictions", len(res.Predictions)))
	return res, nil
}

// stage runs fn inside a span, records its duration and turns a failure into
// a *GroupError.
func (p *Pipeline) stage(ctx context.Context, group string, s Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage."+string(s), trace.WithAttributes(
		attribute.String("group", group),
		attribute.String("stage", string(s)),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.StageDuration.WithLabelValues(group, string(s)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.GroupFailures.WithLabelValues(group, string(s)).Inc()
		return &GroupError{Group: group, Stage: s, Err: err}
	}
	p.logger.Debug("stage done", slog.String("group", group), slog.String("stage", string(s)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func asGroupError(group string, err error) *GroupError {
	if gerr, ok := err.(*GroupError); ok {
		return gerr
	}
	return &GroupError{Group: group, Err: err}
}
