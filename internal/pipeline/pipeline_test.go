package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fredcast/internal/config"
	"fredcast/internal/differencing"
	"fredcast/internal/timeseries"
)

var origin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ten reports over 90 days, first on day 0 and last on day 89
var reportDays = []int{0, 9, 21, 30, 38, 50, 61, 70, 77, 89}

func sparse(id string, values []float64) []timeseries.Observation {
	out := make([]timeseries.Observation, len(reportDays))
	for i, d := range reportDays {
		out[i] = timeseries.Observation{SeriesID: id, Date: origin.AddDate(0, 0, d), Value: values[i]}
	}
	return out
}

type fakeRetriever struct {
	obs []timeseries.Observation
}

func (f *fakeRetriever) SeriesMeta(_ context.Context, ids []string) []timeseries.SeriesMeta {
	out := make([]timeseries.SeriesMeta, len(ids))
	for i, id := range ids {
		out[i] = timeseries.SeriesMeta{ID: id, Title: id}
	}
	return out
}

func (f *fakeRetriever) Observations(_ context.Context, ids []string) []timeseries.Observation {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []timeseries.Observation
	for _, o := range f.obs {
		if want[o.SeriesID] {
			out = append(out, o)
		}
	}
	return out
}

type memStore struct {
	schema      bool
	series      []timeseries.SeriesMeta
	obs         []timeseries.Observation
	predictions []timeseries.Prediction
	failPredict error
}

func (m *memStore) CreateSchema(context.Context) error { m.schema = true; return nil }

func (m *memStore) StoreSeries(_ context.Context, s []timeseries.SeriesMeta) error {
	m.series = append(m.series, s...)
	return nil
}

func (m *memStore) StoreObservations(_ context.Context, obs []timeseries.Observation) error {
	m.obs = append(m.obs, obs...)
	return nil
}

func (m *memStore) StorePredictions(_ context.Context, p []timeseries.Prediction) error {
	if m.failPredict != nil {
		return m.failPredict
	}
	m.predictions = append(m.predictions, p...)
	return nil
}

func (m *memStore) LoadObservations(context.Context) ([]timeseries.Observation, error) {
	return append([]timeseries.Observation(nil), m.obs...), nil
}

func testConfig(groups ...config.GroupConfig) config.PipelineConfig {
	return config.PipelineConfig{
		SeriesIDs: []string{"STEP", "SMOOTH"},
		Classification: map[string]config.Strategy{
			"STEP":   config.Step,
			"SMOOTH": config.Smooth,
		},
		Groups:  groups,
		MaxLags: 4,
		Seasons: 4,
	}
}

func testObservations() []timeseries.Observation {
	obs := sparse("STEP", []float64{3, 5, 4, 6, 5, 7, 6, 8, 7, 9})
	return append(obs, sparse("SMOOTH", []float64{10, 12.5, 11, 15, 14, 18, 17.5, 21, 20, 24})...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func harmonized(t *testing.T) *timeseries.Dataset {
	t.Helper()
	store := &memStore{}
	p := New(testConfig(), &fakeRetriever{obs: testObservations()}, store, WithLogger(quietLogger()))
	_, err := p.collect(context.Background(), p.logger, &Report{})
	require.NoError(t, err)
	ds, err := timeseries.Pivot(store.obs)
	require.NoError(t, err)
	return ds
}

func TestAnalyzeGroup_EndToEnd(t *testing.T) {
	ds := harmonized(t)
	T, K := ds.Dims()
	require.Equal(t, 90, T)
	require.Equal(t, 2, K)
	require.False(t, ds.HasMissing())
	before := ds.Clone()

	group := config.GroupConfig{Name: "mixed", SeriesIDs: []string{"STEP", "SMOOTH"}, Steps: 5}
	p := New(testConfig(group), nil, nil, WithLogger(quietLogger()))
	res, err := p.AnalyzeGroup(context.Background(), ds, group, "run-1")
	require.NoError(t, err)

	assert.Equal(t, before.Y.RawMatrix().Data, ds.Y.RawMatrix().Data, "input dataset must not change")
	assert.GreaterOrEqual(t, res.Rank, 0)
	assert.LessOrEqual(t, res.Rank, 2)
	assert.GreaterOrEqual(t, res.LagOrder, 0)
	assert.LessOrEqual(t, res.MaxLags, 4)

	fT, fK := res.Forecast.Dims()
	require.Equal(t, T+5, fT)
	require.Equal(t, 2, fK)
	assert.True(t, res.Forecast.IsDaily())
	assert.Equal(t, origin.AddDate(0, 0, 94), res.Forecast.Last())
	assert.False(t, res.Forecast.HasMissing())

	assert.Len(t, res.PValuesBefore, 2)
	assert.Len(t, res.PValuesAfter, 2)
	// only the spline series carries a unit root, so only it is differenced
	assert.True(t, differencing.IsNonStationary(res.PValuesBefore["SMOOTH"]), "SMOOTH p=%v", res.PValuesBefore["SMOOTH"])
	assert.False(t, differencing.IsNonStationary(res.PValuesBefore["STEP"]), "STEP p=%v", res.PValuesBefore["STEP"])
	step, err := ds.ColumnByName("STEP")
	require.NoError(t, err)
	assert.Equal(t, step, res.Forecast.Column(res.Forecast.Index("STEP"))[:T])

	for j, name := range res.Forecast.Names {
		orig, err := ds.ColumnByName(name)
		require.NoError(t, err)
		got := res.Forecast.Column(j)
		assert.InDelta(t, orig[0], got[0], 1e-9, "%s level at row 0", name)
		if !differencing.IsNonStationary(res.PValuesBefore[name]) {
			assert.Equal(t, orig, got[:T], "%s is copied unchanged", name)
			continue
		}
		for i := 1; i < T; i++ {
			assert.InDelta(t, orig[i], got[i], 1e-6, "%s row %d", name, i)
		}
	}

	require.Len(t, res.Predictions, 2*(T+5))
	for _, pr := range res.Predictions {
		assert.Equal(t, "run-1", pr.RunID)
		assert.Equal(t, "mixed", pr.Model)
		assert.False(t, math.IsNaN(pr.Value))
	}
}

func TestAnalyzeGroup_DateRange(t *testing.T) {
	ds := harmonized(t)
	group := config.GroupConfig{
		Name:      "window",
		SeriesIDs: []string{"SMOOTH", "STEP"},
		Start:     "2024-01-11",
		End:       "2024-03-20",
		Steps:     3,
	}
	p := New(testConfig(group), nil, nil, WithLogger(quietLogger()))
	res, err := p.AnalyzeGroup(context.Background(), ds, group, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"SMOOTH", "STEP"}, res.Forecast.Names)
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), res.Forecast.Dates[0])
	assert.Equal(t, time.Date(2024, 3, 23, 0, 0, 0, 0, time.UTC), res.Forecast.Last())
}

func TestAnalyzeGroup_FailureNamesStage(t *testing.T) {
	ds := harmonized(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p := New(testConfig(), nil, nil, WithLogger(quietLogger()), WithMetrics(metrics))

	_, err := p.AnalyzeGroup(context.Background(), ds,
		config.GroupConfig{Name: "unknown", SeriesIDs: []string{"NOPE"}, Steps: 1}, "")
	var gerr *GroupError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, StageSelect, gerr.Stage)
	assert.Equal(t, "unknown", gerr.Group)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GroupFailures.WithLabelValues("unknown", string(StageSelect))))

	flat := ds.Clone()
	j := flat.Index("STEP")
	col := flat.Column(j)
	for i := range col {
		col[i] = 1
	}
	flat.SetColumn(j, col)
	_, err = p.AnalyzeGroup(context.Background(), flat,
		config.GroupConfig{Name: "flat", SeriesIDs: []string{"STEP", "SMOOTH"}, Steps: 1}, "")
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, StageTestStationarity, gerr.Stage)
}

func TestRun_IsolatesGroups(t *testing.T) {
	good := config.GroupConfig{Name: "good", SeriesIDs: []string{"STEP", "SMOOTH"}, Steps: 5}
	bad := config.GroupConfig{Name: "bad", SeriesIDs: []string{"STEP", "ABSENT"}, Steps: 5}
	cfg := testConfig(bad, good)
	cfg.SeriesIDs = append(cfg.SeriesIDs, "DROPPED")
	cfg.Classification["DROPPED"] = config.Accumulating

	obs := append(testObservations(), timeseries.Observation{SeriesID: "DROPPED", Date: origin, Value: 1})
	store := &memStore{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p := New(cfg, &fakeRetriever{obs: obs}, store, WithLogger(quietLogger()), WithMetrics(metrics))

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, store.schema)
	require.Len(t, store.series, 3)
	for _, m := range store.series {
		assert.True(t, m.IsTransformed, m.ID)
	}
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Series)

	require.Len(t, report.HarmonizationErrors, 1)
	assert.Equal(t, "DROPPED", report.HarmonizationErrors[0].SeriesID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HarmonizationFailures.WithLabelValues("accumulating")))

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].Group)
	assert.Equal(t, StageSelect, report.Failures[0].Stage)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, "good", report.Groups[0].Group)
	require.Len(t, store.predictions, 2*95)
	ids := make(map[string]bool)
	for _, pr := range store.predictions {
		assert.Equal(t, report.RunID, pr.RunID)
		ids[pr.SeriesID] = true
	}
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"SMOOTH", "STEP"}, keys)
	assert.Equal(t, 190.0, testutil.ToFloat64(metrics.PredictionsStored.WithLabelValues("good")))
}

func TestRun_PersistFailureIsGroupError(t *testing.T) {
	group := config.GroupConfig{Name: "g", SeriesIDs: []string{"STEP", "SMOOTH"}, Steps: 2}
	store := &memStore{failPredict: errors.New("disk full")}
	p := New(testConfig(group), &fakeRetriever{obs: testObservations()}, store, WithLogger(quietLogger()))

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StagePersist, report.Failures[0].Stage)
	assert.EqualError(t, report.Failures[0].Err, "disk full")
	assert.Empty(t, report.Groups)
}

func TestRun_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), nil, nil).Run(context.Background())
	assert.Error(t, err)
}

func TestSnapshot_IsImmutable(t *testing.T) {
	ds, err := timeseries.NewDataset([]time.Time{origin, origin.AddDate(0, 0, 1)}, []string{"A"}, []float64{1, 2})
	require.NoError(t, err)
	snap := newSnapshot(ds, map[string]float64{"A": 0.5})

	ds.SetColumn(0, []float64{9, 9})
	got := snap.Dataset()
	assert.Equal(t, []float64{1, 2}, got.Column(0))

	got.SetColumn(0, []float64{7, 7})
	pv := snap.PValues()
	pv["A"] = 0
	assert.Equal(t, []float64{1, 2}, snap.Dataset().Column(0))
	assert.Equal(t, 0.5, snap.PValues()["A"])
}
