package http

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fredcast/internal/storage"
	"fredcast/internal/timeseries"
)

// ReadStore is the read side of the persistence layer.
type ReadStore interface {
	ObservationsBySeries(ctx context.Context, seriesID string) ([]timeseries.Observation, error)
	PredictionsBySeries(ctx context.Context, seriesID, model string) ([]timeseries.Prediction, error)
	Ping(ctx context.Context) error
}

// Handler serves stored observations and predictions.
type Handler struct {
	store    ReadStore
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewHandler creates a handler. A nil gatherer serves the default registry
// at /metrics.
func NewHandler(store ReadStore, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		store:    store,
		gatherer: gatherer,
		logger:   logger.With(slog.String("component", "http_handler")),
	}
}

// Routes returns the router with every endpoint mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/series/{seriesID}", h.GetObservations)
		r.Get("/predictions/{seriesID}/{model}", h.GetPredictions)
	})
	return r
}

// ObservationResponse is one observation as served by the API.
type ObservationResponse struct {
	SeriesID      string   `json:"series_id"`
	Date          string   `json:"date"`
	Value         *float64 `json:"value"`
	RealtimeStart string   `json:"realtime_start,omitempty"`
	RealtimeEnd   string   `json:"realtime_end,omitempty"`
	IsTransformed bool     `json:"is_transformed"`
}

// PredictionResponse is one forecast row as served by the API.
type PredictionResponse struct {
	RunID    string   `json:"run_id"`
	SeriesID string   `json:"series_id"`
	Model    string   `json:"model"`
	Date     string   `json:"date"`
	Value    *float64 `json:"value"`
}

// ErrResponse is the JSON error body.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	Error          string `json:"error"`
	RequestID      string `json:"request_id,omitempty"`
}

// Render sets the response status.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// GetObservations handles GET /api/series/{seriesID}.
func (h *Handler) GetObservations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "seriesID")
	obs, err := h.store.ObservationsBySeries(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "Series not found")
		return
	}
	out := make([]ObservationResponse, len(obs))
	for i, o := range obs {
		out[i] = ObservationResponse{
			SeriesID:      o.SeriesID,
			Date:          o.Date.Format(timeseries.DateLayout),
			Value:         nullable(o.Value),
			RealtimeStart: formatDate(o.RealtimeStart),
			RealtimeEnd:   formatDate(o.RealtimeEnd),
			IsTransformed: o.IsTransformed,
		}
	}
	render.JSON(w, r, out)
}

// GetPredictions handles GET /api/predictions/{seriesID}/{model}.
func (h *Handler) GetPredictions(w http.ResponseWriter, r *http.Request) {
	id, model := chi.URLParam(r, "seriesID"), chi.URLParam(r, "model")
	preds, err := h.store.PredictionsBySeries(r.Context(), id, model)
	if err != nil {
		h.fail(w, r, err, "Predictions not found")
		return
	}
	out := make([]PredictionResponse, len(preds))
	for i, p := range preds {
		out[i] = PredictionResponse{
			RunID:    p.RunID,
			SeriesID: p.SeriesID,
			Model:    p.Model,
			Date:     p.Date.Format(timeseries.DateLayout),
			Value:    nullable(p.Value),
		}
	}
	render.JSON(w, r, out)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		render.Render(w, r, &ErrResponse{HTTPStatusCode: http.StatusServiceUnavailable, Error: "database unavailable"})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// fail maps storage.ErrNotFound to 404 and anything else to 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	resp := &ErrResponse{
		HTTPStatusCode: http.StatusNotFound,
		Error:          notFound,
		RequestID:      middleware.GetReqID(r.Context()),
	}
	if !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("query failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", resp.RequestID),
			slog.String("error", err.Error()))
		resp.HTTPStatusCode, resp.Error = http.StatusInternalServerError, "Database error"
	}
	render.Render(w, r, resp)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeseries.DateLayout)
}
