package fred

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"fredcast/internal/config"
	"fredcast/internal/timeseries"
)

const (
	// SeriesEndpoint returns the descriptive record of a series.
	SeriesEndpoint = "series"
	// ObservationsEndpoint returns the reported values of a series.
	ObservationsEndpoint = "series/observations"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	SeriesID   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fred: series %s: unexpected status %d", e.SeriesID, e.StatusCode)
}

// BuildURLs returns one request URL per series id. An empty observationStart
// is left out of the query.
func BuildURLs(baseURL, endpoint, apiKey string, seriesIDs []string, observationStart string) []string {
	base := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	out := make([]string, len(seriesIDs))
	for i, id := range seriesIDs {
		q := url.Values{}
		q.Set("api_key", apiKey)
		q.Set("series_id", id)
		q.Set("file_type", "json")
		if observationStart != "" {
			q.Set("observation_start", observationStart)
		}
		out[i] = base + "?" + q.Encode()
	}
	return out
}

// Client fetches series metadata and observations from the FRED API. A batch
// of URLs is requested concurrently without a cap; requests that fail are
// logged and left out of the result.
type Client struct {
	baseURL          string
	apiKey           string
	observationStart string
	http             *http.Client
	limiter          *rate.Limiter
	logger           *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client from the retrieval configuration. A positive
// RequestsPerSecond spaces out request starts; it never caps concurrency.
func NewClient(cfg config.FredConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:          cfg.BaseURL,
		apiKey:           cfg.APIKey,
		observationStart: cfg.ObservationStart,
		http:             &http.Client{Timeout: cfg.Timeout},
		logger:           slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "fred"))
	return c
}

// BuildURLs returns the request URLs of endpoint for the given series.
func (c *Client) BuildURLs(endpoint string, seriesIDs []string) []string {
	start := ""
	if endpoint == ObservationsEndpoint {
		start = c.observationStart
	}
	return BuildURLs(c.baseURL, endpoint, c.apiKey, seriesIDs, start)
}

// SeriesMeta fetches the descriptive record of every series.
func (c *Client) SeriesMeta(ctx context.Context, seriesIDs []string) []timeseries.SeriesMeta {
	return c.FetchSeries(ctx, c.BuildURLs(SeriesEndpoint, seriesIDs))
}

// Observations fetches the observations of every series.
func (c *Client) Observations(ctx context.Context, seriesIDs []string) []timeseries.Observation {
	return c.FetchObservations(ctx, c.BuildURLs(ObservationsEndpoint, seriesIDs))
}

// FetchSeries requests every URL and decodes the "seriess" payloads, in URL
// order.
func (c *Client) FetchSeries(ctx context.Context, urls []string) []timeseries.SeriesMeta {
	var out []timeseries.SeriesMeta
	for i, body := range c.gather(ctx, urls) {
		if body == nil {
			continue
		}
		meta, err := decodeSeries(body)
		if err != nil {
			c.logger.Warn("discarding series response",
				slog.String("series_id", seriesIDOf(urls[i])), slog.String("error", err.Error()))
			continue
		}
		out = append(out, meta...)
	}
	return out
}

// FetchObservations requests every URL and decodes the "observations"
// payloads, in URL order. The series id is taken from the URL query.
func (c *Client) FetchObservations(ctx context.Context, urls []string) []timeseries.Observation {
	var out []timeseries.Observation
	for i, body := range c.gather(ctx, urls) {
		if body == nil {
			continue
		}
		id := seriesIDOf(urls[i])
		obs, err := decodeObservations(body, id)
		if err != nil {
			c.logger.Warn("discarding observations response",
				slog.String("series_id", id), slog.String("error", err.Error()))
			continue
		}
		out = append(out, obs...)
	}
	return out
}

// gather fetches all URLs concurrently. The result has one body per URL; a
// failed request leaves nil in its slot. Cancelling ctx after dispatch does
// not abort the batch; the HTTP client timeout bounds each request.
func (c *Client) gather(ctx context.Context, urls []string) [][]byte {
	ctx = context.WithoutCancel(ctx)
	bodies := make([][]byte, len(urls))

	var g errgroup.Group
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			body, err := c.get(ctx, u)
			if err != nil {
				c.logger.Warn("request failed",
					slog.String("series_id", seriesIDOf(u)), slog.String("error", err.Error()))
				return nil
			}
			bodies[i] = body
			return nil
		})
	}
	_ = g.Wait()
	return bodies
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// the url carries the api key
		if uerr, ok := err.(*url.Error); ok {
			err = uerr.Err
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{SeriesID: seriesIDOf(u), StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("fetched", slog.String("series_id", seriesIDOf(u)),
		slog.Int("bytes", len(body)), slog.Duration("duration", time.Since(start)))
	return body, nil
}

func seriesIDOf(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("series_id")
}

// payload mirrors the parts of the FRED JSON responses the client reads.
type payload struct {
	Seriess      []seriesJSON      `json:"seriess"`
	Observations []observationJSON `json:"observations"`
}

type seriesJSON struct {
	ID                      string `json:"id"`
	RealtimeStart           string `json:"realtime_start"`
	RealtimeEnd             string `json:"realtime_end"`
	Title                   string `json:"title"`
	ObservationStart        string `json:"observation_start"`
	ObservationEnd          string `json:"observation_end"`
	Frequency               string `json:"frequency"`
	FrequencyShort          string `json:"frequency_short"`
	Units                   string `json:"units"`
	UnitsShort              string `json:"units_short"`
	SeasonalAdjustment      string `json:"seasonal_adjustment"`
	SeasonalAdjustmentShort string `json:"seasonal_adjustment_short"`
	LastUpdated             string `json:"last_updated"`
	Popularity              int    `json:"popularity"`
	Notes                   string `json:"notes"`
}

type observationJSON struct {
	RealtimeStart string `json:"realtime_start"`
	RealtimeEnd   string `json:"realtime_end"`
	Date          string `json:"date"`
	Value         string `json:"value"`
}
