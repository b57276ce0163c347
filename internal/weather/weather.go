// Package weather supplies per-location, per-slot forecast conditions
// consumed by the schedule optimizer as transit slowdown factors.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/pkg/models"
)

// Source yields forecast samples for a location over a time range.
type Source interface {
	Forecast(ctx context.Context, loc models.LatLng, from, to time.Time) ([]models.ForecastSample, error)
}

// ── HTTP source ──────────────────────────────────────────────

// HTTPSource queries a forecast endpoint returning a JSON array of
// samples: [{"lat":..,"lng":..,"at":"RFC3339","condition":"rain","slowdown":1.4}].
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource builds a source from configuration.
func NewHTTPSource(cfg config.WeatherConfig) *HTTPSource {
	return &HTTPSource{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type wireSample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	At        time.Time `json:"at"`
	Condition string    `json:"condition"`
	Slowdown  float64   `json:"slowdown"`
}

// Forecast fetches samples for the location and range.
func (s *HTTPSource) Forecast(ctx context.Context, loc models.LatLng, from, to time.Time) ([]models.ForecastSample, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(loc.Lng, 'f', -1, 64))
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create forecast request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: forecast: %v", models.ErrTransientBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: forecast: status %d", models.ErrTransientBackend, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: forecast: status %d", models.ErrRejectedBackend, resp.StatusCode)
	}

	var wire []wireSample
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: forecast: %v", models.ErrMalformedResponse, err)
	}

	samples := make([]models.ForecastSample, len(wire))
	for i, w := range wire {
		samples[i] = models.ForecastSample{
			Location:  models.LatLng{Lat: w.Lat, Lng: w.Lng},
			At:        w.At,
			Condition: w.Condition,
			Slowdown:  w.Slowdown,
		}
	}
	return samples, nil
}

// ── Static source ────────────────────────────────────────────

// StaticSource returns a fixed sample set. Used when no forecast
// endpoint is configured (scheduling proceeds on clear roads) and as a
// test double.
type StaticSource struct {
	Samples []models.ForecastSample
}

// Forecast returns the fixed samples regardless of the query.
func (s *StaticSource) Forecast(_ context.Context, _ models.LatLng, _, _ time.Time) ([]models.ForecastSample, error) {
	return s.Samples, nil
}
