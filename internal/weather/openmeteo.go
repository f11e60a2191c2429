// Package weather provides the Open-Meteo forecast client used to fetch raw
// telemetry for a geographic point. The raw response shape is owned by this
// package; the insights package normalizes it into the internal telemetry
// model before any analysis runs.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"cropsense/internal/external"
	"cropsense/internal/types"
)

// Forecast request parameters sent to Open-Meteo. The variable lists are fixed:
// the normalizer and the analyzers depend on exactly these series being
// requested.
const (
	currentVars = "temperature_2m,wind_speed_10m,rain,soil_temperature_0cm,soil_moisture_3_to_9cm,soil_moisture_9_to_27cm"
	hourlyVars  = "temperature_2m,wind_speed_10m,precipitation_probability,precipitation"
	dailyVars   = "precipitation_sum,et0_fao_evapotranspiration,temperature_2m_min,temperature_2m_max"

	// forecastDays covers the spray-window horizon (48h hourly) plus the
	// daily water-balance window.
	forecastDays = 7
	pastDays     = 7
)

// CurrentBlock mirrors the "current" object of the Open-Meteo response.
// Optional variables are pointers so the normalizer can distinguish a true
// zero reading from an absent one.
type CurrentBlock struct {
	Time               string   `json:"time"`
	Temperature2m      *float64 `json:"temperature_2m"`
	WindSpeed10m       *float64 `json:"wind_speed_10m"`
	Rain               *float64 `json:"rain"`
	SoilTemperature0cm *float64 `json:"soil_temperature_0cm"`
	SoilMoisture3to9   *float64 `json:"soil_moisture_3_to_9cm"`
	SoilMoisture9to27  *float64 `json:"soil_moisture_9_to_27cm"`
}

// HourlyBlock mirrors the columnar "hourly" object: parallel arrays keyed by
// the shared time axis. Arrays may be ragged when the provider truncates a
// variable; consumers must align on the shortest length.
type HourlyBlock struct {
	Time                     []string  `json:"time"`
	Temperature2m            []float64 `json:"temperature_2m"`
	WindSpeed10m             []float64 `json:"wind_speed_10m"`
	PrecipitationProbability []float64 `json:"precipitation_probability"`
	Precipitation            []float64 `json:"precipitation"`
}

// DailyBlock mirrors the columnar "daily" object. ET0 entries may be null for
// some days; they decode as a pointer slice so missing values can be treated
// as zero contributions rather than dropped days.
type DailyBlock struct {
	Time             []string   `json:"time"`
	PrecipitationSum []float64  `json:"precipitation_sum"`
	ET0              []*float64 `json:"et0_fao_evapotranspiration"`
	Temperature2mMin []float64  `json:"temperature_2m_min"`
	Temperature2mMax []float64  `json:"temperature_2m_max"`
}

// ForecastResponse is the raw Open-Meteo forecast payload for one point.
type ForecastResponse struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Timezone  string        `json:"timezone"`
	Current   *CurrentBlock `json:"current"`
	Hourly    *HourlyBlock  `json:"hourly"`
	Daily     *DailyBlock   `json:"daily"`
}

// Client fetches forecasts from the Open-Meteo API through the resilient base
// client (circuit breaker plus retry on 429/5xx).
type Client struct {
	base    *external.BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a forecast client. baseURL should not carry a trailing
// slash; pass an httptest server URL in tests.
func NewClient(base *external.BaseClient, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:    base,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Fetch retrieves the raw forecast payload for the given point. Provider
// failures surface as AppError upstream_weather_unavailable; an HTTP 200 with
// an undecodable body surfaces as upstream_telemetry_malformed.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (*ForecastResponse, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("current", currentVars)
	q.Set("hourly", hourlyVars)
	q.Set("daily", dailyVars)
	q.Set("forecast_days", strconv.Itoa(forecastDays))
	q.Set("past_days", strconv.Itoa(pastDays))
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")

	reqURL := fmt.Sprintf("%s/v1/forecast?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "building forecast request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WarnContext(ctx, "forecast fetch failed",
			"status", resp.StatusCode,
			"lat", lat,
			"lon", lon,
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamWeather,
			fmt.Sprintf("forecast provider returned status %d: %s", resp.StatusCode, string(body)),
			nil,
		)
	}

	var payload ForecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTelemetry, "decoding forecast response", err)
	}

	return &payload, nil
}
