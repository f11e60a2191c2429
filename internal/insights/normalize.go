// Package insights implements the weather insight engine: a pure, synchronous
// pipeline that turns one normalized telemetry snapshot into three independent
// agronomic advisories (water balance, spray windows, root health) plus an
// aggregated payload for the dashboard.
//
// The engine performs no I/O and holds no cross-request state. Every analyzer
// is a total function over a well-formed snapshot: data gaps surface as named
// insufficient-data states inside the results, never as errors. The only
// failure mode is normalization of a structurally unusable provider payload.
package insights

import (
	"time"

	"cropsense/internal/types"
	"cropsense/internal/weather"
)

// providerTimeLayout is the ISO8601 minute-resolution format Open-Meteo uses
// for current and hourly timestamps.
const providerTimeLayout = "2006-01-02T15:04"

// providerDateLayout is the date-only format used on the daily axis.
const providerDateLayout = "2006-01-02"

// Normalize validates and shapes a raw provider payload into the internal
// telemetry model.
//
// It fails with upstream_telemetry_malformed when the current block is absent
// or missing a required reading (time, temperature, wind). Optional readings
// degrade instead of failing:
//   - missing soil_temperature_0cm substitutes the ambient air temperature;
//   - missing rain reads as 0 mm;
//   - a missing soil moisture band sets SoilMoistureMissing on the current
//     conditions; present readings are clamped to [0,1];
//   - null daily ET0 entries contribute 0 mm;
//   - ragged hourly/daily arrays align on the shortest populated length.
//
// Hourly and daily series stay in provider order, which is ascending.
func Normalize(raw *weather.ForecastResponse) (*types.WeatherSnapshot, error) {
	if raw == nil || raw.Current == nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamTelemetry,
			"provider payload has no current conditions block",
			nil,
		)
	}

	cur, err := normalizeCurrent(raw.Current)
	if err != nil {
		return nil, err
	}

	return &types.WeatherSnapshot{
		Current: cur,
		Hourly:  normalizeHourly(raw.Hourly),
		Daily:   normalizeDaily(raw.Daily),
	}, nil
}

func normalizeCurrent(c *weather.CurrentBlock) (types.CurrentConditions, error) {
	var cur types.CurrentConditions

	ts, err := time.Parse(providerTimeLayout, c.Time)
	if err != nil {
		// Some deployments return full RFC3339 stamps.
		ts, err = time.Parse(time.RFC3339, c.Time)
		if err != nil {
			return cur, types.NewAppError(
				types.ErrCodeUpstreamTelemetry,
				"current conditions have no parseable observation time",
				err,
			)
		}
	}

	if c.Temperature2m == nil {
		return cur, types.NewAppError(
			types.ErrCodeUpstreamTelemetry,
			"current conditions missing temperature_2m",
			nil,
		)
	}
	if c.WindSpeed10m == nil {
		return cur, types.NewAppError(
			types.ErrCodeUpstreamTelemetry,
			"current conditions missing wind_speed_10m",
			nil,
		)
	}

	cur.Time = ts.UTC()
	cur.TemperatureC = *c.Temperature2m
	cur.WindSpeedKmh = *c.WindSpeed10m

	if c.Rain != nil {
		cur.RainMM = *c.Rain
	}

	// Surface soil temperature falls back to ambient air temperature.
	// This is the single place the substitution happens.
	if c.SoilTemperature0cm != nil {
		cur.SoilTemperatureC = *c.SoilTemperature0cm
	} else {
		cur.SoilTemperatureC = cur.TemperatureC
	}

	// A location without soil sensors must not look bone dry. Either band
	// absent marks the whole moisture reading as missing so the root zone
	// classifier reports unknown instead of a fabricated critical state.
	if c.SoilMoisture3to9 == nil || c.SoilMoisture9to27 == nil {
		cur.SoilMoistureMissing = true
	}
	if c.SoilMoisture3to9 != nil {
		cur.SoilMoistureSurface = clampFraction(*c.SoilMoisture3to9)
	}
	if c.SoilMoisture9to27 != nil {
		cur.SoilMoistureDeep = clampFraction(*c.SoilMoisture9to27)
	}

	return cur, nil
}

func normalizeHourly(h *weather.HourlyBlock) []types.HourlyPoint {
	if h == nil || len(h.Time) == 0 {
		return nil
	}

	n := len(h.Time)
	n = minLen(n, len(h.WindSpeed10m))
	n = minLen(n, len(h.Precipitation))
	n = minLen(n, len(h.PrecipitationProbability))
	n = minLen(n, len(h.Temperature2m))

	points := make([]types.HourlyPoint, 0, n)
	for i := 0; i < n; i++ {
		ts, err := time.Parse(providerTimeLayout, h.Time[i])
		if err != nil {
			continue // tolerate isolated bad stamps; the scan handles gaps
		}
		points = append(points, types.HourlyPoint{
			Time:              ts.UTC(),
			WindSpeedKmh:      h.WindSpeed10m[i],
			PrecipProbability: h.PrecipitationProbability[i],
			PrecipMM:          h.Precipitation[i],
			TemperatureC:      h.Temperature2m[i],
		})
	}
	return points
}

func normalizeDaily(d *weather.DailyBlock) []types.DailyPoint {
	if d == nil || len(d.Time) == 0 {
		return nil
	}

	n := len(d.Time)
	n = minLen(n, len(d.PrecipitationSum))
	n = minLen(n, len(d.ET0))
	n = minLen(n, len(d.Temperature2mMin))
	n = minLen(n, len(d.Temperature2mMax))

	points := make([]types.DailyPoint, 0, n)
	for i := 0; i < n; i++ {
		date, err := time.Parse(providerDateLayout, d.Time[i])
		if err != nil {
			continue
		}
		var et0 float64
		if d.ET0[i] != nil {
			et0 = *d.ET0[i]
		}
		points = append(points, types.DailyPoint{
			Date:      date.UTC(),
			PrecipSum: d.PrecipitationSum[i],
			ET0MM:     et0,
			TempMinC:  d.Temperature2mMin[i],
			TempMaxC:  d.Temperature2mMax[i],
		})
	}
	return points
}

// clampFraction bounds a volumetric moisture reading to [0,1]. Providers
// occasionally report small negative values for frozen or missing sensors.
func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minLen(a, b int) int {
	if b < a {
		return b
	}
	return a
}
