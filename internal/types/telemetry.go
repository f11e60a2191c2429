package types

import "time"

// CurrentConditions holds the point-in-time readings for one location.
// Soil moisture values are volumetric water content fractions in [0,1]:
// SoilMoistureSurface covers the 3-9cm band, SoilMoistureDeep the 9-27cm band.
// SoilMoistureMissing is set when the provider omitted either band, so a
// zero reading can be told apart from an absent one.
type CurrentConditions struct {
	Time                time.Time `json:"time"`
	TemperatureC        float64   `json:"temperature_c"`
	WindSpeedKmh        float64   `json:"wind_speed_kmh"`
	RainMM              float64   `json:"rain_mm"`
	SoilTemperatureC    float64   `json:"soil_temperature_c"`
	SoilMoistureSurface float64   `json:"soil_moisture_surface"`
	SoilMoistureDeep    float64   `json:"soil_moisture_deep"`
	SoilMoistureMissing bool      `json:"soil_moisture_missing,omitempty"`
}

// HourlyPoint is a single hourly forecast reading. PrecipProbability is a
// percentage in [0,100], PrecipMM the expected precipitation amount for the hour.
type HourlyPoint struct {
	Time              time.Time `json:"time"`
	WindSpeedKmh      float64   `json:"wind_speed_kmh"`
	PrecipProbability float64   `json:"precip_probability"`
	PrecipMM          float64   `json:"precip_mm"`
	TemperatureC      float64   `json:"temperature_c"`
}

// DailyPoint is a single daily aggregate. ET0MM is the FAO reference
// evapotranspiration for the day in millimetres.
type DailyPoint struct {
	Date      time.Time `json:"date"`
	PrecipSum float64   `json:"precip_sum_mm"`
	ET0MM     float64   `json:"et0_mm"`
	TempMinC  float64   `json:"temp_min_c"`
	TempMaxC  float64   `json:"temp_max_c"`
}

// WeatherSnapshot is the normalized telemetry for one location at one moment.
// It is the sole input to the insight engine. Hourly and Daily are ascending
// by time; either may be empty, in which case the dependent analyzers return
// their insufficient-data states rather than failing.
type WeatherSnapshot struct {
	Current CurrentConditions `json:"current"`
	Hourly  []HourlyPoint     `json:"hourly"`
	Daily   []DailyPoint      `json:"daily"`
}
