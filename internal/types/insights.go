package types

import "time"

// TankLevel is the bounded display category for the soil water balance.
type TankLevel string

const (
	TankCriticalDeficit TankLevel = "critical_deficit"
	TankDeficit         TankLevel = "deficit"
	TankBalanced        TankLevel = "balanced"
	TankSurplus         TankLevel = "surplus"
	TankSaturated       TankLevel = "saturated"
	TankUnknown         TankLevel = "unknown"
)

// WaterBalanceResult is the output of the water balance estimator.
// NetBalanceMM = PrecipTotalMM - ET0TotalMM over the daily window; the
// component sums are carried for explainability. Insufficient is set when the
// daily series was empty and Level is TankUnknown.
type WaterBalanceResult struct {
	Level         TankLevel `json:"level"`
	NetBalanceMM  float64   `json:"net_balance_mm"`
	PrecipTotalMM float64   `json:"precip_total_mm"`
	ET0TotalMM    float64   `json:"et0_total_mm"`
	WindowDays    int       `json:"window_days"`
	Insufficient  bool      `json:"insufficient_data,omitempty"`
}

// SprayStatus classifies conditions for pesticide/fertilizer application.
type SprayStatus string

const (
	SprayStatusSafe    SprayStatus = "safe"
	SprayStatusCaution SprayStatus = "caution"
	SprayStatusUnsafe  SprayStatus = "unsafe"
	SprayStatusUnknown SprayStatus = "unknown"
)

// LimitingFactor names the threshold closest to being violated for a marginal
// or unsafe spray classification.
type LimitingFactor string

const (
	LimitRain LimitingFactor = "rain"
	LimitWind LimitingFactor = "wind"
	LimitNone LimitingFactor = ""
)

// SprayWindow is a contiguous run of forecast hours judged safe for application.
// End is exclusive: a window covering hours 15:00 and 16:00 has End 17:00.
type SprayWindow struct {
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	LimitingFactor LimitingFactor `json:"limiting_factor,omitempty"`
}

// SprayGuideResult is the output of the spray window analyzer.
// NoWindowInHorizon is set when the hourly series was scanned and no qualifying
// hour was found; Insufficient when the series was empty.
type SprayGuideResult struct {
	Status            SprayStatus    `json:"status"`
	LimitingFactor    LimitingFactor `json:"limiting_factor,omitempty"`
	Windows           []SprayWindow  `json:"windows,omitempty"`
	NoWindowInHorizon bool           `json:"no_window_in_horizon,omitempty"`
	Insufficient      bool           `json:"insufficient_data,omitempty"`
}

// RootHealthState is the qualitative classification of the root zone.
type RootHealthState string

const (
	RootHealthy         RootHealthState = "healthy"
	RootStressedSurface RootHealthState = "stressed_surface"
	RootDeepReserveLow  RootHealthState = "deep_reserve_low"
	RootCriticalDry     RootHealthState = "critical_dry"
	RootWaterlogged     RootHealthState = "waterlogged"
	RootUnknown         RootHealthState = "unknown"
)

// RootHealthResult is the output of the root zone classifier. The raw moisture
// fractions are echoed for display alongside the state. Insufficient is set
// when the provider omitted a soil moisture band and State is RootUnknown.
type RootHealthResult struct {
	State           RootHealthState `json:"state"`
	SurfaceMoisture float64         `json:"surface_moisture"`
	DeepMoisture    float64         `json:"deep_moisture"`
	Insufficient    bool            `json:"insufficient_data,omitempty"`
}

// CurrentSummary is the passthrough current-condition block on the payload.
type CurrentSummary struct {
	Time             time.Time `json:"time"`
	TemperatureC     float64   `json:"temperature_c"`
	WindSpeedKmh     float64   `json:"wind_speed_kmh"`
	RainMM           float64   `json:"rain_mm"`
	SoilTemperatureC float64   `json:"soil_temperature_c"`
}

// InsightPayload aggregates the three analyzer outputs plus location identity
// into the response returned to the dashboard. It is constructed fresh per
// request and never persisted by the engine itself.
type InsightPayload struct {
	Location     Location           `json:"location"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Current      CurrentSummary     `json:"current"`
	WaterBalance WaterBalanceResult `json:"water_balance"`
	SprayGuide   SprayGuideResult   `json:"spray_guide"`
	RootHealth   RootHealthResult   `json:"root_health"`
}
