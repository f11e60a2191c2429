package insights

import (
	"cropsense/internal/types"
	"cropsense/internal/weather"
)

// Engine composes the three analyzers over one normalized snapshot. It is
// stateless and safe for concurrent use; the zero value is ready.
type Engine struct{}

// NewEngine returns an insight engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Analyze runs the three analyzers independently over the snapshot and
// assembles the payload. The analyzers read only from the snapshot and never
// from each other, so an insufficient-data state in one category leaves the
// others intact: partial insight is more useful to a farmer than none.
//
// GeneratedAt is the snapshot's observation time, not wall-clock time, so an
// identical snapshot always produces an identical payload.
func (e *Engine) Analyze(snap *types.WeatherSnapshot, loc types.Location) *types.InsightPayload {
	return &types.InsightPayload{
		Location:    loc,
		GeneratedAt: snap.Current.Time,
		Current: types.CurrentSummary{
			Time:             snap.Current.Time,
			TemperatureC:     snap.Current.TemperatureC,
			WindSpeedKmh:     snap.Current.WindSpeedKmh,
			RainMM:           snap.Current.RainMM,
			SoilTemperatureC: snap.Current.SoilTemperatureC,
		},
		WaterBalance: EstimateWaterBalance(snap.Daily),
		SprayGuide:   AnalyzeSprayConditions(snap.Current, snap.Hourly),
		RootHealth:   ClassifyRootHealth(snap.Current),
	}
}

// AnalyzeRaw normalizes a raw provider payload and runs the engine over it.
// It is the single entry point the request path uses: normalization is the
// only step that can fail, and its error aborts the whole computation.
func (e *Engine) AnalyzeRaw(raw *weather.ForecastResponse, loc types.Location) (*types.InsightPayload, error) {
	snap, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return e.Analyze(snap, loc), nil
}
