package insights

import "cropsense/internal/types"

// Moisture band thresholds for the root zone classifier, as volumetric water
// content fractions. Lower bounds are inclusive: a reading exactly at 0.15 is
// adequate, exactly at 0.35 is wet.
const (
	// MoistureAdequateAt is the lower bound of the adequate band.
	MoistureAdequateAt = 0.15
	// MoistureWetAt is the lower bound of the wet band.
	MoistureWetAt = 0.35
)

// moistureBand is the qualitative band for a single moisture reading.
type moistureBand int

const (
	bandLow moistureBand = iota
	bandAdequate
	bandWet
)

func bandOf(fraction float64) moistureBand {
	switch {
	case fraction < MoistureAdequateAt:
		return bandLow
	case fraction < MoistureWetAt:
		return bandAdequate
	default:
		return bandWet
	}
}

// rootStateTable is the full surface-band x deep-band combination table.
// It is the entire behavior of the classifier, enumerated so each cell is
// independently testable and tunable.
var rootStateTable = [3][3]types.RootHealthState{
	// deep:           low                      adequate                   wet
	bandLow:      {types.RootCriticalDry, types.RootStressedSurface, types.RootStressedSurface},
	bandAdequate: {types.RootDeepReserveLow, types.RootHealthy, types.RootHealthy},
	bandWet:      {types.RootDeepReserveLow, types.RootHealthy, types.RootWaterlogged},
}

// ClassifyRootHealth maps the surface (3-9cm) and deep (9-27cm) soil moisture
// readings onto a qualitative root zone state via rootStateTable. It is a
// total, deterministic function: no computation beyond band comparison. The
// raw inputs are echoed in the result for display.
//
// When the provider omitted a moisture band the reading carries the
// SoilMoistureMissing mark and the result is RootUnknown with Insufficient
// set, never a state guessed from zeroed bands.
func ClassifyRootHealth(cur types.CurrentConditions) types.RootHealthResult {
	if cur.SoilMoistureMissing {
		return types.RootHealthResult{
			State:        types.RootUnknown,
			Insufficient: true,
		}
	}
	return types.RootHealthResult{
		State:           rootStateTable[bandOf(cur.SoilMoistureSurface)][bandOf(cur.SoilMoistureDeep)],
		SurfaceMoisture: cur.SoilMoistureSurface,
		DeepMoisture:    cur.SoilMoistureDeep,
	}
}
