package insights

import "cropsense/internal/types"

// Tank mapping breakpoints in millimetres of net balance (precipitation minus
// reference evapotranspiration over the daily window). The breakpoints are a
// product policy decision; they live here as named constants so they can be
// tuned without touching control flow.
const (
	// TankCriticalBelowMM marks the "irrigate now" boundary.
	TankCriticalBelowMM = -25.0
	// TankDeficitBelowMM marks the "irrigate soon" boundary.
	TankDeficitBelowMM = -10.0
	// TankSurplusAtMM marks the start of the surplus band.
	TankSurplusAtMM = 10.0
	// TankSaturatedAtMM marks the start of the saturated band.
	TankSaturatedAtMM = 30.0
)

// tankBreakpoints enumerates the mapping from net balance to display level.
// Upper bounds are exclusive; the table is scanned in order. Anything at or
// above the last bound is saturated.
var tankBreakpoints = []struct {
	UpperMM float64
	Level   types.TankLevel
}{
	{TankCriticalBelowMM, types.TankCriticalDeficit},
	{TankDeficitBelowMM, types.TankDeficit},
	{TankSurplusAtMM, types.TankBalanced},
	{TankSaturatedAtMM, types.TankSurplus},
}

// EstimateWaterBalance derives the rolling soil water tank estimate from the
// daily series. It sums precipitation and reference evapotranspiration over
// the whole available window and maps the signed net balance onto the tank
// scale via tankBreakpoints.
//
// An empty daily series yields TankUnknown with Insufficient set; it never
// errors and never divides.
func EstimateWaterBalance(daily []types.DailyPoint) types.WaterBalanceResult {
	if len(daily) == 0 {
		return types.WaterBalanceResult{
			Level:        types.TankUnknown,
			Insufficient: true,
		}
	}

	var precip, et0 float64
	for _, d := range daily {
		precip += d.PrecipSum
		et0 += d.ET0MM
	}
	net := precip - et0

	return types.WaterBalanceResult{
		Level:         tankLevel(net),
		NetBalanceMM:  net,
		PrecipTotalMM: precip,
		ET0TotalMM:    et0,
		WindowDays:    len(daily),
	}
}

func tankLevel(netMM float64) types.TankLevel {
	for _, bp := range tankBreakpoints {
		if netMM < bp.UpperMM {
			return bp.Level
		}
	}
	return types.TankSaturated
}
