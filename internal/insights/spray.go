package insights

import (
	"time"

	"cropsense/internal/types"
)

// Spray safety thresholds. An hour at or above any unsafe bound is unsafe to
// spray; an hour below the unsafe bounds but at or above a caution bound is
// marginal. Bounds are product policy and deliberately conservative: drift
// risk rises sharply with wind, and rain within a couple of hours washes off
// most contact products.
const (
	// SprayWindUnsafeKmh is the wind speed at or above which spraying is unsafe.
	SprayWindUnsafeKmh = 20.0
	// SprayWindCautionKmh is the wind speed at or above which spraying is marginal.
	SprayWindCautionKmh = 15.0
	// SprayRainProbUnsafe is the precipitation probability (percent) at or
	// above which spraying is unsafe.
	SprayRainProbUnsafe = 40.0
	// SprayRainProbCaution is the precipitation probability at or above which
	// spraying is marginal.
	SprayRainProbCaution = 25.0
	// SprayRainAmountUnsafeMM is the forecast precipitation amount at or above
	// which spraying is unsafe regardless of probability.
	SprayRainAmountUnsafeMM = 0.2

	// maxReportedWindows caps how many upcoming windows the guide returns.
	maxReportedWindows = 3
)

// hourClass is the internal classification of a single forecast hour.
type hourClass struct {
	status types.SprayStatus
	factor types.LimitingFactor
	// marginality is how close the hour is to an unsafe bound, as a fraction
	// of that bound. Used to pick the limiting factor of a merged window.
	marginality float64
}

// classifyHour applies the safety thresholds to one hour of wind and rain
// readings. When both wind and rain are marginal, rain wins the limiting
// factor: rain risk is treated as dominant because a washed-off application
// is a total loss while drift is a partial one. That tie-break is policy and
// is pinned by tests.
func classifyHour(windKmh, precipProb, precipMM float64) hourClass {
	rainMarginality := precipProb / SprayRainProbUnsafe
	if amt := precipMM / SprayRainAmountUnsafeMM; amt > rainMarginality {
		rainMarginality = amt
	}
	windMarginality := windKmh / SprayWindUnsafeKmh

	rainUnsafe := precipProb >= SprayRainProbUnsafe || precipMM >= SprayRainAmountUnsafeMM
	windUnsafe := windKmh >= SprayWindUnsafeKmh

	switch {
	case rainUnsafe:
		return hourClass{types.SprayStatusUnsafe, types.LimitRain, rainMarginality}
	case windUnsafe:
		return hourClass{types.SprayStatusUnsafe, types.LimitWind, windMarginality}
	}

	rainCaution := precipProb >= SprayRainProbCaution
	windCaution := windKmh >= SprayWindCautionKmh

	if !rainCaution && !windCaution {
		return hourClass{status: types.SprayStatusSafe, factor: types.LimitNone}
	}

	// Marginal hour: the limiting factor is whichever bound is proportionally
	// closer to being violated, rain first on a tie.
	if rainCaution && (!windCaution || rainMarginality >= windMarginality) {
		return hourClass{types.SprayStatusCaution, types.LimitRain, rainMarginality}
	}
	return hourClass{types.SprayStatusCaution, types.LimitWind, windMarginality}
}

// AnalyzeSprayConditions classifies "now" and scans the hourly series forward
// from the observation time for contiguous runs of sprayable hours.
//
// The current status comes from the hourly point covering the observation
// hour; when the series does not cover it, the current surface readings are
// classified directly (with no probability signal, amount alone gates rain).
//
// Sprayable means not unsafe: caution hours join windows and contribute their
// limiting factor. Adjacent qualifying hours merge into a single window whose
// end is exclusive; a gap in the series breaks the run. Up to three windows
// are reported.
//
// An empty hourly series yields SprayStatusUnknown with Insufficient set. A
// populated series with no qualifying hour sets NoWindowInHorizon.
func AnalyzeSprayConditions(current types.CurrentConditions, hourly []types.HourlyPoint) types.SprayGuideResult {
	if len(hourly) == 0 {
		return types.SprayGuideResult{
			Status:       types.SprayStatusUnknown,
			Insufficient: true,
		}
	}

	nowHour := current.Time.Truncate(time.Hour)

	nowClass, covered := classifyCurrentHour(nowHour, hourly)
	if !covered {
		nowClass = classifyHour(current.WindSpeedKmh, 0, current.RainMM)
	}

	result := types.SprayGuideResult{
		Status:         nowClass.status,
		LimitingFactor: nowClass.factor,
	}
	if nowClass.status == types.SprayStatusSafe {
		result.LimitingFactor = types.LimitNone
	}

	result.Windows = scanWindows(nowHour, hourly)
	if len(result.Windows) == 0 {
		result.NoWindowInHorizon = true
	}
	return result
}

// classifyCurrentHour finds the hourly point covering the observation hour.
func classifyCurrentHour(nowHour time.Time, hourly []types.HourlyPoint) (hourClass, bool) {
	for _, h := range hourly {
		if h.Time.Equal(nowHour) {
			return classifyHour(h.WindSpeedKmh, h.PrecipProbability, h.PrecipMM), true
		}
	}
	return hourClass{}, false
}

// scanWindows walks the series from the observation hour onward, merging
// adjacent sprayable hours into windows.
func scanWindows(nowHour time.Time, hourly []types.HourlyPoint) []types.SprayWindow {
	var windows []types.SprayWindow
	var open *types.SprayWindow
	var openMarginality float64
	var prevTime time.Time

	flush := func() {
		if open != nil && len(windows) < maxReportedWindows {
			windows = append(windows, *open)
		}
		open = nil
		openMarginality = 0
	}

	for _, h := range hourly {
		if h.Time.Before(nowHour) {
			continue
		}
		if len(windows) == maxReportedWindows {
			break
		}

		c := classifyHour(h.WindSpeedKmh, h.PrecipProbability, h.PrecipMM)
		qualifies := c.status != types.SprayStatusUnsafe

		// A series gap breaks contiguity even if both sides qualify.
		if open != nil && (!qualifies || !h.Time.Equal(prevTime.Add(time.Hour))) {
			flush()
		}

		if qualifies {
			if open == nil {
				open = &types.SprayWindow{Start: h.Time, End: h.Time.Add(time.Hour)}
				openMarginality = 0
			} else {
				open.End = h.Time.Add(time.Hour)
			}
			// The window carries the limiting factor of its most marginal hour.
			if c.status == types.SprayStatusCaution && c.marginality > openMarginality {
				open.LimitingFactor = c.factor
				openMarginality = c.marginality
			}
		}
		prevTime = h.Time
	}
	flush()

	return windows
}
