package insights

import (
	"testing"
	"time"

	"cropsense/internal/types"
)

var sprayDay = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

func hourAt(h int, wind, prob, rain float64) types.HourlyPoint {
	return types.HourlyPoint{
		Time:              sprayDay.Add(time.Duration(h) * time.Hour),
		WindSpeedKmh:      wind,
		PrecipProbability: prob,
		PrecipMM:          rain,
	}
}

func currentAt(h int, wind float64) types.CurrentConditions {
	return types.CurrentConditions{
		Time:         sprayDay.Add(time.Duration(h) * time.Hour),
		WindSpeedKmh: wind,
	}
}

func TestAnalyzeSprayConditions_UnsafeNowNextWindowReported(t *testing.T) {
	// Hour 14 has wind above the unsafe bound, hour 15 calms down.
	hourly := []types.HourlyPoint{
		hourAt(14, 35, 0, 0),
		hourAt(15, 10, 0, 0),
		hourAt(16, 9, 0, 0),
	}

	res := AnalyzeSprayConditions(currentAt(14, 35), hourly)

	if res.Status != types.SprayStatusUnsafe {
		t.Fatalf("expected unsafe now, got %s", res.Status)
	}
	if res.LimitingFactor != types.LimitWind {
		t.Errorf("expected wind as limiting factor, got %q", res.LimitingFactor)
	}
	if len(res.Windows) != 1 {
		t.Fatalf("expected one window, got %d", len(res.Windows))
	}
	w := res.Windows[0]
	if !w.Start.Equal(sprayDay.Add(15 * time.Hour)) {
		t.Errorf("window should start at hour 15, got %s", w.Start)
	}
	if !w.End.Equal(sprayDay.Add(17 * time.Hour)) {
		t.Errorf("window end is exclusive, expected hour 17, got %s", w.End)
	}
	if res.NoWindowInHorizon {
		t.Error("NoWindowInHorizon must not be set when a window exists")
	}
}

func TestAnalyzeSprayConditions_EmptyHourly(t *testing.T) {
	res := AnalyzeSprayConditions(currentAt(9, 5), nil)

	if res.Status != types.SprayStatusUnknown {
		t.Errorf("expected unknown status, got %s", res.Status)
	}
	if !res.Insufficient {
		t.Error("expected insufficient flag for empty series")
	}
	if len(res.Windows) != 0 {
		t.Errorf("expected no windows, got %d", len(res.Windows))
	}
}

func TestAnalyzeSprayConditions_NoWindowInHorizon(t *testing.T) {
	hourly := []types.HourlyPoint{
		hourAt(10, 30, 0, 0),
		hourAt(11, 25, 80, 2),
		hourAt(12, 40, 90, 5),
	}

	res := AnalyzeSprayConditions(currentAt(10, 30), hourly)

	if res.Status != types.SprayStatusUnsafe {
		t.Errorf("expected unsafe, got %s", res.Status)
	}
	if !res.NoWindowInHorizon {
		t.Error("expected explicit no-window-in-horizon flag")
	}
}

func TestClassifyHour_RainDominantTieBreak(t *testing.T) {
	// Both factors marginal, proportionally equidistant from their bounds:
	// wind 15/20 = 0.75, probability 30/40 = 0.75. Rain must win.
	c := classifyHour(15, 30, 0)

	if c.status != types.SprayStatusCaution {
		t.Fatalf("expected caution, got %s", c.status)
	}
	if c.factor != types.LimitRain {
		t.Errorf("rain must dominate on a tie, got %q", c.factor)
	}
}

func TestClassifyHour_WindLimitingWhenCloser(t *testing.T) {
	// Wind 19/20 = 0.95 against probability 25/40 = 0.625.
	c := classifyHour(19, 25, 0)

	if c.status != types.SprayStatusCaution {
		t.Fatalf("expected caution, got %s", c.status)
	}
	if c.factor != types.LimitWind {
		t.Errorf("expected wind as limiting factor, got %q", c.factor)
	}
}

func TestClassifyHour_Boundaries(t *testing.T) {
	cases := []struct {
		name             string
		wind, prob, rain float64
		want             types.SprayStatus
	}{
		{"calm and dry", 5, 0, 0, types.SprayStatusSafe},
		{"wind just below caution", 14.9, 0, 0, types.SprayStatusSafe},
		{"wind exactly at caution bound", 15, 0, 0, types.SprayStatusCaution},
		{"wind exactly at unsafe bound", 20, 0, 0, types.SprayStatusUnsafe},
		{"probability exactly at caution bound", 0, 25, 0, types.SprayStatusCaution},
		{"probability exactly at unsafe bound", 0, 40, 0, types.SprayStatusUnsafe},
		{"rain amount at unsafe bound", 0, 0, 0.2, types.SprayStatusUnsafe},
		{"trace rain below bound", 0, 0, 0.1, types.SprayStatusSafe},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyHour(tc.wind, tc.prob, tc.rain).status; got != tc.want {
				t.Errorf("classifyHour(%v, %v, %v) = %s, want %s", tc.wind, tc.prob, tc.rain, got, tc.want)
			}
		})
	}
}

func TestAnalyzeSprayConditions_UnsafeHourSplitsWindows(t *testing.T) {
	hourly := []types.HourlyPoint{
		hourAt(8, 5, 0, 0),
		hourAt(9, 5, 0, 0),
		hourAt(10, 50, 0, 0), // gust breaks the run
		hourAt(11, 5, 0, 0),
		hourAt(12, 5, 0, 0),
	}

	res := AnalyzeSprayConditions(currentAt(8, 5), hourly)

	if res.Status != types.SprayStatusSafe {
		t.Fatalf("expected safe now, got %s", res.Status)
	}
	if len(res.Windows) != 2 {
		t.Fatalf("expected two windows split by the unsafe hour, got %d", len(res.Windows))
	}
	if !res.Windows[0].End.Equal(sprayDay.Add(10 * time.Hour)) {
		t.Errorf("first window should end at hour 10, got %s", res.Windows[0].End)
	}
	if !res.Windows[1].Start.Equal(sprayDay.Add(11 * time.Hour)) {
		t.Errorf("second window should start at hour 11, got %s", res.Windows[1].Start)
	}
}

func TestAnalyzeSprayConditions_SeriesGapBreaksWindow(t *testing.T) {
	// Hours 9 and 12 both qualify but are not adjacent; they must not merge.
	hourly := []types.HourlyPoint{
		hourAt(9, 5, 0, 0),
		hourAt(12, 5, 0, 0),
	}

	res := AnalyzeSprayConditions(currentAt(9, 5), hourly)

	if len(res.Windows) != 2 {
		t.Fatalf("expected gap to split windows, got %d", len(res.Windows))
	}
}

func TestAnalyzeSprayConditions_CautionHoursJoinWindowWithFactor(t *testing.T) {
	hourly := []types.HourlyPoint{
		hourAt(9, 5, 0, 0),
		hourAt(10, 17, 0, 0), // marginal on wind
		hourAt(11, 5, 0, 0),
	}

	res := AnalyzeSprayConditions(currentAt(9, 5), hourly)

	if len(res.Windows) != 1 {
		t.Fatalf("caution hour must not break the window, got %d windows", len(res.Windows))
	}
	if res.Windows[0].LimitingFactor != types.LimitWind {
		t.Errorf("window should carry the marginal hour's factor, got %q", res.Windows[0].LimitingFactor)
	}
}

func TestAnalyzeSprayConditions_FallbackToCurrentReadings(t *testing.T) {
	// Series starts after the observation hour; classification falls back to
	// the current surface readings.
	hourly := []types.HourlyPoint{
		hourAt(15, 5, 0, 0),
	}

	res := AnalyzeSprayConditions(currentAt(12, 30), hourly)

	if res.Status != types.SprayStatusUnsafe {
		t.Errorf("expected unsafe from current wind reading, got %s", res.Status)
	}
}

func TestAnalyzeSprayConditions_WindowCountCapped(t *testing.T) {
	var hourly []types.HourlyPoint
	for h := 0; h < 20; h++ {
		if h%2 == 0 {
			hourly = append(hourly, hourAt(h, 5, 0, 0))
		} else {
			hourly = append(hourly, hourAt(h, 50, 0, 0))
		}
	}

	res := AnalyzeSprayConditions(currentAt(0, 5), hourly)

	if len(res.Windows) != maxReportedWindows {
		t.Errorf("expected %d windows, got %d", maxReportedWindows, len(res.Windows))
	}
}
