package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cropsense/internal/insights"
	"cropsense/internal/types"
	"cropsense/internal/weather"
)

// --- Fakes ---

type fakeFieldSource struct {
	fields []*types.Field
	err    error
}

func (f *fakeFieldSource) ListActive(_ context.Context) ([]*types.Field, error) {
	return f.fields, f.err
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*weather.ForecastResponse
	err       error
	calls     int
}

func (f *fakeFetcher) Fetch(_ context.Context, lat, _ float64) (*weather.ForecastResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	// Responses keyed by latitude string would be overkill; every field gets
	// the same canned payload.
	for _, r := range f.responses {
		return r, nil
	}
	return nil, errors.New("no response configured")
}

type fakeArchiver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeArchiver) Save(_ context.Context, fieldID string, _ *types.InsightPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, fieldID)
	return f.err
}

type fakeGate struct {
	mu      sync.Mutex
	enabled bool
	claimed map[string]bool
	gateErr error
	markErr error
}

func (f *fakeGate) SprayAlertsEnabled(_ context.Context, _ string) (bool, error) {
	return f.enabled, f.gateErr
}

func (f *fakeGate) MarkAlerted(_ context.Context, fieldID string, _ time.Time) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = make(map[string]bool)
	}
	if f.claimed[fieldID] {
		return false, nil
	}
	f.claimed[fieldID] = true
	return true, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	enqueued []types.SprayWindow
	err      error
}

func (f *fakePublisher) EnqueueSprayAlert(_ context.Context, _ *types.Field, window types.SprayWindow, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, window)
	return nil
}

// --- Fixtures ---

// sweepNow is the fixed wall clock for the sweep tests.
var sweepNow = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

// rawForecast builds a payload whose current hour is windy (unsafe) with a
// safe window opening windowOffset hours from sweepNow.
func rawForecast(windowOffset int) *weather.ForecastResponse {
	temp := 18.0
	wind := 30.0
	rain := 0.0
	soilT := 12.0
	soilS := 0.22
	soilD := 0.25

	hours := 12
	hourly := &weather.HourlyBlock{}
	for i := 0; i < hours; i++ {
		ts := sweepNow.Add(time.Duration(i) * time.Hour)
		hourly.Time = append(hourly.Time, ts.Format("2006-01-02T15:04"))
		hourly.Temperature2m = append(hourly.Temperature2m, 18.0)
		if i < windowOffset {
			hourly.WindSpeed10m = append(hourly.WindSpeed10m, 30.0)
		} else {
			hourly.WindSpeed10m = append(hourly.WindSpeed10m, 8.0)
		}
		hourly.PrecipitationProbability = append(hourly.PrecipitationProbability, 5.0)
		hourly.Precipitation = append(hourly.Precipitation, 0.0)
	}

	et0 := 3.0
	return &weather.ForecastResponse{
		Current: &weather.CurrentBlock{
			Time:               sweepNow.Format("2006-01-02T15:04"),
			Temperature2m:      &temp,
			WindSpeed10m:       &wind,
			Rain:               &rain,
			SoilTemperature0cm: &soilT,
			SoilMoisture3to9:   &soilS,
			SoilMoisture9to27:  &soilD,
		},
		Hourly: hourly,
		Daily: &weather.DailyBlock{
			Time:             []string{"2026-04-01"},
			PrecipitationSum: []float64{4.0},
			ET0:              []*float64{&et0},
			Temperature2mMin: []float64{8.0},
			Temperature2mMax: []float64{19.0},
		},
	}
}

func newTestAdvisor(fields *fakeFieldSource, fetcher *fakeFetcher, archiver *fakeArchiver, gate *fakeGate, pub *fakePublisher) *Advisor {
	a := NewAdvisor(fields, fetcher, insights.NewEngine(), archiver, gate, pub, AdvisorConfig{
		Concurrency: 4,
		LeadWindow:  6 * time.Hour,
	}, nil)
	a.now = func() time.Time { return sweepNow }
	return a
}

func field(id string) *types.Field {
	return &types.Field{
		ID:             id,
		OrganizationID: "org_1",
		Name:           "Paddock " + id,
		Location:       types.Location{Lat: 52.52, Lon: 13.405},
		Status:         types.FieldStatusActive,
	}
}

// --- Tests ---

func TestSweep_EnqueuesAlertForUpcomingWindow(t *testing.T) {
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1")}}
	fetcher := &fakeFetcher{responses: map[string]*weather.ForecastResponse{"": rawForecast(3)}}
	archiver := &fakeArchiver{}
	gate := &fakeGate{enabled: true}
	pub := &fakePublisher{}

	result, err := newTestAdvisor(fields, fetcher, archiver, gate, pub).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}

	if result.FieldsTotal != 1 || result.FieldsFailed != 0 {
		t.Errorf("unexpected result counts: %+v", result)
	}
	if result.AlertsEnqueued != 1 {
		t.Fatalf("expected 1 alert enqueued, got %d", result.AlertsEnqueued)
	}

	wantStart := sweepNow.Add(3 * time.Hour)
	if !pub.enqueued[0].Start.Equal(wantStart) {
		t.Errorf("expected window start %v, got %v", wantStart, pub.enqueued[0].Start)
	}
	if len(archiver.saved) != 1 || archiver.saved[0] != "fld_1" {
		t.Errorf("expected insight archived for fld_1, got %v", archiver.saved)
	}
}

func TestSweep_NoAlertWhenWindowBeyondLead(t *testing.T) {
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1")}}
	fetcher := &fakeFetcher{responses: map[string]*weather.ForecastResponse{"": rawForecast(8)}}
	gate := &fakeGate{enabled: true}
	pub := &fakePublisher{}

	result, err := newTestAdvisor(fields, fetcher, &fakeArchiver{}, gate, pub).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if result.AlertsEnqueued != 0 {
		t.Errorf("expected no alerts for window outside lead, got %d", result.AlertsEnqueued)
	}
}

func TestSweep_NoAlertWhenCurrentlySafe(t *testing.T) {
	// Window offset 0 means the current hour is already safe; there is
	// nothing to announce.
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1")}}
	fetcher := &fakeFetcher{responses: map[string]*weather.ForecastResponse{"": rawForecast(0)}}
	gate := &fakeGate{enabled: true}
	pub := &fakePublisher{}

	result, err := newTestAdvisor(fields, fetcher, &fakeArchiver{}, gate, pub).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if result.AlertsEnqueued != 0 {
		t.Errorf("expected no alerts when already safe, got %d", result.AlertsEnqueued)
	}
}

func TestSweep_PlanWithoutAlertsSkipsEnqueue(t *testing.T) {
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1")}}
	fetcher := &fakeFetcher{responses: map[string]*weather.ForecastResponse{"": rawForecast(3)}}
	gate := &fakeGate{enabled: false}
	pub := &fakePublisher{}

	result, err := newTestAdvisor(fields, fetcher, &fakeArchiver{}, gate, pub).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if result.AlertsEnqueued != 0 {
		t.Errorf("expected no alerts for free plan, got %d", result.AlertsEnqueued)
	}
	if len(pub.enqueued) != 0 {
		t.Errorf("publisher should not have been called")
	}
}

func TestSweep_DedupeSuppressesSecondRun(t *testing.T) {
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1")}}
	fetcher := &fakeFetcher{responses: map[string]*weather.ForecastResponse{"": rawForecast(3)}}
	gate := &fakeGate{enabled: true}
	pub := &fakePublisher{}
	advisor := newTestAdvisor(fields, fetcher, &fakeArchiver{}, gate, pub)

	for i := 0; i < 2; i++ {
		if _, err := advisor.Sweep(context.Background()); err != nil {
			t.Fatalf("sweep %d returned unexpected error: %v", i, err)
		}
	}

	if len(pub.enqueued) != 1 {
		t.Errorf("expected exactly 1 alert across both sweeps, got %d", len(pub.enqueued))
	}
}

func TestSweep_FieldFailureDoesNotAbortOthers(t *testing.T) {
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1"), field("fld_2")}}
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	pub := &fakePublisher{}

	result, err := newTestAdvisor(fields, fetcher, &fakeArchiver{}, &fakeGate{enabled: true}, pub).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if result.FieldsFailed != 2 {
		t.Errorf("expected both fields counted as failed, got %d", result.FieldsFailed)
	}
	if fetcher.calls != 2 {
		t.Errorf("expected fetch attempted for both fields, got %d", fetcher.calls)
	}
}

func TestSweep_ListFailurePropagates(t *testing.T) {
	fields := &fakeFieldSource{err: errors.New("db down")}

	_, err := newTestAdvisor(fields, &fakeFetcher{}, &fakeArchiver{}, &fakeGate{}, &fakePublisher{}).Sweep(context.Background())
	if err == nil {
		t.Fatal("expected error when field listing fails")
	}
}

func TestSweep_ArchiveFailureStillAlerts(t *testing.T) {
	fields := &fakeFieldSource{fields: []*types.Field{field("fld_1")}}
	fetcher := &fakeFetcher{responses: map[string]*weather.ForecastResponse{"": rawForecast(3)}}
	archiver := &fakeArchiver{err: errors.New("archive down")}
	pub := &fakePublisher{}

	result, err := newTestAdvisor(fields, fetcher, archiver, &fakeGate{enabled: true}, pub).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned unexpected error: %v", err)
	}
	if result.AlertsEnqueued != 1 {
		t.Errorf("expected alert despite archive failure, got %d", result.AlertsEnqueued)
	}
}
