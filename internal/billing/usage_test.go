package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"cropsense/internal/types"
)

type fakeMeterRecorder struct {
	customerID string
	eventName  string
	value      int64
	calls      int
	err        error
}

func (f *fakeMeterRecorder) RecordMeterEvent(_ context.Context, customerID, eventName string, value int64) error {
	f.calls++
	f.customerID = customerID
	f.eventName = eventName
	f.value = value
	return f.err
}

func newTestUsageReporter(orgs OrgLookup, recorder MeterRecorder) *UsageReporter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUsageReporter(orgs, recorder, "insight_requests", logger)
}

func TestUsageReporter_ReportsForMeteredPlan(t *testing.T) {
	orgs := &fakeOrgLookup{org: &types.Organization{
		ID:               "org_1",
		Plan:             types.PlanPro,
		StripeCustomerID: "cus_123",
	}}
	recorder := &fakeMeterRecorder{}

	newTestUsageReporter(orgs, recorder).ReportInsightRequest(context.Background(), "org_1")

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, "cus_123", recorder.customerID)
	assert.Equal(t, "insight_requests", recorder.eventName)
	assert.Equal(t, int64(1), recorder.value)
}

func TestUsageReporter_SkipsFreePlan(t *testing.T) {
	orgs := &fakeOrgLookup{org: &types.Organization{
		ID:               "org_1",
		Plan:             types.PlanFree,
		StripeCustomerID: "cus_123",
	}}
	recorder := &fakeMeterRecorder{}

	newTestUsageReporter(orgs, recorder).ReportInsightRequest(context.Background(), "org_1")

	assert.Zero(t, recorder.calls)
}

func TestUsageReporter_SkipsCoopPlan(t *testing.T) {
	orgs := &fakeOrgLookup{org: &types.Organization{
		ID:               "org_1",
		Plan:             types.PlanCoop,
		StripeCustomerID: "cus_123",
	}}
	recorder := &fakeMeterRecorder{}

	newTestUsageReporter(orgs, recorder).ReportInsightRequest(context.Background(), "org_1")

	assert.Zero(t, recorder.calls)
}

func TestUsageReporter_SkipsWithoutStripeCustomer(t *testing.T) {
	orgs := &fakeOrgLookup{org: &types.Organization{
		ID:   "org_1",
		Plan: types.PlanPro,
	}}
	recorder := &fakeMeterRecorder{}

	newTestUsageReporter(orgs, recorder).ReportInsightRequest(context.Background(), "org_1")

	assert.Zero(t, recorder.calls)
}

func TestUsageReporter_FailuresAreSwallowed(t *testing.T) {
	orgs := &fakeOrgLookup{org: &types.Organization{
		ID:               "org_1",
		Plan:             types.PlanPro,
		StripeCustomerID: "cus_123",
	}}
	recorder := &fakeMeterRecorder{err: errors.New("stripe down")}

	// Must not panic or propagate; best effort only.
	newTestUsageReporter(orgs, recorder).ReportInsightRequest(context.Background(), "org_1")
	assert.Equal(t, 1, recorder.calls)
}

func TestUsageReporter_OrgLookupFailureSkips(t *testing.T) {
	orgs := &fakeOrgLookup{err: errors.New("db down")}
	recorder := &fakeMeterRecorder{}

	newTestUsageReporter(orgs, recorder).ReportInsightRequest(context.Background(), "org_1")

	assert.Zero(t, recorder.calls)
}
