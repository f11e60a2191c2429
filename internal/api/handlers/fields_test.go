package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cropsense/internal/core"
	"cropsense/internal/types"
)

// mockFieldRepo implements FieldRepo with overridable fns.
type mockFieldRepo struct {
	createFn    func(ctx context.Context, field *types.Field) error
	getByIDFn   func(ctx context.Context, id string, orgID string) (*types.Field, error)
	listFn      func(ctx context.Context, orgID string, params types.ListFieldsParams) ([]*types.Field, error)
	updateFn    func(ctx context.Context, field *types.Field) error
	archiveFn   func(ctx context.Context, id string, orgID string) error
	lastCreated *types.Field
	lastUpdated *types.Field
}

func (m *mockFieldRepo) Create(ctx context.Context, field *types.Field) error {
	m.lastCreated = field
	if m.createFn != nil {
		return m.createFn(ctx, field)
	}
	return nil
}

func (m *mockFieldRepo) GetByID(ctx context.Context, id string, orgID string) (*types.Field, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id, orgID)
	}
	return sampleField(id, orgID), nil
}

func (m *mockFieldRepo) List(ctx context.Context, orgID string, params types.ListFieldsParams) ([]*types.Field, error) {
	if m.listFn != nil {
		return m.listFn(ctx, orgID, params)
	}
	return nil, nil
}

func (m *mockFieldRepo) Update(ctx context.Context, field *types.Field) error {
	m.lastUpdated = field
	if m.updateFn != nil {
		return m.updateFn(ctx, field)
	}
	return nil
}

func (m *mockFieldRepo) Archive(ctx context.Context, id string, orgID string) error {
	if m.archiveFn != nil {
		return m.archiveFn(ctx, id, orgID)
	}
	return nil
}

type mockLimitChecker struct {
	err error
}

func (m *mockLimitChecker) CheckFieldLimit(ctx context.Context, orgID string) error {
	return m.err
}

type mockGeocoder struct {
	name  string
	err   error
	calls int
}

func (m *mockGeocoder) ReverseLookup(ctx context.Context, lat, lon float64) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.name, nil
}

func sampleField(id, orgID string) *types.Field {
	return &types.Field{
		ID:             id,
		OrganizationID: orgID,
		Name:           "North Paddock",
		Crop:           "maize",
		Location:       types.Location{Lat: 45.1, Lon: 8.2},
		Status:         types.FieldStatusActive,
		CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newTestFieldHandler(repo *mockFieldRepo, limits *mockLimitChecker, geo *mockGeocoder) *FieldHandler {
	var geocoder ReverseGeocoder
	if geo != nil {
		geocoder = geo
	}
	return NewFieldHandler(repo, limits, geocoder, core.NewValidator(nil), nil)
}

func fieldContextWithActor(orgID string) context.Context {
	return types.WithActor(context.Background(), types.Actor{
		ID:             "key_test",
		Type:           types.ActorTypeAPIKey,
		OrganizationID: orgID,
	})
}

func createFieldBody(t *testing.T, name, crop string, lat, lon float64) []byte {
	t.Helper()
	body, err := json.Marshal(CreateFieldRequest{
		Name:     name,
		Crop:     crop,
		Location: types.Location{Lat: lat, Lon: lon},
	})
	require.NoError(t, err)
	return body
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestFieldHandler_Create_Success(t *testing.T) {
	repo := &mockFieldRepo{}
	geo := &mockGeocoder{name: "Novara, Piedmont, Italy"}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, geo)

	body := createFieldBody(t, "North Paddock", "maize", 45.1, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	created := repo.lastCreated
	require.NotNil(t, created)
	assert.Equal(t, "org_123", created.OrganizationID)
	assert.Equal(t, "North Paddock", created.Name)
	assert.Equal(t, "maize", created.Crop)
	assert.Equal(t, types.FieldStatusActive, created.Status)
	assert.Contains(t, created.ID, "fld_")
	assert.Equal(t, "Novara, Piedmont, Italy", created.Location.DisplayName)
}

func TestFieldHandler_Create_GeocodeFailureIsNonFatal(t *testing.T) {
	repo := &mockFieldRepo{}
	geo := &mockGeocoder{err: errors.New("geocoder down")}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, geo)

	body := createFieldBody(t, "North Paddock", "", 45.1, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, repo.lastCreated)
	assert.Empty(t, repo.lastCreated.Location.DisplayName)
}

func TestFieldHandler_Create_NilGeocoder(t *testing.T) {
	repo := &mockFieldRepo{}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	body := createFieldBody(t, "North Paddock", "", 45.1, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestFieldHandler_Create_ProvidedDisplayNameSkipsGeocode(t *testing.T) {
	repo := &mockFieldRepo{}
	geo := &mockGeocoder{name: "should not be used"}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, geo)

	body, err := json.Marshal(CreateFieldRequest{
		Name:     "South Paddock",
		Location: types.Location{Lat: 45.1, Lon: 8.2, DisplayName: "My Farm"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Zero(t, geo.calls)
	assert.Equal(t, "My Farm", repo.lastCreated.Location.DisplayName)
}

func TestFieldHandler_Create_MissingName(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	body := createFieldBody(t, "", "", 45.1, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFieldHandler_Create_InvalidLatitude(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	body := createFieldBody(t, "North Paddock", "", 95.0, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFieldHandler_Create_PlanLimitReached(t *testing.T) {
	limits := &mockLimitChecker{
		err: types.NewAppError(types.ErrCodeLimitFields, "field limit reached for plan", nil),
	}
	handler := newTestFieldHandler(&mockFieldRepo{}, limits, nil)

	body := createFieldBody(t, "North Paddock", "", 45.1, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)

	var resp map[string]map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeLimitFields), resp["error"]["code"])
}

func TestFieldHandler_Create_NoActor(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	body := createFieldBody(t, "North Paddock", "", 45.1, 8.2)
	req := httptest.NewRequest(http.MethodPost, "/fields", bytes.NewReader(body))

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestFieldHandler_List_EmptyPage(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/fields", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data FieldListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data.Fields)
	assert.Empty(t, resp.Data.Fields)
	assert.False(t, resp.Data.HasMore)
}

func TestFieldHandler_List_Pagination(t *testing.T) {
	// The repo returns limit+1 rows to signal another page.
	repo := &mockFieldRepo{
		listFn: func(ctx context.Context, orgID string, params types.ListFieldsParams) ([]*types.Field, error) {
			fields := make([]*types.Field, params.Limit+1)
			for i := range fields {
				f := sampleField(fmt.Sprintf("fld_%d", i), orgID)
				f.CreatedAt = time.Date(2026, 3, 1, 9, 0, i, 0, time.UTC)
				fields[i] = f
			}
			return fields, nil
		},
	}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/fields?limit=2", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data FieldListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Fields, 2)
	assert.True(t, resp.Data.HasMore)
	assert.NotEmpty(t, resp.Data.NextCursor)

	// Cursor points at the last returned row's creation time.
	cursor, err := time.Parse(time.RFC3339Nano, resp.Data.NextCursor)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(resp.Data.Fields[1].CreatedAt))
}

func TestFieldHandler_List_PassesParams(t *testing.T) {
	var gotParams types.ListFieldsParams
	repo := &mockFieldRepo{
		listFn: func(ctx context.Context, orgID string, params types.ListFieldsParams) ([]*types.Field, error) {
			gotParams = params
			return nil, nil
		},
	}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/fields?include_archived=true&limit=50&cursor=2026-03-01T09:00:00Z", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, gotParams.IncludeArchived)
	assert.Equal(t, 50, gotParams.Limit)
	assert.Equal(t, "2026-03-01T09:00:00Z", gotParams.Cursor)
}

func TestFieldHandler_List_InvalidLimit(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/fields?limit=500", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// ---------------------------------------------------------------------------
// Get / Update / Archive
// ---------------------------------------------------------------------------

func TestFieldHandler_Get_Success(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	r := chi.NewRouter()
	r.Get("/fields/{fieldID}", handler.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/fields/fld_123", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "fld_123")
}

func TestFieldHandler_Get_NotFound(t *testing.T) {
	repo := &mockFieldRepo{
		getByIDFn: func(ctx context.Context, id string, orgID string) (*types.Field, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundField, "field not found", nil)
		},
	}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	r := chi.NewRouter()
	r.Get("/fields/{fieldID}", handler.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/fields/fld_missing", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFieldHandler_Update_Success(t *testing.T) {
	repo := &mockFieldRepo{}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	r := chi.NewRouter()
	r.Put("/fields/{fieldID}", handler.HandleUpdate)

	body := createFieldBody(t, "Renamed Paddock", "wheat", 45.2, 8.3)
	req := httptest.NewRequest(http.MethodPut, "/fields/fld_123", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	updated := repo.lastUpdated
	require.NotNil(t, updated)
	assert.Equal(t, "fld_123", updated.ID)
	assert.Equal(t, "Renamed Paddock", updated.Name)
	assert.Equal(t, "wheat", updated.Crop)
}

func TestFieldHandler_Update_ArchivedFieldNotFound(t *testing.T) {
	repo := &mockFieldRepo{
		updateFn: func(ctx context.Context, field *types.Field) error {
			return types.NewAppError(types.ErrCodeNotFoundField, "field not found", nil)
		},
	}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	r := chi.NewRouter()
	r.Put("/fields/{fieldID}", handler.HandleUpdate)

	body := createFieldBody(t, "Renamed Paddock", "", 45.2, 8.3)
	req := httptest.NewRequest(http.MethodPut, "/fields/fld_archived", bytes.NewReader(body))
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFieldHandler_Archive_Success(t *testing.T) {
	var archivedID, archivedOrg string
	repo := &mockFieldRepo{
		archiveFn: func(ctx context.Context, id string, orgID string) error {
			archivedID, archivedOrg = id, orgID
			return nil
		},
	}
	handler := newTestFieldHandler(repo, &mockLimitChecker{}, nil)

	r := chi.NewRouter()
	r.Delete("/fields/{fieldID}", handler.HandleArchive)

	req := httptest.NewRequest(http.MethodDelete, "/fields/fld_123", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "fld_123", archivedID)
	assert.Equal(t, "org_123", archivedOrg)
}

func TestFieldHandler_RegisterRoutes(t *testing.T) {
	handler := newTestFieldHandler(&mockFieldRepo{}, &mockLimitChecker{}, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/fields", nil)
	req = req.WithContext(fieldContextWithActor("org_123"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
