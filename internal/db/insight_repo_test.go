package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cropsense/internal/types"
)

func testPayload(generatedAt time.Time) *types.InsightPayload {
	return &types.InsightPayload{
		GeneratedAt: generatedAt,
		Location:    types.Location{Lat: 52.52, Lon: 13.405},
		WaterBalance: types.WaterBalanceResult{
			Level:        types.TankBalanced,
			NetBalanceMM: 2.5,
			WindowDays:   7,
		},
		SprayGuide: types.SprayGuideResult{
			Status: types.SprayStatusSafe,
		},
		RootHealth: types.RootHealthResult{
			State: types.RootHealthy,
		},
	}
}

func TestInsightRepository_Save_CompressesPayload(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewInsightRepository(db)
	require.NoError(t, err)

	ctx := context.Background()
	generatedAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	payload := testPayload(generatedAt)

	var captured []any
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Save(ctx, "fld_1", payload))
	require.Len(t, captured, 3)
	assert.Equal(t, "fld_1", captured[0])
	assert.Equal(t, generatedAt, captured[1])

	// The stored blob must round-trip through the repository's own decoder.
	compressed := captured[2].([]byte)
	raw, err := repo.decoder.DecodeAll(compressed, nil)
	require.NoError(t, err)

	var restored types.InsightPayload
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, types.TankBalanced, restored.WaterBalance.Level)
	assert.True(t, restored.GeneratedAt.Equal(generatedAt))
}

func TestInsightRepository_ListRecent_DecodesPayloads(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewInsightRepository(db)
	require.NoError(t, err)

	ctx := context.Background()
	t1 := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(-time.Hour)

	encode := func(p *types.InsightPayload) []byte {
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		return repo.encoder.EncodeAll(raw, nil)
	}

	rows := newMockRows([][]any{
		{"fld_1", t1, encode(testPayload(t1))},
		{"fld_1", t2, encode(testPayload(t2))},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	payloads, err := repo.ListRecent(ctx, "fld_1", 24)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.True(t, payloads[0].GeneratedAt.Equal(t1))
	assert.True(t, payloads[1].GeneratedAt.Equal(t2))
	assert.Equal(t, types.SprayStatusSafe, payloads[0].SprayGuide.Status)
}

func TestInsightRepository_ListRecent_CorruptBlob(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewInsightRepository(db)
	require.NoError(t, err)

	ctx := context.Background()
	rows := newMockRows([][]any{
		{"fld_1", time.Now().UTC(), []byte("definitely not zstd")},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err = repo.ListRecent(ctx, "fld_1", 24)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalArchive, appErr.Code)
}

func TestInsightRepository_Prune(t *testing.T) {
	db := new(mockDBTX)
	repo, err := NewInsightRepository(db)
	require.NoError(t, err)

	ctx := context.Background()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 42"), nil)

	n, err := repo.Prune(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
