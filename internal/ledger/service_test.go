package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/internal/storage"
)

func intPtr(v int) *int { return &v }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		req      PageRequest
		wantPage int
		wantSize int
	}{
		{"defaults", PageRequest{}, 0, 10},
		{"explicit", PageRequest{Page: intPtr(2), Size: intPtr(25)}, 2, 25},
		{"negative page", PageRequest{Page: intPtr(-3)}, 0, 10},
		{"zero size", PageRequest{Size: intPtr(0)}, 0, 10},
		{"negative size", PageRequest{Size: intPtr(-1)}, 0, 10},
		{"size capped", PageRequest{Size: intPtr(1000)}, 0, MaxPageSize},
		{"size at cap", PageRequest{Size: intPtr(MaxPageSize)}, 0, MaxPageSize},
		{"size one", PageRequest{Page: intPtr(7), Size: intPtr(1)}, 7, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size := Normalize(tt.req)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantSize, size)
		})
	}
}

func TestServiceList(t *testing.T) {
	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := store.Insert(ctx, &models.LedgerEntry{
			PlayerAddress:   "0x00000000000000000000000000000000000000aa",
			TransactionType: models.TransactionTypeDeposit,
			Amount:          decimal.NewFromInt(int64(i)),
		})
		require.NoError(t, err)
	}

	svc := NewService(store)

	page, err := svc.List(ctx, PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Content, 10)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, int64(12), page.TotalElements)
	assert.Equal(t, 0, page.Number)
	assert.Equal(t, "11", page.Content[0].Amount.String())

	page, err = svc.List(ctx, PageRequest{Page: intPtr(-5), Size: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Number)
	assert.Equal(t, 10, page.Size)

	page, err = svc.List(ctx, PageRequest{Page: intPtr(1), Size: intPtr(5)})
	require.NoError(t, err)
	assert.Len(t, page.Content, 5)
	assert.Equal(t, "6", page.Content[0].Amount.String())

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalEntries)
	assert.True(t, svc.Health().Healthy)
}
