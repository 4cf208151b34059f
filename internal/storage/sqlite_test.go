package storage

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

const testPlayer = "0x00000000000000000000000000000000000000aa"

func newTestSQLite(t *testing.T, path string) *SQLiteStorage {
	t.Helper()
	s := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: path,
		MaxConnections:   4,
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func spinEntry(win string, slot string) *models.LedgerEntry {
	w := decimal.RequireFromString(win)
	return &models.LedgerEntry{
		PlayerAddress:   testPlayer,
		TransactionType: models.TransactionTypeSpin,
		Amount:          decimal.Zero,
		WinAmount:       &w,
		SlotResult:      &slot,
	}
}

func TestSQLiteInsertAssignsIncreasingIDs(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	first, err := s.Insert(ctx, spinEntry("0", "1-2-3"))
	require.NoError(t, err)
	second, err := s.Insert(ctx, spinEntry("2.5", "3-1-5"))
	require.NoError(t, err)

	assert.Greater(t, second, first)
}

func TestSQLiteInsertRejectsInvalidEntry(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))

	entry := spinEntry("1", "1-2-3")
	entry.SlotResult = nil

	_, err := s.Insert(context.Background(), entry)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))
}

func TestSQLiteRoundTripPreservesFields(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	key := models.IdempotencyKey{TxHash: "0xabc", LogIndex: 7}
	id, err := s.InsertIfAbsent(ctx, key, spinEntry("123456789.000000000000000001", "3-1-5"))
	require.NoError(t, err)

	page, err := s.Page(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Content, 1)

	got := page.Content[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, testPlayer, got.PlayerAddress)
	assert.Equal(t, models.TransactionTypeSpin, got.TransactionType)
	assert.True(t, got.Amount.IsZero())
	require.NotNil(t, got.WinAmount)
	assert.Equal(t, "123456789.000000000000000001", got.WinAmount.String())
	require.NotNil(t, got.SlotResult)
	assert.Equal(t, "3-1-5", *got.SlotResult)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, "0xabc", *got.TxHash)
	require.NotNil(t, got.LogIndex)
	assert.Equal(t, uint(7), *got.LogIndex)
	assert.False(t, got.Timestamp.IsZero())
}

func TestSQLiteInsertIfAbsentIsIdempotent(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()
	key := models.IdempotencyKey{TxHash: "0xdead", LogIndex: 0}

	id, err := s.InsertIfAbsent(ctx, key, spinEntry("1", "1-1-1"))
	require.NoError(t, err)

	again, err := s.InsertIfAbsent(ctx, key, spinEntry("1", "1-1-1"))
	require.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, id, again)

	// Same transaction, different log: a separate event
	_, err = s.InsertIfAbsent(ctx, models.IdempotencyKey{TxHash: "0xdead", LogIndex: 1}, spinEntry("1", "1-1-1"))
	require.NoError(t, err)

	page, err := s.Page(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalElements)
}

func TestSQLiteConcurrentDuplicateDelivery(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()
	key := models.IdempotencyKey{TxHash: "0xbeef", LogIndex: 3}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		inserted   int
		duplicates int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertIfAbsent(ctx, key, spinEntry("1", "2-2-2"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case assert.ErrorIs(t, err, ErrAlreadyExists):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 7, duplicates)
}

func TestSQLiteConcurrentInsertsGetDistinctIDs(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.IdempotencyKey{TxHash: fmt.Sprintf("0x%02x", i), LogIndex: 0}
			id, err := s.InsertIfAbsent(ctx, key, spinEntry("0", "1-2-3"))
			assert.NoError(t, err)
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 20)
}

func TestSQLitePagination(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	ids := make([]int64, 0, 25)
	for i := 0; i < 25; i++ {
		id, err := s.Insert(ctx, spinEntry("0", "1-2-3"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	first, err := s.Page(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, first.Content, 10)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, int64(25), first.TotalElements)
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, 10, first.Size)
	assert.Equal(t, ids[24], first.Content[0].ID)
	for i := 1; i < len(first.Content); i++ {
		assert.Greater(t, first.Content[i-1].ID, first.Content[i].ID)
	}

	last, err := s.Page(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, last.Content, 5)
	assert.Equal(t, ids[4], last.Content[0].ID)
	assert.Equal(t, ids[0], last.Content[4].ID)

	beyond, err := s.Page(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond.Content)
	assert.NotNil(t, beyond.Content)
	assert.Equal(t, int64(25), beyond.TotalElements)
	assert.Equal(t, 3, beyond.TotalPages)
	assert.Equal(t, 5, beyond.Number)
}

func TestSQLitePageHugeIndexIsEmpty(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := s.Insert(ctx, spinEntry("0", "1-2-3"))
		require.NoError(t, err)
	}

	for _, index := range []int{1 << 62, math.MaxInt64 / 10, math.MaxInt64} {
		page, err := s.Page(ctx, index, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Content, "page %d", index)
		assert.Equal(t, int64(25), page.TotalElements)
		assert.Equal(t, 3, page.TotalPages)
		assert.Equal(t, index, page.Number)
	}
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		name      string
		pageIndex int
		pageSize  int
		total     int64
		offset    int64
		inRange   bool
	}{
		{"first page", 0, 10, 25, 0, true},
		{"last partial page", 2, 10, 25, 20, true},
		{"one past last", 3, 10, 25, 0, false},
		{"exact multiple", 1, 10, 20, 10, true},
		{"exact multiple past end", 2, 10, 20, 0, false},
		{"empty store", 0, 10, 0, 0, false},
		{"overflowing product", 1 << 62, 10, 25, 0, false},
		{"max index and size", math.MaxInt64, math.MaxInt64, 25, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, inRange := pageOffset(tt.pageIndex, tt.pageSize, tt.total)
			assert.Equal(t, tt.inRange, inRange)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestSQLitePageEmptyStore(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))

	page, err := s.Page(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Content)
	assert.Equal(t, 0, page.TotalPages)
	assert.Equal(t, int64(0), page.TotalElements)
}

func TestSQLitePageRejectsInvalidParams(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))

	_, err := s.Page(context.Background(), -1, 10)
	assert.Error(t, err)
	_, err = s.Page(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestSQLiteDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	s := NewSQLiteStorage(&StorageConfig{Type: "sqlite", ConnectionString: path})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	id, err := s.InsertIfAbsent(ctx, models.IdempotencyKey{TxHash: "0x01", LogIndex: 0}, spinEntry("0.5", "5-5-5"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestSQLite(t, path)
	page, err := reopened.Page(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, id, page.Content[0].ID)

	// Migrations already applied must not run again
	require.NoError(t, reopened.Migrate())

	_, err = reopened.InsertIfAbsent(ctx, models.IdempotencyKey{TxHash: "0x01", LogIndex: 0}, spinEntry("0.5", "5-5-5"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSQLiteStorageStats(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	stats, err := s.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalEntries)
	assert.Nil(t, stats.LatestEntry)

	id, err := s.Insert(ctx, spinEntry("0", "1-2-3"))
	require.NoError(t, err)

	stats, err = s.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, int64(1), stats.TotalEntries)
	assert.Equal(t, id, stats.LatestID)
	assert.NotNil(t, stats.LatestEntry)

	assert.True(t, s.GetHealth().Healthy)
}

func TestSQLiteDSN(t *testing.T) {
	path, dsn := sqliteDSN("./data/ledger.db", 5000)
	assert.Equal(t, "./data/ledger.db", path)
	assert.Equal(t, "file:./data/ledger.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)

	path, dsn = sqliteDSN("file:/tmp/x.db?_pragma=busy_timeout(100)", 5000)
	assert.Equal(t, "/tmp/x.db", path)
	assert.Equal(t, "file:/tmp/x.db?_pragma=busy_timeout(100)&_pragma=journal_mode(WAL)", dsn)
}
