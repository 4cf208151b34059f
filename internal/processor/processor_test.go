package processor

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/internal/storage"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func testSpin(prizeWei string) *models.SpinResult {
	prize, _ := new(big.Int).SetString(prizeWei, 10)
	return &models.SpinResult{
		Player:      common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Reels:       [3]uint8{3, 1, 5},
		Prize:       prize,
		TxHash:      common.HexToHash("0x1234"),
		LogIndex:    2,
		BlockNumber: 10,
	}
}

func TestSpinToEntry(t *testing.T) {
	entry := SpinToEntry(testSpin("2500000000000000000"))

	assert.Equal(t, "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", entry.PlayerAddress)
	assert.Equal(t, models.TransactionTypeSpin, entry.TransactionType)
	assert.True(t, entry.Amount.IsZero())
	require.NotNil(t, entry.WinAmount)
	assert.Equal(t, "2.5", entry.WinAmount.String())
	require.NotNil(t, entry.SlotResult)
	assert.Equal(t, "3-1-5", *entry.SlotResult)
	require.NotNil(t, entry.TxHash)
	assert.Equal(t, common.HexToHash("0x1234").Hex(), *entry.TxHash)
	require.NotNil(t, entry.LogIndex)
	assert.Equal(t, uint(2), *entry.LogIndex)
	assert.NoError(t, entry.Validate())
}

func TestRecordSpinOnceUnderRedelivery(t *testing.T) {
	store := newStore(t)
	manager := metrics.NewManager()
	recorder := NewLedgerRecorder(store, manager, nil)
	ctx := context.Background()

	id, err := recorder.RecordSpin(ctx, testSpin("0"))
	require.NoError(t, err)

	again, err := recorder.RecordSpin(ctx, testSpin("0"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
	assert.Equal(t, id, again)

	page, err := store.Page(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), page.TotalElements)
	assert.Equal(t, "0", page.Content[0].WinAmount.String())

	stats := recorder.GetStats()
	assert.Equal(t, uint64(1), stats.Recorded)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, id, stats.LastRecordedID)

	pm := manager.GetPrometheusMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.LedgerInsertsTotal.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.LedgerInsertsTotal.WithLabelValues("duplicate")))
}

type flakyStorage struct {
	storage.Storage
	failures int
	calls    int
}

func (f *flakyStorage) InsertIfAbsent(ctx context.Context, key models.IdempotencyKey, entry *models.LedgerEntry) (int64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to insert ledger entry", errors.New("database is locked"))
	}
	return f.Storage.InsertIfAbsent(ctx, key, entry)
}

func TestRecordSpinRetriesTransientFailures(t *testing.T) {
	flaky := &flakyStorage{Storage: newStore(t), failures: 2}
	recorder := NewLedgerRecorder(flaky, nil, &ProcessorConfig{RetryAttempts: 2, RetryDelay: time.Millisecond})

	_, err := recorder.RecordSpin(context.Background(), testSpin("1"))
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRecordSpinGivesUpAfterRetries(t *testing.T) {
	flaky := &flakyStorage{Storage: newStore(t), failures: 10}
	recorder := NewLedgerRecorder(flaky, nil, &ProcessorConfig{RetryAttempts: 1, RetryDelay: time.Millisecond})

	_, err := recorder.RecordSpin(context.Background(), testSpin("1"))
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeDatabase, utils.ErrorCode(err))
	assert.Equal(t, 2, flaky.calls)

	stats := recorder.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Contains(t, stats.LastError, "database is locked")
}
