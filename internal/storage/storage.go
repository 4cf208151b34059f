// File: internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/casino-ledger/internal/models"
)

// ErrAlreadyExists is returned by InsertIfAbsent when a row with the same idempotency key is stored
var ErrAlreadyExists = errors.New("ledger entry already exists")

// Storage is the durable ledger. Rows are never updated or deleted through it.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Insert appends the entry, assigning its ID and Timestamp
	Insert(ctx context.Context, entry *models.LedgerEntry) (int64, error)
	// InsertIfAbsent appends the entry unless key is already stored, in which case it
	// returns the existing row's ID together with ErrAlreadyExists
	InsertIfAbsent(ctx context.Context, key models.IdempotencyKey, entry *models.LedgerEntry) (int64, error)
	// Page returns entries ordered by ID descending
	Page(ctx context.Context, pageIndex, pageSize int) (*models.Page, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	GetHealth() *StorageHealth
}

// StorageStats provides storage statistics
type StorageStats struct {
	Backend      string     `json:"backend"`
	TotalEntries int64      `json:"total_entries"`
	LatestID     int64      `json:"latest_id"`
	LatestEntry  *time.Time `json:"latest_entry,omitempty"`
}

// StorageHealth reports connectivity of the backing database
type StorageHealth struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	BusyTimeout      time.Duration `json:"busy_timeout"`
}

// prepareEntry stamps server-side fields and copies the idempotency key onto the row
func prepareEntry(entry *models.LedgerEntry, key *models.IdempotencyKey) error {
	if entry.TransactionType == "" {
		entry.TransactionType = models.TransactionTypeUnknown
	}
	if key != nil {
		txHash := key.TxHash
		logIndex := key.LogIndex
		entry.TxHash = &txHash
		entry.LogIndex = &logIndex
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	entry.Timestamp = time.Now().UTC()
	return nil
}

func checkHealth(ping func() error) *StorageHealth {
	start := time.Now()
	err := ping()
	health := &StorageHealth{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		health.Error = err.Error()
	}
	return health
}

// pageOffset reports the row offset of pageIndex and whether that page holds any rows.
// The index is compared against the last page before multiplying so huge indexes cannot overflow.
func pageOffset(pageIndex, pageSize int, total int64) (int64, bool) {
	if total <= 0 || pageIndex < 0 || pageSize <= 0 {
		return 0, false
	}
	lastPage := (total - 1) / int64(pageSize)
	if int64(pageIndex) > lastPage {
		return 0, false
	}
	return int64(pageIndex) * int64(pageSize), true
}

const entryColumns = "id, player_address, transaction_type, amount, win_amount, slot_result, tx_hash, log_index, timestamp"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		entry      models.LedgerEntry
		txType     string
		winAmount  decimal.NullDecimal
		slotResult sql.NullString
		txHash     sql.NullString
		logIndex   sql.NullInt64
	)
	if err := row.Scan(&entry.ID, &entry.PlayerAddress, &txType, &entry.Amount,
		&winAmount, &slotResult, &txHash, &logIndex, &entry.Timestamp); err != nil {
		return nil, err
	}

	entry.TransactionType = models.ParseTransactionType(txType)
	if winAmount.Valid {
		entry.WinAmount = &winAmount.Decimal
	}
	if slotResult.Valid {
		entry.SlotResult = &slotResult.String
	}
	if txHash.Valid {
		entry.TxHash = &txHash.String
	}
	if logIndex.Valid {
		idx := uint(logIndex.Int64)
		entry.LogIndex = &idx
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, nil
}

// entryArgs returns bind values in the column order used by the INSERT statements
func entryArgs(entry *models.LedgerEntry) []any {
	var winAmount decimal.NullDecimal
	if entry.WinAmount != nil {
		winAmount = decimal.NullDecimal{Decimal: *entry.WinAmount, Valid: true}
	}
	var logIndex sql.NullInt64
	if entry.LogIndex != nil {
		logIndex = sql.NullInt64{Int64: int64(*entry.LogIndex), Valid: true}
	}
	return []any{
		entry.PlayerAddress,
		string(entry.TransactionType),
		entry.Amount.String(),
		winAmount,
		nullString(entry.SlotResult),
		nullString(entry.TxHash),
		logIndex,
		entry.Timestamp,
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
