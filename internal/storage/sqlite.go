// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

const defaultBusyTimeoutMs = 5000

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage").WithField("backend", "sqlite"),
		migrations: GetSQLiteMigrations(),
	}
}

// sqliteDSN splits a connection string into the file path and a DSN carrying
// WAL journaling and a busy timeout so concurrent writers wait instead of failing
func sqliteDSN(conn string, busyTimeoutMs int64) (path, dsn string) {
	path = strings.TrimPrefix(conn, "file:")
	query := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}

	params := []string{}
	if query != "" {
		params = append(params, query)
	}
	if !strings.Contains(query, "busy_timeout") {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeoutMs))
	}
	if !strings.Contains(query, "journal_mode") {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return path, "file:" + path + "?" + strings.Join(params, "&")
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	busyTimeout := int64(defaultBusyTimeoutMs)
	if s.config.BusyTimeout > 0 {
		busyTimeout = s.config.BusyTimeout.Milliseconds()
	}
	path, dsn := sqliteDSN(s.config.ConnectionString, busyTimeout)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	// Configure connection pool
	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(max(1, s.config.MaxConnections/2))
	}
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	s.db = db
	s.logger.WithField("path", path).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	s.logger.Info("Starting database migrations")
	if err := applyMigrations(s.db, s.migrations, func(int) string { return "?" }, s.logger); err != nil {
		return err
	}
	s.logger.Info("Database migrations completed")
	return nil
}

const sqliteInsert = `
	INSERT INTO transactions
	(player_address, transaction_type, amount, win_amount, slot_result, tx_hash, log_index, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// Insert appends an entry and returns its assigned ID
func (s *SQLiteStorage) Insert(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	if err := prepareEntry(entry, nil); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeValidation, "Invalid ledger entry", err)
	}

	result, err := s.db.ExecContext(ctx, sqliteInsert, entryArgs(entry)...)
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to insert ledger entry", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read inserted id", err)
	}
	entry.ID = id
	return id, nil
}

// InsertIfAbsent appends an entry unless its (tx_hash, log_index) pair is already stored
func (s *SQLiteStorage) InsertIfAbsent(ctx context.Context, key models.IdempotencyKey, entry *models.LedgerEntry) (int64, error) {
	if err := prepareEntry(entry, &key); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeValidation, "Invalid ledger entry", err)
	}

	result, err := s.db.ExecContext(ctx, sqliteInsert+" ON CONFLICT (tx_hash, log_index) DO NOTHING", entryArgs(entry)...)
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to insert ledger entry", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read affected rows", err)
	}

	if affected == 0 {
		var existing int64
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM transactions WHERE tx_hash = ? AND log_index = ?",
			key.TxHash, int64(key.LogIndex)).Scan(&existing)
		if err != nil {
			return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to look up existing ledger entry", err)
		}
		entry.ID = existing
		return existing, ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read inserted id", err)
	}
	entry.ID = id
	return id, nil
}

// Page returns one page of entries, newest first. The count and the rows are read in one transaction.
func (s *SQLiteStorage) Page(ctx context.Context, pageIndex, pageSize int) (*models.Page, error) {
	if pageIndex < 0 || pageSize < 1 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid page request",
			fmt.Sprintf("page=%d size=%d", pageIndex, pageSize))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin read transaction", err)
	}
	defer tx.Rollback()

	var total int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&total); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count ledger entries", err)
	}

	offset, inRange := pageOffset(pageIndex, pageSize, total)
	if !inRange {
		return models.NewPage(nil, total, pageIndex, pageSize), nil
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM transactions ORDER BY id DESC LIMIT ? OFFSET ?",
		pageSize, offset)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query ledger entries", err)
	}
	defer rows.Close()

	content := make([]*models.LedgerEntry, 0, pageSize)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan ledger entry", err)
		}
		content = append(content, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read ledger entries", err)
	}

	return models.NewPage(content, total, pageIndex, pageSize), nil
}

// GetStorageStats returns row count and the newest entry
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{Backend: "sqlite"}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&stats.TotalEntries); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count ledger entries", err)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM transactions ORDER BY id DESC LIMIT 1")
	latest, err := scanEntry(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read latest ledger entry", err)
	default:
		stats.LatestID = latest.ID
		stats.LatestEntry = &latest.Timestamp
	}

	return stats, nil
}

// GetHealth pings the database and reports the result
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return checkHealth(s.Ping)
}
