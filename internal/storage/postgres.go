package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage").WithField("backend", "postgres"),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err)
	}

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(max(1, p.config.MaxConnections/2))
	}
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	p.logger.Info("Starting database migrations")
	placeholder := func(n int) string { return fmt.Sprintf("$%d", n) }
	if err := applyMigrations(p.db, p.migrations, placeholder, p.logger); err != nil {
		return err
	}
	p.logger.Info("Database migrations completed")
	return nil
}

const postgresInsert = `
	INSERT INTO transactions
	(player_address, transaction_type, amount, win_amount, slot_result, tx_hash, log_index, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Insert appends an entry and returns its assigned ID
func (p *PostgreSQLStorage) Insert(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	if err := prepareEntry(entry, nil); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeValidation, "Invalid ledger entry", err)
	}

	var id int64
	if err := p.db.QueryRowContext(ctx, postgresInsert+" RETURNING id", entryArgs(entry)...).Scan(&id); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to insert ledger entry", err)
	}
	entry.ID = id
	return id, nil
}

// InsertIfAbsent appends an entry unless its (tx_hash, log_index) pair is already stored
func (p *PostgreSQLStorage) InsertIfAbsent(ctx context.Context, key models.IdempotencyKey, entry *models.LedgerEntry) (int64, error) {
	if err := prepareEntry(entry, &key); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeValidation, "Invalid ledger entry", err)
	}

	var id int64
	err := p.db.QueryRowContext(ctx,
		postgresInsert+" ON CONFLICT (tx_hash, log_index) DO NOTHING RETURNING id",
		entryArgs(entry)...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = p.db.QueryRowContext(ctx,
			"SELECT id FROM transactions WHERE tx_hash = $1 AND log_index = $2",
			key.TxHash, int64(key.LogIndex)).Scan(&id)
		if err != nil {
			return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to look up existing ledger entry", err)
		}
		entry.ID = id
		return id, ErrAlreadyExists
	}
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to insert ledger entry", err)
	}
	entry.ID = id
	return id, nil
}

// Page returns one page of entries, newest first, from a single repeatable-read snapshot
func (p *PostgreSQLStorage) Page(ctx context.Context, pageIndex, pageSize int) (*models.Page, error) {
	if pageIndex < 0 || pageSize < 1 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid page request",
			fmt.Sprintf("page=%d size=%d", pageIndex, pageSize))
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
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
		"SELECT "+entryColumns+" FROM transactions ORDER BY id DESC LIMIT $1 OFFSET $2",
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
func (p *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{Backend: "postgres"}

	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&stats.TotalEntries); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count ledger entries", err)
	}

	row := p.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM transactions ORDER BY id DESC LIMIT 1")
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
func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	return checkHealth(p.Ping)
}
