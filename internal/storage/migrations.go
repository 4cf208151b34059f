package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					player_address TEXT NOT NULL,
					transaction_type TEXT NOT NULL DEFAULT 'UNKNOWN',
					amount TEXT NOT NULL,
					win_amount TEXT,
					slot_result TEXT,
					tx_hash TEXT,
					timestamp DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_transactions_player ON transactions(player_address);
				CREATE INDEX IF NOT EXISTS idx_transactions_tx_hash ON transactions(tx_hash);
			`,
		},
		{
			Version:     "002",
			Description: "Add log index and idempotency key",
			SQL: `
				ALTER TABLE transactions ADD COLUMN log_index INTEGER;
				CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_source ON transactions(tx_hash, log_index);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id BIGSERIAL PRIMARY KEY,
					player_address VARCHAR(42) NOT NULL,
					transaction_type VARCHAR(16) NOT NULL DEFAULT 'UNKNOWN',
					amount NUMERIC(78, 18) NOT NULL,
					win_amount NUMERIC(78, 18),
					slot_result VARCHAR(32),
					tx_hash VARCHAR(66),
					timestamp TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_transactions_player ON transactions(player_address);
				CREATE INDEX IF NOT EXISTS idx_transactions_tx_hash ON transactions(tx_hash);
			`,
		},
		{
			Version:     "002",
			Description: "Add log index and idempotency key",
			SQL: `
				ALTER TABLE transactions ADD COLUMN IF NOT EXISTS log_index BIGINT;
				CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_source ON transactions(tx_hash, log_index);
			`,
		},
	}
}

// applyMigrations runs every migration not yet recorded in schema_migrations, each in its own transaction.
// placeholder renders the n-th bind parameter for the dialect.
func applyMigrations(db *sql.DB, migrations []*Migration, placeholder func(n int) string, logger *logrus.Entry) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(32) PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan migration version", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
	}

	record := fmt.Sprintf("INSERT INTO schema_migrations (version, description, applied_at) VALUES (%s, %s, %s)",
		placeholder(1), placeholder(2), placeholder(3))

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.Begin()
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin migration", err)
		}
		if _, err := tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return utils.WrapAppError(utils.ErrCodeDatabase, fmt.Sprintf("Migration %s failed", migration.Version), err)
		}
		if _, err := tx.Exec(record, migration.Version, migration.Description, time.Now().UTC()); err != nil {
			tx.Rollback()
			return utils.WrapAppError(utils.ErrCodeDatabase, fmt.Sprintf("Failed to record migration %s", migration.Version), err)
		}
		if err := tx.Commit(); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, fmt.Sprintf("Failed to commit migration %s", migration.Version), err)
		}
	}
	return nil
}
