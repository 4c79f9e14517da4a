package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS logs (
	block_number INTEGER NOT NULL,
	tx_hash      TEXT    NOT NULL,
	log_index    INTEGER NOT NULL,
	address      TEXT    NOT NULL,
	topics       TEXT    NOT NULL,
	data         TEXT    NOT NULL,
	removed      INTEGER NOT NULL DEFAULT 0,
	event_name   TEXT,
	params       TEXT,
	UNIQUE (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS idx_logs_block ON logs (block_number);
CREATE INDEX IF NOT EXISTS idx_logs_address ON logs (address);
`

// SQLiteWriter persists records into a local SQLite database. Each batch
// runs in one transaction; the unique constraint on (tx_hash, log_index)
// makes re-runs over already written ranges idempotent.
type SQLiteWriter struct {
	db        *sqlx.DB
	finalized bool
	logger    *zap.Logger
}

// NewSQLiteWriter opens (or creates) the database and ensures the schema
func NewSQLiteWriter(path string, logger *zap.Logger) (*SQLiteWriter, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteWriter{db: db, logger: logger}, nil
}

func (w *SQLiteWriter) WriteLogs(records []entities.LogRecord) error {
	if w.finalized {
		return fmt.Errorf("write after finalize")
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := w.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO logs
		(block_number, tx_hash, log_index, address, topics, data, removed, event_name, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		params := ""
		if len(rec.Params) > 0 {
			encoded, err := json.Marshal(rec.Params)
			if err != nil {
				return fmt.Errorf("failed to encode params: %w", err)
			}
			params = string(encoded)
		}

		_, err := stmt.Exec(
			rec.BlockNumber,
			rec.TxHash,
			rec.LogIndex,
			rec.Address,
			strings.Join(rec.Topics, ";"),
			rec.Data,
			rec.Removed,
			rec.EventName,
			params,
		)
		if err != nil {
			return fmt.Errorf("failed to insert log record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (w *SQLiteWriter) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	return nil
}

var _ Writer = (*SQLiteWriter)(nil)
