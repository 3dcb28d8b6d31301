package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a SQLite table. The table carries no
// UPDATE or DELETE path; the schema is append-only by construction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		sequence INTEGER PRIMARY KEY,
		ts DATETIME NOT NULL,
		tenant_id TEXT NOT NULL,
		system_id TEXT NOT NULL,
		task_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		risk_score REAL NOT NULL,
		categories JSON,
		confidence REAL NOT NULL,
		policy_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		auth_tag TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	categories, err := json.Marshal(entry.Categories)
	if err != nil {
		return fmt.Errorf("ledger: marshal categories: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (sequence, ts, tenant_id, system_id, task_hash,
			outcome, risk_score, categories, confidence, policy_hash, prev_hash, auth_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Sequence, entry.Timestamp, entry.TenantID, entry.SystemID, entry.TaskHash,
		entry.Outcome, entry.RiskScore, categories, entry.Confidence, entry.PolicyHash,
		entry.PrevHash, entry.AuthTag)
	if err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return nil
}

// All implements Store.
func (s *SQLiteStore) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, ts, tenant_id, system_id, task_hash, outcome, risk_score,
			categories, confidence, policy_hash, prev_hash, auth_tag
		FROM ledger_entries ORDER BY sequence
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var categories []byte
		if err := rows.Scan(&entry.Sequence, &entry.Timestamp, &entry.TenantID,
			&entry.SystemID, &entry.TaskHash, &entry.Outcome, &entry.RiskScore,
			&categories, &entry.Confidence, &entry.PolicyHash, &entry.PrevHash,
			&entry.AuthTag); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		if len(categories) > 0 {
			if err := json.Unmarshal(categories, &entry.Categories); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal categories: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
