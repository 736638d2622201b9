package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store persists a Log to a local SQLite file. Rows beyond the log's
// capacity are pruned on every append, so the file stays bounded too.
type Store struct {
	db  *sql.DB
	log *Log
}

// Open creates the file and table if needed and loads the newest entries.
func Open(ctx context.Context, path string, capacity int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS fax_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prescriber_id TEXT NOT NULL,
		prescriber_name TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		opportunity_ids TEXT NOT NULL,
		mode TEXT NOT NULL,
		file_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	s := &Store{db: db, log: NewLog(capacity)}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prescriber_id, prescriber_name, patient_id, opportunity_ids, mode, file_name, created_at
		FROM fax_history ORDER BY id DESC LIMIT ?`, s.log.Cap())
	if err != nil {
		return fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var newestFirst []Entry
	for rows.Next() {
		var (
			e                            Entry
			prescriberID, patientID, ids string
			created                      string
		)
		if err := rows.Scan(&prescriberID, &e.PrescriberName, &patientID, &ids, &e.Mode, &e.FileName, &created); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		if e.PrescriberID, err = uuid.Parse(prescriberID); err != nil {
			return fmt.Errorf("decode prescriber id: %w", err)
		}
		if e.PatientID, err = uuid.Parse(patientID); err != nil {
			return fmt.Errorf("decode patient id: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &e.OpportunityIDs); err != nil {
			return fmt.Errorf("decode opportunity ids: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return fmt.Errorf("decode created_at: %w", err)
		}
		newestFirst = append(newestFirst, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := len(newestFirst) - 1; i >= 0; i-- {
		s.log.Add(newestFirst[i])
	}
	return nil
}

// Append records e and drops rows that no longer fit.
func (s *Store) Append(ctx context.Context, e Entry) error {
	ids, err := json.Marshal(e.OpportunityIDs)
	if err != nil {
		return fmt.Errorf("encode opportunity ids: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fax_history (prescriber_id, prescriber_name, patient_id, opportunity_ids, mode, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.PrescriberID.String(), e.PrescriberName, e.PatientID.String(), string(ids),
		e.Mode, e.FileName, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM fax_history WHERE id NOT IN (
			SELECT id FROM fax_history ORDER BY id DESC LIMIT ?
		)`, s.log.Cap()); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	s.log.Add(e)
	return nil
}

// Entries returns the retained entries, most recent first.
func (s *Store) Entries() []Entry { return s.log.Entries() }

func (s *Store) Close() error { return s.db.Close() }
