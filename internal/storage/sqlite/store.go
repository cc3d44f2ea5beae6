// Package sqlite is the write-once RCA archive and the processed-incident
// ledger.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("RCA key already archived")
)

const keyTimeLayout = "20060102_150405"

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS rca_records (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		rca_key     TEXT NOT NULL UNIQUE,
		incident_id TEXT NOT NULL,
		run_id      TEXT NOT NULL,
		decision    TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'completed',
		document    TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rca_incident ON rca_records(incident_id, created_at);

	CREATE TABLE IF NOT EXISTS processed_incidents (
		incident_id  TEXT PRIMARY KEY,
		number       TEXT DEFAULT '',
		run_id       TEXT DEFAULT '',
		decision     TEXT DEFAULT '',
		rca_location TEXT DEFAULT '',
		processed_at DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Store archives RCA documents. Keys are never overwritten.
type Store struct {
	db     *sql.DB
	prefix string
	now    func() time.Time
}

func New(db *sql.DB, prefix string) *Store {
	return &Store{db: db, prefix: prefix, now: time.Now}
}

// Open initialises the database at path and returns a Store on it.
func Open(path, prefix string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, fmt.Errorf("open rca archive %s: %w", path, err)
	}
	return New(db, prefix), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RCAKey returns <prefix><incident_id>/<YYYYMMDD_HHMMSS>_rca.json.
func RCAKey(prefix, incidentID string, at time.Time) string {
	if incidentID == "" {
		incidentID = "unknown"
	}
	return fmt.Sprintf("%s%s/%s_rca.json", prefix, incidentID, at.UTC().Format(keyTimeLayout))
}

// Record is one archived RCA.
type Record struct {
	Key        string
	IncidentID string
	RunID      string
	Decision   string
	Status     string
	Document   json.RawMessage
	CreatedAt  time.Time
}
