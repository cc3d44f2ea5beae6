package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"triagebot/internal/domain"
)

// ArchiveRCA writes the record under a new key and returns the key. The
// insert is a single statement, so a failed write leaves nothing behind.
func (s *Store) ArchiveRCA(ctx context.Context, rca domain.RCA) (string, error) {
	createdAt := s.now().UTC()
	key := RCAKey(s.prefix, rca.Incident.ID, createdAt)

	doc, err := json.MarshalIndent(rca, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode rca: %w", err)
	}

	status := rca.Status
	if status == "" {
		status = domain.StatusCompleted
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rca_records (rca_key, incident_id, run_id, decision, status, document, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, rca.Incident.ID, rca.RunID, string(rca.Decision.Outcome), status, string(doc), createdAt,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return "", fmt.Errorf("%w: %s", ErrDuplicate, key)
		}
		return "", fmt.Errorf("insert rca %s: %w", key, err)
	}
	return key, nil
}

// LatestRCA returns the most recent record for an incident.
func (s *Store) LatestRCA(ctx context.Context, incidentID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT rca_key, incident_id, run_id, decision, status, document, created_at
		 FROM rca_records WHERE incident_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		incidentID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: rca for incident %s", ErrNotFound, incidentID)
	}
	return rec, err
}

// GetRCA returns the record stored under key.
func (s *Store) GetRCA(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT rca_key, incident_id, run_id, decision, status, document, created_at
		 FROM rca_records WHERE rca_key = ?`,
		key,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: rca %s", ErrNotFound, key)
	}
	return rec, err
}

// ListRCAs returns records newest first, optionally limited to one incident.
// Documents are not loaded.
func (s *Store) ListRCAs(ctx context.Context, incidentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT rca_key, incident_id, run_id, decision, status, created_at FROM rca_records`
	args := []any{}
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.IncidentID, &rec.RunID, &rec.Decision, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var doc string
	if err := row.Scan(&rec.Key, &rec.IncidentID, &rec.RunID, &rec.Decision, &rec.Status, &doc, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Document = json.RawMessage(doc)
	return rec, nil
}
