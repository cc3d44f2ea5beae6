package sqlite

import (
	"context"
	"time"
)

// ProcessedIncident records that an incident has been through the pipeline
// so the poller does not pick it up again.
type ProcessedIncident struct {
	IncidentID  string
	Number      string
	RunID       string
	Decision    string
	RCALocation string
	ProcessedAt time.Time
}

func (s *Store) IsProcessed(ctx context.Context, incidentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_incidents WHERE incident_id = ?`, incidentID).Scan(&count)
	return count > 0, err
}

// MarkProcessed records the latest run for an incident, replacing any
// earlier entry.
func (s *Store) MarkProcessed(ctx context.Context, p ProcessedIncident) error {
	if p.ProcessedAt.IsZero() {
		p.ProcessedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_incidents (incident_id, number, run_id, decision, rca_location, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(incident_id) DO UPDATE SET
		   number = excluded.number,
		   run_id = excluded.run_id,
		   decision = excluded.decision,
		   rca_location = excluded.rca_location,
		   processed_at = excluded.processed_at`,
		p.IncidentID, p.Number, p.RunID, p.Decision, p.RCALocation, p.ProcessedAt.UTC(),
	)
	return err
}
