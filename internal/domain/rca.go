package domain

import "time"

// Run status values recorded on every RCA.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

type RCAIncident struct {
	ID               string `json:"sys_id"`
	Number           string `json:"number,omitempty"`
	ShortDescription string `json:"short_description"`
	Category         string `json:"category,omitempty"`
}

type RCAInvestigation struct {
	RootCause     string   `json:"root_cause"`
	EvidenceScore float64  `json:"evidence_score"`
	FindingsCount int      `json:"findings_count"`
	KeyFindings   []string `json:"key_findings"`
}

type RCARemediation struct {
	Action  string         `json:"action_taken"`
	Success bool           `json:"action_success"`
	Details map[string]any `json:"action_details,omitempty"`
}

type RCADecision struct {
	Outcome         Decision `json:"outcome"`
	Score           float64  `json:"score"`
	Reasoning       string   `json:"reasoning"`
	OverrideApplied bool     `json:"override_applied"`
}

// RCA is the audit record of one pipeline run. It is built once and never
// modified; stages that did not run are nil.
type RCA struct {
	RunID            string            `json:"run_id"`
	Status           string            `json:"status"`
	AbortReason      string            `json:"abort_reason,omitempty"`
	Incident         RCAIncident       `json:"incident"`
	Classification   *Classification   `json:"classification,omitempty"`
	Investigation    *RCAInvestigation `json:"investigation,omitempty"`
	Remediation      *RCARemediation   `json:"remediation,omitempty"`
	Decision         RCADecision       `json:"decision"`
	StartedAt        time.Time         `json:"started_at"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
}

// PartialResults carries whatever stage outputs existed when a run aborted.
type PartialResults struct {
	Classification *Classification `json:"classification,omitempty"`
	Investigation  *Investigation  `json:"investigation,omitempty"`
	Action         *ActionResult   `json:"action,omitempty"`
}

// Disposition is the externally reported outcome of one run.
type Disposition struct {
	IncidentID        string          `json:"incident_id"`
	RunID             string          `json:"run_id"`
	Intent            Intent          `json:"intent"`
	Confidence        float64         `json:"confidence"`
	Decision          Decision        `json:"decision"`
	Score             float64         `json:"score"`
	Reasoning         string          `json:"reasoning"`
	OverrideApplied   bool            `json:"override_applied"`
	RCALocation       string          `json:"rca_location"`
	ActionsTaken      []ActionResult  `json:"actions_taken"`
	ProcessingTimeMS  int64           `json:"processing_time_ms"`
	Error             string          `json:"error,omitempty"`
	ValidationWarning string          `json:"validation_warning,omitempty"`
	PartialResults    *PartialResults `json:"partial_results,omitempty"`
}
