package domain

import "encoding/json"

// Classification is the output of the classification stage.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Error      string  `json:"error,omitempty"`
}

// Finding is one diagnostic observation. Result is kept opaque; only its
// error field is ever inspected.
type Finding struct {
	Tool    string          `json:"tool"`
	Result  json.RawMessage `json:"result"`
	Summary string          `json:"summary"`
}

// Investigation is the output of the investigation stage. EvidenceScore is
// the oracle's self-reported value; the policy engine re-derives its own.
type Investigation struct {
	Findings          []Finding `json:"findings"`
	RootCause         string    `json:"root_cause"`
	EvidenceScore     float64   `json:"evidence_score"`
	RetryRecommended  bool      `json:"retry_recommended"`
	RecommendedAction string    `json:"recommended_action"`
	Error             string    `json:"error,omitempty"`
}

// ActionNone marks a run where no remediation was attempted.
const ActionNone = "none"

// Action values produced when the action stage itself fails.
const (
	ActionError            = "error"
	ActionValidationFailed = "validation_failed"
)

// ActionResult is the output of the action stage.
type ActionResult struct {
	Action  string         `json:"action"`
	Success bool           `json:"success"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Attempted reports whether a remediation was tried. Only ActionNone
// means nothing was tried.
func (a ActionResult) Attempted() bool {
	return a.Action != ActionNone
}

// ComponentScores records the inputs the policy engine combined.
type ComponentScores struct {
	IntentConfidence float64 `json:"intent_confidence"`
	EvidenceScore    float64 `json:"evidence_score"`
	ActionAttempted  bool    `json:"action_attempted"`
	ActionSuccess    bool    `json:"action_success"`
}

// PolicyDecision is the single decision rendered per incident.
type PolicyDecision struct {
	Decision        Decision        `json:"decision"`
	Score           float64         `json:"score"`
	OverrideApplied bool            `json:"override_applied"`
	OverrideType    string          `json:"override_type,omitempty"`
	Reasoning       string          `json:"reasoning"`
	ComponentScores ComponentScores `json:"component_scores"`
}
