package policy

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"triagebot/internal/domain"
)

// Engine turns stage outputs into a decision. Its tables are copied at
// construction and never change afterwards, so one Engine is shared by all
// concurrent runs.
type Engine struct {
	overrides  map[domain.Intent]domain.Decision
	thresholds Thresholds
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	overrides := make(map[domain.Intent]domain.Decision, len(cfg.Overrides))
	for intent, decision := range cfg.Overrides {
		overrides[intent] = decision
	}
	return &Engine{overrides: overrides, thresholds: cfg.Thresholds}, nil
}

// Override returns the forced decision for an intent, if any.
func (e *Engine) Override(intent domain.Intent) (domain.Decision, bool) {
	d, ok := e.overrides[intent]
	return d, ok
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Decide is deterministic and has no side effects.
func (e *Engine) Decide(cls domain.Classification, inv domain.Investigation, act domain.ActionResult) domain.PolicyDecision {
	if forced, ok := e.overrides[cls.Intent]; ok {
		return domain.PolicyDecision{
			Decision:        forced,
			Score:           cls.Confidence,
			OverrideApplied: true,
			OverrideType:    string(cls.Intent),
			Reasoning:       fmt.Sprintf("Policy override: %s always results in %s", cls.Intent, forced),
			ComponentScores: domain.ComponentScores{
				IntentConfidence: round3(cls.Confidence),
				ActionAttempted:  act.Attempted(),
				ActionSuccess:    act.Success,
			},
		}
	}

	evidence := EvidenceScore(inv)
	attempted := act.Attempted()
	combined := Combine(cls.Confidence, evidence, act)

	decision, reasoning := e.tier(combined, attempted, act.Success)

	if stageErr := firstNonEmpty(inv.Error, act.Error); stageErr != "" {
		if decision == domain.DecisionAutoClose || decision == domain.DecisionAutoRetry {
			decision = domain.DecisionEscalate
			reasoning = fmt.Sprintf("Errors occurred during processing: %s", stageErr)
		}
	}

	return domain.PolicyDecision{
		Decision:  decision,
		Score:     round3(combined),
		Reasoning: reasoning,
		ComponentScores: domain.ComponentScores{
			IntentConfidence: round3(cls.Confidence),
			EvidenceScore:    round3(evidence),
			ActionAttempted:  attempted,
			ActionSuccess:    act.Success,
		},
	}
}

// Combine weights confidence, evidence and action outcome into one score.
func Combine(confidence, evidence float64, act domain.ActionResult) float64 {
	if act.Attempted() {
		success := 0.0
		if act.Success {
			success = 1.0
		}
		return 0.4*confidence + 0.4*evidence + 0.2*success
	}
	return 0.5*confidence + 0.5*evidence
}

// tier maps a combined score to a decision, first match wins. A successful
// action in the retry tier resolves to auto_close.
func (e *Engine) tier(combined float64, attempted, success bool) (domain.Decision, string) {
	t := e.thresholds
	switch {
	case combined >= t.AutoClose && success:
		return domain.DecisionAutoClose, fmt.Sprintf("High confidence (%.2f) with successful action", combined)
	case combined >= t.AutoRetry && (success || !attempted):
		if attempted && success {
			return domain.DecisionAutoClose, fmt.Sprintf("Medium confidence (%.2f) with successful retry", combined)
		}
		return domain.DecisionAutoRetry, fmt.Sprintf("Medium confidence (%.2f), retry may resolve issue", combined)
	case combined >= t.Escalate:
		return domain.DecisionEscalate, fmt.Sprintf("Low confidence (%.2f), requires expert review", combined)
	default:
		return domain.DecisionHumanReview, fmt.Sprintf("Very low confidence (%.2f), manual review required", combined)
	}
}

// EvidenceScore re-derives evidence quality from the findings instead of
// trusting the self-reported score.
func EvidenceScore(inv domain.Investigation) float64 {
	base := inv.EvidenceScore
	if len(inv.Findings) == 0 {
		return clamp01(base * 0.5)
	}

	successful := 0
	for _, f := range inv.Findings {
		if findingSucceeded(f) {
			successful++
		}
	}
	ratio := float64(successful) / float64(len(inv.Findings))

	score := base*0.5 + ratio*0.3
	if ClearRootCause(inv.RootCause) {
		score += 0.2
	}
	return clamp01(score)
}

// ClearRootCause reports whether a root cause is specific enough to count
// as evidence. Length is measured in characters, not bytes.
func ClearRootCause(rootCause string) bool {
	return utf8.RuneCountInString(rootCause) > 20 && !strings.Contains(strings.ToLower(rootCause), "unknown")
}

// findingSucceeded treats a finding as successful when its result is
// non-empty and carries no truthy error field.
func findingSucceeded(f domain.Finding) bool {
	if len(f.Result) == 0 {
		return false
	}
	res := gjson.ParseBytes(f.Result)
	if !truthy(res) {
		return false
	}
	if res.IsObject() && truthy(res.Get("error")) {
		return false
	}
	return true
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		if r.IsArray() {
			return len(r.Array()) > 0
		}
		return len(r.Map()) > 0
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
