package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/oracle"
	"triagebot/internal/schema"
)

// permanentFailurePhrases mark root causes a retry cannot fix.
var permanentFailurePhrases = []string{
	"permission denied",
	"access denied",
	"authorization",
	"syntax error",
	"compilation error",
	"code bug",
	"schema mismatch",
	"invalid configuration",
}

// Actor executes the remediation an investigation recommends.
type Actor struct {
	oracle   oracle.Oracle
	tools    oracle.Toolset
	fallback ActFallback
	log      zerolog.Logger
}

func NewActor(o oracle.Oracle, tools oracle.Toolset, fallback ActFallback, log zerolog.Logger) *Actor {
	if fallback == nil {
		fallback = Offline{}
	}
	return &Actor{oracle: o, tools: tools, fallback: fallback, log: log}
}

// Act never panics and never returns an error; failures are reported in the
// result's error field.
func (a *Actor) Act(ctx context.Context, inv domain.Investigation, inc domain.Incident) (doc schema.Document) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("incident_id", inc.ID).Msg("action stage panicked")
			doc = mustDocument(actionError(fmt.Sprintf("%v", r)))
		}
	}()
	return mustDocument(a.act(ctx, inv, inc))
}

func (a *Actor) act(ctx context.Context, inv domain.Investigation, inc domain.Incident) domain.ActionResult {
	if !inv.RetryRecommended {
		a.log.Info().Str("incident_id", inc.ID).Msg("no action recommended by investigation")
		return domain.ActionResult{
			Action:  domain.ActionNone,
			Success: true,
			Details: map[string]any{"reason": "No action recommended"},
		}
	}
	if phrase, ok := PermanentFailure(inv.RootCause); ok {
		a.log.Info().Str("incident_id", inc.ID).Str("indicator", phrase).Msg("permanent failure detected, skipping action")
		return domain.ActionResult{
			Action:  domain.ActionNone,
			Success: true,
			Details: map[string]any{
				"reason":     "Permanent failure detected, action would not help",
				"root_cause": inv.RootCause,
			},
		}
	}

	remediations := a.availableTools(ctx, inc)
	if len(remediations) == 0 {
		return a.fallback.Act(inv, inc)
	}

	completion, err := a.oracle.Complete(ctx, oracle.Request{
		System: actionSystemPrompt(),
		Prompt: actionPrompt(inv, inc),
		Tools:  remediations,
	})
	if errors.Is(err, oracle.ErrUnavailable) {
		a.log.Warn().Str("incident_id", inc.ID).Msg("action oracle unavailable, using offline table")
		return a.fallback.Act(inv, inc)
	}
	if err != nil {
		a.log.Error().Err(err).Str("incident_id", inc.ID).Msg("action oracle failed")
		return actionError(err.Error())
	}

	result, err := parseAction(completion.Text)
	if err != nil {
		a.log.Warn().Err(err).Str("incident_id", inc.ID).Msg("action failed validation")
		return domain.ActionResult{
			Action:  domain.ActionValidationFailed,
			Success: false,
			Details: map[string]any{},
			Error:   err.Error(),
		}
	}
	return result
}

// PermanentFailure reports the first permanent-failure phrase found in the
// root cause, matched case-insensitively.
func PermanentFailure(rootCause string) (string, bool) {
	lower := strings.ToLower(rootCause)
	for _, phrase := range permanentFailurePhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func parseAction(text string) (domain.ActionResult, error) {
	doc, err := schema.ExtractJSON(text)
	if err != nil {
		return domain.ActionResult{}, err
	}
	if ok, reason := schema.Validate(doc, schema.Action); !ok {
		return domain.ActionResult{}, errors.New(reason)
	}
	var result domain.ActionResult
	if err := schema.Decode(doc, &result); err != nil {
		return domain.ActionResult{}, err
	}
	return result, nil
}

func actionError(msg string) domain.ActionResult {
	return domain.ActionResult{
		Action:  domain.ActionError,
		Success: false,
		Details: map[string]any{},
		Error:   msg,
	}
}

func (a *Actor) availableTools(ctx context.Context, inc domain.Incident) []oracle.Tool {
	if a.oracle == nil || !a.oracle.SupportsTools() || a.tools == nil {
		a.log.Debug().Str("incident_id", inc.ID).Msg("no tool-calling oracle, using offline remediation")
		return nil
	}
	tools, err := a.tools.Remediations(ctx)
	if err != nil {
		a.log.Warn().Err(err).Str("incident_id", inc.ID).Msg("list remediation tools failed, using offline remediation")
		return nil
	}
	if len(tools) == 0 {
		a.log.Warn().Str("incident_id", inc.ID).Msg("no remediation tools available, using offline remediation")
	}
	return tools
}
