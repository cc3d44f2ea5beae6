package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/oracle"
	"triagebot/internal/schema"
)

const incompleteEvidenceScore = 0.2

// Investigator gathers evidence for a classified incident through the
// diagnostic tools.
type Investigator struct {
	oracle   oracle.Oracle
	tools    oracle.Toolset
	fallback InvestigateFallback
	log      zerolog.Logger
}

// NewInvestigator returns an investigator. The fallback is used whenever the
// oracle cannot call tools or the toolset offers no diagnostics.
func NewInvestigator(o oracle.Oracle, tools oracle.Toolset, fallback InvestigateFallback, log zerolog.Logger) *Investigator {
	if fallback == nil {
		fallback = Offline{}
	}
	return &Investigator{oracle: o, tools: tools, fallback: fallback, log: log}
}

// Investigate returns the oracle's answer as decoded, without coercion, so a
// malformed answer reaches the orchestrator's validation gate.
func (i *Investigator) Investigate(ctx context.Context, cls domain.Classification, inc domain.Incident) schema.Document {
	diagnostics := i.availableTools(ctx, inc)
	if len(diagnostics) == 0 {
		return mustDocument(i.fallback.Investigate(cls, inc))
	}

	completion, err := i.oracle.Complete(ctx, oracle.Request{
		System: investigationSystemPrompt(),
		Prompt: investigationPrompt(cls, inc),
		Tools:  diagnostics,
	})
	if errors.Is(err, oracle.ErrUnavailable) {
		i.log.Warn().Str("incident_id", inc.ID).Msg("investigation oracle unavailable, using offline table")
		return mustDocument(i.fallback.Investigate(cls, inc))
	}
	if err != nil {
		i.log.Error().Err(err).Str("incident_id", inc.ID).Msg("investigation oracle failed")
		return mustDocument(domain.Investigation{
			Findings:  []domain.Finding{},
			RootCause: fmt.Sprintf("Investigation error: %v", err),
			Error:     err.Error(),
		})
	}

	i.log.Debug().Str("incident_id", inc.ID).Int("tool_calls", len(completion.ToolCalls)).Msg("investigation oracle answered")

	doc, err := schema.ExtractJSON(completion.Text)
	if err != nil {
		i.log.Warn().Err(err).Str("incident_id", inc.ID).Msg("investigation answer has no JSON object")
		return mustDocument(domain.Investigation{
			Findings:      []domain.Finding{},
			RootCause:     fmt.Sprintf("Investigation incomplete: %v", err),
			EvidenceScore: incompleteEvidenceScore,
		})
	}
	return doc
}

func (i *Investigator) availableTools(ctx context.Context, inc domain.Incident) []oracle.Tool {
	if i.oracle == nil || !i.oracle.SupportsTools() || i.tools == nil {
		i.log.Debug().Str("incident_id", inc.ID).Msg("no tool-calling oracle, using offline investigation")
		return nil
	}
	tools, err := i.tools.Diagnostics(ctx)
	if err != nil {
		i.log.Warn().Err(err).Str("incident_id", inc.ID).Msg("list diagnostic tools failed, using offline investigation")
		return nil
	}
	if len(tools) == 0 {
		i.log.Warn().Str("incident_id", inc.ID).Msg("no diagnostic tools available, using offline investigation")
	}
	return tools
}
