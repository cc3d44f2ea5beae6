package triage

import "triagebot/internal/domain"

const maxKeyFindings = 5

// BuildRCA aggregates the stage outputs of one run into its audit record.
// Stages that did not run are passed as nil and left out. Run metadata
// (id, status, timing) is filled in by the caller.
func BuildRCA(inc domain.Incident, cls *domain.Classification, inv *domain.Investigation, act *domain.ActionResult, dec domain.PolicyDecision) domain.RCA {
	rca := domain.RCA{
		Incident: domain.RCAIncident{
			ID:               inc.ID,
			Number:           inc.Number,
			ShortDescription: inc.ShortDescription,
			Category:         inc.Category,
		},
		Decision: domain.RCADecision{
			Outcome:         dec.Decision,
			Score:           dec.Score,
			Reasoning:       dec.Reasoning,
			OverrideApplied: dec.OverrideApplied,
		},
	}

	if cls != nil {
		c := *cls
		rca.Classification = &c
	}

	if inv != nil {
		keyFindings := make([]string, 0, min(len(inv.Findings), maxKeyFindings))
		for _, f := range inv.Findings {
			if len(keyFindings) == maxKeyFindings {
				break
			}
			keyFindings = append(keyFindings, f.Summary)
		}
		rca.Investigation = &domain.RCAInvestigation{
			RootCause:     inv.RootCause,
			EvidenceScore: inv.EvidenceScore,
			FindingsCount: len(inv.Findings),
			KeyFindings:   keyFindings,
		}
	}

	if act != nil {
		rca.Remediation = &domain.RCARemediation{
			Action:  act.Action,
			Success: act.Success,
			Details: act.Details,
		}
	}
	return rca
}
