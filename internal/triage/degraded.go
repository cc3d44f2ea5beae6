package triage

import (
	"encoding/json"
	"strings"
	"unicode"

	"triagebot/internal/domain"
)

// ClassifyFallback classifies an incident when no classification oracle is
// configured.
type ClassifyFallback interface {
	Classify(inc domain.Incident) domain.Classification
}

// InvestigateFallback investigates when no tool-calling oracle or no
// diagnostic tools are available.
type InvestigateFallback interface {
	Investigate(cls domain.Classification, inc domain.Incident) domain.Investigation
}

// ActFallback remediates when no tool-calling oracle or no remediation tools
// are available.
type ActFallback interface {
	Act(inv domain.Investigation, inc domain.Incident) domain.ActionResult
}

// Offline is the deterministic degraded-mode provider for all three stages.
// Every answer comes from one of the tables below.
type Offline struct{}

var _ ClassifyFallback = Offline{}
var _ InvestigateFallback = Offline{}
var _ ActFallback = Offline{}

const (
	offlineMatchConfidence   = 0.5
	offlineUnknownConfidence = 0.1
)

type keywordRule struct {
	intent  domain.Intent
	phrases []string
}

// offlineKeywords is checked in order; the first rule with a phrase present
// in the incident text wins. Phrases match whole words.
var offlineKeywords = []keywordRule{
	{domain.IntentAccessDenied, []string{"access denied", "accessdenied", "permission denied", "unauthorized", "forbidden", "not authorized"}},
	{domain.IntentKafkaEventsFailed, []string{"kafka"}},
	{domain.IntentBatchAutoRecoveryFailed, []string{"auto recovery", "autorecovery", "batch recovery"}},
	{domain.IntentEMRFailure, []string{"emr"}},
	{domain.IntentGlueETLFailure, []string{"glue"}},
	{domain.IntentAthenaFailure, []string{"athena"}},
	{domain.IntentMWAAFailure, []string{"mwaa"}},
	{domain.IntentDAGAlarm, []string{"alarm"}},
	{domain.IntentDAGFailure, []string{"dag", "airflow"}},
	{domain.IntentSourceZeroData, []string{"zero records", "0 records", "zero rows", "0 rows", "empty file"}},
	{domain.IntentDataNotAvailable, []string{"not available", "unavailable", "unreachable", "not accessible"}},
	{domain.IntentDataMissing, []string{"missing", "not found", "no data"}},
}

func (Offline) Classify(inc domain.Incident) domain.Classification {
	text := " " + normalizeWords(strings.Join([]string{inc.ShortDescription, inc.Description, inc.Category, inc.Subcategory}, " ")) + " "
	for _, rule := range offlineKeywords {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, " "+phrase+" ") {
				return domain.Classification{
					Intent:     rule.intent,
					Confidence: offlineMatchConfidence,
					Reasoning:  "Offline keyword match: " + phrase,
				}
			}
		}
	}
	return domain.Classification{
		Intent:     domain.IntentUnknown,
		Confidence: offlineUnknownConfidence,
		Reasoning:  "Offline mode: no keyword matched",
	}
}

// normalizeWords lowercases s and collapses every run of non-alphanumeric
// characters into one space.
func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

var offlineInvestigations = map[domain.Intent]domain.Investigation{
	domain.IntentEMRFailure: {
		Findings: []domain.Finding{{
			Tool:    string(domain.ToolGetEMRLogs),
			Result:  json.RawMessage(`{"mock":true}`),
			Summary: "EMR step failed with OutOfMemoryError",
		}},
		RootCause:         "EMR step exceeded memory allocation",
		EvidenceScore:     0.7,
		RetryRecommended:  true,
		RecommendedAction: "retry_emr with same step configuration",
	},
	domain.IntentGlueETLFailure: {
		Findings: []domain.Finding{{
			Tool:    string(domain.ToolGetGlueLogs),
			Result:  json.RawMessage(`{"mock":true}`),
			Summary: "Glue job failed with timeout",
		}},
		RootCause:         "Glue job exceeded timeout threshold",
		EvidenceScore:     0.75,
		RetryRecommended:  true,
		RecommendedAction: "retry_glue_job",
	},
	domain.IntentDataMissing: {
		Findings: []domain.Finding{{
			Tool:    string(domain.ToolVerifySourceData),
			Result:  json.RawMessage(`{"mock":true,"verified":false}`),
			Summary: "Source data not found at expected path",
		}},
		RootCause:         "Upstream data pipeline did not produce output",
		EvidenceScore:     0.8,
		RetryRecommended:  false,
		RecommendedAction: "Investigate upstream pipeline",
	},
}

var offlineInvestigationDefault = domain.Investigation{
	Findings:      []domain.Finding{},
	RootCause:     "Unable to determine - mock mode",
	EvidenceScore: 0.3,
}

func (Offline) Investigate(cls domain.Classification, _ domain.Incident) domain.Investigation {
	inv, ok := offlineInvestigations[cls.Intent]
	if !ok {
		inv = offlineInvestigationDefault
	}
	findings := make([]domain.Finding, len(inv.Findings))
	copy(findings, inv.Findings)
	inv.Findings = findings
	return inv
}

type remediationRule struct {
	match   string
	action  domain.ToolName
	details map[string]any
}

// offlineRemediations is matched in order against the lowercased
// recommended action.
var offlineRemediations = []remediationRule{
	{"retry_emr", domain.ToolRetryEMR, map[string]any{
		"resource_id":      "j-MOCKCLUSTER",
		"new_execution_id": "s-MOCKNEWSTEP",
		"status":           "PENDING",
	}},
	{"retry_glue_job", domain.ToolRetryGlueJob, map[string]any{
		"resource_id":      "mock-glue-job",
		"new_execution_id": "jr_mock123",
		"status":           "RUNNING",
	}},
	{"retry_airflow_dag", domain.ToolRetryAirflowDAG, map[string]any{
		"resource_id":      "mock_dag",
		"new_execution_id": "manual__2024-01-15T00:00:00+00:00",
		"status":           "queued",
	}},
}

func (Offline) Act(inv domain.Investigation, _ domain.Incident) domain.ActionResult {
	recommended := strings.ToLower(inv.RecommendedAction)
	for _, rule := range offlineRemediations {
		if strings.Contains(recommended, rule.match) {
			details := make(map[string]any, len(rule.details))
			for k, v := range rule.details {
				details[k] = v
			}
			return domain.ActionResult{
				Action:  string(rule.action),
				Success: true,
				Details: details,
			}
		}
	}
	return domain.ActionResult{
		Action:  domain.ActionNone,
		Success: true,
		Details: map[string]any{"reason": "No matching action found in mock mode"},
	}
}
