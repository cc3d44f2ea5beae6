package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/oracle"
	"triagebot/internal/schema"
)

func decodeClassification(t *testing.T, doc schema.Document) domain.Classification {
	t.Helper()
	if ok, reason := schema.Validate(doc, schema.Intent); !ok {
		t.Fatalf("classification failed its contract: %s", reason)
	}
	var cls domain.Classification
	if err := schema.Decode(doc, &cls); err != nil {
		t.Fatalf("decode classification: %v", err)
	}
	return cls
}

func decodeAction(t *testing.T, doc schema.Document) domain.ActionResult {
	t.Helper()
	if ok, reason := schema.Validate(doc, schema.Action); !ok {
		t.Fatalf("action failed its contract: %s", reason)
	}
	var act domain.ActionResult
	if err := schema.Decode(doc, &act); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	return act
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		answer        string
		err           error
		want          domain.Classification
		wantReasoning string
	}{
		{
			name:   "fenced answer",
			answer: "Here you go:\n```json\n{\"intent\": \"athena_failure\", \"confidence\": 0.82, \"reasoning\": \"query id present\"}\n```",
			want:   domain.Classification{Intent: domain.IntentAthenaFailure, Confidence: 0.82, Reasoning: "query id present"},
		},
		{
			name:   "intent outside taxonomy is capped",
			answer: `{"intent": "network_outage", "confidence": 0.95, "reasoning": "vpc"}`,
			want:   domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.5, Reasoning: "vpc"},
		},
		{
			name:   "low confidence outside taxonomy keeps its value",
			answer: `{"intent": "network_outage", "confidence": 0.2}`,
			want:   domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.2},
		},
		{
			name:          "no json",
			answer:        "I think this is an EMR problem.",
			want:          domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.1},
			wantReasoning: "Classification failed validation: ",
		},
		{
			name:          "unterminated fence after case-changing runes",
			answer:        strings.Repeat("Ⱥ", 8) + "```json",
			want:          domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.1},
			wantReasoning: "Classification failed validation: ",
		},
		{
			name:   "fenced answer after case-changing runes",
			answer: "İİİİ\n```json\n{\"intent\": \"emr_failure\", \"confidence\": 0.7}\n```",
			want:   domain.Classification{Intent: domain.IntentEMRFailure, Confidence: 0.7},
		},
		{
			name:          "confidence out of range",
			answer:        `{"intent": "emr_failure", "confidence": 1.7}`,
			want:          domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.1},
			wantReasoning: "Classification failed validation: schema validation failed for intent",
		},
		{
			name:          "oracle error",
			err:           errors.New("connection reset"),
			want:          domain.Classification{Intent: domain.IntentUnknown, Confidence: 0, Error: "connection reset"},
			wantReasoning: "Classification error: connection reset",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &fakeOracle{answers: map[stage]string{stageClassify: tc.answer}, errs: map[stage]error{stageClassify: tc.err}}
			c := NewClassifier(o, nil, zerolog.Nop())

			got := decodeClassification(t, c.Classify(context.Background(), domain.Incident{ID: "INC1", ShortDescription: "query failed"}))
			if tc.wantReasoning != "" {
				if !strings.HasPrefix(got.Reasoning, tc.wantReasoning) {
					t.Fatalf("reasoning: got %q want prefix %q", got.Reasoning, tc.wantReasoning)
				}
				got.Reasoning = ""
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("classification mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyUnavailableUsesFallback(t *testing.T) {
	o := &fakeOracle{errs: map[stage]error{stageClassify: fmt.Errorf("anthropic: %w", oracle.ErrUnavailable)}}
	c := NewClassifier(o, Offline{}, zerolog.Nop())

	got := decodeClassification(t, c.Classify(context.Background(), domain.Incident{ShortDescription: "Glue job failed"}))
	if got.Intent != domain.IntentGlueETLFailure || got.Confidence != 0.5 {
		t.Fatalf("expected offline glue classification, got %+v", got)
	}
}

func TestInvestigatePassesAnswerThrough(t *testing.T) {
	o := &fakeOracle{
		tools:   true,
		answers: map[stage]string{stageInvestigate: `{"findings": [{"tool": "get_emr_logs", "result": "text"}], "evidence_score": 2}`},
	}
	inv := NewInvestigator(o, defaultToolset(), nil, zerolog.Nop())

	doc := inv.Investigate(context.Background(), domain.Classification{Intent: domain.IntentEMRFailure}, domain.Incident{})
	if _, ok := doc["root_cause"]; ok {
		t.Fatalf("investigator must not invent a root cause: %v", doc)
	}
	if ok, _ := schema.Validate(doc, schema.Investigation); ok {
		t.Fatalf("malformed answer should fail the investigation contract")
	}
}

func TestInvestigateUnparseableAnswerDegrades(t *testing.T) {
	o := &fakeOracle{tools: true, answers: map[stage]string{stageInvestigate: "The logs were inconclusive."}}
	inv := NewInvestigator(o, defaultToolset(), nil, zerolog.Nop())

	doc := inv.Investigate(context.Background(), domain.Classification{Intent: domain.IntentEMRFailure}, domain.Incident{})
	if ok, reason := schema.Validate(doc, schema.Investigation); !ok {
		t.Fatalf("degraded answer failed its contract: %s", reason)
	}
	var got domain.Investigation
	if err := schema.Decode(doc, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(got.RootCause, "Investigation incomplete: ") || got.EvidenceScore != 0.2 || got.RetryRecommended {
		t.Fatalf("unexpected degraded investigation: %+v", got)
	}
}

func TestInvestigateWithoutToolsUsesFallback(t *testing.T) {
	cases := []struct {
		name  string
		o     oracle.Oracle
		tools oracle.Toolset
	}{
		{"no oracle", nil, defaultToolset()},
		{"oracle without tool use", &fakeOracle{}, defaultToolset()},
		{"no toolset", &fakeOracle{tools: true}, nil},
		{"empty toolset", &fakeOracle{tools: true}, fakeToolset{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := NewInvestigator(tc.o, tc.tools, nil, zerolog.Nop())
			doc := inv.Investigate(context.Background(), domain.Classification{Intent: domain.IntentGlueETLFailure}, domain.Incident{})
			if doc["root_cause"] != "Glue job exceeded timeout threshold" {
				t.Fatalf("expected offline glue investigation, got %v", doc)
			}
			if f, ok := tc.o.(*fakeOracle); ok && len(f.calls(stageInvestigate)) != 0 {
				t.Fatalf("oracle should not be called in degraded mode")
			}
		})
	}
}

func TestActGates(t *testing.T) {
	cases := []struct {
		name       string
		inv        domain.Investigation
		wantReason string
	}{
		{
			name:       "retry not recommended",
			inv:        domain.Investigation{RootCause: "EMR step exceeded memory allocation", RecommendedAction: "retry_emr"},
			wantReason: "No action recommended",
		},
		{
			name:       "permission problem",
			inv:        domain.Investigation{RootCause: "Role lacks s3:GetObject: Access Denied", RetryRecommended: true, RecommendedAction: "retry_glue_job"},
			wantReason: "Permanent failure detected, action would not help",
		},
		{
			name:       "schema mismatch",
			inv:        domain.Investigation{RootCause: "Schema mismatch between source and target tables", RetryRecommended: true, RecommendedAction: "retry_glue_job"},
			wantReason: "Permanent failure detected, action would not help",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &fakeOracle{tools: true, answers: map[stage]string{stageAct: `{"action": "retry_glue_job", "success": true}`}}
			a := NewActor(o, defaultToolset(), nil, zerolog.Nop())

			got := decodeAction(t, a.Act(context.Background(), tc.inv, domain.Incident{}))
			if got.Action != domain.ActionNone || !got.Success {
				t.Fatalf("expected skipped action, got %+v", got)
			}
			if got.Details["reason"] != tc.wantReason {
				t.Fatalf("reason: got %v want %q", got.Details["reason"], tc.wantReason)
			}
			if len(o.calls(stageAct)) != 0 {
				t.Fatalf("oracle must not be called when the gate skips the action")
			}
		})
	}
}

func TestActFailures(t *testing.T) {
	retry := domain.Investigation{RootCause: "Glue job exceeded timeout threshold", RetryRecommended: true, RecommendedAction: "retry_glue_job"}

	cases := []struct {
		name       string
		answer     string
		err        error
		wantAction string
		wantError  string
	}{
		{"oracle error", "", errors.New("throttled"), domain.ActionError, "throttled"},
		{"unparseable answer", "done!", nil, domain.ActionValidationFailed, "no JSON found"},
		{"missing success", `{"action": "retry_glue_job"}`, nil, domain.ActionValidationFailed, "schema validation failed for action"},
		{"empty action name", `{"action": "", "success": true}`, nil, domain.ActionValidationFailed, "schema validation failed for action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &fakeOracle{tools: true, answers: map[stage]string{stageAct: tc.answer}, errs: map[stage]error{stageAct: tc.err}}
			a := NewActor(o, defaultToolset(), nil, zerolog.Nop())

			got := decodeAction(t, a.Act(context.Background(), retry, domain.Incident{}))
			if got.Action != tc.wantAction || got.Success {
				t.Fatalf("got %+v want failed %s", got, tc.wantAction)
			}
			if !strings.Contains(got.Error, tc.wantError) {
				t.Fatalf("error: got %q want it to contain %q", got.Error, tc.wantError)
			}
		})
	}
}

type panickingToolset struct{}

func (panickingToolset) Diagnostics(context.Context) ([]oracle.Tool, error) { return nil, nil }
func (panickingToolset) Remediations(context.Context) ([]oracle.Tool, error) {
	panic("toolset exploded")
}

func TestActRecoversPanic(t *testing.T) {
	retry := domain.Investigation{RootCause: "Glue job exceeded timeout threshold", RetryRecommended: true, RecommendedAction: "retry_glue_job"}
	a := NewActor(&fakeOracle{tools: true}, panickingToolset{}, nil, zerolog.Nop())

	got := decodeAction(t, a.Act(context.Background(), retry, domain.Incident{}))
	if got.Action != domain.ActionError || got.Error != "toolset exploded" {
		t.Fatalf("expected error action, got %+v", got)
	}
}

func TestPermanentFailure(t *testing.T) {
	cases := []struct {
		rootCause string
		want      string
	}{
		{"IAM role: Permission Denied on bucket", "permission denied"},
		{"Missing authorization header", "authorization"},
		{"SQL syntax error near SELECT", "syntax error"},
		{"Code bug in transform step", "code bug"},
		{"Invalid configuration for worker type", "invalid configuration"},
		{"Executor ran out of memory", ""},
	}
	for _, tc := range cases {
		got, ok := PermanentFailure(tc.rootCause)
		if got != tc.want || ok != (tc.want != "") {
			t.Fatalf("PermanentFailure(%q) = %q, %v; want %q", tc.rootCause, got, ok, tc.want)
		}
	}
}

func TestBuildRCA(t *testing.T) {
	findings := make([]domain.Finding, 7)
	for i := range findings {
		findings[i] = domain.Finding{Tool: "get_emr_logs", Result: json.RawMessage(`{}`), Summary: fmt.Sprintf("finding %d", i)}
	}
	inc := domain.Incident{ID: "abc", Number: "INC0010", ShortDescription: "EMR step failed", Category: "Data"}
	cls := &domain.Classification{Intent: domain.IntentEMRFailure, Confidence: 0.9, Reasoning: "emr"}
	inv := &domain.Investigation{Findings: findings, RootCause: "OOM", EvidenceScore: 0.7}
	act := &domain.ActionResult{Action: "retry_emr", Success: true, Details: map[string]any{"step": "s-1"}}
	dec := domain.PolicyDecision{Decision: domain.DecisionAutoClose, Score: 0.91, Reasoning: "ok"}

	got := BuildRCA(inc, cls, inv, act, dec)
	want := domain.RCA{
		Incident:       domain.RCAIncident{ID: "abc", Number: "INC0010", ShortDescription: "EMR step failed", Category: "Data"},
		Classification: &domain.Classification{Intent: domain.IntentEMRFailure, Confidence: 0.9, Reasoning: "emr"},
		Investigation: &domain.RCAInvestigation{
			RootCause:     "OOM",
			EvidenceScore: 0.7,
			FindingsCount: 7,
			KeyFindings:   []string{"finding 0", "finding 1", "finding 2", "finding 3", "finding 4"},
		},
		Remediation: &domain.RCARemediation{Action: "retry_emr", Success: true, Details: map[string]any{"step": "s-1"}},
		Decision:    domain.RCADecision{Outcome: domain.DecisionAutoClose, Score: 0.91, Reasoning: "ok"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("RCA mismatch (-want +got):\n%s", diff)
	}

	partial := BuildRCA(inc, cls, nil, nil, domain.PolicyDecision{Decision: domain.DecisionHumanReview})
	if partial.Investigation != nil || partial.Remediation != nil || partial.Classification == nil {
		t.Fatalf("partial RCA should only carry the classification: %+v", partial)
	}
}

func TestPrompts(t *testing.T) {
	inc := domain.Incident{
		ID:               "sys-1",
		ShortDescription: "EMR step failed",
		Description:      strings.Repeat("x", 800),
		AdditionalInfo:   map[string]any{"cluster_id": "j-123"},
	}

	p := classificationPrompt(inc)
	if strings.Contains(p, strings.Repeat("x", 501)) || !strings.Contains(p, strings.Repeat("x", 500)) {
		t.Fatalf("description should be cut to 500 characters")
	}
	if !strings.Contains(p, "**Category**: N/A") {
		t.Fatalf("missing category should render as N/A:\n%s", p)
	}

	sys := classificationSystemPrompt()
	for _, info := range domain.Taxonomy {
		if !strings.Contains(sys, "**"+string(info.Intent)+"**") {
			t.Fatalf("system prompt is missing intent %s", info.Intent)
		}
	}

	ip := investigationPrompt(domain.Classification{Intent: domain.IntentEMRFailure, Confidence: 0.8}, inc)
	if !strings.Contains(ip, "**Recommended Tools**: get_emr_logs, retry_emr") || !strings.Contains(ip, `"cluster_id": "j-123"`) {
		t.Fatalf("investigation prompt is missing context:\n%s", ip)
	}
	up := investigationPrompt(domain.Classification{Intent: domain.IntentUnknown}, inc)
	if !strings.Contains(up, "Search the available tools") {
		t.Fatalf("unknown intent should ask for tool search:\n%s", up)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	if got := truncate("héllo", 2); got != "h" {
		t.Fatalf("truncate split a rune: %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("short strings are unchanged, got %q", got)
	}
}
