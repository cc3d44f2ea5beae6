package triage

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"triagebot/internal/domain"
)

func TestOfflineClassify(t *testing.T) {
	cases := []struct {
		text string
		want domain.Intent
	}{
		{"EMR step failed on cluster j-2AXXXXXXGAPLF", domain.IntentEMRFailure},
		{"Glue job 'etl-daily-load' failed with OutOfMemory error", domain.IntentGlueETLFailure},
		{"Glue job failed: AccessDenied on s3://raw-zone", domain.IntentAccessDenied},
		{"Kafka consumer group lagging, events failed", domain.IntentKafkaEventsFailed},
		{"Athena query timed out", domain.IntentAthenaFailure},
		{"MWAA environment unhealthy", domain.IntentMWAAFailure},
		{"CloudWatch alarm on DAG duration", domain.IntentDAGAlarm},
		{"Airflow DAG sales_daily failed", domain.IntentDAGFailure},
		{"Batch auto-recovery failed for nightly load", domain.IntentBatchAutoRecoveryFailed},
		{"Source file landed with zero records", domain.IntentSourceZeroData},
		{"Vendor feed unreachable since 02:00", domain.IntentDataNotAvailable},
		{"Partition for 2024-01-15 missing", domain.IntentDataMissing},
		{"Printer on floor 3 is jammed", domain.IntentUnknown},
		// Whole-word matching: "remr" and "dagger" are not service names.
		{"remr dagger", domain.IntentUnknown},
	}

	for _, tc := range cases {
		got := Offline{}.Classify(domain.Incident{ShortDescription: tc.text})
		if got.Intent != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.text, got.Intent, tc.want)
		}
		wantConf := offlineMatchConfidence
		if tc.want == domain.IntentUnknown {
			wantConf = offlineUnknownConfidence
		}
		if got.Confidence != wantConf {
			t.Fatalf("Classify(%q) confidence = %v, want %v", tc.text, got.Confidence, wantConf)
		}
	}
}

func TestOfflineClassifyUsesCategory(t *testing.T) {
	got := Offline{}.Classify(domain.Incident{ShortDescription: "Job failed overnight", Category: "Glue"})
	if got.Intent != domain.IntentGlueETLFailure {
		t.Fatalf("expected category to be considered, got %s", got.Intent)
	}
}

func TestOfflineInvestigate(t *testing.T) {
	emr := Offline{}.Investigate(domain.Classification{Intent: domain.IntentEMRFailure}, domain.Incident{})
	if emr.RootCause != "EMR step exceeded memory allocation" || emr.EvidenceScore != 0.7 || !emr.RetryRecommended {
		t.Fatalf("unexpected EMR investigation: %+v", emr)
	}
	if len(emr.Findings) != 1 || string(emr.Findings[0].Result) != `{"mock":true}` {
		t.Fatalf("unexpected EMR findings: %+v", emr.Findings)
	}

	// Callers may modify what they get back without touching the table.
	emr.Findings[0].Summary = "changed"
	again := Offline{}.Investigate(domain.Classification{Intent: domain.IntentEMRFailure}, domain.Incident{})
	if again.Findings[0].Summary != "EMR step failed with OutOfMemoryError" {
		t.Fatalf("offline table was mutated through a result")
	}

	def := Offline{}.Investigate(domain.Classification{Intent: domain.IntentAthenaFailure}, domain.Incident{})
	if def.RootCause != "Unable to determine - mock mode" || def.EvidenceScore != 0.3 || def.RetryRecommended {
		t.Fatalf("unexpected default investigation: %+v", def)
	}
	if def.Findings == nil {
		t.Fatalf("default findings must be an empty list, not nil")
	}
}

func TestOfflineAct(t *testing.T) {
	cases := []struct {
		recommended string
		want        domain.ActionResult
	}{
		{
			recommended: "retry_emr with same step configuration",
			want: domain.ActionResult{Action: "retry_emr", Success: true, Details: map[string]any{
				"resource_id": "j-MOCKCLUSTER", "new_execution_id": "s-MOCKNEWSTEP", "status": "PENDING",
			}},
		},
		{
			recommended: "Retry_Glue_Job",
			want: domain.ActionResult{Action: "retry_glue_job", Success: true, Details: map[string]any{
				"resource_id": "mock-glue-job", "new_execution_id": "jr_mock123", "status": "RUNNING",
			}},
		},
		{
			recommended: "retry_airflow_dag",
			want: domain.ActionResult{Action: "retry_airflow_dag", Success: true, Details: map[string]any{
				"resource_id": "mock_dag", "new_execution_id": "manual__2024-01-15T00:00:00+00:00", "status": "queued",
			}},
		},
		{
			recommended: "restart the kafka connector",
			want: domain.ActionResult{Action: domain.ActionNone, Success: true, Details: map[string]any{
				"reason": "No matching action found in mock mode",
			}},
		},
	}

	for _, tc := range cases {
		got := Offline{}.Act(domain.Investigation{RecommendedAction: tc.recommended, RetryRecommended: true}, domain.Incident{})
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("Act(%q) mismatch (-want +got):\n%s", tc.recommended, diff)
		}
	}
}
