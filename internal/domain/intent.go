package domain

// Intent is a root-cause category from the fixed taxonomy.
type Intent string

const (
	IntentDAGFailure              Intent = "dag_failure"
	IntentDAGAlarm                Intent = "dag_alarm"
	IntentMWAAFailure             Intent = "mwaa_failure"
	IntentGlueETLFailure          Intent = "glue_etl_failure"
	IntentAthenaFailure           Intent = "athena_failure"
	IntentEMRFailure              Intent = "emr_failure"
	IntentKafkaEventsFailed       Intent = "kafka_events_failed"
	IntentDataMissing             Intent = "data_missing"
	IntentSourceZeroData          Intent = "source_zero_data"
	IntentDataNotAvailable        Intent = "data_not_available"
	IntentBatchAutoRecoveryFailed Intent = "batch_auto_recovery_failed"
	IntentAccessDenied            Intent = "access_denied"
	IntentUnknown                 Intent = "unknown"
)

// IntentInfo pairs a taxonomy member with the description shown to the
// classification oracle.
type IntentInfo struct {
	Intent      Intent
	Description string
}

// Taxonomy is ordered; prompts render it in this order.
var Taxonomy = []IntentInfo{
	{IntentDAGFailure, "Airflow DAG execution failed or errored"},
	{IntentDAGAlarm, "CloudWatch alarm triggered for DAG metrics"},
	{IntentMWAAFailure, "MWAA environment or Airflow service failure"},
	{IntentGlueETLFailure, "AWS Glue ETL job failure or error"},
	{IntentAthenaFailure, "Athena query execution failure"},
	{IntentEMRFailure, "EMR cluster or step failure"},
	{IntentKafkaEventsFailed, "Kafka event processing or consumer failure"},
	{IntentDataMissing, "Expected data not found in target location"},
	{IntentSourceZeroData, "Source data exists but contains zero records"},
	{IntentDataNotAvailable, "Data source not accessible or unreachable"},
	{IntentBatchAutoRecoveryFailed, "Automated batch recovery process failed"},
	{IntentAccessDenied, "Permission or IAM access denied errors"},
	{IntentUnknown, "Cannot determine specific category"},
}

var knownIntents = func() map[Intent]bool {
	m := make(map[Intent]bool, len(Taxonomy))
	for _, info := range Taxonomy {
		m[info.Intent] = true
	}
	return m
}()

// Known reports whether the intent is a taxonomy member (unknown included).
func (i Intent) Known() bool {
	return knownIntents[i]
}

// Decision is the externally visible disposition of an incident.
type Decision string

const (
	DecisionAutoClose   Decision = "auto_close"
	DecisionAutoRetry   Decision = "auto_retry"
	DecisionEscalate    Decision = "escalate"
	DecisionHumanReview Decision = "human_review"
)

// Decisions lists every disposition, highest trust first.
var Decisions = []Decision{DecisionAutoClose, DecisionAutoRetry, DecisionEscalate, DecisionHumanReview}

// Valid reports whether d is one of the four dispositions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAutoClose, DecisionAutoRetry, DecisionEscalate, DecisionHumanReview:
		return true
	}
	return false
}

// Trust orders decisions: auto_close (3) > auto_retry (2) > escalate (1) > human_review (0).
func (d Decision) Trust() int {
	switch d {
	case DecisionAutoClose:
		return 3
	case DecisionAutoRetry:
		return 2
	case DecisionEscalate:
		return 1
	default:
		return 0
	}
}
