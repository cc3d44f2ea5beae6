package domain

// ToolName identifies a diagnostic or remediation tool exposed by the tool
// gateway.
type ToolName string

const (
	ToolGetEMRLogs         ToolName = "get_emr_logs"
	ToolGetGlueLogs        ToolName = "get_glue_logs"
	ToolGetMWAALogs        ToolName = "get_mwaa_logs"
	ToolGetCloudWatchAlarm ToolName = "get_cloudwatch_alarm"
	ToolGetAthenaQuery     ToolName = "get_athena_query"
	ToolVerifySourceData   ToolName = "verify_source_data"
	ToolGetS3Logs          ToolName = "get_s3_logs"
	ToolRetryEMR           ToolName = "retry_emr"
	ToolRetryGlueJob       ToolName = "retry_glue_job"
	ToolRetryAirflowDAG    ToolName = "retry_airflow_dag"
	ToolRetryAthenaQuery   ToolName = "retry_athena_query"
	ToolRetryKafka         ToolName = "retry_kafka"
)

// ToolKind separates read-only diagnostics from state-changing remediations.
type ToolKind int

const (
	ToolKindUnknown ToolKind = iota
	ToolKindDiagnostic
	ToolKindRemediation
)

var toolKinds = map[ToolName]ToolKind{
	ToolGetEMRLogs:         ToolKindDiagnostic,
	ToolGetGlueLogs:        ToolKindDiagnostic,
	ToolGetMWAALogs:        ToolKindDiagnostic,
	ToolGetCloudWatchAlarm: ToolKindDiagnostic,
	ToolGetAthenaQuery:     ToolKindDiagnostic,
	ToolVerifySourceData:   ToolKindDiagnostic,
	ToolGetS3Logs:          ToolKindDiagnostic,
	ToolRetryEMR:           ToolKindRemediation,
	ToolRetryGlueJob:       ToolKindRemediation,
	ToolRetryAirflowDAG:    ToolKindRemediation,
	ToolRetryAthenaQuery:   ToolKindRemediation,
	ToolRetryKafka:         ToolKindRemediation,
}

func (t ToolName) Kind() ToolKind {
	return toolKinds[t]
}

// intentTools lists, per intent, the tools recommended to the investigation
// oracle in the order they should be tried.
var intentTools = map[Intent][]ToolName{
	IntentEMRFailure:              {ToolGetEMRLogs, ToolRetryEMR},
	IntentGlueETLFailure:          {ToolGetGlueLogs, ToolRetryGlueJob},
	IntentMWAAFailure:             {ToolGetMWAALogs, ToolRetryAirflowDAG},
	IntentDAGFailure:              {ToolGetMWAALogs, ToolRetryAirflowDAG},
	IntentDAGAlarm:                {ToolGetMWAALogs, ToolGetCloudWatchAlarm},
	IntentAthenaFailure:           {ToolGetAthenaQuery, ToolRetryAthenaQuery},
	IntentKafkaEventsFailed:       {ToolRetryKafka},
	IntentDataMissing:             {ToolVerifySourceData, ToolGetS3Logs},
	IntentSourceZeroData:          {ToolVerifySourceData, ToolGetS3Logs},
	IntentDataNotAvailable:        {ToolVerifySourceData, ToolGetS3Logs},
	IntentAccessDenied:            {ToolGetS3Logs, ToolGetCloudWatchAlarm},
	IntentBatchAutoRecoveryFailed: {ToolGetCloudWatchAlarm},
}

// RecommendedTools returns a copy of the tool list for an intent; unknown
// and unmapped intents get an empty list.
func RecommendedTools(intent Intent) []ToolName {
	tools := intentTools[intent]
	out := make([]ToolName, len(tools))
	copy(out, tools)
	return out
}
