package triage

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"triagebot/internal/domain"
)

const (
	maxDescriptionChars    = 500
	maxAdditionalInfoChars = 1000
	maxFindingsChars       = 2000
)

const fence = "```"

func classificationSystemPrompt() string {
	var taxonomy strings.Builder
	for _, info := range domain.Taxonomy {
		fmt.Fprintf(&taxonomy, "- **%s**: %s\n", info.Intent, info.Description)
	}

	return fmt.Sprintf(`You are an expert data-lake incident classifier. You analyze incident descriptions from the ticketing system and classify them into one of the predefined intent categories.

## Intent Taxonomy

%s
## Instructions

1. Analyze the incident short description and any additional context provided.
2. Identify keywords, error patterns and indicators that match the intent taxonomy.
3. Assign the most appropriate intent category.
4. Provide a confidence score between 0.0 and 1.0 based on how well the incident matches the category.
5. Include brief reasoning for your classification.

## Response Format

Respond with a JSON object in this exact format:

%sjson
{
    "intent": "<intent_category>",
    "confidence": <0.0-1.0>,
    "reasoning": "<brief explanation of classification>"
}
%s

## Confidence Guidelines

- **0.9-1.0**: Clear, unambiguous match with specific error codes or service names
- **0.7-0.9**: Strong match with good keyword indicators
- **0.5-0.7**: Moderate match, some ambiguity present
- **0.3-0.5**: Weak match, multiple possible categories
- **0.0-0.3**: Very uncertain, defaulting to best guess
`, taxonomy.String(), fence, fence)
}

func classificationPrompt(inc domain.Incident) string {
	return fmt.Sprintf(`Classify the following incident:

**Short Description**: %s

**Description**: %s

**Category**: %s
**Subcategory**: %s

Analyze this incident and provide your classification in JSON format.`,
		orNA(inc.ShortDescription),
		orNA(truncate(inc.Description, maxDescriptionChars)),
		orNA(inc.Category),
		orNA(inc.Subcategory))
}

func investigationSystemPrompt() string {
	return fmt.Sprintf(`You are an expert data-lake incident investigator. You gather evidence about incidents using the available diagnostic tools.

## Objectives

1. Based on the incident classification, use appropriate tools to gather evidence.
2. Look for error messages, stack traces and failure indicators.
3. Check data availability and job execution status.
4. Identify the root cause of the issue.
5. Determine whether a retry would be appropriate.

## Investigation Strategy

1. Start with the most relevant tool for the incident intent.
2. Look for error patterns and failure reasons.
3. If data-related, verify source data availability.
4. Gather enough evidence to determine the root cause.

## Response Format

After investigating, provide your findings in this JSON format:

%sjson
{
    "findings": [
        {
            "tool": "<tool_name>",
            "result": {},
            "summary": "<key finding from this tool>"
        }
    ],
    "root_cause": "<identified root cause>",
    "evidence_score": <0.0-1.0>,
    "retry_recommended": <true/false>,
    "recommended_action": "<specific action if retry is recommended>"
}
%s

## Evidence Score Guidelines

- **0.8-1.0**: Clear root cause identified with strong evidence
- **0.6-0.8**: Likely root cause with supporting evidence
- **0.4-0.6**: Possible root cause, some uncertainty
- **0.2-0.4**: Weak evidence, multiple possibilities
- **0.0-0.2**: Unable to determine root cause
`, fence, fence)
}

func investigationPrompt(cls domain.Classification, inc domain.Incident) string {
	recommended := "Search the available tools for appropriate ones"
	if tools := domain.RecommendedTools(cls.Intent); len(tools) > 0 {
		names := make([]string, len(tools))
		for i, t := range tools {
			names[i] = string(t)
		}
		recommended = strings.Join(names, ", ")
	}

	info := "{}"
	if len(inc.AdditionalInfo) > 0 {
		if raw, err := json.MarshalIndent(inc.AdditionalInfo, "", "  "); err == nil {
			info = truncate(string(raw), maxAdditionalInfoChars)
		}
	}

	return fmt.Sprintf(`Investigate the following incident:

**Incident Details**:
- Short Description: %s
- Category: %s
- Sys ID: %s

**Classification**:
- Intent: %s
- Confidence: %.2f
- Reasoning: %s

**Recommended Tools**: %s

**Additional Context from Incident**:
%s

Investigate this incident using the available tools. Start with the recommended tools and gather evidence to identify the root cause. If the incident mentions specific resource IDs (cluster IDs, job names), use those in your tool calls.
`,
		orNA(inc.ShortDescription),
		orNA(inc.Category),
		orNA(inc.ID),
		cls.Intent,
		cls.Confidence,
		orNA(cls.Reasoning),
		recommended,
		info)
}

func actionSystemPrompt() string {
	return fmt.Sprintf(`You are a data-lake remediation executor. You execute remediation actions based on investigation findings.

## Objectives

1. Evaluate whether an action should be taken based on the investigation results.
2. Execute the appropriate retry or validation action.
3. Report success or failure.

## Available Actions

### Retry Actions
- %[1]s: Retry a failed EMR step
- %[2]s: Restart a Glue job
- %[3]s: Trigger a DAG re-run
- %[4]s: Re-execute an Athena query
- %[5]s: Retry Kafka event processing

## Action Guidelines

1. Only execute actions if the investigation recommends it.
2. Use specific resource IDs from the investigation findings.
3. For retries, make sure the original failure was transient and not a code bug.
4. Do NOT retry if the error indicates a permanent failure (permissions, code bugs).

## Response Format

After executing, report the result in this JSON format:

%[6]sjson
{
    "action": "<action_taken or 'none'>",
    "success": <true/false>,
    "details": {
        "resource_id": "<resource that was acted upon>",
        "new_execution_id": "<new job/step ID if applicable>",
        "status": "<current status of retry>"
    },
    "error": "<error message if failed, null otherwise>"
}
%[6]s
`,
		domain.ToolRetryEMR,
		domain.ToolRetryGlueJob,
		domain.ToolRetryAirflowDAG,
		domain.ToolRetryAthenaQuery,
		domain.ToolRetryKafka,
		fence)
}

func actionPrompt(inv domain.Investigation, inc domain.Incident) string {
	findings := "[]"
	if len(inv.Findings) > 0 {
		if raw, err := json.MarshalIndent(inv.Findings, "", "  "); err == nil {
			findings = truncate(string(raw), maxFindingsChars)
		}
	}

	return fmt.Sprintf(`Execute the recommended action for this incident:

**Root Cause**: %s

**Recommended Action**: %s

**Investigation Findings**:
%s

**Incident Info**:
- Sys ID: %s
- Description: %s

Call the appropriate action tool with the correct parameters based on the investigation findings. If the findings include specific resource IDs (cluster_id, job_name), use those.
`,
		inv.RootCause,
		inv.RecommendedAction,
		findings,
		orNA(inc.ID),
		orNA(inc.ShortDescription))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
