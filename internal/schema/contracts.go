package schema

// Contract names accepted by Validate.
const (
	Intent        = "intent"
	Investigation = "investigation"
	Action        = "action"
	Disposition   = "disposition"
)

var contracts = map[string]string{
	Intent: `{
  "type": "object",
  "properties": {
    "intent": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "error": {"type": ["string", "null"]}
  },
  "required": ["intent", "confidence"]
}`,
	Investigation: `{
  "type": "object",
  "properties": {
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "tool": {"type": "string"},
          "result": {"type": "object"},
          "summary": {"type": "string"}
        }
      }
    },
    "root_cause": {"type": "string"},
    "evidence_score": {"type": "number", "minimum": 0, "maximum": 1},
    "retry_recommended": {"type": "boolean"},
    "recommended_action": {"type": "string"},
    "error": {"type": ["string", "null"]}
  },
  "required": ["findings", "root_cause", "evidence_score"]
}`,
	Action: `{
  "type": "object",
  "properties": {
    "action": {"type": "string", "minLength": 1},
    "success": {"type": "boolean"},
    "details": {"type": "object"},
    "error": {"type": ["string", "null"]}
  },
  "required": ["action", "success"]
}`,
	Disposition: `{
  "type": "object",
  "properties": {
    "incident_id": {"type": "string"},
    "intent": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "decision": {"type": "string", "enum": ["auto_close", "auto_retry", "escalate", "human_review"]},
    "score": {"type": "number"},
    "reasoning": {"type": "string"},
    "rca_location": {"type": "string"},
    "actions_taken": {"type": "array", "items": {"type": "object"}},
    "processing_time_ms": {"type": "integer", "minimum": 0}
  },
  "required": ["incident_id", "intent", "decision"]
}`,
}
