package dma

// JSON Schema documents for each DMA's structured output, passed as
// SchemaJSON in an llm.StructuredRequest and used by the LLM service's
// validate-and-retry loop (spec section 6: call_llm_structured).

const EthicalSchema = `{
	"type": "object",
	"required": ["alignment_check", "decision", "rationale"],
	"properties": {
		"alignment_check": {"type": "string"},
		"decision": {"type": "string"},
		"rationale": {"type": "string"}
	}
}`

const CSDMASchema = `{
	"type": "object",
	"required": ["plausibility_score", "reasoning"],
	"properties": {
		"plausibility_score": {"type": "number", "minimum": 0, "maximum": 1},
		"flags": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"}
	}
}`

const DSDMASchema = `{
	"type": "object",
	"required": ["domain", "score", "reasoning"],
	"properties": {
		"domain": {"type": "string"},
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"flags": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"},
		"recommended_action": {"type": "string"}
	}
}`

const ActionSelectionSchema = `{
	"type": "object",
	"required": ["selected_action", "action_parameters", "rationale"],
	"properties": {
		"selected_action": {
			"type": "string",
			"enum": ["OBSERVE", "SPEAK", "TOOL", "REJECT", "PONDER", "DEFER", "MEMORIZE", "RECALL", "FORGET", "TASK_COMPLETE"]
		},
		"action_parameters": {"type": "object"},
		"rationale": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`
