package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// StructuredValidator extracts and validates a JSON document embedded in a
// raw LLM response against a caller-supplied JSON Schema. One validator
// instance is shared across schemas; compiled schemas are cached by their
// JSON text since a single service fields several distinct DMA result types.
type StructuredValidator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// NewStructuredValidator creates a validator with an empty schema cache.
func NewStructuredValidator() *StructuredValidator {
	return &StructuredValidator{cached: make(map[string]*jsonschema.Schema)}
}

func (sv *StructuredValidator) compile(schemaJSON string) (*jsonschema.Schema, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if s, ok := sv.cached[schemaJSON]; ok {
		return s, nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	resourceID := fmt.Sprintf("schema-%d.json", len(sv.cached))
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	sv.cached[schemaJSON] = schema
	return schema, nil
}

// ValidateResponse extracts JSON from responseText and validates it against
// schemaJSON, returning the extracted JSON string on success.
func (sv *StructuredValidator) ValidateResponse(responseText, schemaJSON string) (string, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return "", fmt.Errorf("response does not contain valid JSON")
	}
	if schemaJSON == "" {
		return jsonStr, nil
	}
	schema, err := sv.compile(schemaJSON)
	if err != nil {
		return "", err
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return "", fmt.Errorf("schema validation failed: %w", err)
	}
	return jsonStr, nil
}

// extractJSON finds a JSON object or array in free-form model output: a
// fenced ```json block, a generic fenced block, or a balanced brace scan.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}
	open := s[0]
	var closeCh byte
	switch open {
	case '{':
		closeCh = '}'
	case '[':
		closeCh = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == open {
			depth++
		} else if ch == closeCh {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
