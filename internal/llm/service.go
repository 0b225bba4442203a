// Package llm implements the LLM service capability of spec section 6:
// call_llm_structured(messages, response_model, max_tokens, temperature) ->
// (response, resource_usage), where response conforms to the given schema.
package llm

import (
	"context"
)

// Message is one turn of the conversation handed to the model.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ResourceUsage reports what a call cost (spec section 6).
type ResourceUsage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// StructuredRequest is the input to CallStructured.
type StructuredRequest struct {
	Messages    []Message
	SchemaJSON  string // JSON Schema the response must validate against
	SchemaName  string
	MaxTokens   int
	Temperature float64
}

// StructuredResponse is the output of CallStructured: RawJSON is the
// validated JSON document conforming to SchemaJSON.
type StructuredResponse struct {
	RawJSON string
	Usage   ResourceUsage
}

// Service is the LLM capability consumed by the DMA layer. Errors propagate
// to the caller; internal/dma.RunWithRetries applies the retry + timeout
// policy named in spec section 4.3.
type Service interface {
	CallStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)
}
