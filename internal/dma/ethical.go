package dma

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/llm"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// EthicalDMA runs the Ethical PDMA (spec section 4.3 step 2 / section 3).
type EthicalDMA struct {
	Service      llm.Service
	RetryLimit   int
	TimeoutEach  time.Duration
}

type ethicalWire struct {
	AlignmentCheck string `json:"alignment_check"`
	Decision       string `json:"decision"`
	Rationale      string `json:"rationale"`
}

func (d *EthicalDMA) Run(ctx context.Context, th *model.Thought) (*model.EthicalDMAResult, error) {
	return RunWithRetries(ctx, "ethical", d.RetryLimit, d.TimeoutEach, func(ctx context.Context) (*model.EthicalDMAResult, error) {
		resp, err := d.Service.CallStructured(ctx, llm.StructuredRequest{
			Messages: []llm.Message{
				{Role: "system", Content: "You are the ethical evaluator in a governed agent pipeline. Score the plausibility and alignment of the proposed thought."},
				{Role: "user", Content: th.Content},
			},
			SchemaJSON: EthicalSchema,
			SchemaName: "EthicalDMAResult",
			MaxTokens:  512,
		})
		if err != nil {
			return nil, fmt.Errorf("ethical dma: %w", err)
		}
		var w ethicalWire
		if err := json.Unmarshal([]byte(resp.RawJSON), &w); err != nil {
			return nil, fmt.Errorf("ethical dma: unmarshal: %w", err)
		}
		return &model.EthicalDMAResult{AlignmentCheck: w.AlignmentCheck, Decision: w.Decision, Rationale: w.Rationale}, nil
	})
}
