package dma

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/llm"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// CSDMA runs the common-sense DMA (spec section 4.3 step 2 / section 3).
type CSDMA struct {
	Service     llm.Service
	RetryLimit  int
	TimeoutEach time.Duration
}

type csdmaWire struct {
	PlausibilityScore float64  `json:"plausibility_score"`
	Flags             []string `json:"flags"`
	Reasoning         string   `json:"reasoning"`
}

func (d *CSDMA) Run(ctx context.Context, th *model.Thought) (*model.CSDMAResult, error) {
	return RunWithRetries(ctx, "csdma", d.RetryLimit, d.TimeoutEach, func(ctx context.Context) (*model.CSDMAResult, error) {
		resp, err := d.Service.CallStructured(ctx, llm.StructuredRequest{
			Messages: []llm.Message{
				{Role: "system", Content: "You are the common-sense evaluator. Judge whether the thought is plausible given ordinary real-world expectations."},
				{Role: "user", Content: th.Content},
			},
			SchemaJSON: CSDMASchema,
			SchemaName: "CSDMAResult",
			MaxTokens:  512,
		})
		if err != nil {
			return nil, fmt.Errorf("csdma: %w", err)
		}
		var w csdmaWire
		if err := json.Unmarshal([]byte(resp.RawJSON), &w); err != nil {
			return nil, fmt.Errorf("csdma: unmarshal: %w", err)
		}
		return &model.CSDMAResult{PlausibilityScore: w.PlausibilityScore, Flags: w.Flags, Reasoning: w.Reasoning}, nil
	})
}
