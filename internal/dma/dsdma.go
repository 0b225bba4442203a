package dma

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/llm"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// DSDMA runs the optional domain-specific DMA, only invoked when a profile
// configures one (spec section 4.3 step 2).
type DSDMA struct {
	Service     llm.Service
	Domain      string
	Prompt      string
	RetryLimit  int
	TimeoutEach time.Duration
}

type dsdmaWire struct {
	Domain            string   `json:"domain"`
	Score             float64  `json:"score"`
	Flags             []string `json:"flags"`
	Reasoning         string   `json:"reasoning"`
	RecommendedAction string   `json:"recommended_action"`
}

func (d *DSDMA) Run(ctx context.Context, th *model.Thought) (*model.DSDMAResult, error) {
	return RunWithRetries(ctx, "dsdma:"+d.Domain, d.RetryLimit, d.TimeoutEach, func(ctx context.Context) (*model.DSDMAResult, error) {
		system := d.Prompt
		if system == "" {
			system = fmt.Sprintf("You are the domain-specific evaluator for the %q domain.", d.Domain)
		}
		resp, err := d.Service.CallStructured(ctx, llm.StructuredRequest{
			Messages: []llm.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: th.Content},
			},
			SchemaJSON: DSDMASchema,
			SchemaName: "DSDMAResult",
			MaxTokens:  512,
		})
		if err != nil {
			return nil, fmt.Errorf("dsdma: %w", err)
		}
		var w dsdmaWire
		if err := json.Unmarshal([]byte(resp.RawJSON), &w); err != nil {
			return nil, fmt.Errorf("dsdma: unmarshal: %w", err)
		}
		if w.Domain == "" {
			w.Domain = d.Domain
		}
		return &model.DSDMAResult{Domain: w.Domain, Score: w.Score, Flags: w.Flags, Reasoning: w.Reasoning, RecommendedAction: w.RecommendedAction}, nil
	})
}
