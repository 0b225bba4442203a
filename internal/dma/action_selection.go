package dma

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/llm"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// ActionSelectionDMA runs the action-selection DMA (spec section 4.3 step 4).
type ActionSelectionDMA struct {
	Service     llm.Service
	RetryLimit  int
	TimeoutEach time.Duration
}

// Input is the triaged input bundle handed to action selection.
type Input struct {
	Thought          *model.Thought
	Bundle           model.DMABundle
	CurrentPonder    int
	MaxPonderRounds  int
	PermittedActions []model.Action
	ProfileName      string
	// GuardrailFeedback is set only on the one allowed recursive re-selection
	// (spec section 4.3 step 7).
	GuardrailFeedback *GuardrailFeedback
}

// GuardrailFeedback names the attempted action and failure reason fed back
// into a retry action-selection call.
type GuardrailFeedback struct {
	FailedAction   model.Action
	FailureReason  string
	RetryGuidance  string
}

type actionParamsWire struct {
	Content        string            `json:"content,omitempty"`
	ChannelID      string            `json:"channel_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	DeferUntil     string            `json:"defer_until,omitempty"`
	Questions      []string          `json:"questions,omitempty"`
	CreateFilter   bool              `json:"create_filter,omitempty"`
	FilterPattern  string            `json:"filter_pattern,omitempty"`
	FilterPriority string            `json:"filter_priority,omitempty"`
	Active         bool              `json:"active,omitempty"`
	Key            string            `json:"key,omitempty"`
	Query          string            `json:"query,omitempty"`
	Scope          string            `json:"scope,omitempty"`
	ToolName       string            `json:"tool_name,omitempty"`
	Arguments      map[string]string `json:"arguments,omitempty"`
}

type actionSelectionWire struct {
	SelectedAction   string           `json:"selected_action"`
	ActionParameters actionParamsWire `json:"action_parameters"`
	Rationale        string           `json:"rationale"`
	Confidence       *float64         `json:"confidence,omitempty"`
}

// Run executes action selection, returning an ActionSelectionResult with
// RawLLMResponse set for audit. Callers invoke this twice at most per
// thought: once normally, once more on a PONDER-guardrail-override retry.
func (d *ActionSelectionDMA) Run(ctx context.Context, in Input) (*model.ActionSelectionResult, error) {
	return RunWithRetries(ctx, "action_selection", d.RetryLimit, d.TimeoutEach, func(ctx context.Context) (*model.ActionSelectionResult, error) {
		messages := []llm.Message{
			{Role: "system", Content: buildActionSelectionSystemPrompt(in)},
			{Role: "user", Content: in.Thought.Content},
		}
		resp, err := d.Service.CallStructured(ctx, llm.StructuredRequest{
			Messages:   messages,
			SchemaJSON: ActionSelectionSchema,
			SchemaName: "ActionSelectionResult",
			MaxTokens:  1024,
		})
		if err != nil {
			return nil, fmt.Errorf("action selection: %w", err)
		}
		var w actionSelectionWire
		if err := json.Unmarshal([]byte(resp.RawJSON), &w); err != nil {
			return nil, fmt.Errorf("action selection: unmarshal: %w", err)
		}
		result, err := toActionSelectionResult(w)
		if err != nil {
			return nil, fmt.Errorf("action selection: %w", err)
		}
		result.RawLLMResponse = resp.RawJSON
		return result, nil
	})
}

func buildActionSelectionSystemPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are the action-selection stage of a governed agent pipeline. ")
	b.WriteString("Choose exactly one action from the permitted set: ")
	names := make([]string, len(in.PermittedActions))
	for i, a := range in.PermittedActions {
		names[i] = string(a)
	}
	b.WriteString(strings.Join(names, ", "))
	fmt.Fprintf(&b, ". Current ponder_count=%d, max_ponder_rounds=%d.", in.CurrentPonder, in.MaxPonderRounds)
	if in.Bundle.Ethical != nil {
		fmt.Fprintf(&b, " Ethical: %s (%s).", in.Bundle.Ethical.Decision, in.Bundle.Ethical.Rationale)
	}
	if in.Bundle.CSDMA != nil {
		fmt.Fprintf(&b, " Plausibility: %.2f.", in.Bundle.CSDMA.PlausibilityScore)
	}
	if in.Bundle.DSDMA != nil {
		fmt.Fprintf(&b, " Domain %s score: %.2f.", in.Bundle.DSDMA.Domain, in.Bundle.DSDMA.Score)
	}
	if in.GuardrailFeedback != nil {
		fmt.Fprintf(&b, " Your previous selection of %s was rejected: %s. %s",
			in.GuardrailFeedback.FailedAction, in.GuardrailFeedback.FailureReason, in.GuardrailFeedback.RetryGuidance)
	}
	return b.String()
}

func toActionSelectionResult(w actionSelectionWire) (*model.ActionSelectionResult, error) {
	action := model.Action(strings.ToUpper(strings.TrimSpace(w.SelectedAction)))
	result := &model.ActionSelectionResult{
		SelectedAction: action,
		Rationale:      w.Rationale,
		Confidence:     w.Confidence,
	}
	p := w.ActionParameters
	switch action {
	case model.ActionSpeak:
		result.ActionParameters.Speak = &model.SpeakParams{Content: p.Content, ChannelID: p.ChannelID}
	case model.ActionDefer:
		result.ActionParameters.Defer = &model.DeferParams{Reason: p.Reason, Context: p.Context}
	case model.ActionPonder:
		result.ActionParameters.Ponder = &model.PonderParams{Questions: p.Questions}
	case model.ActionReject:
		result.ActionParameters.Reject = &model.RejectParams{
			Reason: p.Reason, CreateFilter: p.CreateFilter, FilterPattern: p.FilterPattern, FilterPriority: p.FilterPriority,
		}
	case model.ActionObserve:
		result.ActionParameters.Observe = &model.ObserveParams{ChannelID: p.ChannelID, Active: p.Active}
	case model.ActionMemorize:
		result.ActionParameters.Memorize = &model.MemorizeParams{Key: p.Key, Scope: model.MemoryScope(p.Scope)}
	case model.ActionRecall:
		result.ActionParameters.Recall = &model.RecallParams{Query: p.Query, Scope: model.MemoryScope(p.Scope)}
	case model.ActionForget:
		result.ActionParameters.Forget = &model.ForgetParams{Key: p.Key, Scope: model.MemoryScope(p.Scope), Reason: p.Reason}
	case model.ActionTool:
		result.ActionParameters.Tool = &model.ToolParams{ToolName: p.ToolName, Arguments: p.Arguments}
	case model.ActionTaskComplete:
		// no parameters.
	default:
		return nil, fmt.Errorf("unknown selected_action %q", w.SelectedAction)
	}
	return result, nil
}
