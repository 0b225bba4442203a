// Package sideeffect implements the handler contract's "at most one side
// effect ... using a side-effect sink obtained via the service registry"
// rule (spec section 4.4): outbound SPEAK messages and TOOL invocations.
package sideeffect

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/bus"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// Published on the bus for an observer/channel adapter to actually deliver;
// this package owns correlation bookkeeping and the bus publish, not
// transport (that's internal/channel/ws and internal/channel/telegram).
const (
	TopicOutboundMessage = "sideeffect.outbound_message"
	TopicToolInvocation  = "sideeffect.tool_invocation"
)

// OutboundMessage is the payload published for a SPEAK/OBSERVE side effect.
type OutboundMessage struct {
	CorrelationID string
	ChannelID     string
	Content       string
}

// ToolInvocation is the payload published for a TOOL side effect.
type ToolInvocation struct {
	CorrelationID string
	ToolName      string
	Arguments     map[string]string
}

// Store records the Correlation envelope wrapping each side effect
// (spec section 3: Correlation).
type Store interface {
	AddCorrelation(ctx context.Context, c *model.Correlation) error
	UpdateCorrelation(ctx context.Context, id, response string, status model.CorrelationStatus) error
}

// ToolRunner executes a named tool with its arguments, returning the tool's
// output. Satisfied by *internal/tools.Catalog.
type ToolRunner interface {
	Run(ctx context.Context, name string, args map[string]string) (string, error)
}

// Sink is a side-effect sink: one outbound message or tool call per call,
// matching the "performs at most one side effect" handler rule.
type Sink struct {
	bus   *bus.Bus
	store Store
	tools ToolRunner
}

// New builds a Sink publishing onto b and recording correlations in store.
// A nil tools runner still records and publishes TOOL invocations; it just
// never executes them (every ToolInvocation response stays "no tool
// catalog configured").
func New(b *bus.Bus, store Store, tools ToolRunner) *Sink {
	return &Sink{bus: b, store: store, tools: tools}
}

// SendMessage publishes an outbound message and records its Correlation.
func (s *Sink) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	correlationID := uuid.NewString()
	now := time.Now().UTC()
	if err := s.store.AddCorrelation(ctx, &model.Correlation{
		CorrelationID: correlationID,
		ServiceType:   "channel",
		HandlerName:   "speak",
		ActionType:    string(model.ActionSpeak),
		RequestData:   fmt.Sprintf("channel=%s content=%s", channelID, content),
		Status:        model.CorrelationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		return "", fmt.Errorf("sideeffect: record correlation: %w", err)
	}
	s.bus.Publish(TopicOutboundMessage, OutboundMessage{CorrelationID: correlationID, ChannelID: channelID, Content: content})
	return correlationID, nil
}

// RunTool executes toolName through the configured tool catalog, records
// the resulting Correlation (completed with the tool's output, or failed
// with its error), and publishes the invocation for any listener
// (e.g. an audit/observability consumer on the bus).
func (s *Sink) RunTool(ctx context.Context, toolName string, args map[string]string) (string, error) {
	correlationID := uuid.NewString()
	now := time.Now().UTC()
	if err := s.store.AddCorrelation(ctx, &model.Correlation{
		CorrelationID: correlationID,
		ServiceType:   "tool",
		HandlerName:   "tool",
		ActionType:    string(model.ActionTool),
		RequestData:   fmt.Sprintf("tool=%s args=%v", toolName, args),
		Status:        model.CorrelationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		return "", fmt.Errorf("sideeffect: record correlation: %w", err)
	}
	s.bus.Publish(TopicToolInvocation, ToolInvocation{CorrelationID: correlationID, ToolName: toolName, Arguments: args})

	if s.tools == nil {
		_ = s.store.UpdateCorrelation(ctx, correlationID, "no tool catalog configured", model.CorrelationFailed)
		return "", fmt.Errorf("sideeffect: no tool catalog configured for %q", toolName)
	}

	output, err := s.tools.Run(ctx, toolName, args)
	if err != nil {
		_ = s.store.UpdateCorrelation(ctx, correlationID, err.Error(), model.CorrelationFailed)
		return "", fmt.Errorf("sideeffect: run tool %q: %w", toolName, err)
	}
	if updateErr := s.store.UpdateCorrelation(ctx, correlationID, output, model.CorrelationCompleted); updateErr != nil {
		return "", fmt.Errorf("sideeffect: record tool result: %w", updateErr)
	}
	return correlationID, nil
}
