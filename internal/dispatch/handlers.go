package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// HandlerStore is the persistence slice handlers need: creating follow-up
// thoughts, mutating task/thought status, and ponder bookkeeping.
type HandlerStore interface {
	AddThought(ctx context.Context, th *model.Thought) error
	UpdateThoughtStatus(ctx context.Context, id string, status model.ThoughtStatus, finalAction *model.ActionSelectionResult, roundProcessed *int) error
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	IncrementPonder(ctx context.Context, id string, note string) (int, error)
	SaveDeferralReportMapping(ctx context.Context, messageID, taskID, thoughtID, pkg string) error
}

// Auditor is the narrow slice of internal/audit.Auditor every handler uses.
type Auditor interface {
	Record(ctx context.Context, traceID, subject, action, decision, reason string)
}

// MessageSender is the narrow slice of internal/sideeffect.Sink a SPEAK/OBSERVE
// handler needs.
type MessageSender interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// ToolRunner is the narrow slice of internal/sideeffect.Sink a TOOL handler
// needs.
type ToolRunner interface {
	RunTool(ctx context.Context, toolName string, args map[string]string) (string, error)
}

// MemoryHandler is the narrow slice of internal/memory.Service MEMORIZE/
// RECALL/FORGET need.
type MemoryHandler interface {
	Memorize(ctx context.Context, key string, scope model.MemoryScope, value string) error
	Recall(ctx context.Context, query string, scope model.MemoryScope) (string, error)
	Forget(ctx context.Context, key string, scope model.MemoryScope, reason string) error
}

// FilterHandler is the narrow slice of internal/filter.Service a REJECT
// handler needs to derive and persist a trigger pattern.
type FilterHandler interface {
	AddTrigger(ctx context.Context, explicit, rejectedContent, priority string) error
}

// WANotifier delivers a deferral notice to the wise-authority channel; a
// nil WANotifier skips notification (optional per spec section 4.4).
type WANotifier interface {
	Notify(ctx context.Context, summary string) (messageID string, err error)
}

func newThoughtID() string { return uuid.NewString() }

func followUp(parent *model.Thought, content, thoughtType string, priorityDelta int) *model.Thought {
	now := time.Now().UTC()
	return &model.Thought{
		ThoughtID:       newThoughtID(),
		SourceTaskID:    parent.SourceTaskID,
		ParentThoughtID: parent.ThoughtID,
		ThoughtType:     thoughtType,
		Content:         content,
		Context:         parent.Context,
		Priority:        parent.Priority + priorityDelta,
		RoundNumber:     parent.RoundNumber + 1,
		Status:          model.ThoughtPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func createFollowUp(ctx context.Context, store HandlerStore, th *model.Thought, content string, priorityDelta int) error {
	return createFollowUpTyped(ctx, store, th, content, model.ThoughtTypeFollowUp, priorityDelta)
}

func createFollowUpTyped(ctx context.Context, store HandlerStore, th *model.Thought, content, thoughtType string, priorityDelta int) error {
	fu := followUp(th, content, thoughtType, priorityDelta)
	if err := store.AddThought(ctx, fu); err != nil {
		return &FollowUpCreationError{ThoughtID: th.ThoughtID, Err: err}
	}
	return nil
}

// --- SPEAK -------------------------------------------------------------

// SpeakHandler resolves the target channel (params.ChannelID ->
// dispatch_context.ChannelContext -> the configured default channel),
// sends the message, completes the thought and task, and creates one
// follow-up thought recording what was said.
type SpeakHandler struct {
	Store         HandlerStore
	Audit         Auditor
	Sender        MessageSender
	DefaultChannel string
}

func (h *SpeakHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "SPEAK", "start", "")

	params := result.ActionParameters.Speak
	if params == nil || params.Content == "" {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "SPEAK", "failure", "missing content")
		return fmt.Errorf("speak: missing content")
	}

	channel := params.ChannelID
	if channel == "" {
		channel = dc.ChannelContext
	}
	if channel == "" {
		channel = h.DefaultChannel
	}
	if channel == "" {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "SPEAK", "failure", "no channel resolvable")
		return fmt.Errorf("speak: no channel resolvable")
	}

	if _, err := h.Sender.SendMessage(ctx, channel, params.Content); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "SPEAK", "failure", err.Error())
		return fmt.Errorf("speak: send message: %w", err)
	}

	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		return err
	}
	if err := h.Store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskCompleted); err != nil {
		return err
	}
	if err := createFollowUp(ctx, h.Store, th, "spoke: "+params.Content, 0); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "SPEAK", "success", "")
	return nil
}

// --- PONDER --------------------------------------------------------------

// PonderHandler increments the thought's ponder count; below the budget it
// re-queues with no follow-up, at the budget it synthesizes a DEFER.
type PonderHandler struct {
	Store          HandlerStore
	Audit          Auditor
	MaxPonderRounds int
	Defer          *DeferHandler
}

func (h *PonderHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "PONDER", "start", "")

	note := result.Rationale
	if result.ActionParameters.Ponder != nil && len(result.ActionParameters.Ponder.Questions) > 0 {
		note = result.ActionParameters.Ponder.Questions[0]
	}
	count, err := h.Store.IncrementPonder(ctx, th.ThoughtID, note)
	if err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "PONDER", "failure", err.Error())
		return fmt.Errorf("ponder: increment: %w", err)
	}

	if count < h.MaxPonderRounds {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "PONDER", "success", "re-queued")
		return nil
	}

	deferResult := &model.ActionSelectionResult{
		SelectedAction: model.ActionDefer,
		ActionParameters: model.ActionParameters{
			Defer: &model.DeferParams{Reason: "max ponder rounds reached"},
		},
		Rationale: "max ponder rounds reached",
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "PONDER", "success", "escalated to defer")
	return h.Defer.Handle(ctx, deferResult, th, dc)
}

// --- DEFER -----------------------------------------------------------------

// DeferHandler persists a DeferralReportMapping, marks the task deferred,
// and optionally notifies a wise-authority channel. Terminal: no follow-up.
type DeferHandler struct {
	Store    HandlerStore
	Audit    Auditor
	Notifier WANotifier // optional
}

func (h *DeferHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "DEFER", "start", "")

	reason := "deferred"
	if result.ActionParameters.Defer != nil && result.ActionParameters.Defer.Reason != "" {
		reason = result.ActionParameters.Defer.Reason
	}

	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtDeferred, result, nil); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "DEFER", "failure", err.Error())
		return err
	}
	if err := h.Store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskDeferred); err != nil {
		return err
	}

	messageID := th.ThoughtID
	if h.Notifier != nil {
		if id, err := h.Notifier.Notify(ctx, reason); err == nil && id != "" {
			messageID = id
		}
	}
	if err := h.Store.SaveDeferralReportMapping(ctx, messageID, th.SourceTaskID, th.ThoughtID, ""); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "DEFER", "failure", err.Error())
		return fmt.Errorf("defer: save mapping: %w", err)
	}

	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "DEFER", "success", reason)
	return nil
}

// --- REJECT ------------------------------------------------------------

// RejectHandler fails the thought and rejects the task, optionally deriving
// and persisting a filter trigger and raising an out-of-band MEMORIZE task.
type RejectHandler struct {
	Store  HandlerStore
	Audit  Auditor
	Filter FilterHandler
}

func (h *RejectHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "REJECT", "start", "")

	reason := "rejected"
	var params *model.RejectParams
	if result.ActionParameters.Reject != nil {
		params = result.ActionParameters.Reject
		if params.Reason != "" {
			reason = params.Reason
		}
	}

	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtRejected, result, nil); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "REJECT", "failure", err.Error())
		return err
	}
	if err := h.Store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskRejected); err != nil {
		return err
	}

	if params != nil && params.CreateFilter && h.Filter != nil {
		priority := params.FilterPriority
		if priority == "" {
			priority = "MEDIUM"
		}
		if err := h.Filter.AddTrigger(ctx, params.FilterPattern, th.Content, priority); err != nil {
			h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "REJECT", "failure", err.Error())
			return fmt.Errorf("reject: add filter trigger: %w", err)
		}
	}

	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "REJECT", "success", reason)
	return nil
}

// --- OBSERVE -------------------------------------------------------------

// ChannelReader performs a bounded active read of a channel's recent
// history for ObserveParams.Active.
type ChannelReader interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]string, error)
}

// ObserveHandler completes passive observations immediately; active
// observations perform a bounded channel read and attach an
// active_observation_result follow-up.
type ObserveHandler struct {
	Store  HandlerStore
	Audit  Auditor
	Reader ChannelReader // optional; required only for active observation
}

func (h *ObserveHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "OBSERVE", "start", "")

	params := result.ActionParameters.Observe
	active := params != nil && params.Active

	if !active {
		if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
			return err
		}
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "OBSERVE", "success", "passive")
		return nil
	}

	channel := params.ChannelID
	if channel == "" {
		channel = dc.ChannelContext
	}
	var summary string
	if h.Reader != nil {
		msgs, err := h.Reader.RecentMessages(ctx, channel, 25)
		if err != nil {
			h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "OBSERVE", "failure", err.Error())
			return fmt.Errorf("observe: read channel: %w", err)
		}
		for i, m := range msgs {
			if i > 0 {
				summary += "\n"
			}
			summary += m
		}
	}

	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		return err
	}
	if err := createFollowUpTyped(ctx, h.Store, th, summary, model.ThoughtTypeObservation, 0); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "OBSERVE", "success", "active")
	return nil
}

// --- MEMORIZE / RECALL / FORGET ------------------------------------------

// MemorizeHandler delegates to internal/memory.Service.
type MemorizeHandler struct {
	Store  HandlerStore
	Audit  Auditor
	Memory MemoryHandler
}

func (h *MemorizeHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "MEMORIZE", "start", "")
	p := result.ActionParameters.Memorize
	if p == nil || p.Key == "" {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "MEMORIZE", "failure", "missing key")
		return fmt.Errorf("memorize: missing key")
	}
	if err := h.Memory.Memorize(ctx, p.Key, p.Scope, th.Content); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "MEMORIZE", "failure", err.Error())
		return fmt.Errorf("memorize: %w", err)
	}
	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		return err
	}
	if err := createFollowUp(ctx, h.Store, th, "memorized "+p.Key, 0); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "MEMORIZE", "success", "")
	return nil
}

// RecallHandler delegates to internal/memory.Service and attaches the
// recalled value as a follow-up for the pipeline's next round.
type RecallHandler struct {
	Store  HandlerStore
	Audit  Auditor
	Memory MemoryHandler
}

func (h *RecallHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "RECALL", "start", "")
	p := result.ActionParameters.Recall
	if p == nil || p.Query == "" {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "RECALL", "failure", "missing query")
		return fmt.Errorf("recall: missing query")
	}
	value, err := h.Memory.Recall(ctx, p.Query, p.Scope)
	if err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "RECALL", "failure", err.Error())
		return fmt.Errorf("recall: %w", err)
	}
	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		return err
	}
	if err := createFollowUp(ctx, h.Store, th, "recalled: "+value, 0); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "RECALL", "success", "")
	return nil
}

// ForgetHandler delegates to internal/memory.Service.
type ForgetHandler struct {
	Store  HandlerStore
	Audit  Auditor
	Memory MemoryHandler
}

func (h *ForgetHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "FORGET", "start", "")
	p := result.ActionParameters.Forget
	if p == nil || p.Key == "" {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "FORGET", "failure", "missing key")
		return fmt.Errorf("forget: missing key")
	}
	if err := h.Memory.Forget(ctx, p.Key, p.Scope, p.Reason); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "FORGET", "failure", err.Error())
		return fmt.Errorf("forget: %w", err)
	}
	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		return err
	}
	if err := createFollowUp(ctx, h.Store, th, "forgot "+p.Key, 0); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "FORGET", "success", "")
	return nil
}

// --- TOOL ------------------------------------------------------------------

// ToolHandler runs a tool via the side-effect sink and completes with a
// follow-up summarizing the result.
type ToolHandler struct {
	Store  HandlerStore
	Audit  Auditor
	Runner ToolRunner
}

func (h *ToolHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TOOL", "start", "")
	p := result.ActionParameters.Tool
	if p == nil || p.ToolName == "" {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TOOL", "failure", "missing tool name")
		return fmt.Errorf("tool: missing tool name")
	}
	correlationID, err := h.Runner.RunTool(ctx, p.ToolName, p.Arguments)
	if err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TOOL", "failure", err.Error())
		return fmt.Errorf("tool: run: %w", err)
	}
	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		return err
	}
	if err := createFollowUp(ctx, h.Store, th, "tool invoked: "+p.ToolName+" ("+correlationID+")", 0); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TOOL", "success", "")
	return nil
}

// --- TASK_COMPLETE -----------------------------------------------------

// TaskCompleteHandler marks both thought and task completed. Terminal: no
// follow-up.
type TaskCompleteHandler struct {
	Store HandlerStore
	Audit Auditor
}

func (h *TaskCompleteHandler) Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TASK_COMPLETE", "start", "")
	if err := h.Store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil); err != nil {
		h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TASK_COMPLETE", "failure", err.Error())
		return err
	}
	if err := h.Store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskCompleted); err != nil {
		return err
	}
	h.Audit.Record(ctx, dc.CorrelationID, th.ThoughtID, "TASK_COMPLETE", "success", "")
	return nil
}
