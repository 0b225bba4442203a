// Package dispatch implements the action dispatcher and handler contract of
// spec section 4.4: a static selected_action -> Handler map, validation,
// an optional action filter, bounded registry-readiness wait, and the
// per-handler contract (audit, side effect, terminal status, follow-up).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// DispatchContext carries everything a handler needs beyond the
// ActionSelectionResult and Thought themselves (spec section 4.4).
type DispatchContext struct {
	ChannelContext string
	AuthorID       string
	AuthorName     string
	OriginService  string
	HandlerName    string
	ActionType     model.Action
	ThoughtID      string
	TaskID         string
	SourceTaskID   string
	EventSummary   string
	EventTimestamp time.Time
	WAID           string
	WAAuthorized   bool
	CorrelationID  string
	RoundNumber    int
	GuardrailResult *model.GuardrailAttachment
}

// Handler is the contract every action handler satisfies (spec section
// 4.4's "Handler contract").
type Handler interface {
	Handle(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error
}

// ActionFilter may veto dispatch for a result before any handler runs.
type ActionFilter func(ctx context.Context, result *model.ActionSelectionResult, dc DispatchContext) bool

// Registry is consulted for a handler's service-registry readiness before
// invocation (spec section 4.4 step 3). A nil Registry skips the wait.
type Registry interface {
	WaitReady(ctx context.Context, serviceName string, timeout time.Duration) error
}

// FollowUpCreationError wraps a failure to create a handler's required
// follow-up Thought; the dispatcher converts it to thought-FAILED (spec
// section 4.4).
type FollowUpCreationError struct {
	ThoughtID string
	Err       error
}

func (e *FollowUpCreationError) Error() string {
	return fmt.Sprintf("dispatch: follow-up creation failed for thought %s: %v", e.ThoughtID, e.Err)
}

func (e *FollowUpCreationError) Unwrap() error { return e.Err }

// Store is the persistence slice the dispatcher itself needs (handlers take
// their own narrower store interfaces).
type Store interface {
	UpdateThoughtStatus(ctx context.Context, id string, status model.ThoughtStatus, finalAction *model.ActionSelectionResult, roundProcessed *int) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
}

// Config wires an ActionDispatcher.
type Config struct {
	Store           Store
	Handlers        map[model.Action]Handler
	Filter          ActionFilter // optional
	Registry        Registry     // optional
	RegistryTimeout time.Duration
	Logger          *slog.Logger
	Metrics         Recorder // optional
}

// Recorder receives one telemetry sample per dispatched action. Satisfied
// by *internal/otel.Metrics; nil by default (no-op).
type Recorder interface {
	RecordAction(ctx context.Context, actionType, outcome string, ponderCount int)
}

// ActionDispatcher holds the static selected_action -> Handler map and
// implements the dispatch algorithm of spec section 4.4.
type ActionDispatcher struct {
	store           Store
	handlers        map[model.Action]Handler
	filter          ActionFilter
	registry        Registry
	registryTimeout time.Duration
	logger          *slog.Logger
	metrics         Recorder
}

// New builds an ActionDispatcher from cfg.
func New(cfg Config) *ActionDispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RegistryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ActionDispatcher{
		store:           cfg.Store,
		handlers:        cfg.Handlers,
		filter:          cfg.Filter,
		registry:        cfg.Registry,
		registryTimeout: timeout,
		logger:          logger,
		metrics:         cfg.Metrics,
	}
}

// Dispatch implements processor.Dispatcher: build a DispatchContext from th
// and its task, then run the dispatch algorithm.
func (d *ActionDispatcher) Dispatch(ctx context.Context, th *model.Thought, result *model.ActionSelectionResult) error {
	dc := DispatchContext{
		ChannelContext: th.Context.ChannelID,
		AuthorID:       th.Context.AuthorID,
		AuthorName:     th.Context.AuthorName,
		OriginService:  th.Context.OriginService,
		HandlerName:    string(result.SelectedAction),
		ActionType:     result.SelectedAction,
		ThoughtID:      th.ThoughtID,
		SourceTaskID:   th.SourceTaskID,
		TaskID:         th.SourceTaskID,
		EventTimestamp: time.Now().UTC(),
		RoundNumber:    th.RoundNumber,
		GuardrailResult: result.Guardrail,
	}
	if task, err := d.store.GetTask(ctx, th.SourceTaskID); err == nil && task != nil {
		dc.TaskID = task.TaskID
	}
	return d.DispatchWithContext(ctx, result, th, dc)
}

// DispatchWithContext runs the full dispatch algorithm against an explicit
// DispatchContext, for callers (tests, observers replaying a WA correction)
// that need to control the context precisely.
func (d *ActionDispatcher) DispatchWithContext(ctx context.Context, result *model.ActionSelectionResult, th *model.Thought, dc DispatchContext) error {
	handler, ok := d.handlers[result.SelectedAction]
	if !ok {
		reason := fmt.Sprintf("unknown selected_action %q", result.SelectedAction)
		d.logger.Error("dispatch: unknown action", "thought_id", th.ThoughtID, "action", result.SelectedAction)
		return d.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtFailed, failureResult(result, reason), nil)
	}

	if d.filter != nil && d.filter(ctx, result, dc) {
		d.logger.Info("dispatch: action filtered, skipping", "thought_id", th.ThoughtID, "action", result.SelectedAction)
		return nil
	}

	if d.registry != nil {
		if err := d.registry.WaitReady(ctx, dc.HandlerName, d.registryTimeout); err != nil {
			d.logger.Warn("dispatch: registry not ready, skipping without status change", "thought_id", th.ThoughtID, "handler", dc.HandlerName, "error", err)
			return nil
		}
	}

	if err := handler.Handle(ctx, result, th, dc); err != nil {
		var followUpErr *FollowUpCreationError
		reason := err.Error()
		if errors.As(err, &followUpErr) {
			reason = followUpErr.Error()
		}
		d.logger.Error("dispatch: handler failed", "thought_id", th.ThoughtID, "action", result.SelectedAction, "error", err)
		d.record(ctx, result.SelectedAction, "failed", th.PonderCount)
		return d.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtFailed, failureResult(result, reason), nil)
	}
	d.record(ctx, result.SelectedAction, "completed", th.PonderCount)
	return nil
}

func (d *ActionDispatcher) record(ctx context.Context, action model.Action, outcome string, ponderCount int) {
	if d.metrics != nil {
		d.metrics.RecordAction(ctx, string(action), outcome, ponderCount)
	}
}

func failureResult(original *model.ActionSelectionResult, reason string) *model.ActionSelectionResult {
	return &model.ActionSelectionResult{
		SelectedAction: original.SelectedAction,
		Rationale:      fmt.Sprintf("handler error: %s", reason),
		Guardrail:      original.Guardrail,
	}
}
