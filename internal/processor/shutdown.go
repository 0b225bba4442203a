package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/pipeline"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

// Outcome classifies how a shutdown request resolved (spec section 4.2).
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// ShutdownContext is the payload carried by the shutdown task's context,
// named verbatim in spec section 4.2.
type ShutdownContext struct {
	Reason               string
	InitiatedBy          string
	AllowDeferral        bool
	ExpectedReactivation string
	IsTerminal           bool
}

// ShutdownConfig wires a ShutdownProcessor's dependencies.
type ShutdownConfig struct {
	Store      *store.Store
	Pipeline   *pipeline.Processor
	Dispatcher Dispatcher
	Profile    pipeline.Profile
	Logger     *slog.Logger
}

// ShutdownProcessor drives the single shutdown task through the pipeline and
// classifies its outcome (spec section 4.2).
type ShutdownProcessor struct {
	store      *store.Store
	pipeline   *pipeline.Processor
	dispatcher Dispatcher
	profile    pipeline.Profile
	logger     *slog.Logger
}

// NewShutdownProcessor builds a ShutdownProcessor from cfg.
func NewShutdownProcessor(cfg ShutdownConfig) *ShutdownProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownProcessor{store: cfg.Store, pipeline: cfg.Pipeline, dispatcher: cfg.Dispatcher, profile: cfg.Profile, logger: logger}
}

func (s *ShutdownProcessor) SupportedStates() []AgentState { return []AgentState{StateShutdown} }

// Run creates the shutdown_<random> task, processes its seed thought, and
// returns the classified outcome plus a human-readable reason.
func (s *ShutdownProcessor) Run(ctx context.Context, sc ShutdownContext) (Outcome, string, error) {
	now := time.Now().UTC()
	taskID := fmt.Sprintf("shutdown_%d", rand.Uint64())
	task := &model.Task{
		TaskID:      taskID,
		Description: sc.Reason,
		Priority:    100,
		Status:      model.TaskActive,
		Context: model.TaskContext{
			Extras: map[string]string{
				"initiated_by":          sc.InitiatedBy,
				"allow_deferral":        fmt.Sprintf("%t", sc.AllowDeferral),
				"expected_reactivation": sc.ExpectedReactivation,
				"is_terminal":           fmt.Sprintf("%t", sc.IsTerminal),
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.AddTask(ctx, task); err != nil {
		return OutcomeError, "", fmt.Errorf("shutdown: create task: %w", err)
	}

	th := &model.Thought{
		ThoughtID:    uuid.NewString(),
		SourceTaskID: taskID,
		ThoughtType:  model.ThoughtTypeSeed,
		Content:      fmt.Sprintf("Shutdown requested: %s", sc.Reason),
		Status:       model.ThoughtPending,
		Context:      model.ThoughtContext{Extras: map[string]string{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.AddThought(ctx, th); err != nil {
		return OutcomeError, "", fmt.Errorf("shutdown: create seed thought: %w", err)
	}

	if err := s.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtProcessing, nil, nil); err != nil {
		return OutcomeError, "", err
	}
	result, err := s.pipeline.Process(ctx, th.ThoughtID, s.profile)
	if err != nil {
		_ = s.store.UpdateTaskStatus(ctx, taskID, model.TaskFailed)
		return OutcomeError, "", fmt.Errorf("shutdown: pipeline error: %w", err)
	}
	if result == nil {
		_ = s.store.UpdateTaskStatus(ctx, taskID, model.TaskFailed)
		return OutcomeError, "shutdown thought resolved via memory_meta short-circuit, no decision reached", nil
	}

	if err := s.dispatcher.Dispatch(ctx, th, result); err != nil {
		s.logger.Error("shutdown: dispatch failed", "thought_id", th.ThoughtID, "action", result.SelectedAction, "error", err)
	}

	// The handler invoked by Dispatch owns the task/thought status transition
	// for its action (spec section 4.4); classify the outcome from what it
	// left behind rather than from the action name itself.
	final, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return OutcomeError, "", fmt.Errorf("shutdown: reload task: %w", err)
	}
	switch {
	case final == nil:
		return OutcomeError, "shutdown task vanished", nil
	case final.Status == model.TaskCompleted:
		return OutcomeAccepted, "", nil
	case final.Status == model.TaskFailed && result.SelectedAction == model.ActionReject:
		reason := result.Rationale
		if result.ActionParameters.Reject != nil && result.ActionParameters.Reject.Reason != "" {
			reason = result.ActionParameters.Reject.Reason
		}
		return OutcomeRejected, reason, nil
	case final.Status == model.TaskRejected:
		reason := result.Rationale
		if result.ActionParameters.Reject != nil && result.ActionParameters.Reject.Reason != "" {
			reason = result.ActionParameters.Reject.Reason
		}
		return OutcomeRejected, reason, nil
	default:
		return OutcomeError, fmt.Sprintf("shutdown task ended in status %s for action %s", final.Status, result.SelectedAction), nil
	}
}
