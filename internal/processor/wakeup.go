package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/pipeline"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

// WakeupStep names one step of the wake-up sequence (spec section 4.2).
type WakeupStep struct {
	StepType string
	Prompt   string
}

// WakeupConfig wires a WakeupProcessor's dependencies.
type WakeupConfig struct {
	Store           *store.Store
	Pipeline        *pipeline.Processor
	Dispatcher      Dispatcher
	Profile         pipeline.Profile
	MaxPonderRounds int
	Logger          *slog.Logger
}

// WakeupProcessor runs the WAKEUP_ROOT sequence: an ordered list of step
// tasks, each successful iff the pipeline eventually yields SPEAK (after any
// number of PONDER loops up to max_ponder_rounds); any other terminal action
// fails the step and the whole sequence (spec section 4.2).
type WakeupProcessor struct {
	store           *store.Store
	pipeline        *pipeline.Processor
	dispatcher      Dispatcher
	profile         pipeline.Profile
	maxPonderRounds int
	logger          *slog.Logger
}

// NewWakeupProcessor builds a WakeupProcessor from cfg.
func NewWakeupProcessor(cfg WakeupConfig) *WakeupProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPonder := cfg.MaxPonderRounds
	if maxPonder <= 0 {
		maxPonder = 5
	}
	return &WakeupProcessor{
		store:           cfg.Store,
		pipeline:        cfg.Pipeline,
		dispatcher:      cfg.Dispatcher,
		profile:         cfg.Profile,
		maxPonderRounds: maxPonder,
		logger:          logger,
	}
}

func (w *WakeupProcessor) SupportedStates() []AgentState { return []AgentState{StateWakeup} }

// RunBlocking executes every step in order, waiting for each to resolve
// before starting the next (the wake-up processor's blocking mode).
func (w *WakeupProcessor) RunBlocking(ctx context.Context, steps []WakeupStep) (*model.Task, error) {
	root, err := w.createRoot(ctx)
	if err != nil {
		return nil, err
	}
	for i, step := range steps {
		ok, err := w.runStep(ctx, root.TaskID, i, step)
		if err != nil {
			return root, err
		}
		if !ok {
			if err := w.store.UpdateTaskStatus(ctx, root.TaskID, model.TaskFailed); err != nil {
				w.logger.Error("wakeup: failed to mark root failed", "task_id", root.TaskID, "error", err)
			}
			return root, nil
		}
	}
	if err := w.store.UpdateTaskStatus(ctx, root.TaskID, model.TaskCompleted); err != nil {
		return root, fmt.Errorf("wakeup: failed to mark root completed: %w", err)
	}
	return root, nil
}

func (w *WakeupProcessor) createRoot(ctx context.Context) (*model.Task, error) {
	now := time.Now().UTC()
	root := &model.Task{
		TaskID:      "WAKEUP_ROOT",
		Description: "agent wake-up sequence",
		Priority:    100,
		Status:      model.TaskActive,
		Context:     model.TaskContext{Extras: map[string]string{}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	exists, err := w.store.TaskExists(ctx, root.TaskID)
	if err != nil {
		return nil, err
	}
	if exists {
		return w.store.GetTask(ctx, root.TaskID)
	}
	if err := w.store.AddTask(ctx, root); err != nil {
		return nil, fmt.Errorf("wakeup: create root: %w", err)
	}
	return root, nil
}

// runStep drives a single step task through the pipeline, looping on PONDER
// until SPEAK, another terminal action, or the ponder budget is exhausted.
// It returns false (without error) when the step fails.
func (w *WakeupProcessor) runStep(ctx context.Context, rootTaskID string, index int, step WakeupStep) (bool, error) {
	now := time.Now().UTC()
	stepTaskID := fmt.Sprintf("%s-step-%d", rootTaskID, index)
	task := &model.Task{
		TaskID:       stepTaskID,
		Description:  step.Prompt,
		Priority:     100,
		ParentTaskID: rootTaskID,
		Status:       model.TaskActive,
		Context:      model.TaskContext{Extras: map[string]string{"step_type": step.StepType}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.store.AddTask(ctx, task); err != nil {
		return false, fmt.Errorf("wakeup: create step task: %w", err)
	}

	th := &model.Thought{
		ThoughtID:    uuid.NewString(),
		SourceTaskID: stepTaskID,
		ThoughtType:  model.ThoughtTypeStartupMeta,
		Content:      step.Prompt,
		Status:       model.ThoughtPending,
		Context:      model.ThoughtContext{Extras: map[string]string{"step_type": step.StepType}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.store.AddThought(ctx, th); err != nil {
		return false, fmt.Errorf("wakeup: create step seed thought: %w", err)
	}

	for round := 0; round <= w.maxPonderRounds; round++ {
		if err := w.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtProcessing, nil, nil); err != nil {
			return false, err
		}
		result, err := w.pipeline.Process(ctx, th.ThoughtID, w.profile)
		if err != nil {
			return false, fmt.Errorf("wakeup: step %d pipeline error: %w", index, err)
		}
		if result == nil {
			// memory_meta short-circuit; treat as an unexpected terminal for a step.
			return false, nil
		}

		switch result.SelectedAction {
		case model.ActionSpeak:
			if err := w.dispatcher.Dispatch(ctx, th, result); err != nil {
				w.logger.Error("wakeup: dispatch SPEAK failed", "thought_id", th.ThoughtID, "error", err)
			}
			return true, w.store.UpdateTaskStatus(ctx, stepTaskID, model.TaskCompleted)
		case model.ActionPonder:
			if _, err := w.store.IncrementPonder(ctx, th.ThoughtID, result.Rationale); err != nil {
				return false, err
			}
			continue
		default:
			if err := w.dispatcher.Dispatch(ctx, th, result); err != nil {
				w.logger.Error("wakeup: dispatch failed terminal action", "thought_id", th.ThoughtID, "action", result.SelectedAction, "error", err)
			}
			_ = w.store.UpdateTaskStatus(ctx, stepTaskID, model.TaskFailed)
			return false, nil
		}
	}
	// Ponder budget exhausted without a SPEAK.
	_ = w.store.UpdateTaskStatus(ctx, stepTaskID, model.TaskFailed)
	return false, nil
}
