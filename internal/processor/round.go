package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/pipeline"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

// monitorJobTaskID names the well-known task the Work processor keeps a
// pending job thought against so the pipeline never runs fully dry.
const monitorJobTaskID = "monitor-job"

// WorkConfig wires a WorkProcessor's dependencies and round limits.
type WorkConfig struct {
	Store             *store.Store
	Pipeline          *pipeline.Processor
	Dispatcher        Dispatcher
	Profile           pipeline.Profile
	MaxActiveTasks    int
	MaxActiveThoughts int
	Logger            *slog.Logger
}

// WorkProcessor implements the steady-state round described in spec section
// 4.2 steps 2-8 (the round's sleep, step 8, is the Runner's job).
type WorkProcessor struct {
	store             *store.Store
	pipeline          *pipeline.Processor
	dispatcher        Dispatcher
	profile           pipeline.Profile
	maxActiveTasks    int
	maxActiveThoughts int
	logger            *slog.Logger
}

// NewWorkProcessor builds a WorkProcessor from cfg.
func NewWorkProcessor(cfg WorkConfig) *WorkProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTasks := cfg.MaxActiveTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	maxThoughts := cfg.MaxActiveThoughts
	if maxThoughts <= 0 {
		maxThoughts = 10
	}
	return &WorkProcessor{
		store:             cfg.Store,
		pipeline:          cfg.Pipeline,
		dispatcher:        cfg.Dispatcher,
		profile:           cfg.Profile,
		maxActiveTasks:    maxTasks,
		maxActiveThoughts: maxThoughts,
		logger:            logger,
	}
}

// SupportedStates reports the one state this processor handles.
func (w *WorkProcessor) SupportedStates() []AgentState { return []AgentState{StateWork} }

// RunRound executes one Work round (spec section 4.2 steps 2-7).
func (w *WorkProcessor) RunRound(ctx context.Context, roundNumber int) error {
	if err := w.activatePendingTasks(ctx); err != nil {
		w.logger.Error("work round: activate pending tasks failed", "error", err)
	}
	if err := w.seedActiveTasks(ctx); err != nil {
		w.logger.Error("work round: seed active tasks failed", "error", err)
	}

	queue, err := w.buildQueue(ctx)
	if err != nil {
		return fmt.Errorf("work round: build queue: %w", err)
	}
	if len(queue) == 0 {
		if err := w.keepPipelineWarm(ctx); err != nil {
			w.logger.Error("work round: keep-warm job failed", "error", err)
		}
		return nil
	}

	for _, th := range queue {
		if err := w.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtProcessing, nil, &roundNumber); err != nil {
			w.logger.Error("work round: mark processing failed", "thought_id", th.ThoughtID, "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, th := range queue {
		th := th
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processOne(ctx, th)
		}()
	}
	wg.Wait()

	return nil
}

func (w *WorkProcessor) processOne(ctx context.Context, th *model.Thought) {
	result, err := w.pipeline.Process(ctx, th.ThoughtID, w.profile)
	if err != nil {
		w.logger.Error("work round: pipeline error", "thought_id", th.ThoughtID, "error", err)
		if err := w.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtFailed, nil, nil); err != nil {
			w.logger.Error("work round: mark failed after pipeline error failed", "thought_id", th.ThoughtID, "error", err)
		}
		w.checkTaskCompletion(ctx, th.SourceTaskID)
		return
	}
	if result == nil {
		// step 5's memory_meta short-circuit already completed the thought.
		w.checkTaskCompletion(ctx, th.SourceTaskID)
		return
	}
	if err := w.dispatcher.Dispatch(ctx, th, result); err != nil {
		w.logger.Error("work round: dispatch failed", "thought_id", th.ThoughtID, "action", result.SelectedAction, "error", err)
	}
	w.checkTaskCompletion(ctx, th.SourceTaskID)
}

// checkTaskCompletion implements step 7: if task is ACTIVE and has no
// PENDING/PROCESSING thoughts, mark it COMPLETED.
func (w *WorkProcessor) checkTaskCompletion(ctx context.Context, taskID string) {
	if taskID == monitorJobTaskID {
		return // the monitor job task stays ACTIVE indefinitely to keep the pipeline warm.
	}
	task, err := w.store.GetTask(ctx, taskID)
	if err != nil || task == nil || task.Status != model.TaskActive {
		return
	}
	thoughts, err := w.store.GetThoughtsByTaskID(ctx, taskID)
	if err != nil {
		w.logger.Error("work round: task completion check failed", "task_id", taskID, "error", err)
		return
	}
	for _, th := range thoughts {
		if th.Status == model.ThoughtPending || th.Status == model.ThoughtProcessing {
			return
		}
	}
	if err := w.store.UpdateTaskStatus(ctx, taskID, model.TaskCompleted); err != nil {
		w.logger.Error("work round: failed to mark task completed", "task_id", taskID, "error", err)
	}
}

// activatePendingTasks implements step 2: activate up to
// max_active_tasks - count(ACTIVE) pending tasks.
func (w *WorkProcessor) activatePendingTasks(ctx context.Context) error {
	active := model.TaskActive
	activeCount, err := w.store.CountTasks(ctx, &active)
	if err != nil {
		return err
	}
	room := w.maxActiveTasks - activeCount
	if room <= 0 {
		return nil
	}
	pending, err := w.store.GetPendingTasksForActivation(ctx, room)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if err := w.store.UpdateTaskStatus(ctx, t.TaskID, model.TaskActive); err != nil {
			w.logger.Error("work round: failed to activate task", "task_id", t.TaskID, "error", err)
		}
	}
	return nil
}

// seedActiveTasks implements step 3: one seed Thought per ACTIVE task with
// no non-terminal thought.
func (w *WorkProcessor) seedActiveTasks(ctx context.Context) error {
	needing, err := w.store.GetTasksNeedingSeedThought(ctx, w.maxActiveTasks)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range needing {
		th := &model.Thought{
			ThoughtID:    uuid.NewString(),
			SourceTaskID: t.TaskID,
			ThoughtType:  model.ThoughtTypeSeed,
			Content:      fmt.Sprintf("Initial seed thought for task: %s", t.Description),
			Status:       model.ThoughtPending,
			Priority:     t.Priority,
			Context: model.ThoughtContext{
				AuthorName:         t.Context.AuthorName,
				AuthorID:           t.Context.AuthorID,
				ChannelID:          t.Context.ChannelID,
				OriginService:      t.Context.OriginService,
				InitialTaskContext: t.Description,
				Extras:             map[string]string{},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := w.store.AddThought(ctx, th); err != nil {
			w.logger.Error("work round: failed to seed task", "task_id", t.TaskID, "error", err)
		}
	}
	return nil
}

// buildQueue implements step 4: up to max_active_thoughts pending thoughts
// for active tasks, with memory_meta thoughts preempting the queue entirely
// whenever any are present.
func (w *WorkProcessor) buildQueue(ctx context.Context) ([]*model.Thought, error) {
	candidates, err := w.store.GetPendingThoughtsForActiveTasks(ctx, w.maxActiveThoughts*4)
	if err != nil {
		return nil, err
	}

	var memoryMeta []*model.Thought
	for _, th := range candidates {
		if th.ThoughtType == model.ThoughtTypeMemoryMeta {
			memoryMeta = append(memoryMeta, th)
		}
	}
	if len(memoryMeta) > 0 {
		return capThoughts(memoryMeta, w.maxActiveThoughts), nil
	}
	return capThoughts(candidates, w.maxActiveThoughts), nil
}

func capThoughts(in []*model.Thought, limit int) []*model.Thought {
	if len(in) <= limit {
		return in
	}
	return in[:limit]
}

// keepPipelineWarm implements the Work processor's monitor-job rule: if a
// round finds zero pending thoughts and no pending/processing thought exists
// for the monitor job task, create one to keep the pipeline warm.
func (w *WorkProcessor) keepPipelineWarm(ctx context.Context) error {
	exists, err := w.store.TaskExists(ctx, monitorJobTaskID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !exists {
		if err := w.store.AddTask(ctx, &model.Task{
			TaskID:      monitorJobTaskID,
			Description: "keep the pipeline warm",
			Status:      model.TaskActive,
			Context:     model.TaskContext{Extras: map[string]string{}},
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
	}

	thoughts, err := w.store.GetThoughtsByTaskID(ctx, monitorJobTaskID)
	if err != nil {
		return err
	}
	for _, th := range thoughts {
		if th.Status == model.ThoughtPending || th.Status == model.ThoughtProcessing {
			return nil // monitor job thought already in flight.
		}
	}

	return w.store.AddThought(ctx, &model.Thought{
		ThoughtID:    uuid.NewString(),
		SourceTaskID: monitorJobTaskID,
		ThoughtType:  model.ThoughtTypeJob,
		Content:      "monitor: nothing pending, staying warm",
		Status:       model.ThoughtPending,
		Context:      model.ThoughtContext{Extras: map[string]string{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}
