// Package scheduler implements the task scheduler of spec section 4.5: a
// single cooperative loop that fires due ScheduledTasks, one-shot or cron,
// by creating a Thought against their existing parent Task.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow) — spec section 9 Open Questions freezes the grammar here.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the scheduler's dependencies.
type Config struct {
	Store    *store.Store
	Logger   *slog.Logger
	Interval time.Duration // check_interval_seconds; defaults to 60s.
}

// Scheduler is the cooperative scheduler loop described in spec section 4.5.
type Scheduler struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler with the given config.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: cfg.Store, logger: logger, interval: interval}
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit (spec section 5:
// cancellation watches a shared stop signal).
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick implements spec section 4.5 steps 1-4.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	active, err := s.store.ListActiveScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("scheduler: failed to list active scheduled tasks", "error", err)
		return
	}

	for _, st := range active {
		due, err := isDue(st, now)
		if err != nil {
			s.logger.Error("scheduler: invalid cron expression", "scheduled_task_id", st.TaskID, "cron", st.ScheduleCron, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.fire(ctx, st, now)
	}
}

// isDue implements spec section 4.5 step 2's dueness predicate.
func isDue(st *model.ScheduledTask, now time.Time) (bool, error) {
	if st.IsOneShot() {
		return st.DeferUntil != nil && !st.DeferUntil.After(now), nil
	}
	schedule, err := cronParser.Parse(st.ScheduleCron)
	if err != nil {
		return false, fmt.Errorf("invalid cron expression %q: %w", st.ScheduleCron, err)
	}
	if st.LastTriggeredAt == nil {
		// Due if the schedule would have fired at or before some point up to now,
		// i.e. its next occurrence strictly after the epoch is already <= now.
		next := schedule.Next(time.Unix(0, 0).UTC())
		return !next.After(now), nil
	}
	next := schedule.Next(*st.LastTriggeredAt)
	return !next.After(now), nil
}

// fire implements spec section 4.5 step 3-4: creates exactly one Thought
// against the existing parent Task, reactivating it if DEFERRED, then
// records last_triggered_at and terminal/recurring bookkeeping.
func (s *Scheduler) fire(ctx context.Context, st *model.ScheduledTask, now time.Time) {
	parent, err := s.store.GetTask(ctx, st.ParentTaskID)
	if err != nil {
		s.logger.Error("scheduler: failed to load parent task", "scheduled_task_id", st.TaskID, "error", err)
		return
	}
	if parent == nil {
		s.logger.Error("scheduler: parent task missing", "scheduled_task_id", st.TaskID, "parent_task_id", st.ParentTaskID)
		return
	}
	if parent.Status == model.TaskDeferred {
		if err := s.store.UpdateTaskStatus(ctx, parent.TaskID, model.TaskActive); err != nil {
			s.logger.Error("scheduler: failed to reactivate deferred task", "task_id", parent.TaskID, "error", err)
			return
		}
	}

	th := &model.Thought{
		ThoughtID:    uuid.NewString(),
		SourceTaskID: st.ParentTaskID,
		ThoughtType:  model.ThoughtTypeScheduledTrigger,
		Content:      st.TriggerPrompt,
		Priority:     model.ThoughtPriorityHigh,
		Status:       model.ThoughtPending,
		Context: model.ThoughtContext{
			Extras: map[string]string{
				"scheduled_task_id":   st.TaskID,
				"scheduled_task_name": st.Name,
				"goal_description":    st.GoalDescription,
				"trigger_type":        "scheduled",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.AddThought(ctx, th); err != nil {
		s.logger.Error("scheduler: failed to create trigger thought", "scheduled_task_id", st.TaskID, "error", err)
		return
	}

	if err := s.store.MarkScheduledTaskTriggered(ctx, st.TaskID, now, st.IsOneShot()); err != nil {
		s.logger.Error("scheduler: failed to record trigger", "scheduled_task_id", st.TaskID, "error", err)
		return
	}

	s.logger.Info("scheduler: fired", "scheduled_task_id", st.TaskID, "name", st.Name, "thought_id", th.ThoughtID, "one_shot", st.IsOneShot())
}

// ScheduleTask creates a new ScheduledTask. Exactly one of deferUntil/
// scheduleCron must be non-nil/non-empty; an invalid cron expression raises
// (spec: SchedulerInvalidCron).
func (s *Scheduler) ScheduleTask(ctx context.Context, name, goal, prompt, originThoughtID, parentTaskID string, deferUntil *time.Time, scheduleCron string) (*model.ScheduledTask, error) {
	if (deferUntil == nil) == (scheduleCron == "") {
		return nil, fmt.Errorf("schedule_task: exactly one of defer_until or schedule_cron must be set")
	}
	if scheduleCron != "" {
		if _, err := cronParser.Parse(scheduleCron); err != nil {
			return nil, fmt.Errorf("schedule_task: invalid cron expression: %w", err)
		}
	}
	st := &model.ScheduledTask{
		TaskID:          uuid.NewString(),
		Name:            name,
		GoalDescription: goal,
		Status:          model.ScheduledActive,
		TriggerPrompt:   prompt,
		OriginThoughtID: originThoughtID,
		ParentTaskID:    parentTaskID,
		DeferUntil:      deferUntil,
		ScheduleCron:    scheduleCron,
	}
	if err := s.store.CreateScheduledTask(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// CancelTask cancels a scheduled task (spec: cancel_task).
func (s *Scheduler) CancelTask(ctx context.Context, id string) error {
	return s.store.CancelScheduledTask(ctx, id)
}

// DeferTask pushes a scheduled task's defer_until out (spec: defer_task).
func (s *Scheduler) DeferTask(ctx context.Context, id string, newDeferUntil time.Time, reason string) error {
	return s.store.DeferScheduledTask(ctx, id, newDeferUntil, reason)
}

// HandleShutdown is a no-op beyond logging: active scheduled tasks already
// live in the durable store, so there is nothing further to persist (spec:
// handle_shutdown).
func (s *Scheduler) HandleShutdown(ctx context.Context, expectedReactivation string) {
	if expectedReactivation != "" {
		s.logger.Info("scheduler: shutdown with expected reactivation", "when", expectedReactivation)
	} else {
		s.logger.Info("scheduler: shutdown")
	}
}
