package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestOneShotTriggerReactivatesAndCompletes exercises spec scenario S4: a
// deferred parent task with a one-shot scheduled task becomes ACTIVE, gets
// exactly one SCHEDULED_TASK_TRIGGER thought, and the scheduled task is
// removed from the active set.
func TestOneShotTriggerReactivatesAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	parent := &model.Task{
		TaskID: uuid.NewString(), Description: "tp", Status: model.TaskDeferred,
		Context: model.TaskContext{Extras: map[string]string{}}, CreatedAt: now, UpdatedAt: now,
	}
	if err := st.AddTask(ctx, parent); err != nil {
		t.Fatal(err)
	}

	sched := New(Config{Store: st})
	deferUntil := now.Add(-time.Second) // already due
	scheduled, err := sched.ScheduleTask(ctx, "reminder", "goal", "time to check in", "", parent.TaskID, &deferUntil, "")
	if err != nil {
		t.Fatalf("schedule task: %v", err)
	}

	sched.tick(ctx)

	gotParent, err := st.GetTask(ctx, parent.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if gotParent.Status != model.TaskActive {
		t.Fatalf("expected parent task ACTIVE, got %s", gotParent.Status)
	}

	thoughts, err := st.GetThoughtsByTaskID(ctx, parent.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thoughts) != 1 || thoughts[0].ThoughtType != model.ThoughtTypeScheduledTrigger {
		t.Fatalf("expected exactly one SCHEDULED_TASK_TRIGGER thought, got %#v", thoughts)
	}

	gotSched, err := st.GetScheduledTask(ctx, scheduled.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if gotSched.Status != model.ScheduledComplete {
		t.Fatalf("one-shot scheduled task should complete, got %s", gotSched.Status)
	}

	// A second tick must not create another thought (idempotent per dueness window).
	sched.tick(ctx)
	thoughts2, err := st.GetThoughtsByTaskID(ctx, parent.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thoughts2) != 1 {
		t.Fatalf("completed one-shot task must not fire again, got %d thoughts", len(thoughts2))
	}
}

func TestScheduleTaskRejectsBothOrNeitherTimeField(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sched := New(Config{Store: st})

	if _, err := sched.ScheduleTask(ctx, "n", "g", "p", "", "parent", nil, ""); err == nil {
		t.Fatalf("expected error when neither time field is set")
	}
	deferUntil := time.Now()
	if _, err := sched.ScheduleTask(ctx, "n", "g", "p", "", "parent", &deferUntil, "*/5 * * * *"); err == nil {
		t.Fatalf("expected error when both time fields are set")
	}
}

func TestScheduleTaskRejectsInvalidCron(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sched := New(Config{Store: st})

	if _, err := sched.ScheduleTask(ctx, "n", "g", "p", "", "parent", nil, "not a cron expr"); err == nil {
		t.Fatalf("expected invalid cron to be rejected")
	}
}

func TestCronDueRespectsLastTriggeredAt(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	st := &model.ScheduledTask{ScheduleCron: "0 * * * *"} // top of every hour

	due, err := isDue(st, now)
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Fatalf("expected due at exactly the top of the hour with no prior trigger")
	}

	last := now
	st.LastTriggeredAt = &last
	due, err = isDue(st, now)
	if err != nil {
		t.Fatal(err)
	}
	if due {
		t.Fatalf("must not trigger again within the same minute granularity")
	}

	later := now.Add(time.Hour)
	due, err = isDue(st, later)
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Fatalf("expected due again one hour later")
	}
}
