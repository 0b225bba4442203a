package processor

import (
	"context"
	"testing"
	"time"
)

func TestRunnerStartRunsWakeupThenEntersWork(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newScriptedService()
	svc.actionSelections = []string{speakResult}
	pl := newTestPipeline(svc, s)
	disp := &fakeDispatcher{store: s}

	wakeup := NewWakeupProcessor(WakeupConfig{Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxPonderRounds: 2})
	work := NewWorkProcessor(WorkConfig{Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxActiveTasks: 5, MaxActiveThoughts: 5})

	r := NewRunner(RunnerConfig{
		Wakeup:      wakeup,
		WakeupSteps: []WakeupStep{{StepType: "verify_identity", Prompt: "confirm who you are"}},
		Work:        work,
		RoundDelay:  20 * time.Millisecond,
	})

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.State() != StateWork {
		t.Fatalf("expected runner to enter WORK state after wake-up, got %s", r.State())
	}

	outcome, _, err := r.Stop(ctx, ShutdownContext{Reason: "test teardown"})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if r.State() != StateShutdown {
		t.Fatalf("expected runner to end in SHUTDOWN state, got %s", r.State())
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("expected accepted outcome with no shutdown processor configured, got %s", outcome)
	}
}

func TestRunnerStartFailsWhenWakeupSequenceFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newScriptedService()
	svc.actionSelections = []string{rejectResult}
	pl := newTestPipeline(svc, s)
	disp := &fakeDispatcher{store: s}

	wakeup := NewWakeupProcessor(WakeupConfig{Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxPonderRounds: 1})

	r := NewRunner(RunnerConfig{
		Wakeup:      wakeup,
		WakeupSteps: []WakeupStep{{StepType: "verify_identity", Prompt: "confirm who you are"}},
	})

	if err := r.Start(ctx); err == nil {
		t.Fatalf("expected Start to error when the wake-up sequence fails")
	}
}
