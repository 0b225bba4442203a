package processor

import (
	"context"
	"testing"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/pipeline"
)

const rejectResult = `{"selected_action":"reject","action_parameters":{"reason":"not permitted"},"rationale":"declining"}`
const ponderResult = `{"selected_action":"ponder","action_parameters":{"questions":["reconsidering"]},"rationale":"thinking"}`

func testProfile() pipeline.Profile {
	return pipeline.Profile{
		Name: "wakeup",
		PermittedActions: []model.Action{
			model.ActionSpeak, model.ActionPonder, model.ActionReject, model.ActionTaskComplete,
		},
	}
}

func TestWakeupRunBlockingAllStepsSpeakCompletesRoot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newScriptedService()
	svc.actionSelections = []string{speakResult, speakResult}
	pl := newTestPipeline(svc, s)
	disp := &fakeDispatcher{store: s}

	w := NewWakeupProcessor(WakeupConfig{
		Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxPonderRounds: 3,
	})

	root, err := w.RunBlocking(ctx, []WakeupStep{
		{StepType: "verify_identity", Prompt: "confirm who you are"},
		{StepType: "verify_environment", Prompt: "confirm your environment"},
	})
	if err != nil {
		t.Fatalf("run blocking: %v", err)
	}
	if root.Status != model.TaskCompleted {
		t.Fatalf("expected WAKEUP_ROOT COMPLETED, got %s", root.Status)
	}

	step0, err := s.GetTask(ctx, "WAKEUP_ROOT-step-0")
	if err != nil {
		t.Fatalf("get step 0: %v", err)
	}
	if step0.Status != model.TaskCompleted {
		t.Fatalf("expected step 0 COMPLETED, got %s", step0.Status)
	}
	step1, err := s.GetTask(ctx, "WAKEUP_ROOT-step-1")
	if err != nil {
		t.Fatalf("get step 1: %v", err)
	}
	if step1.Status != model.TaskCompleted {
		t.Fatalf("expected step 1 COMPLETED, got %s", step1.Status)
	}
}

func TestWakeupRunBlockingStepFailureFailsRootAndStopsSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newScriptedService()
	svc.actionSelections = []string{rejectResult, speakResult}
	pl := newTestPipeline(svc, s)
	disp := &fakeDispatcher{store: s}

	w := NewWakeupProcessor(WakeupConfig{Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxPonderRounds: 3})

	root, err := w.RunBlocking(ctx, []WakeupStep{
		{StepType: "verify_identity", Prompt: "confirm who you are"},
		{StepType: "verify_environment", Prompt: "confirm your environment"},
	})
	if err != nil {
		t.Fatalf("run blocking: %v", err)
	}
	if root.Status != model.TaskFailed {
		t.Fatalf("expected WAKEUP_ROOT FAILED, got %s", root.Status)
	}

	// The second step must never have been created since the first step's
	// REJECT should halt the sequence.
	_, err = s.GetTask(ctx, "WAKEUP_ROOT-step-1")
	if err != nil {
		t.Fatalf("get step 1: %v", err)
	}
	exists, err := s.TaskExists(ctx, "WAKEUP_ROOT-step-1")
	if err != nil {
		t.Fatalf("task exists: %v", err)
	}
	if exists {
		t.Fatalf("expected step 1 to never have been created after step 0 failed")
	}
}

func TestWakeupStepPondersThenSpeaks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newScriptedService()
	svc.actionSelections = []string{ponderResult, speakResult}
	pl := newTestPipeline(svc, s)
	disp := &fakeDispatcher{store: s}

	w := NewWakeupProcessor(WakeupConfig{Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxPonderRounds: 3})

	root, err := w.RunBlocking(ctx, []WakeupStep{{StepType: "verify_identity", Prompt: "confirm who you are"}})
	if err != nil {
		t.Fatalf("run blocking: %v", err)
	}
	if root.Status != model.TaskCompleted {
		t.Fatalf("expected WAKEUP_ROOT COMPLETED after ponder-then-speak, got %s", root.Status)
	}
}

func TestWakeupStepExhaustsPonderBudgetFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newScriptedService()
	svc.actionSelections = []string{ponderResult, ponderResult, ponderResult, ponderResult}
	pl := newTestPipeline(svc, s)
	disp := &fakeDispatcher{store: s}

	w := NewWakeupProcessor(WakeupConfig{Store: s, Pipeline: pl, Dispatcher: disp, Profile: testProfile(), MaxPonderRounds: 2})

	root, err := w.RunBlocking(ctx, []WakeupStep{{StepType: "verify_identity", Prompt: "confirm who you are"}})
	if err != nil {
		t.Fatalf("run blocking: %v", err)
	}
	if root.Status != model.TaskFailed {
		t.Fatalf("expected WAKEUP_ROOT FAILED after exhausting ponder budget, got %s", root.Status)
	}
}
