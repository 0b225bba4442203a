package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTaskAndThought(t *testing.T, s *store.Store, action model.Action) (*model.Task, *model.Thought) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	task := &model.Task{
		TaskID:      uuid.NewString(),
		Description: "test task",
		Priority:    1,
		Status:      model.TaskActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.AddTask(ctx, task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	th := &model.Thought{
		ThoughtID:    uuid.NewString(),
		SourceTaskID: task.TaskID,
		ThoughtType:  model.ThoughtTypeStandard,
		Content:      "hello world",
		Priority:     0,
		Status:       model.ThoughtProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.AddThought(ctx, th); err != nil {
		t.Fatalf("add thought: %v", err)
	}
	return task, th
}

type recordingAudit struct {
	entries []string
}

func (a *recordingAudit) Record(ctx context.Context, traceID, subject, action, decision, reason string) {
	a.entries = append(a.entries, action+":"+decision)
}

type fakeSink struct {
	messages []string
	tools    []string
	failSend bool
}

func (f *fakeSink) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	if f.failSend {
		return "", context.DeadlineExceeded
	}
	f.messages = append(f.messages, channelID+":"+content)
	return uuid.NewString(), nil
}

func (f *fakeSink) RunTool(ctx context.Context, toolName string, args map[string]string) (string, error) {
	f.tools = append(f.tools, toolName)
	return uuid.NewString(), nil
}

type fakeMemory struct {
	values map[string]string
}

func newFakeMemory() *fakeMemory { return &fakeMemory{values: map[string]string{}} }

func (f *fakeMemory) Memorize(ctx context.Context, key string, scope model.MemoryScope, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeMemory) Recall(ctx context.Context, query string, scope model.MemoryScope) (string, error) {
	return f.values[query], nil
}

func (f *fakeMemory) Forget(ctx context.Context, key string, scope model.MemoryScope, reason string) error {
	delete(f.values, key)
	return nil
}

type fakeFilter struct {
	added bool
}

func (f *fakeFilter) AddTrigger(ctx context.Context, explicit, rejectedContent, priority string) error {
	f.added = true
	return nil
}

func newDispatcher(t *testing.T, s *store.Store, audit *recordingAudit, sink *fakeSink, mem *fakeMemory, filter *fakeFilter) *ActionDispatcher {
	t.Helper()
	return BuildDispatcher(Dependencies{
		Store:           s,
		TaskStore:       s,
		Audit:           audit,
		Sink:            sink,
		Memory:          mem,
		Filter:          filter,
		DefaultChannel:  "snore",
		MaxPonderRounds: 2,
	})
}

func TestDispatchSpeakCompletesThoughtAndTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task, th := newTaskAndThought(t, s, model.ActionSpeak)
	audit := &recordingAudit{}
	sink := &fakeSink{}
	d := newDispatcher(t, s, audit, sink, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{
		SelectedAction: model.ActionSpeak,
		ActionParameters: model.ActionParameters{
			Speak: &model.SpeakParams{Content: "hi there", ChannelID: "chan-1"},
		},
	}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil || got.Status != model.ThoughtCompleted {
		t.Fatalf("expected thought completed, got %+v err=%v", got, err)
	}
	gotTask, err := s.GetTask(ctx, task.TaskID)
	if err != nil || gotTask.Status != model.TaskCompleted {
		t.Fatalf("expected task completed, got %+v err=%v", gotTask, err)
	}
	if len(sink.messages) != 1 || sink.messages[0] != "chan-1:hi there" {
		t.Fatalf("expected message sent on chan-1, got %v", sink.messages)
	}
	children, err := s.GetThoughtsByTaskID(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list thoughts: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected original + follow-up thought, got %d", len(children))
	}
}

func TestDispatchSpeakFallsBackToDefaultChannel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, th := newTaskAndThought(t, s, model.ActionSpeak)
	sink := &fakeSink{}
	d := newDispatcher(t, s, &recordingAudit{}, sink, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{
		SelectedAction:   model.ActionSpeak,
		ActionParameters: model.ActionParameters{Speak: &model.SpeakParams{Content: "hi"}},
	}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.messages) != 1 || sink.messages[0] != "snore:hi" {
		t.Fatalf("expected fallback to default channel, got %v", sink.messages)
	}
}

func TestDispatchSpeakMissingContentFailsThought(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, th := newTaskAndThought(t, s, model.ActionSpeak)
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{
		SelectedAction:   model.ActionSpeak,
		ActionParameters: model.ActionParameters{Speak: &model.SpeakParams{}},
	}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch itself should not error (handled internally): %v", err)
	}
	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil || got.Status != model.ThoughtFailed {
		t.Fatalf("expected thought failed, got %+v err=%v", got, err)
	}
}

func TestDispatchPonderBelowBudgetRequeues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, th := newTaskAndThought(t, s, model.ActionPonder)
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{SelectedAction: model.ActionPonder, Rationale: "need more info"}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil {
		t.Fatalf("get thought: %v", err)
	}
	if got.Status.IsTerminal() {
		t.Fatalf("expected non-terminal status after single ponder, got %s", got.Status)
	}
	if got.PonderCount != 1 {
		t.Fatalf("expected ponder count 1, got %d", got.PonderCount)
	}
}

func TestDispatchPonderExhaustsBudgetEscalatesToDefer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task, th := newTaskAndThought(t, s, model.ActionPonder)
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{SelectedAction: model.ActionPonder, Rationale: "still thinking"}
	for i := 0; i < 2; i++ {
		if err := d.Dispatch(ctx, th, result); err != nil {
			t.Fatalf("dispatch round %d: %v", i, err)
		}
	}

	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil || got.Status != model.ThoughtDeferred {
		t.Fatalf("expected thought deferred after exhausting ponder budget, got %+v err=%v", got, err)
	}
	gotTask, err := s.GetTask(ctx, task.TaskID)
	if err != nil || gotTask.Status != model.TaskDeferred {
		t.Fatalf("expected task deferred, got %+v err=%v", gotTask, err)
	}
}

func TestDispatchDefer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task, th := newTaskAndThought(t, s, model.ActionDefer)
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{
		SelectedAction:   model.ActionDefer,
		ActionParameters: model.ActionParameters{Defer: &model.DeferParams{Reason: "needs a human"}},
	}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil || got.Status != model.ThoughtDeferred {
		t.Fatalf("expected thought deferred, got %+v err=%v", got, err)
	}
	gotTask, err := s.GetTask(ctx, task.TaskID)
	if err != nil || gotTask.Status != model.TaskDeferred {
		t.Fatalf("expected task deferred, got %+v err=%v", gotTask, err)
	}
	mapping, err := s.GetDeferralReportContext(ctx, th.ThoughtID)
	if err != nil || mapping == nil {
		t.Fatalf("expected a deferral report mapping, got %+v err=%v", mapping, err)
	}
}

func TestDispatchRejectWithFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task, th := newTaskAndThought(t, s, model.ActionReject)
	filter := &fakeFilter{}
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), filter)

	result := &model.ActionSelectionResult{
		SelectedAction: model.ActionReject,
		ActionParameters: model.ActionParameters{
			Reject: &model.RejectParams{Reason: "abusive", CreateFilter: true, FilterPriority: "HIGH"},
		},
	}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil || got.Status != model.ThoughtRejected {
		t.Fatalf("expected thought rejected, got %+v err=%v", got, err)
	}
	gotTask, err := s.GetTask(ctx, task.TaskID)
	if err != nil || gotTask.Status != model.TaskRejected {
		t.Fatalf("expected task rejected, got %+v err=%v", gotTask, err)
	}
	if !filter.added {
		t.Fatalf("expected a filter trigger to be added")
	}
}

func TestDispatchMemorizeRecallForget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mem := newFakeMemory()
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, mem, &fakeFilter{})

	_, th1 := newTaskAndThought(t, s, model.ActionMemorize)
	memResult := &model.ActionSelectionResult{
		SelectedAction:   model.ActionMemorize,
		ActionParameters: model.ActionParameters{Memorize: &model.MemorizeParams{Key: "nickname", Scope: model.ScopeLocal}},
	}
	if err := d.Dispatch(ctx, th1, memResult); err != nil {
		t.Fatalf("dispatch memorize: %v", err)
	}
	if mem.values["nickname"] != "hello world" {
		t.Fatalf("expected memorize to store thought content, got %v", mem.values)
	}

	_, th2 := newTaskAndThought(t, s, model.ActionRecall)
	recallResult := &model.ActionSelectionResult{
		SelectedAction:   model.ActionRecall,
		ActionParameters: model.ActionParameters{Recall: &model.RecallParams{Query: "nickname", Scope: model.ScopeLocal}},
	}
	if err := d.Dispatch(ctx, th2, recallResult); err != nil {
		t.Fatalf("dispatch recall: %v", err)
	}
	got, err := s.GetThought(ctx, th2.ThoughtID)
	if err != nil || got.Status != model.ThoughtCompleted {
		t.Fatalf("expected recall thought completed, got %+v err=%v", got, err)
	}

	_, th3 := newTaskAndThought(t, s, model.ActionForget)
	forgetResult := &model.ActionSelectionResult{
		SelectedAction:   model.ActionForget,
		ActionParameters: model.ActionParameters{Forget: &model.ForgetParams{Key: "nickname", Scope: model.ScopeLocal}},
	}
	if err := d.Dispatch(ctx, th3, forgetResult); err != nil {
		t.Fatalf("dispatch forget: %v", err)
	}
	if _, ok := mem.values["nickname"]; ok {
		t.Fatalf("expected nickname to be forgotten")
	}
}

func TestDispatchToolInvokesSinkAndCompletes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, th := newTaskAndThought(t, s, model.ActionTool)
	sink := &fakeSink{}
	d := newDispatcher(t, s, &recordingAudit{}, sink, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{
		SelectedAction: model.ActionTool,
		ActionParameters: model.ActionParameters{
			Tool: &model.ToolParams{ToolName: "web_search", Arguments: map[string]string{"query": "weather"}},
		},
	}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.tools) != 1 || sink.tools[0] != "web_search" {
		t.Fatalf("expected tool invocation, got %v", sink.tools)
	}
}

func TestDispatchTaskCompleteTerminalNoFollowUp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	task, th := newTaskAndThought(t, s, model.ActionTaskComplete)
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{SelectedAction: model.ActionTaskComplete}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	gotTask, err := s.GetTask(ctx, task.TaskID)
	if err != nil || gotTask.Status != model.TaskCompleted {
		t.Fatalf("expected task completed, got %+v err=%v", gotTask, err)
	}
	children, err := s.GetThoughtsByTaskID(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("list thoughts: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected no follow-up thought for TASK_COMPLETE, got %d thoughts", len(children))
	}
}

func TestDispatchUnknownActionFailsThought(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, th := newTaskAndThought(t, s, model.ActionSpeak)
	d := newDispatcher(t, s, &recordingAudit{}, &fakeSink{}, newFakeMemory(), &fakeFilter{})

	result := &model.ActionSelectionResult{SelectedAction: model.Action("BOGUS")}
	if err := d.Dispatch(ctx, th, result); err != nil {
		t.Fatalf("dispatch should handle unknown action internally: %v", err)
	}
	got, err := s.GetThought(ctx, th.ThoughtID)
	if err != nil || got.Status != model.ThoughtFailed {
		t.Fatalf("expected thought failed for unknown action, got %+v err=%v", got, err)
	}
}
