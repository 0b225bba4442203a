package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/dma"
	"github.com/emooreatx/CIRISAgent-sub009/internal/guardrail"
	"github.com/emooreatx/CIRISAgent-sub009/internal/llm"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/pipeline"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "processor.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// scriptedService returns a canned JSON document per schema name, and can be
// reprogrammed mid-test for the action-selection schema specifically.
type scriptedService struct {
	byScheme         map[string]string
	actionSelections []string // consumed in order; last entry repeats once exhausted.
	n                int
}

func newScriptedService() *scriptedService {
	return &scriptedService{byScheme: map[string]string{
		"EthicalDMAResult": `{"alignment_check":"ok","decision":"approve","rationale":"fine"}`,
		"CSDMAResult":      `{"plausibility_score":0.9,"flags":[],"reasoning":"plausible"}`,
	}}
}

func (s *scriptedService) CallStructured(ctx context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
	if req.SchemaName == "ActionSelectionResult" && len(s.actionSelections) > 0 {
		idx := s.n
		if idx >= len(s.actionSelections) {
			idx = len(s.actionSelections) - 1
		}
		s.n++
		return &llm.StructuredResponse{RawJSON: s.actionSelections[idx]}, nil
	}
	body, ok := s.byScheme[req.SchemaName]
	if !ok {
		return nil, fmt.Errorf("scriptedService: no response scripted for %s", req.SchemaName)
	}
	return &llm.StructuredResponse{RawJSON: body}, nil
}

func newTestPipeline(svc llm.Service, s *store.Store) *pipeline.Processor {
	return pipeline.New(pipeline.Config{
		Store:           s,
		Ethical:         &dma.EthicalDMA{Service: svc, RetryLimit: 1, TimeoutEach: time.Second},
		CSDMA:           &dma.CSDMA{Service: svc, RetryLimit: 1, TimeoutEach: time.Second},
		ActionSelection: &dma.ActionSelectionDMA{Service: svc, RetryLimit: 1, TimeoutEach: time.Second},
		Guardrails:      guardrail.NewChecker(guardrail.DefaultConfig()),
		MaxPonderRounds: 3,
	})
}

// fakeDispatcher is a minimal stand-in for internal/dispatch's
// ActionDispatcher: it performs just enough of each handler's status
// bookkeeping for the processor-layer tests to observe task/thought outcomes.
type fakeDispatcher struct {
	store        *store.Store
	maxPonder    int
	dispatched   []model.Action
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, th *model.Thought, result *model.ActionSelectionResult) error {
	f.dispatched = append(f.dispatched, result.SelectedAction)
	switch result.SelectedAction {
	case model.ActionTaskComplete, model.ActionSpeak, model.ActionObserve:
		return f.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil)
	case model.ActionReject:
		if err := f.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtRejected, result, nil); err != nil {
			return err
		}
		return f.store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskFailed)
	case model.ActionPonder:
		count, err := f.store.IncrementPonder(ctx, th.ThoughtID, result.Rationale)
		if err != nil {
			return err
		}
		maxPonder := f.maxPonder
		if maxPonder <= 0 {
			maxPonder = 5
		}
		if count >= maxPonder {
			if err := f.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtDeferred, result, nil); err != nil {
				return err
			}
			return f.store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskDeferred)
		}
		return nil
	case model.ActionDefer:
		if err := f.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtDeferred, result, nil); err != nil {
			return err
		}
		return f.store.UpdateTaskStatus(ctx, th.SourceTaskID, model.TaskDeferred)
	default:
		return f.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtCompleted, result, nil)
	}
}
