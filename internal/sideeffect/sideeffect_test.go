package sideeffect

import (
	"context"
	"fmt"
	"testing"

	"github.com/emooreatx/CIRISAgent-sub009/internal/bus"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

type recordingStore struct {
	correlations []*model.Correlation
	updates      []string
	statuses     []model.CorrelationStatus
}

func (r *recordingStore) AddCorrelation(ctx context.Context, c *model.Correlation) error {
	r.correlations = append(r.correlations, c)
	return nil
}

func (r *recordingStore) UpdateCorrelation(ctx context.Context, id, response string, status model.CorrelationStatus) error {
	r.updates = append(r.updates, response)
	r.statuses = append(r.statuses, status)
	return nil
}

type fakeToolRunner struct {
	output string
	err    error
}

func (f *fakeToolRunner) Run(ctx context.Context, name string, args map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func TestSendMessagePublishesAndRecordsCorrelation(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(TopicOutboundMessage)
	store := &recordingStore{}
	sink := New(b, store, nil)

	id, err := sink.SendMessage(context.Background(), "chan-1", "hello there")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty correlation id")
	}
	if len(store.correlations) != 1 || store.correlations[0].CorrelationID != id {
		t.Fatalf("expected correlation to be recorded with matching id")
	}

	select {
	case ev := <-sub.Ch():
		msg, ok := ev.Payload.(OutboundMessage)
		if !ok || msg.Content != "hello there" {
			t.Fatalf("unexpected outbound message payload: %#v", ev.Payload)
		}
	default:
		t.Fatalf("expected an outbound message to be published")
	}
}

func TestRunToolExecutesAndRecordsCompletion(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(TopicToolInvocation)
	store := &recordingStore{}
	sink := New(b, store, &fakeToolRunner{output: "42 degrees"})

	id, err := sink.RunTool(context.Background(), "web_search", map[string]string{"query": "weather"})
	if err != nil {
		t.Fatalf("run tool: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty correlation id")
	}
	if len(store.updates) != 1 || store.updates[0] != "42 degrees" {
		t.Fatalf("expected correlation updated with tool output, got %v", store.updates)
	}
	if len(store.statuses) != 1 || store.statuses[0] != model.CorrelationCompleted {
		t.Fatalf("expected completed status, got %v", store.statuses)
	}

	select {
	case ev := <-sub.Ch():
		inv, ok := ev.Payload.(ToolInvocation)
		if !ok || inv.ToolName != "web_search" {
			t.Fatalf("unexpected tool invocation payload: %#v", ev.Payload)
		}
	default:
		t.Fatalf("expected a tool invocation to be published")
	}
}

func TestRunToolRecordsFailureOnToolError(t *testing.T) {
	b := bus.New()
	b.Subscribe(TopicToolInvocation)
	store := &recordingStore{}
	sink := New(b, store, &fakeToolRunner{err: fmt.Errorf("boom")})

	if _, err := sink.RunTool(context.Background(), "shell", map[string]string{"command": "echo hi"}); err == nil {
		t.Fatalf("expected an error from a failing tool")
	}
	if len(store.statuses) != 1 || store.statuses[0] != model.CorrelationFailed {
		t.Fatalf("expected failed status, got %v", store.statuses)
	}
}

func TestRunToolWithNoCatalogFails(t *testing.T) {
	b := bus.New()
	b.Subscribe(TopicToolInvocation)
	store := &recordingStore{}
	sink := New(b, store, nil)

	if _, err := sink.RunTool(context.Background(), "shell", map[string]string{"command": "echo hi"}); err == nil {
		t.Fatalf("expected an error when no tool catalog is configured")
	}
	if len(store.statuses) != 1 || store.statuses[0] != model.CorrelationFailed {
		t.Fatalf("expected failed status, got %v", store.statuses)
	}
}
