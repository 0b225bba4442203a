package dma

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithRetriesSucceedsEventually(t *testing.T) {
	attempts := 0
	result, err := RunWithRetries(context.Background(), "test", 3, time.Second, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %q", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunWithRetriesExhaustsIntoFailure(t *testing.T) {
	_, err := RunWithRetries(context.Background(), "test", 2, time.Second, func(ctx context.Context) (string, error) {
		return "", errors.New("always fails")
	})
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v (%T)", err, err)
	}
	if f.DMAName != "test" {
		t.Fatalf("unexpected dma name: %s", f.DMAName)
	}
}

func TestToActionSelectionResultSpeak(t *testing.T) {
	w := actionSelectionWire{
		SelectedAction: "speak",
		ActionParameters: actionParamsWire{
			Content:   "hi",
			ChannelID: "c1",
		},
		Rationale: "greeting",
	}
	result, err := toActionSelectionResult(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ActionParameters.Speak == nil || result.ActionParameters.Speak.Content != "hi" {
		t.Fatalf("expected speak params populated, got %#v", result.ActionParameters)
	}
}

func TestToActionSelectionResultRejectsUnknownAction(t *testing.T) {
	w := actionSelectionWire{SelectedAction: "FLY_TO_THE_MOON"}
	if _, err := toActionSelectionResult(w); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}
