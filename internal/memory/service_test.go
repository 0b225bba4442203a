package memory

import (
	"context"
	"testing"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

type fakeStore struct {
	entries map[string]map[string]string // scope -> key -> value
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]map[string]string{}}
}

func (f *fakeStore) MemorizeEntry(ctx context.Context, scope model.MemoryScope, key, value string) error {
	m, ok := f.entries[string(scope)]
	if !ok {
		m = map[string]string{}
		f.entries[string(scope)] = m
	}
	m[key] = value
	return nil
}

func (f *fakeStore) RecallEntry(ctx context.Context, scope model.MemoryScope, key string) (string, error) {
	return f.entries[string(scope)][key], nil
}

func (f *fakeStore) RecallByPrefix(ctx context.Context, scope model.MemoryScope, query string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range f.entries[string(scope)] {
		if containsSubstr(k, query) || containsSubstr(v, query) {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeStore) ForgetEntry(ctx context.Context, scope model.MemoryScope, key string) error {
	delete(f.entries[string(scope)], key)
	return nil
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return sub == ""
}

func TestServiceMemorizeRecallExact(t *testing.T) {
	svc := New(newFakeStore())
	ctx := context.Background()

	if err := svc.Memorize(ctx, "project", model.ScopeLocal, "agentd"); err != nil {
		t.Fatalf("memorize: %v", err)
	}
	block, err := svc.Recall(ctx, "project", model.ScopeLocal)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if block == "" {
		t.Fatalf("expected a non-empty recall block")
	}
}

func TestServiceRecallMissingReturnsEmpty(t *testing.T) {
	svc := New(newFakeStore())
	block, err := svc.Recall(context.Background(), "nothing-here", model.ScopeLocal)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if block != "" {
		t.Fatalf("expected empty block for no matches, got %q", block)
	}
}

func TestServiceForget(t *testing.T) {
	svc := New(newFakeStore())
	ctx := context.Background()
	_ = svc.Memorize(ctx, "k", model.ScopeLocal, "v")
	if err := svc.Forget(ctx, "k", model.ScopeLocal, "no longer needed"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	block, err := svc.Recall(ctx, "k", model.ScopeLocal)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if block != "" {
		t.Fatalf("expected empty recall after forget, got %q", block)
	}
}

func TestServiceMemorizeRejectsEmptyKey(t *testing.T) {
	svc := New(newFakeStore())
	if err := svc.Memorize(context.Background(), "", model.ScopeLocal, "v"); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
