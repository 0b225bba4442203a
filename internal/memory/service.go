// Package memory implements the MEMORIZE/RECALL/FORGET capability of spec
// section 6: a scoped key-value store (IDENTITY/ENVIRONMENT/LOCAL) backed by
// the same SQLite database as the rest of the runtime's state.
package memory

import (
	"context"
	"fmt"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// Store is the persistence slice this package depends on.
type Store interface {
	MemorizeEntry(ctx context.Context, scope model.MemoryScope, key, value string) error
	RecallEntry(ctx context.Context, scope model.MemoryScope, key string) (string, error)
	RecallByPrefix(ctx context.Context, scope model.MemoryScope, query string) (map[string]string, error)
	ForgetEntry(ctx context.Context, scope model.MemoryScope, key string) error
}

// Service implements the MEMORIZE/RECALL/FORGET handlers' backing store.
type Service struct {
	store Store
}

// New builds a Service over store.
func New(store Store) *Service {
	return &Service{store: store}
}

// Memorize persists value under (scope, key).
func (s *Service) Memorize(ctx context.Context, key string, scope model.MemoryScope, value string) error {
	if key == "" {
		return fmt.Errorf("memory: memorize requires a non-empty key")
	}
	return s.store.MemorizeEntry(ctx, scope, key, value)
}

// Recall resolves query against scope: an exact key hit wins; otherwise every
// key/value pair whose key or value contains query is rendered as a
// CoreMemoryBlock-style text block (spec: recall "returns matching facts").
func (s *Service) Recall(ctx context.Context, query string, scope model.MemoryScope) (string, error) {
	if exact, err := s.store.RecallEntry(ctx, scope, query); err != nil {
		return "", err
	} else if exact != "" {
		return NewCoreMemoryBlock([]KeyValue{{Key: query, Value: exact, RelevanceScore: 1}}).Format(), nil
	}

	matches, err := s.store.RecallByPrefix(ctx, scope, query)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	kvs := make([]KeyValue, 0, len(matches))
	for k, v := range matches {
		kvs = append(kvs, KeyValue{Key: k, Value: v, RelevanceScore: 1})
	}
	return NewCoreMemoryBlock(kvs).Format(), nil
}

// Forget deletes (scope, key). reason is accepted for audit purposes only;
// the memory_entries table carries no soft-delete history.
func (s *Service) Forget(ctx context.Context, key string, scope model.MemoryScope, reason string) error {
	return s.store.ForgetEntry(ctx, scope, key)
}

// RecordMeta implements pipeline.MemoryService: a memory_meta thought writes
// its content into LOCAL scope keyed by the thought id, the simplest
// faithful rendering of "record this content as a memory fact" (spec section
// 4.3 step 5).
func (s *Service) RecordMeta(ctx context.Context, userNick, channel string, metadata map[string]string) error {
	key := fmt.Sprintf("meta:%s:%s", channel, userNick)
	value := fmt.Sprintf("%v", metadata)
	return s.store.MemorizeEntry(ctx, model.ScopeLocal, key, value)
}
