// Package filter implements the adaptive content-filter service the REJECT
// handler falls back to when create_filter=true (spec section 4.4).
package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// jailbreakKeywords is the well-known keyword set a derived pattern falls
// back to when the rejected content itself doesn't yield a clean pattern,
// mirroring the role-manipulation/prompt-leaking categories internal/safety
// already screens for.
var jailbreakKeywords = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"you are now a",
	"system prompt override",
	"reveal your system prompt",
	"forget everything",
}

// Store is the persistence slice this package depends on.
type Store interface {
	AddFilterTrigger(ctx context.Context, pattern, priority string) error
}

// Service persists adaptive content-filter triggers.
type Service struct {
	store Store
}

// New builds a Service over store.
func New(store Store) *Service {
	return &Service{store: store}
}

// AddTrigger persists pattern at priority, deriving pattern from explicit,
// keyword-bag, or literal-prefix sources when explicit is empty, per the
// REJECT handler's documented fallback chain.
func (s *Service) AddTrigger(ctx context.Context, explicit, rejectedContent, priority string) error {
	pattern := DerivePattern(explicit, rejectedContent)
	if pattern == "" {
		return fmt.Errorf("filter: could not derive a pattern from explicit=%q content=%q", explicit, rejectedContent)
	}
	if priority == "" {
		priority = "MEDIUM"
	}
	return s.store.AddFilterTrigger(ctx, pattern, priority)
}

// DerivePattern implements the REJECT handler's pattern-derivation chain:
// an explicit filter_pattern wins outright; otherwise a matching well-known
// jailbreak keyword is reused verbatim; otherwise a short keyword bag drawn
// from the content's own words; otherwise an escaped literal prefix of the
// content.
func DerivePattern(explicit, content string) string {
	if explicit != "" {
		return explicit
	}
	lower := strings.ToLower(content)
	for _, kw := range jailbreakKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	if bag := keywordBag(content); bag != "" {
		return bag
	}
	return literalPrefix(content)
}

// keywordBag picks up to three words of length >= 5 from content, the
// "small keyword bag" fallback.
func keywordBag(content string) string {
	words := strings.Fields(content)
	var picked []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) >= 5 {
			picked = append(picked, regexp.QuoteMeta(strings.ToLower(w)))
		}
		if len(picked) == 3 {
			break
		}
	}
	if len(picked) == 0 {
		return ""
	}
	return strings.Join(picked, "|")
}

// literalPrefix returns an escaped literal prefix (up to 40 runes) of
// content, the last-resort fallback.
func literalPrefix(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	r := []rune(content)
	if len(r) > 40 {
		r = r[:40]
	}
	return regexp.QuoteMeta(strings.ToLower(string(r)))
}
