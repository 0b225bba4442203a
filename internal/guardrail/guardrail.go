// Package guardrail implements the epistemic checks run over an
// ActionSelectionResult before it is handed to dispatch (spec section 4.3
// step 6): content policy, output entropy, and cross-DMA coherence.
package guardrail

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/safety"
)

// Config holds the thresholds read from guardrails.entropy_threshold and
// guardrails.coherence_threshold.
type Config struct {
	EntropyThreshold   float64
	CoherenceThreshold float64
}

// DefaultConfig matches the profile defaults documented for a fresh agent.
func DefaultConfig() Config {
	return Config{EntropyThreshold: 0.15, CoherenceThreshold: 0.35}
}

// Checker runs the guardrail chain over a selected action.
type Checker struct {
	Config    Config
	Sanitizer *safety.Sanitizer
	metrics   Recorder
}

// NewChecker builds a Checker with its own Sanitizer instance.
func NewChecker(cfg Config) *Checker {
	return &Checker{Config: cfg, Sanitizer: safety.NewSanitizer()}
}

// Recorder receives one telemetry sample per guardrail check. Satisfied by
// *internal/otel.Metrics; nil by default (no-op).
type Recorder interface {
	RecordGuardrail(ctx context.Context, guardrailName, result string)
}

// WithMetrics attaches a Recorder; subsequent Check calls report each
// guardrail's verdict through it.
func (c *Checker) WithMetrics(r Recorder) *Checker {
	c.metrics = r
	return c
}

// Check evaluates result against the guardrail chain and returns the action
// unchanged, or an override to PONDER (recoverable) or DEFER (non-recoverable
// policy failure) per spec section 4.3 step 6. Callers handling a PONDER
// override run action selection once more (step 7) and call Check again on
// that retry result; a second failure there is discarded in favor of the
// original override rather than fed back through Check again.
func (c *Checker) Check(result *model.ActionSelectionResult, bundle model.DMABundle) *model.ActionSelectionResult {
	if result == nil {
		return result
	}

	if v := c.checkContentPolicy(result); v != nil {
		c.record("content_policy", "veto")
		return c.apply(result, *v)
	}
	c.record("content_policy", "pass")

	if v := c.checkEntropy(result); v != nil {
		c.record("entropy", "veto")
		return c.apply(result, *v)
	}
	c.record("entropy", "pass")

	if v := c.checkCoherence(result, bundle); v != nil {
		c.record("coherence", "veto")
		return c.apply(result, *v)
	}
	c.record("coherence", "pass")
	return result
}

func (c *Checker) record(name, verdict string) {
	if c.metrics != nil {
		c.metrics.RecordGuardrail(context.Background(), name, verdict)
	}
}

// violation names a failed guardrail, why, and whether it is non-recoverable
// (escalates straight to DEFER rather than PONDER).
type violation struct {
	reason         string
	nonRecoverable bool
	entropyScore   float64
	coherenceScore float64
}

// checkContentPolicy treats attempts to override the agent's own identity or
// instructions as non-recoverable (no amount of re-selection fixes a hostile
// prompt), and every other sanitizer block as a recoverable content issue the
// model may rephrase away from on reconsideration.
func (c *Checker) checkContentPolicy(result *model.ActionSelectionResult) *violation {
	if result.SelectedAction != model.ActionSpeak || result.ActionParameters.Speak == nil {
		return nil
	}
	check := c.Sanitizer.Check(result.ActionParameters.Speak.Content)
	if check.Action != safety.ActionBlock {
		return nil
	}
	nonRecoverable := strings.Contains(check.Reason, "role manipulation")
	return &violation{reason: fmt.Sprintf("content policy: %s", check.Reason), nonRecoverable: nonRecoverable}
}

func (c *Checker) checkEntropy(result *model.ActionSelectionResult) *violation {
	text := speakOrRationale(result)
	if text == "" {
		return nil
	}
	score := shannonEntropy(text)
	if score < c.Config.EntropyThreshold {
		return &violation{reason: fmt.Sprintf("output entropy %.3f below threshold %.3f", score, c.Config.EntropyThreshold), entropyScore: score}
	}
	return nil
}

func (c *Checker) checkCoherence(result *model.ActionSelectionResult, bundle model.DMABundle) *violation {
	if bundle.CSDMA == nil {
		return nil
	}
	score := bundle.CSDMA.PlausibilityScore
	if score < c.Config.CoherenceThreshold {
		return &violation{reason: fmt.Sprintf("plausibility %.3f below coherence threshold %.3f", score, c.Config.CoherenceThreshold), coherenceScore: score}
	}
	return nil
}

// apply overrides result to DEFER for non-recoverable violations or PONDER
// otherwise, preserving the original action and parameters inside the
// override, and records the GuardrailAttachment side channel (spec section
// 4.3 steps 6 and 9).
func (c *Checker) apply(result *model.ActionSelectionResult, v violation) *model.ActionSelectionResult {
	original := result.SelectedAction
	attachment := &model.GuardrailAttachment{
		Overridden:     true,
		OriginalAction: original,
		OverrideReason: v.reason,
		EntropyScore:   v.entropyScore,
		CoherenceScore: v.coherenceScore,
	}

	overridden := &model.ActionSelectionResult{
		Rationale:      fmt.Sprintf("guardrail override: %s", v.reason),
		RawLLMResponse: result.RawLLMResponse,
		Guardrail:      attachment,
	}
	if v.nonRecoverable {
		overridden.SelectedAction = model.ActionDefer
		overridden.ActionParameters.Defer = &model.DeferParams{
			Reason:  v.reason,
			Context: map[string]string{"original_action": string(original)},
		}
		return overridden
	}
	overridden.SelectedAction = model.ActionPonder
	overridden.ActionParameters.Ponder = &model.PonderParams{
		Questions: []string{fmt.Sprintf("Reconsider: %s", v.reason)},
	}
	return overridden
}

func speakOrRationale(result *model.ActionSelectionResult) string {
	if result.ActionParameters.Speak != nil {
		return result.ActionParameters.Speak.Content
	}
	return result.Rationale
}

// shannonEntropy returns the normalized (0..1) Shannon entropy of s's byte
// distribution; low values indicate degenerate, repetitive output.
func shannonEntropy(s string) float64 {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	if total == 0 || len(counts) <= 1 {
		return 0
	}
	var sum float64
	for _, n := range counts {
		p := float64(n) / float64(total)
		sum -= p * math.Log2(p)
	}
	maxEntropy := math.Log2(float64(len(counts)))
	if maxEntropy == 0 {
		return 0
	}
	return sum / maxEntropy
}
