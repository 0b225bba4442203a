// Package pipeline implements the ThoughtProcessor: the per-thought pipeline
// that builds context, fans out the initial DMAs, runs action selection,
// applies guardrails, and hands back a final ActionSelectionResult for
// dispatch (spec section 4.3).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emooreatx/CIRISAgent-sub009/internal/dma"
	"github.com/emooreatx/CIRISAgent-sub009/internal/guardrail"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

// MemoryService is the minimal capability step 5's memory_meta short-circuit
// needs; the concrete implementation lives in internal/memory.
type MemoryService interface {
	RecordMeta(ctx context.Context, userNick, channel string, metadata map[string]string) error
}

// Profile names the active agent profile's action-selection parameters
// (spec section 6 agent_profiles).
type Profile struct {
	Name             string
	PermittedActions []model.Action
	DSDMA            *dma.DSDMA // nil when the profile configures no domain-specific evaluator.
}

// Config wires a Processor's dependencies and profile-derived limits.
type Config struct {
	Store           *store.Store
	Ethical         *dma.EthicalDMA
	CSDMA           *dma.CSDMA
	ActionSelection *dma.ActionSelectionDMA
	Guardrails      *guardrail.Checker
	Memory          MemoryService // optional
	MaxPonderRounds int
	DefaultChannelID string
	Logger          *slog.Logger
}

// Processor runs the thought-processing pipeline described in spec section
// 4.3.
type Processor struct {
	store           *store.Store
	ethical         *dma.EthicalDMA
	csdma           *dma.CSDMA
	actionSelection *dma.ActionSelectionDMA
	guardrails      *guardrail.Checker
	memory          MemoryService
	maxPonderRounds int
	defaultChannel  string
	logger          *slog.Logger
}

// New builds a Processor from cfg.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxPonder := cfg.MaxPonderRounds
	if maxPonder <= 0 {
		maxPonder = 5
	}
	return &Processor{
		store:           cfg.Store,
		ethical:         cfg.Ethical,
		csdma:           cfg.CSDMA,
		actionSelection: cfg.ActionSelection,
		guardrails:      cfg.Guardrails,
		memory:          cfg.Memory,
		maxPonderRounds: maxPonder,
		defaultChannel:  cfg.DefaultChannelID,
		logger:          logger,
	}
}

// syntheticDefer builds the fallback DEFER result used by steps 1, 2, 3 and 4
// when a thought cannot be found or a DMA exhausts its retries.
func syntheticDefer(reason string, errMsg string) *model.ActionSelectionResult {
	ctx := map[string]string{}
	if errMsg != "" {
		ctx["error"] = errMsg
	}
	return &model.ActionSelectionResult{
		SelectedAction: model.ActionDefer,
		Rationale:      reason,
		ActionParameters: model.ActionParameters{
			Defer: &model.DeferParams{Reason: reason, Context: ctx},
		},
	}
}

// Process runs the full pipeline for the thought named by thoughtID and
// returns its final ActionSelectionResult. A nil result with a nil error
// means step 5's memory_meta short-circuit completed the thought directly
// with no further dispatch required.
func (p *Processor) Process(ctx context.Context, thoughtID string, profile Profile) (*model.ActionSelectionResult, error) {
	// Step 1: fetch & context build.
	th, err := p.store.GetThought(ctx, thoughtID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load thought: %w", err)
	}
	if th == nil {
		return syntheticDefer("thought not found", ""), nil
	}

	task, err := p.store.GetTask(ctx, th.SourceTaskID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load task: %w", err)
	}

	snapshot, channelID, channelSource := p.buildSnapshot(ctx, task, th)
	th.Context.Snapshot = snapshot
	th.Context.ChannelID = channelID
	th.Context.InitialTaskContext = fmt.Sprintf("channel_id resolved from %s", channelSource)

	// Step 2: initial DMAs in parallel.
	bundle, deferResult := p.runInitialDMAs(ctx, th, profile)
	if deferResult != nil {
		return deferResult, nil
	}

	// Step 3: critical-failure gate.
	if bundle.CriticalFailure {
		return syntheticDefer(fmt.Sprintf("critical DMA failure: %v", bundle.FailingDMAs), ""), nil
	}

	// Step 4: action selection.
	result, err := p.selectAction(ctx, th, *bundle, profile, th.PonderCount, nil)
	if err != nil {
		return syntheticDefer("action selection failed", err.Error()), nil
	}

	// Step 5: special short-circuits.
	if result.SelectedAction == model.ActionTaskComplete {
		return result, nil
	}
	if th.ThoughtType == model.ThoughtTypeMemoryMeta && p.memory != nil {
		if err := p.memory.RecordMeta(ctx, th.Context.AuthorName, th.Context.ChannelID, th.Context.Extras); err != nil {
			p.logger.Error("pipeline: memory_meta invocation failed", "thought_id", thoughtID, "error", err)
		}
		if err := p.store.UpdateThoughtStatus(ctx, thoughtID, model.ThoughtCompleted, nil, nil); err != nil {
			p.logger.Error("pipeline: failed to mark memory_meta thought completed", "thought_id", thoughtID, "error", err)
		}
		return nil, nil
	}

	// Step 6: guardrails.
	checked := p.guardrails.Check(result, *bundle)

	// Step 7: recursive re-selection on PONDER override, exactly once.
	if checked.Guardrail != nil && checked.Guardrail.Overridden && checked.SelectedAction == model.ActionPonder {
		feedback := &dma.GuardrailFeedback{
			FailedAction:  checked.Guardrail.OriginalAction,
			FailureReason: checked.Guardrail.OverrideReason,
			RetryGuidance: "Select a different permitted action that avoids this failure.",
		}
		retryResult, err := p.selectAction(ctx, th, *bundle, profile, th.PonderCount, feedback)
		if err == nil {
			retryChecked := p.guardrails.Check(retryResult, *bundle)
			if retryChecked.Guardrail == nil || !retryChecked.Guardrail.Overridden {
				checked = retryChecked
			}
			// else: retry also failed guardrails, keep the original PONDER override.
		}
	}

	return checked, nil
}

func (p *Processor) selectAction(ctx context.Context, th *model.Thought, bundle model.DMABundle, profile Profile, currentPonder int, feedback *dma.GuardrailFeedback) (*model.ActionSelectionResult, error) {
	return p.actionSelection.Run(ctx, dma.Input{
		Thought:           th,
		Bundle:            bundle,
		CurrentPonder:     currentPonder,
		MaxPonderRounds:   p.maxPonderRounds,
		PermittedActions:  profile.PermittedActions,
		ProfileName:       profile.Name,
		GuardrailFeedback: feedback,
	})
}

// runInitialDMAs implements step 2: Ethical, CSDMA, and (if configured)
// DSDMA run concurrently; a DMAFailure on any of them short-circuits to a
// synthetic DEFER rather than proceeding to action selection.
func (p *Processor) runInitialDMAs(ctx context.Context, th *model.Thought, profile Profile) (*model.DMABundle, *model.ActionSelectionResult) {
	var wg sync.WaitGroup
	var ethical *model.EthicalDMAResult
	var cs *model.CSDMAResult
	var ds *model.DSDMAResult
	var ethicalErr, csErr, dsErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		ethical, ethicalErr = p.ethical.Run(ctx, th)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		cs, csErr = p.csdma.Run(ctx, th)
	}()

	if profile.DSDMA != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ds, dsErr = profile.DSDMA.Run(ctx, th)
		}()
	}

	wg.Wait()

	if ethicalErr != nil {
		return nil, syntheticDefer("DMA timeout", ethicalErr.Error())
	}
	if csErr != nil {
		return nil, syntheticDefer("DMA timeout", csErr.Error())
	}
	if dsErr != nil {
		return nil, syntheticDefer("DMA timeout", dsErr.Error())
	}

	bundle := &model.DMABundle{Ethical: ethical, CSDMA: cs, DSDMA: ds}
	if ethical != nil && ethical.Decision == "reject" {
		bundle.CriticalFailure = true
		bundle.FailingDMAs = append(bundle.FailingDMAs, "ethical")
	}
	return bundle, nil
}

// buildSnapshot implements step 1's SystemSnapshot aggregation and the
// strict channel_id resolution priority: task context, thought context,
// processor default, sentinel.
func (p *Processor) buildSnapshot(ctx context.Context, task *model.Task, th *model.Thought) (*model.SystemSnapshot, string, string) {
	snapshot := &model.SystemSnapshot{CountsByStatus: map[string]int{}}

	if pending, err := p.store.CountTasks(ctx, taskStatusPtr(model.TaskPending)); err == nil {
		snapshot.CountsByStatus["tasks_pending"] = pending
	}
	if active, err := p.store.CountTasks(ctx, taskStatusPtr(model.TaskActive)); err == nil {
		snapshot.CountsByStatus["tasks_active"] = active
	}
	if thoughts, err := p.store.CountThoughts(ctx); err == nil {
		snapshot.CountsByStatus["thoughts_open"] = thoughts
	}

	if task != nil {
		snapshot.CurrentTaskSummary = fmt.Sprintf("%s [%s] %s", task.TaskID, task.Status, task.Description)
	}
	snapshot.CurrentThoughtSummary = fmt.Sprintf("%s [%s] %s", th.ThoughtID, th.ThoughtType, th.Content)

	if recent, err := p.store.GetRecentCompletedTasks(ctx, 5); err == nil {
		for _, t := range recent {
			snapshot.RecentCompletedTasks = append(snapshot.RecentCompletedTasks, fmt.Sprintf("%s: %s", t.TaskID, t.Description))
		}
	}
	if top, err := p.store.GetTopTasks(ctx, 5); err == nil {
		for _, t := range top {
			snapshot.TopPendingTasks = append(snapshot.TopPendingTasks, fmt.Sprintf("%s (priority %d): %s", t.TaskID, t.Priority, t.Description))
		}
	}

	channelID, source := resolveChannelID(task, th, p.defaultChannel)
	snapshot.ResolvedChannelID = channelID
	snapshot.ChannelIDSource = source
	return snapshot, channelID, source
}

const unknownChannelSentinel = "UNKNOWN"

func resolveChannelID(task *model.Task, th *model.Thought, defaultChannel string) (string, string) {
	if task != nil && task.Context.ChannelID != "" {
		return task.Context.ChannelID, "task.context.channel_id"
	}
	if th.Context.ChannelID != "" {
		return th.Context.ChannelID, "thought.context.channel_id"
	}
	if defaultChannel != "" {
		return defaultChannel, "app-config default"
	}
	return unknownChannelSentinel, "sentinel"
}

func taskStatusPtr(s model.TaskStatus) *model.TaskStatus { return &s }
