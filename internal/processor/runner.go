package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// RunnerConfig wires the Runner's state-specific processors and timing.
type RunnerConfig struct {
	Wakeup      *WakeupProcessor
	WakeupSteps []WakeupStep
	Work        *WorkProcessor
	Shutdown    *ShutdownProcessor
	RoundDelay  time.Duration // round_delay_seconds
	Logger      *slog.Logger
}

// Runner drives the AgentState lifecycle (spec section 4.2): it runs the
// wake-up sequence once, then loops the Work round until Stop is called,
// which in turn runs the shutdown sequence.
type Runner struct {
	wakeup      *WakeupProcessor
	wakeupSteps []WakeupStep
	work        *WorkProcessor
	shutdown    *ShutdownProcessor
	roundDelay  time.Duration
	logger      *slog.Logger

	state       AgentState
	roundNumber int
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRunner builds a Runner from cfg.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.RoundDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Runner{
		wakeup:      cfg.Wakeup,
		wakeupSteps: cfg.WakeupSteps,
		work:        cfg.Work,
		shutdown:    cfg.Shutdown,
		roundDelay:  delay,
		logger:      logger,
		state:       StateWakeup,
	}
}

// State reports the Runner's current AgentState.
func (r *Runner) State() AgentState { return r.state }

// Start runs the wake-up sequence (if configured) and, on success, begins
// the Work round loop in a background goroutine.
func (r *Runner) Start(ctx context.Context) error {
	if r.wakeup != nil {
		root, err := r.wakeup.RunBlocking(ctx, r.wakeupSteps)
		if err != nil {
			return fmt.Errorf("runner: wake-up sequence errored: %w", err)
		}
		if root != nil && root.Status != model.TaskCompleted {
			return fmt.Errorf("runner: wake-up sequence did not complete (task status %s)", root.Status)
		}
	}

	r.state = StateWork
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(loopCtx)
	r.logger.Info("runner: entered WORK state", "round_delay", r.roundDelay)
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.roundNumber++
		if r.work != nil {
			if err := r.work.RunRound(ctx, r.roundNumber); err != nil {
				r.logger.Error("runner: work round failed", "round", r.roundNumber, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.roundDelay):
		}
	}
}

// Stop cancels the Work round loop and, if a ShutdownProcessor is
// configured, runs the shutdown sequence and returns its outcome.
func (r *Runner) Stop(ctx context.Context, sc ShutdownContext) (Outcome, string, error) {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.state = StateShutdown

	if r.shutdown == nil {
		return OutcomeAccepted, "", nil
	}
	return r.shutdown.Run(ctx, sc)
}
