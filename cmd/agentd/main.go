// Command agentd runs the autonomous agent runtime described by the
// internal/model/internal/pipeline/internal/dispatch/internal/processor
// packages: a thought-processing agent driven by a WAKEUP -> WORK ->
// SHUTDOWN state machine, fed by one or more Observer-backed channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/audit"
	"github.com/emooreatx/CIRISAgent-sub009/internal/bus"
	"github.com/emooreatx/CIRISAgent-sub009/internal/channel/telegram"
	"github.com/emooreatx/CIRISAgent-sub009/internal/channel/ws"
	"github.com/emooreatx/CIRISAgent-sub009/internal/config"
	"github.com/emooreatx/CIRISAgent-sub009/internal/dispatch"
	"github.com/emooreatx/CIRISAgent-sub009/internal/dma"
	"github.com/emooreatx/CIRISAgent-sub009/internal/filter"
	"github.com/emooreatx/CIRISAgent-sub009/internal/guardrail"
	"github.com/emooreatx/CIRISAgent-sub009/internal/llm"
	"github.com/emooreatx/CIRISAgent-sub009/internal/memory"
	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	otelpkg "github.com/emooreatx/CIRISAgent-sub009/internal/otel"
	"github.com/emooreatx/CIRISAgent-sub009/internal/observer"
	"github.com/emooreatx/CIRISAgent-sub009/internal/pipeline"
	"github.com/emooreatx/CIRISAgent-sub009/internal/processor"
	"github.com/emooreatx/CIRISAgent-sub009/internal/scheduler"
	"github.com/emooreatx/CIRISAgent-sub009/internal/secrets"
	"github.com/emooreatx/CIRISAgent-sub009/internal/sideeffect"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
	"github.com/emooreatx/CIRISAgent-sub009/internal/telemetry"
	"github.com/emooreatx/CIRISAgent-sub009/internal/tools"
)

func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("startup failed", "code", code, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
	}
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "agent_mode", cfg.Runtime.AgentMode)

	otelProvider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	var metrics *otelpkg.Metrics
	if cfg.Telemetry.Enabled {
		metrics, err = otelpkg.NewMetrics(otelProvider.Meter)
		if err != nil {
			fatalStartup(logger, "E_OTEL_METRICS_INIT", err)
		}
		dma.SetMetrics(metrics)
	}

	dbPath := filepath.Join(cfg.HomeDir, "agentd.db")
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	auditor, err := audit.New(cfg.HomeDir)
	if err != nil {
		fatalStartup(logger, "E_AUDITOR_INIT", err)
	}
	defer auditor.Close()
	auditor.SetDB(st)

	eventBus := bus.New()
	sink := sideeffect.New(eventBus, st, tools.DefaultCatalog())
	memSvc := memory.New(st)
	filterSvc := filter.New(st)
	secretsSvc := secrets.New()

	llmProvider, llmModel, llmAPIKey := cfg.ResolveLLMConfig()
	llmService := llm.NewGenkitService(ctx, llm.Config{
		Provider:                 llmProvider,
		Model:                    llmModel,
		APIKey:                   llmAPIKey,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	})

	retryLimit := 2
	timeoutEach := 30 * time.Second

	ethical := &dma.EthicalDMA{Service: llmService, RetryLimit: retryLimit, TimeoutEach: timeoutEach}
	csdma := &dma.CSDMA{Service: llmService, RetryLimit: retryLimit, TimeoutEach: timeoutEach}
	aspdma := &dma.ActionSelectionDMA{Service: llmService, RetryLimit: retryLimit, TimeoutEach: timeoutEach}

	guardrails := guardrail.NewChecker(guardrail.Config{
		EntropyThreshold:   cfg.Runtime.Guardrails.EntropyThreshold,
		CoherenceThreshold: cfg.Runtime.Guardrails.CoherenceThreshold,
	})
	if cfg.Telemetry.Enabled {
		guardrails.WithMetrics(metrics)
	}

	defaultProfile := buildProfile(cfg, llmService, retryLimit, timeoutEach)

	pipelineProc := pipeline.New(pipeline.Config{
		Store:            st,
		Ethical:          ethical,
		CSDMA:            csdma,
		ActionSelection:  aspdma,
		Guardrails:       guardrails,
		Memory:           memSvc,
		MaxPonderRounds:  cfg.Runtime.Workflow.MaxPonderRounds,
		DefaultChannelID: "system",
		Logger:           logger,
	})

	dispatcher := dispatch.BuildDispatcher(dispatch.Dependencies{
		Store:           st,
		TaskStore:       st,
		Audit:           auditor,
		Sink:            sink,
		Memory:          memSvc,
		Filter:          filterSvc,
		DefaultChannel:  "system",
		MaxPonderRounds: cfg.Runtime.Workflow.MaxPonderRounds,
		Logger:          logger,
		Metrics:         metrics,
	})

	wakeupProcessor := processor.NewWakeupProcessor(processor.WakeupConfig{
		Store:           st,
		Pipeline:        pipelineProc,
		Dispatcher:      dispatcher,
		Profile:         defaultProfile,
		MaxPonderRounds: cfg.Runtime.Workflow.MaxPonderRounds,
		Logger:          logger,
	})
	workProcessor := processor.NewWorkProcessor(processor.WorkConfig{
		Store:             st,
		Pipeline:          pipelineProc,
		Dispatcher:        dispatcher,
		Profile:           defaultProfile,
		MaxActiveTasks:    cfg.Runtime.Workflow.MaxActiveTasks,
		MaxActiveThoughts: cfg.Runtime.Workflow.MaxActiveThoughts,
		Logger:            logger,
	})
	shutdownProcessor := processor.NewShutdownProcessor(processor.ShutdownConfig{
		Store:      st,
		Pipeline:   pipelineProc,
		Dispatcher: dispatcher,
		Profile:    defaultProfile,
		Logger:     logger,
	})

	runner := processor.NewRunner(processor.RunnerConfig{
		Wakeup:      wakeupProcessor,
		WakeupSteps: defaultWakeupSteps(),
		Work:        workProcessor,
		Shutdown:    shutdownProcessor,
		RoundDelay:  time.Duration(cfg.Runtime.Workflow.RoundDelaySeconds * float64(time.Second)),
		Logger:      logger,
	})

	sched := scheduler.New(scheduler.Config{
		Store:    st,
		Logger:   logger,
		Interval: time.Duration(cfg.Runtime.Scheduler.CheckIntervalSeconds) * time.Second,
	})
	sched.Start(ctx)
	defer sched.Stop()

	obs := observer.New(observer.Config{
		Store:             st,
		Secrets:           secretsSvc,
		Memory:            memSvc,
		Triggers:          st,
		OriginService:     "agentd",
		HistoryWindow:     cfg.Runtime.Observer.PassiveContextLimit,
		AuthorizedWAUsers: nil,
	})

	var stopChannels []func()

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tgChannel := telegram.New(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, obs, logger)
		tgCtx, tgCancel := context.WithCancel(ctx)
		go func() {
			if err := tgChannel.Start(tgCtx); err != nil {
				logger.Error("telegram channel stopped", "error", err)
			}
		}()
		stopChannels = append(stopChannels, tgCancel)
	}

	wsHandler := ws.New(obs, cfg.AllowOrigins, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/ws", wsHandler)
	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	if err := runner.Start(ctx); err != nil {
		fatalStartup(logger, "E_WAKEUP_FAILED", err)
	}
	logger.Info("agentd running", "bind_addr", cfg.BindAddr)

	<-ctx.Done()
	logger.Info("agentd shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	for _, cancelChannel := range stopChannels {
		cancelChannel()
	}

	outcome, reason, err := runner.Stop(shutdownCtx, processor.ShutdownContext{
		Reason:      "process terminated",
		InitiatedBy: "signal",
		IsTerminal:  true,
	})
	if err != nil {
		logger.Error("shutdown sequence errored", "error", err)
	}
	logger.Info("shutdown complete", "outcome", outcome, "reason", reason)
}

// defaultWakeupSteps mirrors the typical 5-step WAKEUP_ROOT sequence: each
// step must yield SPEAK (directly or after ponder loops) before the next
// runs.
func defaultWakeupSteps() []processor.WakeupStep {
	return []processor.WakeupStep{
		{StepType: "verify_identity", Prompt: "Confirm who you are and your operating purpose."},
		{StepType: "verify_environment", Prompt: "Confirm your runtime environment is healthy."},
		{StepType: "verify_integrity", Prompt: "Confirm your configuration and guardrail thresholds are intact."},
		{StepType: "verify_resources", Prompt: "Confirm you have the resources needed to operate this round."},
		{StepType: "ready", Prompt: "Acknowledge readiness to begin accepting tasks."},
	}
}

// buildProfile resolves the active agent profile from Runtime config,
// falling back to a permissive default when no default_profile is
// configured or the named profile is unknown.
func buildProfile(cfg config.Config, svc llm.Service, retryLimit int, timeout time.Duration) pipeline.Profile {
	name := strings.TrimSpace(cfg.Runtime.DefaultProfile)
	ap, ok := cfg.Runtime.AgentProfiles[name]
	if !ok {
		return pipeline.Profile{
			Name: "default",
			PermittedActions: []model.Action{
				model.ActionObserve, model.ActionSpeak, model.ActionTool, model.ActionReject,
				model.ActionPonder, model.ActionDefer, model.ActionMemorize, model.ActionRecall,
				model.ActionForget, model.ActionTaskComplete,
			},
		}
	}

	profile := pipeline.Profile{Name: name, PermittedActions: ap.PermittedActions}
	if ap.DSDMAIdentifier != "" {
		profile.DSDMA = &dma.DSDMA{
			Service:     svc,
			Domain:      ap.DSDMAIdentifier,
			Prompt:      ap.ASPDMAPrompt,
			RetryLimit:  retryLimit,
			TimeoutEach: timeout,
		}
	}
	return profile
}
