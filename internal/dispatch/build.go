package dispatch

import (
	"log/slog"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// Sink is the narrow slice of internal/sideeffect.Sink the dispatcher needs:
// message sending (SPEAK/OBSERVE) and tool invocation (TOOL).
type Sink interface {
	MessageSender
	ToolRunner
}

// Dependencies collects everything BuildDispatcher needs to wire the
// static action -> Handler map.
type Dependencies struct {
	Store           HandlerStore
	TaskStore       Store // dispatcher's own GetTask/UpdateThoughtStatus slice
	Audit           Auditor
	Sink            Sink
	Memory          MemoryHandler
	Filter          FilterHandler
	Notifier        WANotifier    // optional
	Reader          ChannelReader // optional
	DefaultChannel  string
	MaxPonderRounds int
	RegistryTimeout time.Duration
	Logger          *slog.Logger
	Metrics         Recorder // optional
}

// BuildDispatcher wires one handler per model.Action and returns a ready
// ActionDispatcher satisfying internal/processor's Dispatcher interface.
func BuildDispatcher(deps Dependencies) *ActionDispatcher {
	maxPonder := deps.MaxPonderRounds
	if maxPonder <= 0 {
		maxPonder = 3
	}

	deferHandler := &DeferHandler{Store: deps.Store, Audit: deps.Audit, Notifier: deps.Notifier}

	handlers := map[model.Action]Handler{
		model.ActionSpeak: &SpeakHandler{
			Store:          deps.Store,
			Audit:          deps.Audit,
			Sender:         deps.Sink,
			DefaultChannel: deps.DefaultChannel,
		},
		model.ActionPonder: &PonderHandler{
			Store:           deps.Store,
			Audit:           deps.Audit,
			MaxPonderRounds: maxPonder,
			Defer:           deferHandler,
		},
		model.ActionDefer: deferHandler,
		model.ActionReject: &RejectHandler{
			Store:  deps.Store,
			Audit:  deps.Audit,
			Filter: deps.Filter,
		},
		model.ActionObserve: &ObserveHandler{
			Store:  deps.Store,
			Audit:  deps.Audit,
			Reader: deps.Reader,
		},
		model.ActionMemorize: &MemorizeHandler{Store: deps.Store, Audit: deps.Audit, Memory: deps.Memory},
		model.ActionRecall:   &RecallHandler{Store: deps.Store, Audit: deps.Audit, Memory: deps.Memory},
		model.ActionForget:   &ForgetHandler{Store: deps.Store, Audit: deps.Audit, Memory: deps.Memory},
		model.ActionTool: &ToolHandler{
			Store:  deps.Store,
			Audit:  deps.Audit,
			Runner: deps.Sink,
		},
		model.ActionTaskComplete: &TaskCompleteHandler{Store: deps.Store, Audit: deps.Audit},
	}

	return New(Config{
		Store:           deps.TaskStore,
		Handlers:        handlers,
		RegistryTimeout: deps.RegistryTimeout,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
	})
}
