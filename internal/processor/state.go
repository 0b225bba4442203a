// Package processor implements the processor framework of spec section 4.2:
// the AgentState lifecycle, the per-round loop, and the Wakeup/Shutdown/Work
// specialized processors.
package processor

import (
	"context"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// AgentState is one of the processor framework's lifecycle states.
type AgentState string

const (
	StateShutdown AgentState = "SHUTDOWN"
	StateWakeup   AgentState = "WAKEUP"
	StateWork     AgentState = "WORK"
	StatePlay     AgentState = "PLAY"
	StateSolitude AgentState = "SOLITUDE"
	StateDream    AgentState = "DREAM"
)

// Dispatcher hands a thought's final ActionSelectionResult to its handler
// (spec section 4.4). The concrete implementation lives in internal/dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, th *model.Thought, result *model.ActionSelectionResult) error
}
