package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all GoClaw metrics instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	TaskDuration     metric.Float64Histogram
	LLMCallDuration  metric.Float64Histogram
	TokensUsed       metric.Int64Counter
	ToolCallDuration metric.Float64Histogram
	ToolCallErrors   metric.Int64Counter
	ActiveLoops      metric.Int64UpDownCounter
	LoopStepsTotal   metric.Int64Counter
	StreamTokens     metric.Int64Counter
	RateLimitRejects metric.Int64Counter

	// DMAInvocations counts each DMA evaluation by dma_type and outcome
	// (ok/failure), per round 4.3's "every DMA invocation ... emits
	// telemetry counters".
	DMAInvocations metric.Int64Counter
	// DMADuration measures wall time of a single DMA evaluation.
	DMADuration metric.Float64Histogram
	// GuardrailVerdicts counts each guardrail check by guardrail_name and
	// verdict (pass/veto).
	GuardrailVerdicts metric.Int64Counter
	// ActionsDispatched counts each dispatched action by action_type and
	// outcome (completed/failed).
	ActionsDispatched metric.Int64Counter
	// PonderRounds tracks the ponder-count distribution at dispatch time.
	PonderRounds metric.Int64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("goclaw.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("goclaw.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("goclaw.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("goclaw.llm.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("goclaw.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("goclaw.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveLoops, err = meter.Int64UpDownCounter("goclaw.loop.active",
		metric.WithDescription("Number of currently active agent loops"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopStepsTotal, err = meter.Int64Counter("goclaw.loop.steps",
		metric.WithDescription("Total loop steps executed"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamTokens, err = meter.Int64Counter("goclaw.stream.tokens",
		metric.WithDescription("Total streaming tokens delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("goclaw.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.DMAInvocations, err = meter.Int64Counter("goclaw.dma.invocations",
		metric.WithDescription("DMA evaluations by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.DMADuration, err = meter.Float64Histogram("goclaw.dma.duration",
		metric.WithDescription("DMA evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GuardrailVerdicts, err = meter.Int64Counter("goclaw.guardrail.verdicts",
		metric.WithDescription("Guardrail checks by name and verdict"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionsDispatched, err = meter.Int64Counter("goclaw.action.dispatched",
		metric.WithDescription("Dispatched actions by action type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.PonderRounds, err = meter.Int64Histogram("goclaw.thought.ponder_rounds",
		metric.WithDescription("Ponder round count at dispatch time"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
