package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RecordDMA records one DMA evaluation's duration and outcome. dmaType is
// e.g. "ethical", "csdma", "dsdma", "aspdma"; outcome is "ok" or "failure".
func (m *Metrics) RecordDMA(ctx context.Context, dmaType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(AttrDMAType.String(dmaType), AttrOutcome.String(outcome))
	m.DMAInvocations.Add(ctx, 1, opt)
	m.DMADuration.Record(ctx, duration.Seconds(), opt)
}

// RecordGuardrail records one guardrail check's verdict. result is "pass" or
// "veto".
func (m *Metrics) RecordGuardrail(ctx context.Context, guardrailName, result string) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(AttrGuardrailName.String(guardrailName), AttrGuardrailResult.String(result))
	m.GuardrailVerdicts.Add(ctx, 1, opt)
}

// RecordAction records one dispatched action's outcome. outcome is
// "completed" or "failed".
func (m *Metrics) RecordAction(ctx context.Context, actionType, outcome string, ponderCount int) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(AttrActionType.String(actionType), AttrOutcome.String(outcome))
	m.ActionsDispatched.Add(ctx, 1, opt)
	if ponderCount > 0 {
		m.PonderRounds.Record(ctx, int64(ponderCount), opt)
	}
}
