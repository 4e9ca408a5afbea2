package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/taskforest/engine/core"
)

// Metrics provides instrumentation for the task executor.
type Metrics struct {
	meter             metric.Meter
	startedTotal      metric.Int64Counter
	finishedTotal     metric.Int64Counter
	retriedTotal      metric.Int64Counter
	activeGauge       metric.Int64UpDownCounter
	durationHistogram metric.Float64Histogram
}

// NewMetrics initializes executor metrics on the provided meter. A nil
// meter yields a no-op Metrics.
func NewMetrics(_ context.Context, meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	if meter == nil {
		return m, nil
	}
	var err error
	if m.startedTotal, err = meter.Int64Counter(
		"taskforest_tasks_started_total",
		metric.WithDescription("Total task bodies started"),
	); err != nil {
		return nil, fmt.Errorf("failed to create started counter: %w", err)
	}
	if m.finishedTotal, err = meter.Int64Counter(
		"taskforest_tasks_finished_total",
		metric.WithDescription("Total tasks reaching a terminal status, by status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create finished counter: %w", err)
	}
	if m.retriedTotal, err = meter.Int64Counter(
		"taskforest_tasks_retried_total",
		metric.WithDescription("Total successful retry operations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create retried counter: %w", err)
	}
	if m.activeGauge, err = meter.Int64UpDownCounter(
		"taskforest_tasks_active",
		metric.WithDescription("Tasks currently registered and not terminal"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active gauge: %w", err)
	}
	if m.durationHistogram, err = meter.Float64Histogram(
		"taskforest_task_duration_seconds",
		metric.WithDescription("Wall time from task start to terminal status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return m, nil
}

func (m *Metrics) recordStarted(ctx context.Context) {
	if m.startedTotal == nil {
		return
	}
	m.startedTotal.Add(ctx, 1)
	m.activeGauge.Add(ctx, 1)
}

func (m *Metrics) recordFinished(ctx context.Context, status core.StatusType, elapsed time.Duration) {
	if m.finishedTotal == nil {
		return
	}
	m.finishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status.String()),
	))
	m.activeGauge.Add(ctx, -1)
	m.durationHistogram.Record(ctx, elapsed.Seconds())
}

func (m *Metrics) recordRetried(ctx context.Context) {
	if m.retriedTotal == nil {
		return
	}
	m.retriedTotal.Add(ctx, 1)
}
