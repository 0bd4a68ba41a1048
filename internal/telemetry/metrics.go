// Package telemetry exposes worker metrics through OpenTelemetry.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the worker's instruments. A zero-value Metrics is inert, so
// callers can keep the calls unconditionally.
type Metrics struct {
	searchLatency metric.Float64Histogram
	observations  metric.Int64Counter
	summaries     metric.Int64Counter
	agentRestarts metric.Int64Counter
	registrations []metric.Registration
}

// QueueStats is sampled by the observable gauges.
type QueueStats struct {
	ActiveSessions int64
	QueueDepth     int64
}

// New creates the worker instruments and registers observable gauges backed
// by statsFn.
func New(statsFn func() QueueStats) (*Metrics, error) {
	meter := otel.Meter("recall/worker")

	searchLatency, err := meter.Float64Histogram("recall.search.latency",
		metric.WithDescription("Hybrid search latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	observations, err := meter.Int64Counter("recall.observations.stored",
		metric.WithDescription("Observations persisted"))
	if err != nil {
		return nil, err
	}
	summaries, err := meter.Int64Counter("recall.summaries.stored",
		metric.WithDescription("Session summaries persisted"))
	if err != nil {
		return nil, err
	}
	agentRestarts, err := meter.Int64Counter("recall.agent.restarts",
		metric.WithDescription("Unplanned memory-agent restarts"))
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		searchLatency: searchLatency,
		observations:  observations,
		summaries:     summaries,
		agentRestarts: agentRestarts,
	}

	if statsFn != nil {
		activeSessions, err := meter.Int64ObservableGauge("recall.sessions.active",
			metric.WithDescription("Live sessions in the registry"))
		if err != nil {
			return nil, err
		}
		queueDepth, err := meter.Int64ObservableGauge("recall.queue.depth",
			metric.WithDescription("Pending messages across all sessions"))
		if err != nil {
			return nil, err
		}

		reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			stats := statsFn()
			o.ObserveInt64(activeSessions, stats.ActiveSessions)
			o.ObserveInt64(queueDepth, stats.QueueDepth)
			return nil
		}, activeSessions, queueDepth)
		if err != nil {
			return nil, err
		}
		m.registrations = append(m.registrations, reg)
	}

	return m, nil
}

// RecordSearch records one search's latency.
func (m *Metrics) RecordSearch(ctx context.Context, elapsedMs float64) {
	if m == nil || m.searchLatency == nil {
		return
	}
	m.searchLatency.Record(ctx, elapsedMs)
}

// RecordStored counts persisted observations and summaries.
func (m *Metrics) RecordStored(ctx context.Context, observations int64, summary bool) {
	if m == nil || m.observations == nil {
		return
	}
	m.observations.Add(ctx, observations)
	if summary {
		m.summaries.Add(ctx, 1)
	}
}

// RecordRestart counts one unplanned agent restart.
func (m *Metrics) RecordRestart(ctx context.Context) {
	if m == nil || m.agentRestarts == nil {
		return
	}
	m.agentRestarts.Add(ctx, 1)
}

// Shutdown unregisters the observable callbacks.
func (m *Metrics) Shutdown() {
	if m == nil {
		return
	}
	for _, reg := range m.registrations {
		_ = reg.Unregister()
	}
}
