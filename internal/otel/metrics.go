package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the pipeline's metric instruments.
type Metrics struct {
	ItemsProcessed  metric.Int64Counter
	ItemsFailed     metric.Int64Counter
	ItemDuration    metric.Float64Histogram
	HandlerErrors   metric.Int64Counter
	EventsEmitted   metric.Int64Counter
	BatchDuration   metric.Float64Histogram
	EdgesRebuilt    metric.Int64Counter
	QueueDepth      metric.Int64UpDownCounter
	ActiveAgents    metric.Int64UpDownCounter
	EmbeddingCalls  metric.Int64Counter
	EmbeddingErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ItemsProcessed, err = meter.Int64Counter("thicket.queue.items_processed",
		metric.WithDescription("Queue items completed by background agents"),
	)
	if err != nil {
		return nil, err
	}

	m.ItemsFailed, err = meter.Int64Counter("thicket.queue.items_failed",
		metric.WithDescription("Queue items marked failed by background agents"),
	)
	if err != nil {
		return nil, err
	}

	m.ItemDuration, err = meter.Float64Histogram("thicket.queue.item_duration",
		metric.WithDescription("Per-item processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerErrors, err = meter.Int64Counter("thicket.event.handler_errors",
		metric.WithDescription("Event handler invocations that returned an error or panicked"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsEmitted, err = meter.Int64Counter("thicket.event.emitted",
		metric.WithDescription("Events emitted on the in-process bus"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchDuration, err = meter.Float64Histogram("thicket.graph.batch_duration",
		metric.WithDescription("Graph edge rebuild duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.EdgesRebuilt, err = meter.Int64Counter("thicket.graph.edges_rebuilt",
		metric.WithDescription("Materialized graph edges written by the batch job"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("thicket.queue.depth",
		metric.WithDescription("Pending items per queue"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveAgents, err = meter.Int64UpDownCounter("thicket.agents.active",
		metric.WithDescription("Background agent loops currently running"),
	)
	if err != nil {
		return nil, err
	}

	m.EmbeddingCalls, err = meter.Int64Counter("thicket.embedding.calls",
		metric.WithDescription("Embedding provider invocations"),
	)
	if err != nil {
		return nil, err
	}

	m.EmbeddingErrors, err = meter.Int64Counter("thicket.embedding.errors",
		metric.WithDescription("Embedding provider failures"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
