// Package event implements the in-process event registry: a declarative
// map from event kind to an ordered list of handler ids, resolved and
// validated once at startup. Emission is synchronous multicast with
// per-handler error isolation.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thicketlab/thicket/internal/otel"
)

// Payload carries an event's named fields. The shape is a contract per
// event kind; the registry itself does not enforce it.
type Payload map[string]any

// String returns the named field as a string, or "" if absent or not a string.
func (p Payload) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Float returns the named field as a float64, accepting float32 and int.
func (p Payload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// HandlerID names a handler in the handler table.
type HandlerID string

// HandlerFunc is a bound event handler. Errors are logged and isolated;
// they never abort sibling handlers or the emitter.
type HandlerFunc func(ctx context.Context, p Payload) error

type binding struct {
	id HandlerID
	fn HandlerFunc
}

// Registry resolves event kinds to ordered handler lists. It is read-only
// after construction and safe for concurrent Emit.
type Registry struct {
	bindings map[Kind][]binding
	logger   *slog.Logger
	metrics  *otel.Metrics
}

// NewRegistry builds a registry from a bindings table and a handler table.
// Every handler id referenced by a binding must exist in the handler table,
// and every bound kind must be in the closed kind set; a violation fails
// construction so a typo is caught before any traffic flows.
func NewRegistry(
	table map[Kind][]HandlerID,
	handlers map[HandlerID]HandlerFunc,
	logger *slog.Logger,
	metrics *otel.Metrics,
) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	known := Kinds()

	resolved := make(map[Kind][]binding, len(table))
	for kind, ids := range table {
		if !slices.Contains(known, kind) {
			return nil, fmt.Errorf("event registry: unknown event kind %q", kind)
		}
		list := make([]binding, 0, len(ids))
		for _, id := range ids {
			fn, ok := handlers[id]
			if !ok {
				return nil, fmt.Errorf("event registry: %s is bound to unregistered handler %q", kind, id)
			}
			list = append(list, binding{id: id, fn: fn})
		}
		resolved[kind] = list
	}
	return &Registry{bindings: resolved, logger: logger, metrics: metrics}, nil
}

// HandlerIDs returns the ordered handler ids bound to a kind.
func (r *Registry) HandlerIDs(kind Kind) []HandlerID {
	ids := make([]HandlerID, 0, len(r.bindings[kind]))
	for _, b := range r.bindings[kind] {
		ids = append(ids, b.id)
	}
	return ids
}

// Emit synchronously invokes every handler bound to kind, in registration
// order. A handler error or panic is logged and counted but does not stop
// the remaining handlers. Emitting an unbound kind is a no-op.
func (r *Registry) Emit(ctx context.Context, kind Kind, p Payload) {
	list := r.bindings[kind]
	if r.metrics != nil {
		r.metrics.EventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(kind))))
	}
	for _, b := range list {
		r.invoke(ctx, kind, b, p)
	}
}

func (r *Registry) invoke(ctx context.Context, kind Kind, b binding, p Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked",
				"event", string(kind),
				"handler", string(b.id),
				"panic", fmt.Sprint(rec),
			)
			r.countHandlerError(ctx, kind, b.id)
		}
	}()
	if err := b.fn(ctx, p); err != nil {
		r.logger.Error("event handler failed",
			"event", string(kind),
			"handler", string(b.id),
			"error", err,
		)
		r.countHandlerError(ctx, kind, b.id)
	}
}

func (r *Registry) countHandlerError(ctx context.Context, kind Kind, id HandlerID) {
	if r.metrics == nil {
		return
	}
	r.metrics.HandlerErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(kind)),
		attribute.String("handler", string(id)),
	))
}
