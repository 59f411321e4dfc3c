// Package events publishes dataset lifecycle events.
package events

import (
	"context"
	"log/slog"
	"sync"

	"go-dataset-pipeline/internal/metrics"
	"go-dataset-pipeline/internal/model"
)

// Emitter publishes lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, ev model.Event) error
}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit logs ev at info level.
func (e LogEmitter) Emit(ctx context.Context, ev model.Event) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "dataset event", "dataset", ev.DatasetID, "type", ev.Type, "date", ev.Date)
	metrics.CounterEventsEmitted.WithLabelValues("log", "ok").Inc()
	return nil
}

// MultiEmitter fans an event out to several emitters. Every emitter is
// tried; the first error is returned.
type MultiEmitter []Emitter

// Emit sends ev to every emitter.
func (m MultiEmitter) Emit(ctx context.Context, ev model.Event) error {
	var first error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// Emit records ev.
func (r *Recorder) Emit(ctx context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

// Types returns the recorded event types for datasetID, in order.
func (r *Recorder) Types(datasetID string) []string {
	var out []string
	for _, ev := range r.Events() {
		if ev.DatasetID == datasetID {
			out = append(out, ev.Type)
		}
	}
	return out
}
