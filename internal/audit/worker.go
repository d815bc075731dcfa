package audit

import (
	"context"
	"log/slog"
)

// Sink receives events after they are persisted, e.g. the Kafka exporter.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Worker drains the publisher inbox into the store and optional sinks.
// Store and sink failures are logged and skipped; the trail is fail-open and
// a broken backend must not wedge the channel and stall the whole pipeline.
type Worker struct {
	store  Store
	sinks  []Sink
	inbox  <-chan Event
	logger *slog.Logger
}

// NewWorker creates a worker over the publisher's inbox.
func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{store: store, sinks: sinks, inbox: inbox, logger: logger}
}

// Run processes events until the context is cancelled, then drains whatever
// is already queued before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.handle(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	// Detached context: the run context is already cancelled, but queued
	// events should still reach the store during shutdown.
	ctx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.handle(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) handle(ctx context.Context, event Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.Error("audit append failed",
			slog.String("action", string(event.Action)),
			slog.String("error", err.Error()),
		)
	}
	for _, sink := range w.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			w.logger.Error("audit sink publish failed",
				slog.String("action", string(event.Action)),
				slog.String("error", err.Error()),
			)
		}
	}
}
