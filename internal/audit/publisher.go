package audit

import (
	"context"
	"log/slog"
	"time"

	"electorate/pkg/requestcontext"
)

// Recorder is the port services publish through. Record must not block the
// caller's request path.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Publisher enqueues events for the background worker. The channel is the
// cut between request latency and audit I/O; when it fills, events are
// dropped and counted, never waited on. Availability of the voting flow
// outranks completeness of the trail.
type Publisher struct {
	inbox     chan Event
	logger    *slog.Logger
	onDropped func()
	now       func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithDropCounter installs a callback fired once per dropped event, used to
// feed the audit_dropped metric.
func WithDropCounter(fn func()) PublisherOption {
	return func(p *Publisher) { p.onDropped = fn }
}

// WithPublisherClock injects a time source.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a publisher with the given inbox capacity.
func NewPublisher(logger *slog.Logger, capacity int, opts ...PublisherOption) *Publisher {
	if capacity <= 0 {
		capacity = 1024
	}
	p := &Publisher{
		inbox:  make(chan Event, capacity),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record enqueues an event, stamping the occurrence time if unset and the
// request metadata from the context, so services never thread IP or
// user-agent through their own signatures.
func (p *Publisher) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = p.now()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}
	select {
	case p.inbox <- event:
	default:
		if p.onDropped != nil {
			p.onDropped()
		}
		p.logger.Warn("audit inbox full, event dropped",
			slog.String("action", string(event.Action)),
			slog.String("identity_key", event.IdentityKey),
		)
	}
}

// Inbox exposes the channel for the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// NopRecorder discards every event. Used where audit is not wired.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
