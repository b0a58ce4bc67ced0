package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/procurement-api/internal/models"
	"github.com/noah-isme/procurement-api/pkg/jobs"
)

// Notifier delivers a state-transition event to the templating/mail
// subsystem. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
}

// NotifierFunc allows using plain functions.
type NotifierFunc func(ctx context.Context, event models.Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}

// LogNotifier emits events as structured log lines. It stands in for the
// mail subsystem, which consumes the same payloads.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event models.Event) error {
	n.logger.Info("notification",
		zap.String("type", string(event.Type)),
		zap.String("requester", event.Requester),
		zap.String("transaction_id", event.TransactionID),
		zap.Float64("amount", event.Amount),
		zap.Any("metadata", event.Metadata))
	return nil
}

// EventDispatcher fans events out through the background job queue so a
// slow mail provider never stalls a decision.
type EventDispatcher struct {
	queue    *jobs.Queue
	notifier Notifier
	logger   *zap.Logger
}

// NewEventDispatcher wires a notifier behind an async queue.
func NewEventDispatcher(notifier Notifier, cfg jobs.QueueConfig, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &EventDispatcher{notifier: notifier, logger: logger}
	d.queue = jobs.NewQueue("notifications", d.handle, cfg)
	return d
}

// Start begins background delivery.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the workers.
func (d *EventDispatcher) Stop() {
	d.queue.Stop()
}

// Notify implements Notifier by enqueueing for async delivery. Delivery
// failures are retried by the queue and finally logged; they never
// propagate back into the workflow.
func (d *EventDispatcher) Notify(_ context.Context, event models.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return d.queue.Enqueue(jobs.Job{
		ID:      event.TransactionID + ":" + string(event.Type),
		Type:    string(event.Type),
		Payload: event,
	})
}

func (d *EventDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.Event)
	if !ok {
		d.logger.Error("dropping notification with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return d.notifier.Notify(ctx, event)
}
