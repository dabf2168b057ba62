package chathub

import (
	"anonchat/backend/internal/metrics"
	"context"

	"go.uber.org/zap"
)

type outgoing struct {
	to     int64
	notice Notice
}

// Outbox is the asynchronous Notifier: notices are queued in a buffered
// channel and a single pump delivers them in order. When the buffer is full
// the notice is dropped and logged.
type Outbox struct {
	transport     Transport
	queue         chan outgoing
	onUnreachable func(ctx context.Context, userID int64)
	logger        *zap.Logger
}

// NewOutbox creates an outbox with room for size pending notices.
func NewOutbox(t Transport, size int, logger *zap.Logger) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{
		transport: t,
		queue:     make(chan outgoing, size),
		logger:    logger,
	}
}

// OnUnreachable registers the callback invoked when a recipient refuses a notice.
func (o *Outbox) OnUnreachable(fn func(ctx context.Context, userID int64)) {
	o.onUnreachable = fn
}

// Notify queues n for delivery to the participant.
func (o *Outbox) Notify(_ context.Context, to int64, n Notice) {
	select {
	case o.queue <- outgoing{to: to, notice: n}:
	default:
		metrics.OutboxDropped.Inc()
		o.logger.Warn("outbox full, dropping notice",
			zap.Int64("to", to), zap.String("key", n.Key))
	}
}

// Pending returns the number of queued notices.
func (o *Outbox) Pending() int {
	return len(o.queue)
}

// Run delivers queued notices until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	o.logger.Info("outbox started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("outbox stopped", zap.Int("pending", len(o.queue)))
			return
		case m := <-o.queue:
			o.deliver(ctx, m)
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, m outgoing) {
	d := o.transport.Notify(ctx, m.to, m.notice)
	switch d.Status {
	case Delivered:
	case Unreachable:
		o.logger.Info("notice recipient unreachable", zap.Int64("to", m.to), zap.String("key", m.notice.Key))
		if o.onUnreachable != nil {
			o.onUnreachable(ctx, m.to)
		}
	default:
		o.logger.Warn("notice delivery failed",
			zap.Int64("to", m.to), zap.String("key", m.notice.Key), zap.Error(d.Err))
	}
}
