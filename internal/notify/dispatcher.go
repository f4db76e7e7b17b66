package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type queue interface {
	Pop(ctx context.Context, timeout time.Duration) (Envelope, bool, error)
}

// Dispatcher drains a RedisQueue into a delivering Sender. A failed delivery
// is logged and dropped; there is no retry.
type Dispatcher struct {
	queue   queue
	sender  Sender
	log     *zap.Logger
	poll    time.Duration
	timeout time.Duration
}

func NewDispatcher(q queue, sender Sender, log *zap.Logger, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{queue: q, sender: sender, log: log, poll: time.Second, timeout: timeout}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		envelope, ok, err := d.queue.Pop(ctx, d.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn("notification dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.poll):
			}
			continue
		}
		if !ok {
			continue
		}
		d.deliver(ctx, envelope)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, envelope Envelope) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.sender.SendNotification(sendCtx, envelope.Request)
	if err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("notification", envelope.ID),
			zap.Strings("to", envelope.Request.To),
			zap.Error(err),
		)
		return
	}
	d.log.Info("notification delivered",
		zap.String("notification", envelope.ID),
		zap.String("status", res.Status),
	)
}
