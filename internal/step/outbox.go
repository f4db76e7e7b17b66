package step

import (
	"context"
	"sync"
)

type outboxKey struct{}

// Outbox collects side effects scheduled while a stage is applied. They run
// only when Flush is called, after the caller's transaction committed.
type Outbox struct {
	mu      sync.Mutex
	pending []func(context.Context)
}

// WithOutbox returns a context whose step executions defer their side
// effects to the returned Outbox.
func WithOutbox(ctx context.Context) (context.Context, *Outbox) {
	outbox := &Outbox{}
	return context.WithValue(ctx, outboxKey{}, outbox), outbox
}

func outboxFrom(ctx context.Context) *Outbox {
	outbox, _ := ctx.Value(outboxKey{}).(*Outbox)
	return outbox
}

func (o *Outbox) add(effect func(context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, effect)
}

// Len reports how many side effects are waiting.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush runs the scheduled side effects in order and empties the outbox.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, effect := range pending {
		effect(ctx)
	}
}
