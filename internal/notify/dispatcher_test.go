package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeQueue struct {
	mu     sync.Mutex
	items  []Envelope
	popErr error
}

func (f *fakeQueue) Pop(ctx context.Context, timeout time.Duration) (Envelope, bool, error) {
	f.mu.Lock()
	if f.popErr != nil {
		err := f.popErr
		f.popErr = nil
		f.mu.Unlock()
		return Envelope{}, false, err
	}
	if len(f.items) > 0 {
		item := f.items[0]
		f.items = f.items[1:]
		f.mu.Unlock()
		return item, true, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return Envelope{}, false, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return Envelope{}, false, nil
	}
}

type fakeSender struct {
	sendFn func(ctx context.Context, req Request) (Response, error)
}

func (f *fakeSender) SendNotification(ctx context.Context, req Request) (Response, error) {
	return f.sendFn(ctx, req)
}

func TestDispatcherDeliversQueuedNotifications(t *testing.T) {
	q := &fakeQueue{items: []Envelope{
		{ID: "n1", Request: Request{Subject: "one"}},
		{ID: "n2", Request: Request{Subject: "two"}},
	}}
	delivered := make(chan string, 2)
	sender := &fakeSender{sendFn: func(ctx context.Context, req Request) (Response, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected delivery deadline")
		}
		delivered <- req.Subject
		return Response{Status: "SENT"}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewDispatcher(q, sender, zap.NewNop(), time.Second).Run(ctx)
		close(done)
	}()

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-delivered:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	cancel()
	<-done
}

func TestDispatcherSurvivesFailures(t *testing.T) {
	q := &fakeQueue{
		popErr: errors.New("connection reset"),
		items:  []Envelope{{ID: "n1"}, {ID: "n2"}},
	}
	d := NewDispatcher(q, nil, zap.NewNop(), time.Second)
	d.poll = time.Millisecond

	calls := make(chan struct{}, 2)
	d.sender = &fakeSender{sendFn: func(context.Context, Request) (Response, error) {
		calls <- struct{}{}
		return Response{}, errors.New("smtp down")
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("expected dispatcher to keep delivering after failures")
		}
	}
	cancel()
	<-done
}
