package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	q, err := NewRedisQueue("redis://"+s.Addr(), "")
	if err != nil {
		t.Fatalf("failed to create redis queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, s
}

func TestNewRedisQueue(t *testing.T) {
	q, _ := setupTestQueue(t)
	if err := q.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisQueueInvalidURL(t *testing.T) {
	if _, err := NewRedisQueue("not-a-url", ""); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRedisQueueEnqueueAndPop(t *testing.T) {
	q, s := setupTestQueue(t)
	ctx := context.Background()

	res, err := q.SendNotification(ctx, Request{To: []string{"u1"}, Subject: "Your turn"})
	if err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	if res.Status != "QUEUED" || res.ID == "" {
		t.Fatalf("unexpected response: %+v", res)
	}

	items, err := s.List(DefaultQueueKey)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued item, got %d", len(items))
	}
	if n, err := q.Len(ctx); err != nil || n != 1 {
		t.Fatalf("Len() = %d, %v", n, err)
	}

	envelope, ok, err := q.Pop(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("Pop() ok=%v err=%v", ok, err)
	}
	if envelope.ID != res.ID || envelope.Request.Subject != "Your turn" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestRedisQueuePreservesOrder(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	for _, subject := range []string{"first", "second", "third"} {
		if _, err := q.SendNotification(ctx, Request{Subject: subject}); err != nil {
			t.Fatalf("SendNotification failed: %v", err)
		}
	}
	for _, want := range []string{"first", "second", "third"} {
		envelope, ok, err := q.Pop(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("Pop() ok=%v err=%v", ok, err)
		}
		if envelope.Request.Subject != want {
			t.Fatalf("expected %q, got %q", want, envelope.Request.Subject)
		}
	}
}

func TestRedisQueueCustomKey(t *testing.T) {
	s := miniredis.RunT(t)
	q, err := NewRedisQueue("redis://"+s.Addr(), "custom:queue")
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}
	defer q.Close()

	if _, err := q.SendNotification(context.Background(), Request{Subject: "x"}); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	if !s.Exists("custom:queue") {
		t.Fatal("expected custom key to exist")
	}
}
