package step

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/orion-services/activity/internal/notify"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

type fakeSender struct {
	sendFn func(ctx context.Context, req notify.Request) (notify.Response, error)
}

func (f *fakeSender) SendNotification(ctx context.Context, req notify.Request) (notify.Response, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return notify.Response{Status: "SENT"}, nil
}

func newTestExecutor(sender notify.Sender) *Executor {
	return NewExecutor(sender, zap.NewNop(), 50*time.Millisecond)
}

func newDoc(participants ...string) *store.Document {
	return &store.Document{ID: "doc-1", ParticipantsAssigned: slices.Clone(participants)}
}

func mustExecute(t *testing.T, e *Executor, cfg store.Step, doc *store.Document, userID string) {
	t.Helper()
	if v := e.Validate(cfg, doc, userID); v != nil {
		t.Fatalf("Validate(%s) = %v", userID, v)
	}
	if err := e.Execute(context.Background(), cfg, doc, userID); err != nil {
		t.Fatalf("Execute(%s) error = %v", userID, err)
	}
}

func TestUnorderedCircleAdvancesRoundWhenPendingEmpties(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: store.StepUnorderedCircleOfWriters, Rounds: 2}
	doc := newDoc("u1", "u2", "u3")

	mustExecute(t, e, cfg, doc, "u2")
	mustExecute(t, e, cfg, doc, "u3")
	if doc.Rounds != 0 {
		t.Fatalf("round advanced early: %+v", doc)
	}

	mustExecute(t, e, cfg, doc, "u1")
	if doc.Rounds != 1 {
		t.Fatalf("expected round 1, got %d", doc.Rounds)
	}
	if !slices.Equal(doc.ParticipantsAssigned, []string{"u2", "u3", "u1"}) || len(doc.Edited) != 0 {
		t.Fatalf("expected every participant reinstated, got %+v", doc)
	}
}

func TestUnorderedCircleStopsAtFinalRound(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: store.StepUnorderedCircleOfWriters, Rounds: 1}
	doc := newDoc("u1", "u2")

	for _, user := range []string{"u1", "u2", "u2", "u1"} {
		mustExecute(t, e, cfg, doc, user)
	}

	if doc.Rounds != 1 {
		t.Fatalf("expected round to stop at 1, got %d", doc.Rounds)
	}
	if len(doc.ParticipantsAssigned) != 0 || len(doc.Edited) != 2 {
		t.Fatalf("expected final round to leave everyone edited, got %+v", doc)
	}
	finished, err := e.IsFinished(cfg, []store.Document{*doc})
	if err != nil || !finished {
		t.Fatalf("IsFinished() = %v, %v", finished, err)
	}
}

func TestUnorderedCircleResubmissionIsNoop(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: store.StepUnorderedCircleOfWriters, Rounds: 3}
	doc := newDoc("u1", "u2")

	mustExecute(t, e, cfg, doc, "u1")
	before := doc.Clone()
	mustExecute(t, e, cfg, doc, "u1")

	if doc.Rounds != before.Rounds || !slices.Equal(doc.ParticipantsAssigned, before.ParticipantsAssigned) || !slices.Equal(doc.Edited, before.Edited) {
		t.Fatalf("expected no change on re-submission, before=%+v after=%+v", before, doc)
	}
}

func TestUnorderedCircleIsFinishedRequiresEmptyPendingAndFinalRound(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: store.StepUnorderedCircleOfWriters, Rounds: 2}

	tests := []struct {
		name string
		doc  store.Document
		want bool
	}{
		{name: "pending left in final round", doc: store.Document{Rounds: 2, ParticipantsAssigned: []string{"u1"}}, want: false},
		{name: "pending empty before final round", doc: store.Document{Rounds: 1, Edited: []string{"u1"}}, want: false},
		{name: "pending empty at final round", doc: store.Document{Rounds: 2, Edited: []string{"u1"}}, want: true},
		{name: "pending empty past final round", doc: store.Document{Rounds: 3}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsFinished(cfg, []store.Document{tt.doc})
			if err != nil {
				t.Fatalf("IsFinished() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsFinished() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWritingStepsRequireDocument(t *testing.T) {
	e := newTestExecutor(nil)
	for _, kind := range []store.StepKind{store.StepCircleOfWriters, store.StepUnorderedCircleOfWriters, store.StepReverseSnowball} {
		cfg := store.Step{Kind: kind}

		v := e.Validate(cfg, nil, "u1")
		if v == nil || v.Step != string(kind) {
			t.Fatalf("%s: expected violation for missing document, got %v", kind, v)
		}

		var violation *Violation
		if err := e.Execute(context.Background(), cfg, nil, "u1"); !errors.As(err, &violation) {
			t.Fatalf("%s: expected execute to fail with a violation, got %v", kind, err)
		}
		if _, err := e.IsFinished(cfg, nil); !errors.As(err, &violation) {
			t.Fatalf("%s: expected isFinished to fail without documents, got %v", kind, err)
		}
	}
}

func TestCircleOfWritersEnforcesTurnOrder(t *testing.T) {
	e := newTestExecutor(nil)
	forward := store.Step{Kind: store.StepCircleOfWriters, Direction: store.FromBeginToEnd, Rounds: 1}
	doc := newDoc("u1", "u2", "u3")

	if v := e.Validate(forward, doc, "u2"); v == nil {
		t.Fatal("expected u2 to wait for u1")
	}
	mustExecute(t, e, forward, doc, "u1")
	if v := e.Validate(forward, doc, "u1"); v == nil {
		t.Fatal("expected u1 to be rejected after acting")
	}
	mustExecute(t, e, forward, doc, "u2")
	mustExecute(t, e, forward, doc, "u3")

	if doc.Rounds != 1 || !slices.Equal(doc.ParticipantsAssigned, []string{"u1", "u2", "u3"}) {
		t.Fatalf("expected next round in original order, got %+v", doc)
	}
}

func TestCircleOfWritersReverseDirection(t *testing.T) {
	e := newTestExecutor(nil)
	reverse := store.Step{Kind: store.StepCircleOfWriters, Direction: store.FromEndToBegin, Rounds: 1}
	doc := newDoc("u1", "u2", "u3")

	if v := e.Validate(reverse, doc, "u1"); v == nil {
		t.Fatal("expected u1 to wait in reverse order")
	}
	mustExecute(t, e, reverse, doc, "u3")
	mustExecute(t, e, reverse, doc, "u2")
	mustExecute(t, e, reverse, doc, "u1")

	if doc.Rounds != 1 {
		t.Fatalf("expected round 1, got %d", doc.Rounds)
	}
	if !slices.Equal(doc.ParticipantsAssigned, []string{"u1", "u2", "u3"}) {
		t.Fatalf("expected original order restored, got %v", doc.ParticipantsAssigned)
	}
	if got := turnOf(*doc, store.FromEndToBegin); got != "u3" {
		t.Fatalf("expected the next round to start again with u3, got %q", got)
	}
}

func TestReverseSnowballShrinksAudience(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: store.StepReverseSnowball, Rounds: 5}
	doc := newDoc("u1", "u2", "u3")

	for _, user := range []string{"u1", "u2", "u3"} {
		mustExecute(t, e, cfg, doc, user)
	}
	if doc.Rounds != 1 || !slices.Equal(doc.ParticipantsAssigned, []string{"u2", "u3"}) {
		t.Fatalf("expected opener u1 to hand off, got %+v", doc)
	}

	mustExecute(t, e, cfg, doc, "u2")
	mustExecute(t, e, cfg, doc, "u3")
	if doc.Rounds != 2 || !slices.Equal(doc.ParticipantsAssigned, []string{"u3"}) {
		t.Fatalf("expected u2 to hand off, got %+v", doc)
	}

	finished, err := e.IsFinished(cfg, []store.Document{*doc})
	if err != nil || finished {
		t.Fatalf("expected unfinished while u3 is pending, got %v %v", finished, err)
	}

	mustExecute(t, e, cfg, doc, "u3")
	if doc.Rounds != 2 || len(doc.ParticipantsAssigned) != 0 {
		t.Fatalf("expected last writer to end the protocol, got %+v", doc)
	}
	finished, err = e.IsFinished(cfg, []store.Document{*doc})
	if err != nil || !finished {
		t.Fatalf("expected finished, got %v %v", finished, err)
	}
}

func TestSendEmailNotificationNotifiesActingUser(t *testing.T) {
	var got notify.Request
	sender := &fakeSender{sendFn: func(ctx context.Context, req notify.Request) (notify.Response, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a delivery deadline")
		}
		got = req
		return notify.Response{Status: "SENT"}, nil
	}}
	e := newTestExecutor(sender)
	cfg := store.Step{Kind: store.StepSendEmailNotification, Subject: "Your turn"}

	if v := e.Validate(cfg, nil, "u1"); v != nil {
		t.Fatalf("email validation must never fail, got %v", v)
	}
	if err := e.Execute(context.Background(), cfg, nil, "u1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(got.To) != 1 || got.To[0] != "u1" || got.Subject != "Your turn" || got.Body != defaultMessage {
		t.Fatalf("unexpected notification: %+v", got)
	}
	finished, err := e.IsFinished(cfg, nil)
	if err != nil || !finished {
		t.Fatalf("email step is always finished, got %v %v", finished, err)
	}
}

func TestSendEmailNotificationSwallowsFailures(t *testing.T) {
	sender := &fakeSender{sendFn: func(ctx context.Context, req notify.Request) (notify.Response, error) {
		<-ctx.Done()
		return notify.Response{}, ctx.Err()
	}}
	e := newTestExecutor(sender)

	start := time.Now()
	if err := e.Execute(context.Background(), store.Step{Kind: store.StepSendEmailNotification}, nil, "u1"); err != nil {
		t.Fatalf("expected delivery failure to be swallowed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected the notify timeout to bound the call, took %v", elapsed)
	}
}

func TestUnknownStepKind(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: "Haiku"}
	if e.Known(cfg) {
		t.Fatal("expected unknown kind")
	}
	if v := e.Validate(cfg, newDoc("u1"), "u1"); v == nil {
		t.Fatal("expected violation for unknown kind")
	}
	if e.Representation(cfg) != "Haiku" {
		t.Fatalf("unexpected representation %q", e.Representation(cfg))
	}
}

func TestSettleAdvancesRoundLeftWithoutPendingUsers(t *testing.T) {
	e := newTestExecutor(nil)
	cfg := store.Step{Kind: store.StepUnorderedCircleOfWriters, Rounds: 2}
	doc := newDoc("u1", "u2", "u3")
	mustExecute(t, e, cfg, doc, "u1")
	mustExecute(t, e, cfg, doc, "u2")

	doc.ParticipantsAssigned = nil
	if !e.Settle(cfg, doc) {
		t.Fatal("expected Settle to advance the round")
	}
	if doc.Rounds != 1 || !slices.Equal(doc.ParticipantsAssigned, []string{"u1", "u2"}) || len(doc.Edited) != 0 {
		t.Fatalf("unexpected document after settle: %+v", doc)
	}
	if e.Settle(cfg, doc) {
		t.Fatal("expected a round with pending users to stay put")
	}
}

func TestSettleLeavesUntouchedDocumentsAlone(t *testing.T) {
	e := newTestExecutor(nil)
	empty := &store.Document{ID: "doc-1"}
	for _, cfg := range []store.Step{
		{Kind: store.StepCircleOfWriters},
		{Kind: store.StepUnorderedCircleOfWriters},
		{Kind: store.StepReverseSnowball},
		{Kind: store.StepSendEmailNotification},
		{Kind: "Haiku"},
	} {
		if e.Settle(cfg, empty) || empty.Rounds != 0 {
			t.Fatalf("%s: expected no change, got %+v", cfg.Kind, empty)
		}
	}
	if e.Settle(store.Step{Kind: store.StepCircleOfWriters}, nil) {
		t.Fatal("expected nil document to be ignored")
	}
}

func TestSendEmailNotificationWaitsForOutboxFlush(t *testing.T) {
	sent := 0
	sender := &fakeSender{sendFn: func(context.Context, notify.Request) (notify.Response, error) {
		sent++
		return notify.Response{Status: "SENT"}, nil
	}}
	e := newTestExecutor(sender)
	ctx, outbox := WithOutbox(context.Background())

	if err := e.Execute(ctx, store.Step{Kind: store.StepSendEmailNotification}, nil, "u1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if sent != 0 || outbox.Len() != 1 {
		t.Fatalf("expected delivery to be deferred, sent=%d pending=%d", sent, outbox.Len())
	}
	outbox.Flush(context.Background())
	if sent != 1 || outbox.Len() != 0 {
		t.Fatalf("expected one delivery after flush, sent=%d pending=%d", sent, outbox.Len())
	}
}
