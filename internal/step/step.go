// Package step implements the collaboration protocols a workflow stage runs.
package step

import (
	"context"
	"fmt"
	"time"

	"github.com/orion-services/activity/internal/notify"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

// Violation reports that a user may not act on a step right now.
type Violation struct {
	Step    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Step, v.Message)
}

func violation(kind store.StepKind, format string, args ...any) *Violation {
	return &Violation{Step: string(kind), Message: fmt.Sprintf(format, args...)}
}

// strategy is the capability every protocol provides. doc is nil when the
// acting user's group has no document yet.
type strategy interface {
	validate(doc *store.Document, userID string, cfg store.Step) *Violation
	execute(ctx context.Context, doc *store.Document, userID string, cfg store.Step) error
	// settle applies the round rule to doc without anyone acting.
	settle(doc *store.Document, cfg store.Step) bool
	isFinished(docs []store.Document, cfg store.Step) (bool, error)
}

// Executor dispatches on Step.Kind to the matching protocol.
type Executor struct {
	circle    circleOfWriters
	unordered unorderedCircleOfWriters
	snowball  reverseSnowball
	email     sendEmailNotification
}

func NewExecutor(sender notify.Sender, log *zap.Logger, notifyTimeout time.Duration) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if sender == nil {
		sender = notify.Nop{}
	}
	if notifyTimeout <= 0 {
		notifyTimeout = notify.DefaultTimeout
	}
	return &Executor{
		circle:    circleOfWriters{log: log.Named(string(store.StepCircleOfWriters))},
		unordered: unorderedCircleOfWriters{log: log.Named(string(store.StepUnorderedCircleOfWriters))},
		snowball:  reverseSnowball{log: log.Named(string(store.StepReverseSnowball))},
		email: sendEmailNotification{
			log:     log.Named(string(store.StepSendEmailNotification)),
			sender:  sender,
			timeout: notifyTimeout,
		},
	}
}

func (e *Executor) strategy(kind store.StepKind) (strategy, bool) {
	switch kind {
	case store.StepCircleOfWriters:
		return e.circle, true
	case store.StepUnorderedCircleOfWriters:
		return e.unordered, true
	case store.StepReverseSnowball:
		return e.snowball, true
	case store.StepSendEmailNotification:
		return e.email, true
	default:
		return nil, false
	}
}

// Representation is the stable protocol identifier of cfg.
func (e *Executor) Representation(cfg store.Step) string {
	return string(cfg.Kind)
}

// Known reports whether cfg names a protocol this executor can run.
func (e *Executor) Known(cfg store.Step) bool {
	_, ok := e.strategy(cfg.Kind)
	return ok
}

// Validate never mutates doc.
func (e *Executor) Validate(cfg store.Step, doc *store.Document, userID string) *Violation {
	s, ok := e.strategy(cfg.Kind)
	if !ok {
		return violation(cfg.Kind, "unknown step kind")
	}
	return s.validate(doc, userID, cfg)
}

// Execute applies the protocol's turn side effects to doc in place.
func (e *Executor) Execute(ctx context.Context, cfg store.Step, doc *store.Document, userID string) error {
	s, ok := e.strategy(cfg.Kind)
	if !ok {
		return violation(cfg.Kind, "unknown step kind")
	}
	return s.execute(ctx, doc, userID, cfg)
}

// Settle re-applies the protocol's round rule after doc lost a participant,
// so a round whose last pending user left does not stall. It reports whether
// doc changed.
func (e *Executor) Settle(cfg store.Step, doc *store.Document) bool {
	s, ok := e.strategy(cfg.Kind)
	if !ok || doc == nil {
		return false
	}
	return s.settle(doc, cfg)
}

// IsFinished reports whether the protocol's completion condition holds for
// every given document. It fails with a Violation when docs is empty for a
// protocol that tracks documents.
func (e *Executor) IsFinished(cfg store.Step, docs []store.Document) (bool, error) {
	s, ok := e.strategy(cfg.Kind)
	if !ok {
		return false, violation(cfg.Kind, "unknown step kind")
	}
	return s.isFinished(docs, cfg)
}

func requireDocument(kind store.StepKind, doc *store.Document) *Violation {
	if doc == nil {
		return violation(kind, "document must not be null")
	}
	return nil
}

func requireDocuments(kind store.StepKind, docs []store.Document) error {
	if len(docs) == 0 {
		return violation(kind, "document must not be null")
	}
	return nil
}
