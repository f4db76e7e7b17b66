package step

import (
	"context"
	"slices"

	"github.com/orion-services/activity/internal/document"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

// circleOfWriters rotates the turn through the pending participants in
// order, front to back or back to front depending on the configured direction.
type circleOfWriters struct {
	log *zap.Logger
}

func turnOf(doc store.Document, direction store.Direction) string {
	if len(doc.ParticipantsAssigned) == 0 {
		return ""
	}
	if direction == store.FromEndToBegin {
		return doc.ParticipantsAssigned[len(doc.ParticipantsAssigned)-1]
	}
	return doc.ParticipantsAssigned[0]
}

func (s circleOfWriters) validate(doc *store.Document, userID string, cfg store.Step) *Violation {
	return validateTurn(store.StepCircleOfWriters, doc, userID, cfg.Direction)
}

func validateTurn(kind store.StepKind, doc *store.Document, userID string, direction store.Direction) *Violation {
	if v := requireDocument(kind, doc); v != nil {
		return v
	}
	if !doc.IsPending(userID) {
		return violation(kind, "User %s is not a participant in document %s", userID, doc.ID)
	}
	if turn := turnOf(*doc, direction); turn != userID {
		return violation(kind, "It is not the turn of user %s in document %s", userID, doc.ID)
	}
	return nil
}

func (s circleOfWriters) execute(_ context.Context, doc *store.Document, userID string, cfg store.Step) error {
	if v := requireDocument(store.StepCircleOfWriters, doc); v != nil {
		return v
	}
	if !moveToEdited(s.log, doc, userID) {
		return nil
	}
	s.settle(doc, cfg)
	return nil
}

func (s circleOfWriters) settle(doc *store.Document, cfg store.Step) bool {
	if len(doc.Edited) == 0 || !document.RoundComplete(*doc) {
		return false
	}
	if cfg.Direction == store.FromEndToBegin {
		// Edited holds the reversed rotation; restore the participant order
		// before it is reinstated.
		slices.Reverse(doc.Edited)
	}
	return advanceIfRoundComplete(s.log, doc, cfg)
}

func (s circleOfWriters) isFinished(docs []store.Document, cfg store.Step) (bool, error) {
	if err := requireDocuments(store.StepCircleOfWriters, docs); err != nil {
		return false, err
	}
	return roundsFinished(docs, cfg), nil
}
