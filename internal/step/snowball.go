package step

import (
	"context"

	"github.com/orion-services/activity/internal/document"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

// reverseSnowball runs ordered rounds like circleOfWriters, but each completed
// round drops the participant who opened it, so the audience shrinks until
// one writer is left or the configured rounds run out.
type reverseSnowball struct {
	log *zap.Logger
}

func (s reverseSnowball) validate(doc *store.Document, userID string, _ store.Step) *Violation {
	return validateTurn(store.StepReverseSnowball, doc, userID, store.FromBeginToEnd)
}

func (s reverseSnowball) execute(_ context.Context, doc *store.Document, userID string, cfg store.Step) error {
	if v := requireDocument(store.StepReverseSnowball, doc); v != nil {
		return v
	}
	if !moveToEdited(s.log, doc, userID) {
		return nil
	}
	s.settle(doc, cfg)
	return nil
}

func (s reverseSnowball) settle(doc *store.Document, cfg store.Step) bool {
	if finalRound(*doc, cfg) || !document.RoundComplete(*doc) || len(doc.Edited) <= 1 {
		return false
	}

	opener := doc.Edited[0]
	advanceIfRoundComplete(s.log, doc, cfg)
	document.RemoveParticipant(doc, opener)
	s.log.Info("participant handed off",
		zap.String("document", doc.ID),
		zap.String("user", opener),
		zap.Int("remaining", len(doc.ParticipantsAssigned)),
	)
	return true
}

func (s reverseSnowball) isFinished(docs []store.Document, cfg store.Step) (bool, error) {
	if err := requireDocuments(store.StepReverseSnowball, docs); err != nil {
		return false, err
	}
	for _, doc := range docs {
		if !document.RoundComplete(doc) {
			return false, nil
		}
		if !finalRound(doc, cfg) && len(doc.Edited) > 1 {
			return false, nil
		}
	}
	return true, nil
}
