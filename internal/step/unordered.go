package step

import (
	"context"

	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

// unorderedCircleOfWriters lets every pending participant act once per round
// in any order.
type unorderedCircleOfWriters struct {
	log *zap.Logger
}

// validate only requires a document; a user who already acted this round is
// handled as a no-op by execute.
func (s unorderedCircleOfWriters) validate(doc *store.Document, _ string, _ store.Step) *Violation {
	return requireDocument(store.StepUnorderedCircleOfWriters, doc)
}

func (s unorderedCircleOfWriters) execute(_ context.Context, doc *store.Document, userID string, cfg store.Step) error {
	if v := requireDocument(store.StepUnorderedCircleOfWriters, doc); v != nil {
		return v
	}
	if !moveToEdited(s.log, doc, userID) {
		return nil
	}
	s.settle(doc, cfg)
	return nil
}

func (s unorderedCircleOfWriters) settle(doc *store.Document, cfg store.Step) bool {
	if len(doc.Edited) == 0 {
		return false
	}
	return advanceIfRoundComplete(s.log, doc, cfg)
}

func (s unorderedCircleOfWriters) isFinished(docs []store.Document, cfg store.Step) (bool, error) {
	if err := requireDocuments(store.StepUnorderedCircleOfWriters, docs); err != nil {
		return false, err
	}
	return roundsFinished(docs, cfg), nil
}
