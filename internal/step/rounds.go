package step

import (
	"github.com/orion-services/activity/internal/document"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

// finalRound reports whether doc already reached the configured round count.
func finalRound(doc store.Document, cfg store.Step) bool {
	return doc.Rounds >= cfg.ConfiguredRounds()
}

// advanceIfRoundComplete is the round rule shared by the writing protocols:
// once the final round is reached nothing advances; otherwise an emptied
// pending list starts the next round with everyone who acted.
func advanceIfRoundComplete(log *zap.Logger, doc *store.Document, cfg store.Step) bool {
	if finalRound(*doc, cfg) || !document.RoundComplete(*doc) {
		return false
	}
	log.Info("document round advanced",
		zap.String("document", doc.ID),
		zap.Int("from", doc.Rounds),
		zap.Int("to", doc.Rounds+1),
	)
	document.AdvanceRound(doc)
	return true
}

func roundsFinished(docs []store.Document, cfg store.Step) bool {
	for _, doc := range docs {
		if !document.RoundComplete(doc) || !finalRound(doc, cfg) {
			return false
		}
	}
	return true
}

// moveToEdited records the user's turn, logging re-submissions.
func moveToEdited(log *zap.Logger, doc *store.Document, userID string) bool {
	if document.MoveParticipantToEditedList(doc, userID) {
		return true
	}
	log.Warn("user is not a participant in document",
		zap.String("user", userID),
		zap.String("document", doc.ID),
	)
	return false
}
