package document

import (
	"slices"

	"github.com/orion-services/activity/internal/store"
)

// AddParticipant puts userID in the pending list unless the document already
// tracks the user, pending or edited. It reports whether doc changed.
func AddParticipant(doc *store.Document, userID string) bool {
	if doc.IsPending(userID) || slices.Contains(doc.Edited, userID) {
		return false
	}
	doc.ParticipantsAssigned = append(doc.ParticipantsAssigned, userID)
	return true
}

// RemoveParticipant drops userID from both the pending and edited lists.
func RemoveParticipant(doc *store.Document, userID string) bool {
	before := len(doc.ParticipantsAssigned) + len(doc.Edited)
	doc.ParticipantsAssigned = slices.DeleteFunc(doc.ParticipantsAssigned, func(id string) bool { return id == userID })
	doc.Edited = slices.DeleteFunc(doc.Edited, func(id string) bool { return id == userID })
	return before != len(doc.ParticipantsAssigned)+len(doc.Edited)
}

// MoveParticipantToEditedList records that userID acted this round. Users not
// pending are left alone and false is returned.
func MoveParticipantToEditedList(doc *store.Document, userID string) bool {
	idx := slices.Index(doc.ParticipantsAssigned, userID)
	if idx < 0 {
		return false
	}
	doc.ParticipantsAssigned = slices.Delete(doc.ParticipantsAssigned, idx, idx+1)
	doc.Edited = append(doc.Edited, userID)
	return true
}

// MoveAllUsersFromEditedToParticipantList reinstates everyone who acted, in
// the order they acted, after whoever is still pending.
func MoveAllUsersFromEditedToParticipantList(doc *store.Document) {
	doc.ParticipantsAssigned = append(doc.ParticipantsAssigned, doc.Edited...)
	doc.Edited = nil
}

// RoundComplete reports whether every tracked participant acted this round.
func RoundComplete(doc store.Document) bool {
	return len(doc.ParticipantsAssigned) == 0
}

// AdvanceRound increments the round counter and reinstates the edited pool.
func AdvanceRound(doc *store.Document) {
	doc.Rounds++
	MoveAllUsersFromEditedToParticipantList(doc)
}
