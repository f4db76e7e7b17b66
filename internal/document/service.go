package document

import (
	"context"
	"fmt"
	"slices"

	"github.com/orion-services/activity/internal/gitrepo"
	"github.com/orion-services/activity/internal/store"
	"github.com/orion-services/activity/internal/util"

	"go.uber.org/zap"
)

type contentHistory interface {
	EnsureDocumentRepo(documentID string, initial gitrepo.Content, author string) error
	CommitContent(documentID string, content gitrepo.Content, author, message string) (store.CommitInfo, error)
	GetHeadContent(documentID string) (gitrepo.Content, store.CommitInfo, error)
	History(documentID string, limit int) ([]store.CommitInfo, error)
}

// Service creates documents and reads their content history. Turn state is
// mutated through the tracker functions in this package.
type Service struct {
	history contentHistory
	log     *zap.Logger
}

func NewService(history contentHistory, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{history: history, log: log}
}

// CreateDocument persists a new round-0 document for groupID with every
// participant pending, and seeds its content history when one is configured.
func (s *Service) CreateDocument(ctx context.Context, tx store.Tx, groupID, content string, participants []string) (store.Document, error) {
	doc := store.Document{
		ID:      util.NewID("doc"),
		GroupID: groupID,
		Content: content,
	}
	for _, userID := range participants {
		AddParticipant(&doc, userID)
	}
	if err := tx.SaveDocument(ctx, doc); err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}

	if s.history != nil {
		if err := s.history.EnsureDocumentRepo(doc.ID, snapshot(doc), groupID); err != nil {
			return store.Document{}, fmt.Errorf("init document history: %w", err)
		}
	}
	s.log.Debug("document created", zap.String("document", doc.ID), zap.String("group", groupID), zap.Int("participants", len(doc.ParticipantsAssigned)))
	return doc, nil
}

// RecordTurn commits the turn state of doc after userID acted. Nothing is
// recorded when no content history is configured.
func (s *Service) RecordTurn(doc store.Document, userID string) error {
	if s.history == nil {
		return nil
	}
	message := fmt.Sprintf("Turn of %s (round %d)", userID, doc.Rounds)
	commit, err := s.history.CommitContent(doc.ID, snapshot(doc), userID, message)
	if err != nil {
		return fmt.Errorf("record turn on document %s: %w", doc.ID, err)
	}
	s.log.Debug("document turn recorded", zap.String("document", doc.ID), zap.String("user", userID), zap.String("commit", commit.Hash))
	return nil
}

func snapshot(doc store.Document) gitrepo.Content {
	return gitrepo.Content{
		Text:         doc.Content,
		Round:        doc.Rounds,
		Participants: slices.Clone(doc.ParticipantsAssigned),
		Edited:       slices.Clone(doc.Edited),
	}
}

// Revision is the head of a document's content history.
type Revision struct {
	Content gitrepo.Content
	Head    store.CommitInfo
	History []store.CommitInfo
}

// Revision returns the head content and recent history of documentID. The
// bool is false when no content history is configured.
func (s *Service) Revision(documentID string, limit int) (Revision, bool, error) {
	if s.history == nil {
		return Revision{}, false, nil
	}
	content, head, err := s.history.GetHeadContent(documentID)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read document head: %w", err)
	}
	history, err := s.history.History(documentID, limit)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read document history: %w", err)
	}
	return Revision{Content: content, Head: head, History: history}, true, nil
}
