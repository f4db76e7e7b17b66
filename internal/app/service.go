package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orion-services/activity/internal/document"
	"github.com/orion-services/activity/internal/search"
	"github.com/orion-services/activity/internal/step"
	"github.com/orion-services/activity/internal/store"
	"github.com/orion-services/activity/internal/util"

	"go.uber.org/zap"
)

const documentHistoryLimit = 20

type stepRunner interface {
	Known(cfg store.Step) bool
	Validate(cfg store.Step, doc *store.Document, userID string) *step.Violation
	Execute(ctx context.Context, cfg store.Step, doc *store.Document, userID string) error
	Settle(cfg store.Step, doc *store.Document) bool
	IsFinished(cfg store.Step, docs []store.Document) (bool, error)
}

type documentService interface {
	CreateDocument(ctx context.Context, tx store.Tx, groupID, content string, participants []string) (store.Document, error)
	RecordTurn(doc store.Document, userID string) error
	Revision(documentID string, limit int) (document.Revision, bool, error)
}

type workflowIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexWorkflow(record search.WorkflowRecord)
	ReindexAll(ctx context.Context)
}

// Service is the activity engine. Every exported operation runs inside one
// store transaction.
type Service struct {
	store           store.Store
	steps           stepRunner
	documents       documentService
	search          workflowIndex
	log             *zap.Logger
	defaultWorkflow string
}

type Options struct {
	// DefaultWorkflow names the workflow seeded by Bootstrap and used when an
	// activity is created without one.
	DefaultWorkflow string
	Logger          *zap.Logger
}

func New(dataStore store.Store, steps *step.Executor, documents *document.Service, index *search.Service, opts Options) *Service {
	s := &Service{
		store:           dataStore,
		steps:           steps,
		documents:       documents,
		log:             opts.Logger,
		defaultWorkflow: opts.DefaultWorkflow,
	}
	if index != nil {
		s.search = index
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.defaultWorkflow == "" {
		s.defaultWorkflow = "Circle of Writers"
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap makes sure the default workflow exists and refreshes the search
// index from the catalog.
func (s *Service) Bootstrap(ctx context.Context) error {
	var created *store.Workflow
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		_, found, err := tx.FindWorkflowByName(ctx, s.defaultWorkflow)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		workflow := store.Workflow{
			ID:          util.NewID("wf"),
			Name:        s.defaultWorkflow,
			Description: "Participants write in turns, following the group order, for one round.",
			Stages: []store.Stage{{
				Phase: store.PhaseDuring,
				Steps: []store.Step{{Kind: store.StepCircleOfWriters, Direction: store.FromBeginToEnd, Rounds: 1}},
			}},
		}
		if err := tx.SaveWorkflow(ctx, workflow); err != nil {
			return err
		}
		created = &workflow
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed default workflow: %w", err)
	}
	if created != nil {
		s.log.Info("default workflow created", zap.String("workflow", created.ID), zap.String("name", created.Name))
	}
	if s.search != nil {
		s.search.ReindexAll(ctx)
	}
	return nil
}

// SearchWorkflows looks up the workflow catalog.
func (s *Service) SearchWorkflows(ctx context.Context, query string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(ctx, search.Query{Text: query, Limit: limit})
}

// DocumentView is a document's turn state together with its content head.
type DocumentView struct {
	Document store.Document
	Revision *document.Revision
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	var view DocumentView
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return lookup(err, "Document", documentID)
		}
		view.Document = doc
		return nil
	})
	if err != nil {
		return DocumentView{}, err
	}

	revision, ok, err := s.documents.Revision(documentID, documentHistoryLimit)
	if err != nil {
		s.log.Warn("document history unavailable", zap.String("document", documentID), zap.Error(err))
		return view, nil
	}
	if ok {
		view.Revision = &revision
	}
	return view, nil
}

func (s *Service) getActivity(ctx context.Context, tx store.Tx, id string) (store.Activity, error) {
	activity, err := tx.GetActivity(ctx, id)
	if err != nil {
		return store.Activity{}, lookup(err, "Activity", id)
	}
	return activity, nil
}

func (s *Service) getWorkflow(ctx context.Context, tx store.Tx, id string) (store.Workflow, error) {
	workflow, err := tx.GetWorkflow(ctx, id)
	if err != nil {
		return store.Workflow{}, lookup(err, "Workflow", id)
	}
	return workflow, nil
}

func (s *Service) getUser(ctx context.Context, tx store.Tx, id string) (store.User, error) {
	user, err := tx.GetUser(ctx, id)
	if err != nil {
		return store.User{}, lookup(err, "User", id)
	}
	return user, nil
}

func (s *Service) getGroup(ctx context.Context, tx store.Tx, id string) (store.GroupActivity, error) {
	group, err := tx.GetGroup(ctx, id)
	if err != nil {
		return store.GroupActivity{}, lookup(err, "Group", id)
	}
	return group, nil
}

// ensureUser loads userID, registering it as connected when the store has
// never seen it: a user acting through the engine is present. User
// identifiers are issued elsewhere.
func (s *Service) ensureUser(ctx context.Context, tx store.Tx, userID string) (store.User, error) {
	if userID == "" {
		return store.User{}, invalidArgument("user id is required")
	}
	user, found, err := tx.FindUser(ctx, userID)
	if err != nil {
		return store.User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	if found {
		return user, nil
	}
	user = store.User{ID: userID, Status: store.UserConnected}
	if err := tx.SaveUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("register user %s: %w", userID, err)
	}
	return user, nil
}

// conflict maps a store uniqueness failure raised at commit time onto the
// group-operation error a caller would have seen had the check run first.
func conflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return invalidGroupOperation([]string{err.Error()})
	}
	return err
}

func since(start time.Time) zap.Field {
	return zap.Duration("took", time.Since(start))
}
