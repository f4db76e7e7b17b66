package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/orion-services/activity/internal/search"
	"github.com/orion-services/activity/internal/step"
	"github.com/orion-services/activity/internal/store"
	"github.com/orion-services/activity/internal/util"

	"go.uber.org/zap"
)

// Apply runs the steps of the activity's current stage on behalf of userID.
// Every step is validated first; if any validation fails none is executed
// and a *ValidationFailure listing all of them is returned. Notifications
// scheduled by the steps go out only after the state change committed.
func (s *Service) Apply(ctx context.Context, activityID, userID string) error {
	started := time.Now()
	var outbox *step.Outbox
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var stepCtx context.Context
		stepCtx, outbox = step.WithOutbox(ctx)

		activity, err := s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		workflow, err := s.getWorkflow(ctx, tx, activity.WorkflowID)
		if err != nil {
			return err
		}
		stage, ok := workflow.Stage(activity.ActualStage)
		if !ok {
			return nil
		}
		if stage.Incomplete() {
			return incompleteWorkflow("Stage %s of workflow %s has no steps", stage.Phase, workflow.Name)
		}
		user, err := s.getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		group, doc, err := s.userDocument(ctx, tx, activity, user)
		if err != nil {
			return err
		}

		var violations []*step.Violation
		for _, cfg := range stage.Steps {
			if v := s.steps.Validate(cfg, doc, user.ID); v != nil {
				violations = append(violations, v)
			}
		}
		if len(violations) > 0 {
			return &ValidationFailure{Violations: violations}
		}

		var before store.Document
		if doc != nil {
			before = doc.Clone()
		}
		for _, cfg := range stage.Steps {
			if err := s.steps.Execute(stepCtx, cfg, doc, user.ID); err != nil {
				return fmt.Errorf("execute %s: %w", cfg.Kind, err)
			}
		}
		if doc != nil && turnTaken(before, *doc) {
			if err := tx.SaveDocument(ctx, *doc); err != nil {
				return fmt.Errorf("save document %s: %w", doc.ID, err)
			}
			if markPlayed(group, user.ID) {
				if err := tx.SaveGroup(ctx, *group); err != nil {
					return fmt.Errorf("save group %s: %w", group.ID, err)
				}
			}
			if err := s.documents.RecordTurn(*doc, user.ID); err != nil {
				return err
			}
		}
		s.log.Debug("stage applied",
			zap.String("activity", activity.ID),
			zap.String("user", user.ID),
			zap.String("phase", string(stage.Phase)),
			zap.Int("steps", len(stage.Steps)),
			since(started),
		)
		return nil
	})
	if err != nil {
		return err
	}
	if outbox != nil {
		outbox.Flush(ctx)
	}
	return nil
}

// turnTaken reports whether executing the stage moved the document's turn
// state.
func turnTaken(before, after store.Document) bool {
	return before.Rounds != after.Rounds ||
		!slices.Equal(before.ParticipantsAssigned, after.ParticipantsAssigned) ||
		!slices.Equal(before.Edited, after.Edited)
}

// userDocument returns the user's group in this activity and its current
// document. Both are nil when the user has no group here; the document is nil
// when the group has none yet.
func (s *Service) userDocument(ctx context.Context, tx store.Tx, activity store.Activity, user store.User) (*store.GroupActivity, *store.Document, error) {
	if user.GroupID == "" {
		return nil, nil, nil
	}
	group, err := tx.GetGroup(ctx, user.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load group %s: %w", user.GroupID, err)
	}
	if group.ActivityID != activity.ID {
		return nil, nil, nil
	}
	documentID := group.CurrentDocumentID()
	if documentID == "" {
		return &group, nil, nil
	}
	doc, err := tx.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, lookup(err, "Document", documentID)
	}
	return &group, &doc, nil
}

// CreateOrUpdateWorkflow upserts a workflow by name. An existing workflow
// keeps its identifier; only its description and stages are replaced.
func (s *Service) CreateOrUpdateWorkflow(ctx context.Context, name, description string, stages []store.Stage) (store.Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workflow{}, invalidArgument("workflow name is required")
	}
	if err := s.checkStages(stages); err != nil {
		return store.Workflow{}, err
	}

	var (
		workflow store.Workflow
		created  bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		existing, found, err := tx.FindWorkflowByName(ctx, name)
		if err != nil {
			return fmt.Errorf("find workflow %q: %w", name, err)
		}
		if found {
			workflow = existing
			workflow.UpdatedAt = time.Now().UTC()
		} else {
			workflow = store.Workflow{ID: util.NewID("wf"), Name: name}
			created = true
		}
		workflow.Description = strings.TrimSpace(description)
		workflow.Stages = stages

		if !workflow.Usable() {
			return incompleteWorkflow("Workflow %s needs a %s stage with at least one step", name, store.PhaseDuring)
		}
		if err := tx.SaveWorkflow(ctx, workflow); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domainError(store.ErrConflict, http.StatusConflict, "WORKFLOW_CONFLICT", fmt.Sprintf("Workflow %s was created concurrently", name), nil)
			}
			return fmt.Errorf("save workflow %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return store.Workflow{}, err
	}

	s.log.Info("workflow saved", zap.String("workflow", workflow.ID), zap.String("name", workflow.Name), zap.Bool("created", created))
	if s.search != nil {
		s.search.IndexWorkflow(search.RecordFromWorkflow(workflow))
	}
	return workflow, nil
}

// checkStages rejects malformed stage sets. Completeness of the DURING stage
// is checked separately so it surfaces as an incomplete workflow.
func (s *Service) checkStages(stages []store.Stage) error {
	seen := make(map[store.Phase]bool, len(stages))
	for _, stage := range stages {
		if !stage.Phase.Valid() {
			return invalidArgument("unknown stage phase %q", stage.Phase)
		}
		if seen[stage.Phase] {
			return invalidArgument("stage %s is defined more than once", stage.Phase)
		}
		seen[stage.Phase] = true
		for _, cfg := range stage.Steps {
			if !s.steps.Known(cfg) {
				return invalidArgument("unknown step %q in stage %s", cfg.Kind, stage.Phase)
			}
			if !cfg.Direction.Valid() {
				return invalidArgument("unknown direction %q for step %s in stage %s", cfg.Direction, cfg.Kind, stage.Phase)
			}
		}
	}
	return nil
}

// IsStageFinished reports whether every step of the activity's current stage
// has reached its completion condition.
func (s *Service) IsStageFinished(ctx context.Context, activityID string) (bool, error) {
	var finished bool
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		activity, err := s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		finished, err = s.stageFinished(ctx, tx, activity)
		return err
	})
	return finished, err
}

func (s *Service) stageFinished(ctx context.Context, tx store.Tx, activity store.Activity) (bool, error) {
	workflow, err := s.getWorkflow(ctx, tx, activity.WorkflowID)
	if err != nil {
		return false, err
	}
	stage, ok := workflow.Stage(activity.ActualStage)
	if !ok {
		return true, nil
	}
	if stage.Incomplete() {
		return false, incompleteWorkflow("Stage %s of workflow %s has no steps", stage.Phase, workflow.Name)
	}
	docs, err := s.currentDocuments(ctx, tx, activity)
	if err != nil {
		return false, err
	}
	for _, cfg := range stage.Steps {
		done, err := s.steps.IsFinished(cfg, docs)
		if err != nil {
			var v *step.Violation
			if errors.As(err, &v) {
				return false, &ValidationFailure{Violations: []*step.Violation{v}}
			}
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

// currentDocuments collects the current document of every group of activity.
func (s *Service) currentDocuments(ctx context.Context, tx store.Tx, activity store.Activity) ([]store.Document, error) {
	var docs []store.Document
	for _, groupID := range activity.GroupIDs {
		group, err := s.getGroup(ctx, tx, groupID)
		if err != nil {
			return nil, err
		}
		documentID := group.CurrentDocumentID()
		if documentID == "" {
			continue
		}
		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return nil, lookup(err, "Document", documentID)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
