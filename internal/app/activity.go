package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/orion-services/activity/internal/store"
	"github.com/orion-services/activity/internal/util"

	"go.uber.org/zap"
)

// CreateActivity opens a new activity in the PRE stage following the named
// workflow, or the default workflow when workflowName is empty. The creator
// becomes its first participant.
func (s *Service) CreateActivity(ctx context.Context, creatorID, workflowName string) (store.Activity, error) {
	workflowName = strings.TrimSpace(workflowName)
	if workflowName == "" {
		workflowName = s.defaultWorkflow
	}

	var activity store.Activity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		workflow, found, err := tx.FindWorkflowByName(ctx, workflowName)
		if err != nil {
			return fmt.Errorf("find workflow %q: %w", workflowName, err)
		}
		if !found {
			return notFound("Workflow %s not found", workflowName)
		}
		creator, err := s.ensureUser(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		if !available(creator, "") {
			return userUnavailable(creator.ID)
		}

		activity = store.Activity{
			ID:          util.NewID("act"),
			CreatorID:   creator.ID,
			WorkflowID:  workflow.ID,
			ActualStage: store.PhasePre,
		}
		return s.joinActivity(ctx, tx, &activity, &creator)
	})
	if err != nil {
		return store.Activity{}, err
	}
	s.log.Info("activity created", zap.String("activity", activity.ID), zap.String("creator", activity.CreatorID), zap.String("workflow", activity.WorkflowID))
	return activity, nil
}

// AddUserToActivity makes userID a participant of the activity. Adding a
// current participant again changes nothing.
func (s *Service) AddUserToActivity(ctx context.Context, activityID, userID string) (store.Activity, error) {
	var activity store.Activity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		activity, err = s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		user, err := s.ensureUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.ActivityID == activity.ID && activity.HasParticipant(user.ID) {
			return nil
		}
		if !available(user, activity.ID) {
			return userUnavailable(user.ID)
		}
		if !activity.ActualStage.Before(store.PhaseAfter) {
			return invalidArgument("Activity %s is already finished", activity.ID)
		}
		return s.joinActivity(ctx, tx, &activity, &user)
	})
	if err != nil {
		return store.Activity{}, err
	}
	return activity, nil
}

// joinActivity links user and activity on both sides. The activity row is
// written before the user's back-reference points at it.
func (s *Service) joinActivity(ctx context.Context, tx store.Tx, activity *store.Activity, user *store.User) error {
	if !activity.HasParticipant(user.ID) {
		activity.ParticipantIDs = append(activity.ParticipantIDs, user.ID)
	}
	if err := tx.SaveActivity(ctx, *activity); err != nil {
		return fmt.Errorf("save activity %s: %w", activity.ID, err)
	}
	user.ActivityID = activity.ID
	if err := tx.SaveUser(ctx, *user); err != nil {
		return fmt.Errorf("save user %s: %w", user.ID, err)
	}
	return nil
}

// StartActivity moves a PRE activity into DURING. Connected participants not
// yet grouped are placed together in one new group.
func (s *Service) StartActivity(ctx context.Context, activityID string) (store.Activity, error) {
	var activity store.Activity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		activity, err = s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		if activity.ActualStage != store.PhasePre {
			return stageConflict("Activity %s has already started", activity.ID)
		}
		return s.start(ctx, tx, &activity)
	})
	if err != nil {
		return store.Activity{}, err
	}
	s.log.Info("activity started", zap.String("activity", activity.ID), zap.Int("groups", len(activity.GroupIDs)))
	return activity, nil
}

func (s *Service) start(ctx context.Context, tx store.Tx, activity *store.Activity) error {
	workflow, err := s.getWorkflow(ctx, tx, activity.WorkflowID)
	if err != nil {
		return err
	}
	if !workflow.Usable() {
		return incompleteWorkflow("Workflow %s needs a %s stage with at least one step", workflow.Name, store.PhaseDuring)
	}

	var ungrouped []string
	for _, userID := range activity.ParticipantIDs {
		user, err := s.getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		switch {
		case user.GroupID != "":
		case user.Status != store.UserConnected:
			s.log.Info("disconnected participant left ungrouped", zap.String("activity", activity.ID), zap.String("user", user.ID))
		default:
			ungrouped = append(ungrouped, user.ID)
		}
	}
	if len(ungrouped) > 0 {
		if _, err := s.createGroupWithUsers(ctx, tx, activity, ungrouped); err != nil {
			return err
		}
	}

	activity.ActualStage = store.PhaseDuring
	if err := tx.SaveActivity(ctx, *activity); err != nil {
		return fmt.Errorf("save activity %s: %w", activity.ID, err)
	}
	return nil
}

// AdvanceStage moves the activity to its next stage once every step of the
// current one is finished. Stages never move backwards.
func (s *Service) AdvanceStage(ctx context.Context, activityID string) (store.Activity, error) {
	var (
		activity store.Activity
		from     store.Phase
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		activity, err = s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		from = activity.ActualStage
		next, ok := from.Next()
		if !ok {
			return stageConflict("Activity %s is already in its last stage", activity.ID)
		}
		finished, err := s.stageFinished(ctx, tx, activity)
		if err != nil {
			return err
		}
		if !finished {
			return stageConflict("Stage %s of activity %s is not finished", from, activity.ID)
		}
		if from == store.PhasePre {
			return s.start(ctx, tx, &activity)
		}
		activity.ActualStage = next
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return fmt.Errorf("save activity %s: %w", activity.ID, err)
		}
		return nil
	})
	if err != nil {
		return store.Activity{}, err
	}
	s.log.Info("activity stage advanced", zap.String("activity", activity.ID), zap.String("from", string(from)), zap.String("to", string(activity.ActualStage)))
	return activity, nil
}

func (s *Service) ConnectUser(ctx context.Context, userID string) (store.User, error) {
	return s.setUserStatus(ctx, userID, store.UserConnected)
}

func (s *Service) DisconnectUser(ctx context.Context, userID string) (store.User, error) {
	return s.setUserStatus(ctx, userID, store.UserDisconnected)
}

func (s *Service) setUserStatus(ctx context.Context, userID string, status store.UserStatus) (store.User, error) {
	var user store.User
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = s.ensureUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		user.Status = status
		if err := tx.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user %s: %w", user.ID, err)
		}
		return nil
	})
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

// available reports whether user may join activityID: it must be connected
// and not taking part in another activity.
func available(user store.User, activityID string) bool {
	if user.Status != store.UserConnected {
		return false
	}
	return user.ActivityID == "" || user.ActivityID == activityID
}

func userUnavailable(userID string) *DomainError {
	return domainError(ErrInvalidArgument, http.StatusConflict, "USER_UNAVAILABLE", fmt.Sprintf("User %s is not available to join activity", userID), nil)
}

func stageConflict(format string, args ...any) *DomainError {
	return domainError(ErrInvalidArgument, http.StatusConflict, "STAGE_CONFLICT", fmt.Sprintf(format, args...), nil)
}
