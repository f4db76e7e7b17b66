package app

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/orion-services/activity/internal/document"
	"github.com/orion-services/activity/internal/store"
	"github.com/orion-services/activity/internal/util"

	"go.uber.org/zap"
)

// CreateGroup adds an empty group to the activity. Its capacity defaults to
// the activity's current participant count.
func (s *Service) CreateGroup(ctx context.Context, activityID string) (store.GroupActivity, error) {
	var group store.GroupActivity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		activity, err := s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		group = store.GroupActivity{
			ID:         util.NewID("grp"),
			ActivityID: activity.ID,
			Capacity:   len(activity.ParticipantIDs),
		}
		if err := tx.SaveGroup(ctx, group); err != nil {
			return fmt.Errorf("save group: %w", err)
		}
		activity.GroupIDs = append(activity.GroupIDs, group.ID)
		if err := tx.SaveActivity(ctx, activity); err != nil {
			return fmt.Errorf("save activity %s: %w", activity.ID, err)
		}
		return nil
	})
	if err != nil {
		return store.GroupActivity{}, err
	}
	return group, nil
}

// CreateGroupWithUsers adds a group holding exactly userIDs, sized to fit
// them, and provisions the document they will write.
func (s *Service) CreateGroupWithUsers(ctx context.Context, activityID string, userIDs []string) (store.GroupActivity, error) {
	var group store.GroupActivity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		activity, err := s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		group, err = s.createGroupWithUsers(ctx, tx, &activity, userIDs)
		return err
	})
	if err != nil {
		return store.GroupActivity{}, err
	}
	return group, nil
}

func (s *Service) createGroupWithUsers(ctx context.Context, tx store.Tx, activity *store.Activity, userIDs []string) (store.GroupActivity, error) {
	userIDs = uniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return store.GroupActivity{}, invalidArgument("a group needs at least one user")
	}
	users := make([]store.User, 0, len(userIDs))
	for _, userID := range userIDs {
		user, err := s.getUser(ctx, tx, userID)
		if err != nil {
			return store.GroupActivity{}, err
		}
		users = append(users, user)
	}

	group := store.GroupActivity{
		ID:         util.NewID("grp"),
		ActivityID: activity.ID,
		Capacity:   len(users),
	}
	if violations := groupViolations(group, *activity, users); len(violations) > 0 {
		return store.GroupActivity{}, invalidGroupOperation(violations)
	}
	if err := tx.SaveGroup(ctx, group); err != nil {
		return store.GroupActivity{}, fmt.Errorf("save group: %w", err)
	}

	doc, err := s.documents.CreateDocument(ctx, tx, group.ID, "", userIDs)
	if err != nil {
		return store.GroupActivity{}, err
	}
	for i := range users {
		joinGroup(&group, &users[i])
	}
	attachDocument(&group, &doc)

	if err := tx.SaveGroup(ctx, group); err != nil {
		return store.GroupActivity{}, conflict(fmt.Errorf("save group %s: %w", group.ID, err))
	}
	for _, user := range users {
		if err := tx.SaveUser(ctx, user); err != nil {
			return store.GroupActivity{}, fmt.Errorf("save user %s: %w", user.ID, err)
		}
	}
	activity.GroupIDs = append(activity.GroupIDs, group.ID)
	if err := tx.SaveActivity(ctx, *activity); err != nil {
		return store.GroupActivity{}, fmt.Errorf("save activity %s: %w", activity.ID, err)
	}
	s.log.Info("group created",
		zap.String("activity", activity.ID),
		zap.String("group", group.ID),
		zap.String("document", doc.ID),
		zap.Int("participants", len(group.ParticipantIDs)),
	)
	return group, nil
}

// AddUserToGroup places userID in the group and tracks the user on documentID,
// or on the group's current document when documentID is empty. A group with
// no document gets a new one. Nothing changes when a violation is reported.
func (s *Service) AddUserToGroup(ctx context.Context, groupID, userID, documentID string) (store.GroupActivity, error) {
	var group store.GroupActivity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		group, err = s.getGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		activity, err := s.getActivity(ctx, tx, group.ActivityID)
		if err != nil {
			return err
		}
		user, err := s.getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if violations := groupViolations(group, activity, []store.User{user}); len(violations) > 0 {
			return invalidGroupOperation(violations)
		}

		if documentID == "" {
			documentID = group.CurrentDocumentID()
		}
		var doc store.Document
		if documentID == "" {
			doc, err = s.documents.CreateDocument(ctx, tx, group.ID, "", nil)
			if err != nil {
				return err
			}
		} else {
			doc, err = tx.GetDocument(ctx, documentID)
			if err != nil {
				return lookup(err, "Document", documentID)
			}
			if doc.GroupID != "" && doc.GroupID != group.ID {
				return invalidGroupOperation([]string{fmt.Sprintf("Document %s belongs to group %s", doc.ID, doc.GroupID)})
			}
		}

		joinGroup(&group, &user)
		document.AddParticipant(&doc, user.ID)
		attachDocument(&group, &doc)

		if err := tx.SaveGroup(ctx, group); err != nil {
			return conflict(fmt.Errorf("save group %s: %w", group.ID, err))
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user %s: %w", user.ID, err)
		}
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("save document %s: %w", doc.ID, err)
		}
		return nil
	})
	if err != nil {
		return store.GroupActivity{}, err
	}
	return group, nil
}

// RemoveUserFromGroup takes userID out of its group and its current document.
// A group left without participants is deleted and its documents detached.
func (s *Service) RemoveUserFromGroup(ctx context.Context, activityID, userID string) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		activity, err := s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		user, err := s.getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.GroupID == "" {
			return invalidGroupOperation([]string{fmt.Sprintf("User %s is not in a group", user.ID)})
		}
		group, err := s.getGroup(ctx, tx, user.GroupID)
		if err != nil {
			return err
		}
		if group.ActivityID != activity.ID {
			return invalidGroupOperation([]string{fmt.Sprintf("Group %s does not belong to activity %s", group.ID, activity.ID)})
		}

		var doc *store.Document
		if documentID := group.CurrentDocumentID(); documentID != "" {
			current, err := tx.GetDocument(ctx, documentID)
			if err != nil {
				return lookup(err, "Document", documentID)
			}
			doc = &current
		}

		leaveGroup(&group, &user)
		owedTurn := false
		if doc != nil {
			owedTurn = doc.IsPending(user.ID)
			document.RemoveParticipant(doc, user.ID)
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user %s: %w", user.ID, err)
		}

		if len(group.ParticipantIDs) > 0 {
			if err := tx.SaveGroup(ctx, group); err != nil {
				return fmt.Errorf("save group %s: %w", group.ID, err)
			}
			if doc != nil {
				if owedTurn && document.RoundComplete(*doc) {
					if err := s.settleDocument(ctx, tx, activity, doc); err != nil {
						return err
					}
				}
				if err := tx.SaveDocument(ctx, *doc); err != nil {
					return fmt.Errorf("save document %s: %w", doc.ID, err)
				}
			}
			return nil
		}
		return s.deleteGroup(ctx, tx, &activity, group, doc)
	})
}

// settleDocument lets the current stage's protocols close the round the
// departed user was the last to owe.
func (s *Service) settleDocument(ctx context.Context, tx store.Tx, activity store.Activity, doc *store.Document) error {
	workflow, err := s.getWorkflow(ctx, tx, activity.WorkflowID)
	if err != nil {
		return err
	}
	stage, ok := workflow.Stage(activity.ActualStage)
	if !ok {
		return nil
	}
	for _, cfg := range stage.Steps {
		if s.steps.Settle(cfg, doc) {
			s.log.Info("round settled after departure", zap.String("document", doc.ID), zap.String("step", string(cfg.Kind)), zap.Int("round", doc.Rounds))
		}
	}
	return nil
}

// deleteGroup drops an empty group from its activity and clears the group
// reference of every document it owned.
func (s *Service) deleteGroup(ctx context.Context, tx store.Tx, activity *store.Activity, group store.GroupActivity, current *store.Document) error {
	docs, err := tx.ListDocumentsByGroup(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("list documents of group %s: %w", group.ID, err)
	}
	detached := false
	for _, doc := range docs {
		if current != nil && doc.ID == current.ID {
			doc = *current
			detached = true
		}
		doc.GroupID = ""
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("detach document %s: %w", doc.ID, err)
		}
	}
	if current != nil && !detached {
		current.GroupID = ""
		if err := tx.SaveDocument(ctx, *current); err != nil {
			return fmt.Errorf("detach document %s: %w", current.ID, err)
		}
	}

	activity.GroupIDs = slices.DeleteFunc(activity.GroupIDs, func(id string) bool { return id == group.ID })
	if err := tx.SaveActivity(ctx, *activity); err != nil {
		return fmt.Errorf("save activity %s: %w", activity.ID, err)
	}
	if err := tx.DeleteGroup(ctx, group.ID); err != nil {
		return fmt.Errorf("delete group %s: %w", group.ID, err)
	}
	s.log.Info("group deleted", zap.String("activity", activity.ID), zap.String("group", group.ID), zap.Int("documents", len(docs)))
	return nil
}

// ChangeGroupCapacity resizes a group within
// [current participants, activity participants].
func (s *Service) ChangeGroupCapacity(ctx context.Context, activityID, groupID string, capacity int) (store.GroupActivity, error) {
	var group store.GroupActivity
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		activity, err := s.getActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		group, err = s.getGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if group.ActivityID != activity.ID {
			return invalidGroupOperation([]string{fmt.Sprintf("Group %s does not belong to activity %s", group.ID, activity.ID)})
		}
		if participants := len(group.ParticipantIDs); capacity < participants {
			return invalidArgument("Capacity %d is less than the number of group %s participants (%d)", capacity, group.ID, participants)
		}
		if participants := len(activity.ParticipantIDs); capacity > participants {
			return invalidArgument("Capacity %d is more than the number of activity %s participants (%d)", capacity, activity.ID, participants)
		}
		group.Capacity = capacity
		if err := tx.SaveGroup(ctx, group); err != nil {
			return fmt.Errorf("save group %s: %w", group.ID, err)
		}
		return nil
	})
	if err != nil {
		return store.GroupActivity{}, err
	}
	return group, nil
}

// TransferUserToGroup is reserved for moving a user between groups, which
// would also need document reassignment and source group cleanup.
func (s *Service) TransferUserToGroup(context.Context, string, string, string) error {
	return domainError(ErrUnimplemented, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Transferring a user to another group is not implemented", nil)
}

// groupViolations checks users against the group's membership rules without
// touching anything. Messages report a count of offending users.
func groupViolations(group store.GroupActivity, activity store.Activity, users []store.User) []string {
	var inOtherGroup, aboveCapacity, outsideActivity, disconnected int
	size := len(group.ParticipantIDs)
	for _, user := range users {
		if user.GroupID != "" && user.GroupID != group.ID {
			inOtherGroup++
		}
		if !group.HasParticipant(user.ID) {
			size++
			if size > group.Capacity {
				aboveCapacity++
			}
		}
		if !activity.HasParticipant(user.ID) {
			outsideActivity++
		}
		if user.Status != store.UserConnected {
			disconnected++
		}
	}

	var violations []string
	if inOtherGroup > 0 {
		violations = append(violations, fmt.Sprintf("There are %d users that are already in another group", inOtherGroup))
	}
	if aboveCapacity > 0 {
		violations = append(violations, fmt.Sprintf("There are %d users that can't be placed on group %s because it's above the capacity", aboveCapacity, group.ID))
	}
	if outsideActivity > 0 {
		violations = append(violations, fmt.Sprintf("There are %d users that can't be placed on group %s because they don't belong to activity %s", outsideActivity, group.ID, activity.ID))
	}
	if disconnected > 0 {
		violations = append(violations, fmt.Sprintf("There are %d users that can't be placed on group %s because they are disconnected", disconnected, group.ID))
	}
	return violations
}

// joinGroup and leaveGroup are the only places a group membership changes;
// both sides of the relationship move together. A departing user also leaves
// the played pool.
func joinGroup(group *store.GroupActivity, user *store.User) {
	if !group.HasParticipant(user.ID) {
		group.ParticipantIDs = append(group.ParticipantIDs, user.ID)
	}
	user.GroupID = group.ID
}

func leaveGroup(group *store.GroupActivity, user *store.User) {
	group.ParticipantIDs = slices.DeleteFunc(group.ParticipantIDs, func(id string) bool { return id == user.ID })
	group.AlreadyPlayedIDs = slices.DeleteFunc(group.AlreadyPlayedIDs, func(id string) bool { return id == user.ID })
	if user.GroupID == group.ID {
		user.GroupID = ""
	}
}

// markPlayed records that userID took a turn in group. It reports whether
// the played pool grew.
func markPlayed(group *store.GroupActivity, userID string) bool {
	if !group.HasParticipant(userID) || slices.Contains(group.AlreadyPlayedIDs, userID) {
		return false
	}
	group.AlreadyPlayedIDs = append(group.AlreadyPlayedIDs, userID)
	return true
}

func attachDocument(group *store.GroupActivity, doc *store.Document) {
	if !group.HasDocument(doc.ID) {
		group.DocumentIDs = append(group.DocumentIDs, doc.ID)
	}
	doc.GroupID = group.ID
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
