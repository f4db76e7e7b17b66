package app

import (
	"time"

	"github.com/orion-services/activity/internal/store"
)

func workflowPayload(w store.Workflow) map[string]any {
	stages := w.Stages
	if stages == nil {
		stages = []store.Stage{}
	}
	return map[string]any{
		"id":          w.ID,
		"name":        w.Name,
		"description": w.Description,
		"stages":      stages,
		"createdAt":   w.CreatedAt.Format(time.RFC3339),
		"updatedAt":   w.UpdatedAt.Format(time.RFC3339),
	}
}

func activityPayload(a store.Activity) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"creatorId":    a.CreatorID,
		"workflowId":   a.WorkflowID,
		"actualStage":  a.ActualStage,
		"participants": nonNilIDs(a.ParticipantIDs),
		"groups":       nonNilIDs(a.GroupIDs),
	}
}

func groupPayload(g store.GroupActivity) map[string]any {
	return map[string]any{
		"id":                g.ID,
		"activityId":        g.ActivityID,
		"capacity":          g.Capacity,
		"participants":      nonNilIDs(g.ParticipantIDs),
		"alreadyPlayed":     nonNilIDs(g.AlreadyPlayedIDs),
		"documents":         nonNilIDs(g.DocumentIDs),
		"currentDocumentId": g.CurrentDocumentID(),
	}
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"status":     u.Status,
		"activityId": nullable(u.ActivityID),
		"groupId":    nullable(u.GroupID),
	}
}

func documentPayload(view DocumentView) map[string]any {
	doc := view.Document
	payload := map[string]any{
		"document": map[string]any{
			"id":                   doc.ID,
			"groupId":              nullable(doc.GroupID),
			"rounds":               doc.Rounds,
			"participantsAssigned": nonNilIDs(doc.ParticipantsAssigned),
			"edited":               nonNilIDs(doc.Edited),
			"updatedAt":            doc.UpdatedAt.Format(time.RFC3339),
		},
	}
	if view.Revision != nil {
		history := make([]map[string]any, 0, len(view.Revision.History))
		for _, commit := range view.Revision.History {
			history = append(history, commitPayload(commit))
		}
		payload["content"] = view.Revision.Content
		payload["head"] = commitPayload(view.Revision.Head)
		payload["history"] = history
	}
	return payload
}

func commitPayload(c store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      c.Hash,
		"message":   c.Message,
		"author":    c.Author,
		"createdAt": c.CreatedAt.Format(time.RFC3339),
	}
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
