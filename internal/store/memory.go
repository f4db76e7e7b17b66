package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps every entity in process memory. A transaction works on a
// private copy of the maps that replaces the committed state only when fn
// succeeds; transactions are serialized by a single mutex.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	activities map[string]Activity
	users      map[string]User
	workflows  map[string]Workflow
	groups     map[string]GroupActivity
	documents  map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		activities: map[string]Activity{},
		users:      map[string]User{},
		workflows:  map[string]Workflow{},
		groups:     map[string]GroupActivity{},
		documents:  map[string]Document{},
	}}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: memoryState{
		activities: maps.Clone(s.state.activities),
		users:      maps.Clone(s.state.users),
		workflows:  maps.Clone(s.state.workflows),
		groups:     maps.Clone(s.state.groups),
		documents:  maps.Clone(s.state.documents),
	}}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type memoryTx struct {
	state memoryState
}

func (t *memoryTx) GetActivity(_ context.Context, id string) (Activity, error) {
	activity, ok := t.state.activities[id]
	if !ok {
		return Activity{}, ErrNotFound
	}
	return activity.Clone(), nil
}

func (t *memoryTx) SaveActivity(_ context.Context, activity Activity) error {
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	t.state.activities[activity.ID] = activity.Clone()
	return nil
}

func (t *memoryTx) GetUser(ctx context.Context, id string) (User, error) {
	user, found, err := t.FindUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (t *memoryTx) FindUser(_ context.Context, id string) (User, bool, error) {
	user, ok := t.state.users[id]
	return user, ok, nil
}

func (t *memoryTx) SaveUser(_ context.Context, user User) error {
	if user.Status == "" {
		user.Status = UserDisconnected
	}
	t.state.users[user.ID] = user
	return nil
}

func (t *memoryTx) GetWorkflow(_ context.Context, id string) (Workflow, error) {
	workflow, ok := t.state.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return workflow.Clone(), nil
}

func (t *memoryTx) FindWorkflowByName(_ context.Context, name string) (Workflow, bool, error) {
	for _, workflow := range t.state.workflows {
		if workflow.Name == name {
			return workflow.Clone(), true, nil
		}
	}
	return Workflow{}, false, nil
}

func (t *memoryTx) SaveWorkflow(_ context.Context, workflow Workflow) error {
	for id, existing := range t.state.workflows {
		if existing.Name == workflow.Name && id != workflow.ID {
			return fmt.Errorf("%w: workflow name %q", ErrConflict, workflow.Name)
		}
	}
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}
	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = now
	}
	t.state.workflows[workflow.ID] = workflow.Clone()
	return nil
}

func (t *memoryTx) SearchWorkflows(_ context.Context, query string, limit int) ([]Workflow, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	var items []Workflow
	for _, workflow := range t.state.workflows {
		if needle == "" ||
			strings.Contains(strings.ToLower(workflow.Name), needle) ||
			strings.Contains(strings.ToLower(workflow.Description), needle) {
			items = append(items, workflow.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (t *memoryTx) GetGroup(_ context.Context, id string) (GroupActivity, error) {
	group, ok := t.state.groups[id]
	if !ok {
		return GroupActivity{}, ErrNotFound
	}
	return group.Clone(), nil
}

func (t *memoryTx) SaveGroup(_ context.Context, group GroupActivity) error {
	for id, other := range t.state.groups {
		if id == group.ID {
			continue
		}
		for _, userID := range group.ParticipantIDs {
			if other.HasParticipant(userID) {
				return fmt.Errorf("%w: user %s already in group %s", ErrConflict, userID, id)
			}
		}
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	t.state.groups[group.ID] = group.Clone()
	return nil
}

func (t *memoryTx) DeleteGroup(_ context.Context, id string) error {
	if _, ok := t.state.groups[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.groups, id)
	for docID, doc := range t.state.documents {
		if doc.GroupID == id {
			doc.GroupID = ""
			t.state.documents[docID] = doc
		}
	}
	for userID, user := range t.state.users {
		if user.GroupID == id {
			user.GroupID = ""
			t.state.users[userID] = user
		}
	}
	return nil
}

func (t *memoryTx) GetDocument(_ context.Context, id string) (Document, error) {
	doc, ok := t.state.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (t *memoryTx) ListDocumentsByGroup(_ context.Context, groupID string) ([]Document, error) {
	group, ok := t.state.groups[groupID]
	if !ok {
		return nil, nil
	}
	items := make([]Document, 0, len(group.DocumentIDs))
	for _, id := range group.DocumentIDs {
		if doc, ok := t.state.documents[id]; ok && doc.GroupID == groupID {
			items = append(items, doc.Clone())
		}
	}
	return items, nil
}

func (t *memoryTx) SaveDocument(_ context.Context, doc Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	for _, userID := range doc.ParticipantsAssigned {
		if slices.Contains(doc.Edited, userID) {
			return fmt.Errorf("%w: user %s both assigned and edited on document %s", ErrConflict, userID, doc.ID)
		}
	}
	t.state.documents[doc.ID] = doc.Clone()
	return nil
}
