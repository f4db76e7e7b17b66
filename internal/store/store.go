package store

import (
	"context"
	"errors"
)

// ErrConflict is returned when a write breaks a uniqueness invariant that was
// checked concurrently by another transaction, e.g. one user joining two groups.
var ErrConflict = errors.New("conflict")

// Store runs units of work. Every engine operation executes inside exactly one
// InTx call: the mutations made through tx commit together or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the persistence port seen by the engine. Lookups by id return
// ErrNotFound when the row is absent; Find* variants report absence with a bool.
type Tx interface {
	GetActivity(ctx context.Context, id string) (Activity, error)
	SaveActivity(ctx context.Context, activity Activity) error

	GetUser(ctx context.Context, id string) (User, error)
	FindUser(ctx context.Context, id string) (User, bool, error)
	SaveUser(ctx context.Context, user User) error

	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	FindWorkflowByName(ctx context.Context, name string) (Workflow, bool, error)
	SaveWorkflow(ctx context.Context, workflow Workflow) error
	SearchWorkflows(ctx context.Context, query string, limit int) ([]Workflow, error)

	GetGroup(ctx context.Context, id string) (GroupActivity, error)
	SaveGroup(ctx context.Context, group GroupActivity) error
	DeleteGroup(ctx context.Context, id string) error

	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocumentsByGroup(ctx context.Context, groupID string) ([]Document, error)
	SaveDocument(ctx context.Context, document Document) error
}
