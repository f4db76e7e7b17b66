package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a READ COMMITTED transaction. Rows read through the Get*
// lookups are locked FOR UPDATE until the transaction ends, so two operations
// touching the same group or document serialize.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetActivity(ctx context.Context, id string) (Activity, error) {
	var activity Activity
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, creator_id, workflow_id, actual_stage, created_at
		FROM activities WHERE id = $1
		FOR UPDATE
	`, id).Scan(&activity.ID, &activity.CreatorID, &activity.WorkflowID, &activity.ActualStage, &activity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("get activity: %w", err)
	}

	activity.ParticipantIDs, err = t.listIDs(ctx, `
		SELECT user_id FROM activity_participants WHERE activity_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return Activity{}, fmt.Errorf("list activity participants: %w", err)
	}
	activity.GroupIDs, err = t.listIDs(ctx, `
		SELECT id FROM activity_groups WHERE activity_id = $1 ORDER BY created_at, id
	`, id)
	if err != nil {
		return Activity{}, fmt.Errorf("list activity groups: %w", err)
	}
	return activity, nil
}

// SaveActivity upserts the activity row and its participant list. GroupIDs is
// derived from activity_groups and is not written here.
func (t *pgTx) SaveActivity(ctx context.Context, activity Activity) error {
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO activities (id, creator_id, workflow_id, actual_stage, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			actual_stage = EXCLUDED.actual_stage
	`, activity.ID, activity.CreatorID, activity.WorkflowID, string(activity.ActualStage), activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("save activity: %w", mapPgError(err))
	}
	if err := t.replaceMembers(ctx, "activity_participants", "activity_id", activity.ID, activity.ParticipantIDs); err != nil {
		return fmt.Errorf("save activity participants: %w", err)
	}
	return nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (User, error) {
	user, found, err := t.FindUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (t *pgTx) FindUser(ctx context.Context, id string) (User, bool, error) {
	var (
		user       User
		activityID sql.NullString
		groupID    sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, status, activity_id, group_id FROM users WHERE id = $1 FOR UPDATE
	`, id).Scan(&user.ID, &user.Status, &activityID, &groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("get user: %w", err)
	}
	user.ActivityID = activityID.String
	user.GroupID = groupID.String
	return user, true, nil
}

func (t *pgTx) SaveUser(ctx context.Context, user User) error {
	if user.Status == "" {
		user.Status = UserDisconnected
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, status, activity_id, group_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			activity_id = EXCLUDED.activity_id,
			group_id = EXCLUDED.group_id
	`, user.ID, string(user.Status), nullIfEmpty(user.ActivityID), nullIfEmpty(user.GroupID))
	if err != nil {
		return fmt.Errorf("save user: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, name, description, stages, created_at, updated_at FROM workflows WHERE id = $1
	`, id)
	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return workflow, nil
}

func (t *pgTx) FindWorkflowByName(ctx context.Context, name string) (Workflow, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, name, description, stages, created_at, updated_at FROM workflows WHERE name = $1
		FOR UPDATE
	`, name)
	workflow, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, false, nil
	}
	if err != nil {
		return Workflow{}, false, fmt.Errorf("find workflow: %w", err)
	}
	return workflow, true, nil
}

func (t *pgTx) SaveWorkflow(ctx context.Context, workflow Workflow) error {
	stages, err := json.Marshal(workflow.Stages)
	if err != nil {
		return fmt.Errorf("encode workflow stages: %w", err)
	}
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}
	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = now
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, stages, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			stages = EXCLUDED.stages,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.Name, workflow.Description, string(stages), workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) SearchWorkflows(ctx context.Context, query string, limit int) ([]Workflow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, description, stages, created_at, updated_at
		FROM workflows
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search workflows: %w", err)
	}
	defer rows.Close()

	var items []Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		items = append(items, workflow)
	}
	return items, rows.Err()
}

func (t *pgTx) GetGroup(ctx context.Context, id string) (GroupActivity, error) {
	var group GroupActivity
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, activity_id, capacity, created_at FROM activity_groups WHERE id = $1 FOR UPDATE
	`, id).Scan(&group.ID, &group.ActivityID, &group.Capacity, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return GroupActivity{}, ErrNotFound
	}
	if err != nil {
		return GroupActivity{}, fmt.Errorf("get group: %w", err)
	}

	if group.ParticipantIDs, err = t.listIDs(ctx, `
		SELECT user_id FROM group_participants WHERE group_id = $1 ORDER BY position
	`, id); err != nil {
		return GroupActivity{}, fmt.Errorf("list group participants: %w", err)
	}
	if group.AlreadyPlayedIDs, err = t.listIDs(ctx, `
		SELECT user_id FROM group_played_participants WHERE group_id = $1 ORDER BY position
	`, id); err != nil {
		return GroupActivity{}, fmt.Errorf("list group played participants: %w", err)
	}
	if group.DocumentIDs, err = t.listIDs(ctx, `
		SELECT id FROM documents WHERE group_id = $1 ORDER BY created_at, id
	`, id); err != nil {
		return GroupActivity{}, fmt.Errorf("list group documents: %w", err)
	}
	return group, nil
}

// SaveGroup upserts the group row and its participant lists. DocumentIDs is
// derived from documents.group_id and is not written here.
func (t *pgTx) SaveGroup(ctx context.Context, group GroupActivity) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO activity_groups (id, activity_id, capacity, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET capacity = EXCLUDED.capacity
	`, group.ID, group.ActivityID, group.Capacity, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("save group: %w", mapPgError(err))
	}
	if err := t.replaceMembers(ctx, "group_participants", "group_id", group.ID, group.ParticipantIDs); err != nil {
		return fmt.Errorf("save group participants: %w", err)
	}
	if err := t.replaceMembers(ctx, "group_played_participants", "group_id", group.ID, group.AlreadyPlayedIDs); err != nil {
		return fmt.Errorf("save group played participants: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteGroup(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM activity_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		doc     Document
		groupID sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, group_id, rounds, content, created_at, updated_at FROM documents WHERE id = $1 FOR UPDATE
	`, id).Scan(&doc.ID, &groupID, &doc.Rounds, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.GroupID = groupID.String
	if err := t.loadDocumentParticipants(ctx, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (t *pgTx) ListDocumentsByGroup(ctx context.Context, groupID string) ([]Document, error) {
	ids, err := t.listIDs(ctx, `SELECT id FROM documents WHERE group_id = $1 ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group documents: %w", err)
	}
	items := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := t.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	return items, nil
}

func (t *pgTx) SaveDocument(ctx context.Context, doc Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (id, group_id, rounds, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			rounds = EXCLUDED.rounds,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at
	`, doc.ID, nullIfEmpty(doc.GroupID), doc.Rounds, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save document: %w", mapPgError(err))
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM document_participants WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clear document participants: %w", err)
	}
	position := 0
	insert := func(userID, state string) error {
		position++
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO document_participants (document_id, user_id, state, position)
			VALUES ($1, $2, $3, $4)
		`, doc.ID, userID, state, position)
		return mapPgError(err)
	}
	for _, userID := range doc.ParticipantsAssigned {
		if err := insert(userID, "ASSIGNED"); err != nil {
			return fmt.Errorf("save document participant: %w", err)
		}
	}
	for _, userID := range doc.Edited {
		if err := insert(userID, "EDITED"); err != nil {
			return fmt.Errorf("save document participant: %w", err)
		}
	}
	return nil
}

func (t *pgTx) loadDocumentParticipants(ctx context.Context, doc *Document) error {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT user_id, state FROM document_participants WHERE document_id = $1 ORDER BY position
	`, doc.ID)
	if err != nil {
		return fmt.Errorf("list document participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, state string
		if err := rows.Scan(&userID, &state); err != nil {
			return fmt.Errorf("scan document participant: %w", err)
		}
		if state == "EDITED" {
			doc.Edited = append(doc.Edited, userID)
		} else {
			doc.ParticipantsAssigned = append(doc.ParticipantsAssigned, userID)
		}
	}
	return rows.Err()
}

func (t *pgTx) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// replaceMembers rewrites an ordered (owner, user_id, position) membership
// table. table and ownerCol are package constants, never request input.
func (t *pgTx) replaceMembers(ctx context.Context, table, ownerCol, ownerID string, userIDs []string) error {
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, ownerCol), ownerID); err != nil {
		return err
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s, user_id, position) VALUES ($1, $2, $3)`, table, ownerCol)
	for i, userID := range userIDs {
		if _, err := t.tx.ExecContext(ctx, insert, ownerID, userID, i); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (Workflow, error) {
	var (
		workflow Workflow
		stages   []byte
	)
	if err := row.Scan(&workflow.ID, &workflow.Name, &workflow.Description, &stages, &workflow.CreatedAt, &workflow.UpdatedAt); err != nil {
		return Workflow{}, err
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &workflow.Stages); err != nil {
			return Workflow{}, fmt.Errorf("decode workflow stages: %w", err)
		}
	}
	return workflow, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
