// Package sqlite provides an embedded SQLite-backed conversation store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"chatgraph/application/ports"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// Store implements ports.Store on SQLite. A changeset is written in one
// transaction guarded by the chat row's version.
type Store struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
	clock  func() time.Time
}

var _ ports.Store = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection keeps per-connection pragmas and :memory: databases coherent.
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", path))
	return &Store{
		conn:   conn,
		path:   path,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// ----- Chats -----

const chatColumns = `id, owner_id, project_id, name, description, status, created_at, updated_at`

// CreateChat inserts a chat with an empty graph
func (s *Store) CreateChat(ctx context.Context, chat *entities.Chat) error {
	var projectID sql.NullString
	if pid := chat.ProjectID(); pid != nil {
		projectID = sql.NullString{String: pid.String(), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID().String(), chat.OwnerID(), projectID, chat.Name(), chat.Description(), string(chat.Status()),
		toNanos(chat.CreatedAt()), toNanos(chat.UpdatedAt()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.NewConcurrencyConflictError("chat already exists").
				WithDetail("chat_id", chat.ID().String())
		}
		if isForeignKeyViolation(err) && projectID.Valid {
			return pkgerrors.NewUnknownProjectError(projectID.String)
		}
		return pkgerrors.NewDatabaseError("CreateChat", err)
	}
	return nil
}

// GetChat retrieves a chat
func (s *Store) GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id.String())
	chat, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewUnknownChatError(id.String())
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetChat", err)
	}
	return chat, nil
}

// ListChatsByOwner returns a user's chats, most recently updated first
func (s *Store) ListChatsByOwner(ctx context.Context, ownerID string) ([]*entities.Chat, error) {
	return s.queryChats(ctx, "ListChatsByOwner",
		`SELECT `+chatColumns+` FROM chats WHERE owner_id = ? ORDER BY updated_at DESC, id`, ownerID)
}

func (s *Store) queryChats(ctx context.Context, op, query string, args ...interface{}) ([]*entities.Chat, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	var chats []*entities.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError(op, err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError(op, err)
	}
	return chats, nil
}

// UpdateChat persists chat metadata
func (s *Store) UpdateChat(ctx context.Context, chat *entities.Chat) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE chats SET name = ?, description = ?, status = ?, updated_at = ? WHERE id = ?`,
		chat.Name(), chat.Description(), string(chat.Status()), toNanos(chat.UpdatedAt()), chat.ID().String())
	if err != nil {
		return pkgerrors.NewDatabaseError("UpdateChat", err)
	}
	n, err := rowsAffected(res, "UpdateChat")
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.NewUnknownChatError(chat.ID().String())
	}
	return nil
}

// DeleteChat removes a chat; foreign keys cascade to everything under it
func (s *Store) DeleteChat(ctx context.Context, id valueobjects.ChatID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id.String())
	if err != nil {
		return pkgerrors.NewDatabaseError("DeleteChat", err)
	}
	n, err := rowsAffected(res, "DeleteChat")
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.NewUnknownChatError(id.String())
	}
	return nil
}

// ----- Projects -----

const projectColumns = `id, owner_id, name, description, created_at, updated_at`

// CreateProject inserts a project
func (s *Store) CreateProject(ctx context.Context, project *entities.Project) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		project.ID().String(), project.OwnerID(), project.Name(), project.Description(),
		toNanos(project.CreatedAt()), toNanos(project.UpdatedAt()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.NewConcurrencyConflictError("project already exists").
				WithDetail("project_id", project.ID().String())
		}
		return pkgerrors.NewDatabaseError("CreateProject", err)
	}
	return nil
}

// GetProject retrieves a project
func (s *Store) GetProject(ctx context.Context, id valueobjects.ProjectID) (*entities.Project, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id.String())
	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewUnknownProjectError(id.String())
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetProject", err)
	}
	return project, nil
}

// ListProjectsByOwner returns a user's projects, most recently updated first
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]*entities.Project, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY updated_at DESC, id`, ownerID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("ListProjectsByOwner", err)
	}
	defer rows.Close()

	var projects []*entities.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("ListProjectsByOwner", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("ListProjectsByOwner", err)
	}
	return projects, nil
}

// ListChatsInProject returns the owner's chats placed in projectID
func (s *Store) ListChatsInProject(ctx context.Context, ownerID string, projectID valueobjects.ProjectID) ([]*entities.Chat, error) {
	return s.queryChats(ctx, "ListChatsInProject",
		`SELECT `+chatColumns+` FROM chats WHERE owner_id = ? AND project_id = ? ORDER BY updated_at DESC, id`,
		ownerID, projectID.String())
}

// UpdateProject persists project metadata
func (s *Store) UpdateProject(ctx context.Context, project *entities.Project) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		project.Name(), project.Description(), toNanos(project.UpdatedAt()), project.ID().String())
	if err != nil {
		return pkgerrors.NewDatabaseError("UpdateProject", err)
	}
	n, err := rowsAffected(res, "UpdateProject")
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.NewUnknownProjectError(project.ID().String())
	}
	return nil
}

// DeleteProject removes a project; foreign keys cascade to its chats and everything under them
func (s *Store) DeleteProject(ctx context.Context, id valueobjects.ProjectID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id.String())
	if err != nil {
		return pkgerrors.NewDatabaseError("DeleteProject", err)
	}
	n, err := rowsAffected(res, "DeleteProject")
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.NewUnknownProjectError(id.String())
	}
	return nil
}

// ----- Conversation -----

// LoadConversation reads graph, branches, active pointer, edits and version
func (s *Store) LoadConversation(ctx context.Context, chatID valueobjects.ChatID) (*ports.ConversationState, error) {
	var (
		rawGraph string
		version  int64
		activeID string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT graph, version, active_branch_id FROM chats WHERE id = ?`, chatID.String(),
	).Scan(&rawGraph, &version, &activeID)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewUnknownChatError(chatID.String())
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("LoadConversation", err)
	}

	graph, err := aggregates.DecodeGraph([]byte(rawGraph))
	if err != nil {
		return nil, pkgerrors.NewGraphCorruptError("stored graph is unreadable").WithCause(err)
	}

	branches, err := s.loadBranches(ctx, chatID)
	if err != nil {
		return nil, err
	}
	edits, err := s.loadEdits(ctx, chatID)
	if err != nil {
		return nil, err
	}

	return &ports.ConversationState{
		Graph:          graph,
		Branches:       branches,
		ActiveBranchID: valueobjects.BranchID(activeID),
		Edits:          edits,
		Version:        version,
	}, nil
}

func (s *Store) loadBranches(ctx context.Context, chatID valueobjects.ChatID) ([]entities.Branch, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, head_message_id, seq, created_at FROM branches WHERE chat_id = ? ORDER BY seq`, chatID.String())
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("LoadBranches", err)
	}
	defer rows.Close()

	var branches []entities.Branch
	for rows.Next() {
		var (
			id        string
			head      sql.NullString
			seq       int64
			createdAt int64
		)
		if err := rows.Scan(&id, &head, &seq, &createdAt); err != nil {
			return nil, pkgerrors.NewDatabaseError("LoadBranches", err)
		}
		b := entities.Branch{
			ID:        valueobjects.BranchID(id),
			ChatID:    chatID,
			Seq:       seq,
			CreatedAt: fromNanos(createdAt),
		}
		if head.Valid {
			b.HeadMessageID = valueobjects.MessageID(head.String).Ptr()
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("LoadBranches", err)
	}
	return branches, nil
}

func (s *Store) loadEdits(ctx context.Context, chatID valueobjects.ChatID) ([]entities.Edit, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, branch_id, prev_message_id, new_message_id, new_head_id, seq, created_at
		 FROM edits WHERE chat_id = ? ORDER BY seq`, chatID.String())
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("LoadEdits", err)
	}
	defer rows.Close()

	var edits []entities.Edit
	for rows.Next() {
		var (
			e                            entities.Edit
			id, branchID, prev, next, hd string
			createdAt                    int64
		)
		if err := rows.Scan(&id, &branchID, &prev, &next, &hd, &e.Seq, &createdAt); err != nil {
			return nil, pkgerrors.NewDatabaseError("LoadEdits", err)
		}
		e.ID = valueobjects.EditID(id)
		e.ChatID = chatID
		e.BranchID = valueobjects.BranchID(branchID)
		e.PrevMessageID = valueobjects.MessageID(prev)
		e.NewMessageID = valueobjects.MessageID(next)
		e.NewHeadID = valueobjects.MessageID(hd)
		e.CreatedAt = fromNanos(createdAt)
		edits = append(edits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("LoadEdits", err)
	}
	return edits, nil
}

// CommitConversation writes a changeset in one transaction. The chat row's
// version acts as the guard: a stale ExpectedVersion changes nothing.
func (s *Store) CommitConversation(ctx context.Context, cs aggregates.Changeset) (err error) {
	rawGraph, err := aggregates.EncodeGraph(cs.Graph)
	if err != nil {
		return pkgerrors.NewInternalError("failed to encode graph").WithCause(err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewDatabaseError("CommitConversation", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE chats SET graph = ?, version = ?, active_branch_id = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(rawGraph), cs.Version, cs.ActiveBranchID.String(), toNanos(s.clock()),
		cs.ChatID.String(), cs.ExpectedVersion)
	if err != nil {
		return pkgerrors.NewDatabaseError("CommitConversation", err)
	}
	n, err := rowsAffected(res, "CommitConversation")
	if err != nil {
		return err
	}
	if n == 0 {
		return s.versionMismatch(ctx, tx, cs)
	}

	for _, m := range cs.Messages {
		var original interface{}
		if o := m.OriginalMessageID(); o != nil {
			original = o.String()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, role, content, status, original_message_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID().String(), cs.ChatID.String(), m.Role().String(), m.Content().Text(),
			string(m.Status()), original, toNanos(m.CreatedAt()),
		); err != nil {
			if isUniqueViolation(err) {
				return pkgerrors.NewInvalidReferenceError("message id already stored: " + m.ID().String())
			}
			return pkgerrors.NewDatabaseError("InsertMessage", err)
		}
	}

	for _, b := range cs.Branches {
		var head interface{}
		if b.HeadMessageID != nil {
			head = b.HeadMessageID.String()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO branches (id, chat_id, head_message_id, seq, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET head_message_id = excluded.head_message_id`,
			b.ID.String(), cs.ChatID.String(), head, b.Seq, toNanos(b.CreatedAt),
		); err != nil {
			return pkgerrors.NewDatabaseError("UpsertBranch", err)
		}
	}

	for _, e := range cs.Edits {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO edits (id, chat_id, branch_id, prev_message_id, new_message_id, new_head_id, seq, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), cs.ChatID.String(), e.BranchID.String(), e.PrevMessageID.String(),
			e.NewMessageID.String(), e.NewHeadID.String(), e.Seq, toNanos(e.CreatedAt),
		); err != nil {
			return pkgerrors.NewDatabaseError("InsertEdit", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return pkgerrors.NewDatabaseError("CommitConversation", err)
	}
	return nil
}

// rowsAffected reports how many rows res changed. A driver that cannot tell
// yields a database error rather than a zero count.
func rowsAffected(res sql.Result, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pkgerrors.NewDatabaseError(op, err)
	}
	return n, nil
}

func (s *Store) versionMismatch(ctx context.Context, tx *sql.Tx, cs aggregates.Changeset) error {
	var actual int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM chats WHERE id = ?`, cs.ChatID.String()).Scan(&actual)
	if err == sql.ErrNoRows {
		return pkgerrors.NewUnknownChatError(cs.ChatID.String())
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("CommitConversation", err)
	}
	return pkgerrors.NewConcurrencyConflictError("conversation was modified concurrently").
		WithDetail("expected_version", cs.ExpectedVersion).
		WithDetail("actual_version", actual)
}

// ----- Messages -----

const messageColumns = `id, chat_id, role, content, status, original_message_id, created_at`

// GetMessage retrieves one message of a chat
func (s *Store) GetMessage(ctx context.Context, chatID valueobjects.ChatID, id valueobjects.MessageID) (*entities.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`, chatID.String(), id.String())
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewUnknownMessageError(id.String())
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetMessage", err)
	}
	return m, nil
}

// GetMessages resolves ids; ids without a record are omitted
func (s *Store) GetMessages(ctx context.Context, chatID valueobjects.ChatID, ids []valueobjects.MessageID) (map[valueobjects.MessageID]*entities.Message, error) {
	out := make(map[valueobjects.MessageID]*entities.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, chatID.String())
	for _, id := range ids {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetMessages", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("GetMessages", err)
		}
		out[m.ID()] = m
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetMessages", err)
	}
	return out, nil
}

// ListMessages returns every message of a chat in insertion order
func (s *Store) ListMessages(ctx context.Context, chatID valueobjects.ChatID) ([]*entities.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY seq`, chatID.String())
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("ListMessages", err)
	}
	defer rows.Close()

	var msgs []*entities.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("ListMessages", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("ListMessages", err)
	}
	return msgs, nil
}

// ----- helpers -----

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row scanner) (*entities.Chat, error) {
	var (
		id, owner, name, description, status string
		project                              sql.NullString
		createdAt, updatedAt                 int64
	)
	if err := row.Scan(&id, &owner, &project, &name, &description, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var projectID *valueobjects.ProjectID
	if project.Valid {
		p := valueobjects.ProjectID(project.String)
		projectID = &p
	}
	return entities.ReconstructChat(
		valueobjects.ChatID(id), owner, projectID, name, description, entities.ChatStatus(status),
		fromNanos(createdAt), fromNanos(updatedAt),
	), nil
}

func scanProject(row scanner) (*entities.Project, error) {
	var (
		id, owner, name, description string
		createdAt, updatedAt         int64
	)
	if err := row.Scan(&id, &owner, &name, &description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return entities.ReconstructProject(
		valueobjects.ProjectID(id), owner, name, description,
		fromNanos(createdAt), fromNanos(updatedAt),
	), nil
}

func scanMessage(row scanner) (*entities.Message, error) {
	var (
		id, chatID, role, content, status string
		original                          sql.NullString
		createdAt                         int64
	)
	if err := row.Scan(&id, &chatID, &role, &content, &status, &original, &createdAt); err != nil {
		return nil, err
	}
	var originalID *valueobjects.MessageID
	if original.Valid {
		originalID = valueobjects.MessageID(original.String).Ptr()
	}
	return entities.ReconstructMessage(
		valueobjects.MessageID(id),
		valueobjects.ChatID(chatID),
		valueobjects.Role(role),
		valueobjects.RestoreMessageContent(content),
		entities.MessageStatus(status),
		originalID,
		fromNanos(createdAt),
	), nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
