package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/jotbook/jot/pkg/models"
)

// SQLiteStore implements NotebookStore and ConversationStore on a single
// SQLite database file. Notebook saves are whole-document replacements:
// cells and outputs are deleted and reinserted in position order, which
// keeps ordering authoritative without diffing.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs the
// schema migration. path ":memory:" gives an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	// Cascading deletes need the pragma on every connection.
	if strings.Contains(dsn, "?") {
		dsn += "&_pragma=foreign_keys(1)"
	} else {
		dsn += "?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer; keep the pool at a single connection so
	// in-memory databases also behave.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notebooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kernel_name TEXT,
			language TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cells (
			id TEXT PRIMARY KEY,
			notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			cell_type TEXT NOT NULL,
			source TEXT NOT NULL,
			state TEXT NOT NULL,
			execution_count INTEGER,
			is_collapsed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cell_outputs (
			cell_id TEXT NOT NULL REFERENCES cells(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			output_type TEXT NOT NULL,
			stream_name TEXT,
			text TEXT,
			data TEXT,
			ename TEXT,
			evalue TEXT,
			traceback TEXT,
			PRIMARY KEY (cell_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			notebook_id TEXT NOT NULL,
			title TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			offline INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cells_notebook ON cells(notebook_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON chat_messages(conversation_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_notebook ON conversations(notebook_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save stores a notebook, replacing any previous cell contents.
func (s *SQLiteStore) Save(ctx context.Context, nb *models.Notebook) error {
	if nb == nil || nb.ID == "" {
		return fmt.Errorf("notebook id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := now
	if !nb.CreatedAt.IsZero() {
		created = nb.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO notebooks (id, name, kernel_name, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kernel_name = excluded.kernel_name,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		nb.ID, nb.Name, nb.KernelName, nb.Language, created, now)
	if err != nil {
		return fmt.Errorf("save notebook: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE notebook_id = ?`, nb.ID); err != nil {
		return fmt.Errorf("clear cells: %w", err)
	}

	for pos, cell := range nb.Cells {
		var execCount sql.NullInt64
		if cell.ExecutionCount != nil {
			execCount = sql.NullInt64{Int64: int64(*cell.ExecutionCount), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cells (id, notebook_id, position, cell_type, source, state, execution_count, is_collapsed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cell.ID, nb.ID, pos, string(cell.CellType), cell.Source,
			string(cell.State), execCount, boolInt(cell.IsCollapsed))
		if err != nil {
			return fmt.Errorf("save cell %s: %w", cell.ID, err)
		}
		for opos, out := range cell.Outputs {
			data, traceback, err := encodeOutputBlobs(out)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO cell_outputs (cell_id, position, output_type, stream_name, text, data, ename, evalue, traceback)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				cell.ID, opos, string(out.Type), out.StreamName, out.Text,
				data, out.Ename, out.Evalue, traceback)
			if err != nil {
				return fmt.Errorf("save output: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Get loads a notebook with its cells and outputs.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Notebook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kernel_name, language, created_at, updated_at
		FROM notebooks WHERE id = ?`, id)

	nb := &models.Notebook{}
	var created, updated string
	err := row.Scan(&nb.ID, &nb.Name, &nb.KernelName, &nb.Language, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load notebook: %w", err)
	}
	nb.CreatedAt = parseTime(created)
	nb.UpdatedAt = parseTime(updated)

	cells, err := s.loadCells(ctx, id)
	if err != nil {
		return nil, err
	}
	nb.Cells = cells
	return nb, nil
}

func (s *SQLiteStore) loadCells(ctx context.Context, notebookID string) ([]*models.Cell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cell_type, source, state, execution_count, is_collapsed
		FROM cells WHERE notebook_id = ? ORDER BY position`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("load cells: %w", err)
	}
	defer rows.Close()

	cells := []*models.Cell{}
	for rows.Next() {
		cell := &models.Cell{Outputs: []models.Output{}}
		var execCount sql.NullInt64
		var collapsed int
		var cellType, state string
		if err := rows.Scan(&cell.ID, &cellType, &cell.Source, &state, &execCount, &collapsed); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cell.CellType = models.CellType(cellType)
		cell.State = models.CellState(state)
		cell.IsCollapsed = collapsed != 0
		if execCount.Valid {
			n := int(execCount.Int64)
			cell.ExecutionCount = &n
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cell := range cells {
		outputs, err := s.loadOutputs(ctx, cell.ID)
		if err != nil {
			return nil, err
		}
		cell.Outputs = outputs
	}
	return cells, nil
}

func (s *SQLiteStore) loadOutputs(ctx context.Context, cellID string) ([]models.Output, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT output_type, stream_name, text, data, ename, evalue, traceback
		FROM cell_outputs WHERE cell_id = ? ORDER BY position`, cellID)
	if err != nil {
		return nil, fmt.Errorf("load outputs: %w", err)
	}
	defer rows.Close()

	outputs := []models.Output{}
	for rows.Next() {
		var out models.Output
		var outType string
		var data, traceback sql.NullString
		if err := rows.Scan(&outType, &out.StreamName, &out.Text, &data, &out.Ename, &out.Evalue, &traceback); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		out.Type = models.OutputType(outType)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &out.Data); err != nil {
				return nil, fmt.Errorf("decode output data: %w", err)
			}
		}
		if traceback.Valid && traceback.String != "" {
			if err := json.Unmarshal([]byte(traceback.String), &out.Traceback); err != nil {
				return nil, fmt.Errorf("decode traceback: %w", err)
			}
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

// List returns all notebooks, most recently updated first, without cell
// contents.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Notebook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kernel_name, language, created_at, updated_at
		FROM notebooks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	defer rows.Close()

	out := []*models.Notebook{}
	for rows.Next() {
		nb := &models.Notebook{}
		var created, updated string
		if err := rows.Scan(&nb.ID, &nb.Name, &nb.KernelName, &nb.Language, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan notebook: %w", err)
		}
		nb.CreatedAt = parseTime(created)
		nb.UpdatedAt = parseTime(updated)
		out = append(out, nb)
	}
	return out, rows.Err()
}

// Delete removes a notebook and, via cascade, its cells and outputs.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notebook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Create stores a new conversation record.
func (s *SQLiteStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	now := time.Now().UTC()
	created := conv.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, notebook_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.NotebookID, conv.Title,
		created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if len(conv.Messages) > 0 {
		return s.Append(ctx, conv.ID, conv.Messages...)
	}
	return nil
}

// Get loads one conversation with its messages in order.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, notebook_id, title, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	conv := &models.Conversation{}
	var created, updated string
	err := row.Scan(&conv.ID, &conv.NotebookID, &conv.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.CreatedAt = parseTime(created)
	conv.UpdatedAt = parseTime(updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, offline, created_at
		FROM chat_messages WHERE conversation_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.ChatMessage
		var role, ts string
		var offline int
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &offline, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.Offline = offline != 0
		msg.CreatedAt = parseTime(ts)
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, rows.Err()
}

// ListConversations returns conversation records for a notebook (all
// notebooks when notebookID is empty), without messages.
func (s *SQLiteStore) ListConversations(ctx context.Context, notebookID string) ([]*models.Conversation, error) {
	query := `SELECT id, notebook_id, title, created_at, updated_at FROM conversations`
	args := []any{}
	if notebookID != "" {
		query += ` WHERE notebook_id = ?`
		args = append(args, notebookID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []*models.Conversation{}
	for rows.Next() {
		conv := &models.Conversation{}
		var created, updated string
		if err := rows.Scan(&conv.ID, &conv.NotebookID, &conv.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.CreatedAt = parseTime(created)
		conv.UpdatedAt = parseTime(updated)
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Append adds messages to the end of a conversation.
func (s *SQLiteStore) Append(ctx context.Context, id string, msgs ...models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position)+1, 0) FROM chat_messages WHERE conversation_id = ?`, id).Scan(&next); err != nil {
		return err
	}

	for i, msg := range msgs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, conversation_id, position, role, content, offline, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, id, next+i, string(msg.Role), msg.Content,
			boolInt(msg.Offline), msg.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// conversationStore adapts SQLiteStore's conversation methods to the
// ConversationStore interface (Get/List/Delete collide with the notebook
// methods on the same receiver).
type conversationStore struct {
	s *SQLiteStore
}

func (c conversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	return c.s.Create(ctx, conv)
}

func (c conversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return c.s.GetConversation(ctx, id)
}

func (c conversationStore) List(ctx context.Context, notebookID string) ([]*models.Conversation, error) {
	return c.s.ListConversations(ctx, notebookID)
}

func (c conversationStore) Append(ctx context.Context, id string, msgs ...models.ChatMessage) error {
	return c.s.Append(ctx, id, msgs...)
}

func (c conversationStore) Delete(ctx context.Context, id string) error {
	return c.s.DeleteConversation(ctx, id)
}

// NewSQLiteStoreSet opens the database and wires both stores over it.
func NewSQLiteStoreSet(path string) (StoreSet, error) {
	s, err := OpenSQLite(path)
	if err != nil {
		return StoreSet{}, err
	}
	return NewStoreSet(s, conversationStore{s}, s.Close), nil
}

func encodeOutputBlobs(out models.Output) (data, traceback sql.NullString, err error) {
	if out.Data != nil {
		b, err := json.Marshal(out.Data)
		if err != nil {
			return data, traceback, fmt.Errorf("encode output data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	if out.Traceback != nil {
		b, err := json.Marshal(out.Traceback)
		if err != nil {
			return data, traceback, fmt.Errorf("encode traceback: %w", err)
		}
		traceback = sql.NullString{String: string(b), Valid: true}
	}
	return data, traceback, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
