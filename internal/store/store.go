// Package store provides SQLite-based persistence for chat messages and the
// model chosen per room. The database file and tables are created on open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("message not found")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    room_id INTEGER,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    status TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room ON messages(room_id, timestamp);
CREATE TABLE IF NOT EXISTS room_models (
    room_id INTEGER PRIMARY KEY,
    model TEXT NOT NULL
);`

const columns = `id, room_id, role, content, status, model, error, metadata, timestamp`

// Store persists messages in SQLite. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger. If not set, logger.L is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: logger.L}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s.db = db
	s.logger.Info("sqlite message store initialized", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Save inserts m, replacing any message with the same id.
func (s *Store) Save(ctx context.Context, m message.ConcurrentMessage) error {
	return save(ctx, s.db, m)
}

func save(ctx context.Context, q querier, m message.ConcurrentMessage) error {
	var meta sql.NullString
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", m.ID, err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	var room sql.NullInt64
	if id, ok := m.Room(); ok {
		room = sql.NullInt64{Int64: id, Valid: true}
	}
	_, err := q.ExecContext(ctx, `INSERT INTO messages (`+columns+`) VALUES (?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET room_id=excluded.room_id, role=excluded.role, content=excluded.content,
        status=excluded.status, model=excluded.model, error=excluded.error, metadata=excluded.metadata,
        timestamp=excluded.timestamp;`,
		m.ID, room, string(m.Role), m.Content, string(m.Status), m.Model, m.Error, meta, m.Timestamp)
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (message.ConcurrentMessage, error) {
	var (
		m      message.ConcurrentMessage
		room   sql.NullInt64
		role   string
		status string
		meta   sql.NullString
	)
	if err := row.Scan(&m.ID, &room, &role, &m.Content, &status, &m.Model, &m.Error, &meta, &m.Timestamp); err != nil {
		return m, err
	}
	m.Role = message.Role(role)
	m.Status = message.Status(status)
	if room.Valid {
		id := room.Int64
		m.RoomID = &id
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
	}
	return m, nil
}

// Get returns the message with id.
func (s *Store) Get(ctx context.Context, id string) (message.ConcurrentMessage, error) {
	return get(ctx, s.db, id)
}

func get(ctx context.Context, q querier, id string) (message.ConcurrentMessage, error) {
	m, err := scan(q.QueryRowContext(ctx, `SELECT `+columns+` FROM messages WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, err
}

// ListRoom returns the messages of a room in chronological order.
func (s *Store) ListRoom(ctx context.Context, roomID int64) ([]message.ConcurrentMessage, error) {
	return listRoom(ctx, s.db, roomID)
}

func listRoom(ctx context.Context, q querier, roomID int64) ([]message.ConcurrentMessage, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+columns+` FROM messages WHERE room_id = ? ORDER BY timestamp ASC, seq ASC;`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []message.ConcurrentMessage
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Transition fires trigger on the stored message and persists the new status.
// errMsg replaces the stored error text; it is cleared when empty.
func (s *Store) Transition(ctx context.Context, id string, trigger message.Trigger, errMsg string) (message.ConcurrentMessage, error) {
	var out message.ConcurrentMessage
	err := s.tx(ctx, func(tx *sql.Tx) error {
		m, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := m.Apply(trigger); err != nil {
			return err
		}
		m.Error = errMsg
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = ?, error = ? WHERE id = ?;`, string(m.Status), m.Error, id); err != nil {
			return fmt.Errorf("update message %s: %w", id, err)
		}
		out = m
		return nil
	})
	return out, err
}

// ClearRoom deletes every message of a room and returns them in chronological order.
func (s *Store) ClearRoom(ctx context.Context, roomID int64) ([]message.ConcurrentMessage, error) {
	var out []message.ConcurrentMessage
	err := s.tx(ctx, func(tx *sql.Tx) error {
		msgs, err := listRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?;`, roomID); err != nil {
			return fmt.Errorf("clear room %d: %w", roomID, err)
		}
		out = msgs
		return nil
	})
	return out, err
}

// Restore saves msgs in order inside one transaction.
func (s *Store) Restore(ctx context.Context, msgs []message.ConcurrentMessage) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := save(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteLastUserMessage removes the newest user message of a room with the
// given content and returns its id, or "" when nothing matched.
func (s *Store) DeleteLastUserMessage(ctx context.Context, roomID int64, content string) (string, error) {
	var id string
	err := s.tx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM messages WHERE room_id = ? AND role = ? AND content = ?
            ORDER BY timestamp DESC, seq DESC LIMIT 1;`, roomID, string(message.RoleUser), content).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?;`, id)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("delete last user message in room %d: %w", roomID, err)
	}
	return id, nil
}

// SetRoomModel stores the model override for a room.
func (s *Store) SetRoomModel(ctx context.Context, roomID int64, model string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO room_models (room_id, model) VALUES (?, ?)
        ON CONFLICT(room_id) DO UPDATE SET model = excluded.model;`, roomID, model)
	if err != nil {
		return fmt.Errorf("set model for room %d: %w", roomID, err)
	}
	return nil
}

// RoomModel returns the model override for a room, if any.
func (s *Store) RoomModel(ctx context.Context, roomID int64) (string, bool, error) {
	var model string
	err := s.db.QueryRowContext(ctx, `SELECT model FROM room_models WHERE room_id = ?;`, roomID).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get model for room %d: %w", roomID, err)
	}
	return model, true, nil
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("sqlite rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}
