package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// SQLiteStore implements Store on an in-memory SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the cache. dsn is normally ":memory:" or a
// mode=memory URI; the cache is never meant to outlive the process.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the cache tables.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			position INTEGER PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			position INTEGER PRIMARY KEY,
			reminder_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reminder_time TEXT NOT NULL DEFAULT '',
			is_completed INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplaceConversations replaces the conversation list.
func (s *SQLiteStore) ReplaceConversations(ctx context.Context, conversations []domain.Conversation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
			return err
		}
		for i, c := range conversations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conversations (position, conversation_id, title, updated_at) VALUES (?, ?, ?, ?)`,
				i, c.ID, c.Title, c.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Conversations returns the conversation list in server order.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, title, updated_at FROM conversations ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// AppendMessage appends to the active message log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (role, content, timestamp) VALUES (?, ?, ?)`,
		string(message.Role), message.Content, message.Timestamp)
	return err
}

// ReplaceMessages replaces the active message log wholesale.
func (s *SQLiteStore) ReplaceMessages(ctx context.Context, messages []domain.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
			return err
		}
		for _, m := range messages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (role, content, timestamp) VALUES (?, ?, ?)`,
				string(m.Role), m.Content, m.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearMessages empties the active message log.
func (s *SQLiteStore) ClearMessages(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	return err
}

// Messages returns the active message log in arrival order.
func (s *SQLiteStore) Messages(ctx context.Context) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MessageCount returns the length of the active message log.
func (s *SQLiteStore) MessageCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// ReplaceReminders replaces the reminder list.
func (s *SQLiteStore) ReplaceReminders(ctx context.Context, reminders []domain.Reminder) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
			return err
		}
		for i, r := range reminders {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO reminders (position, reminder_id, title, description, reminder_time, is_completed)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				i, r.ID, r.Title, r.Description, r.ReminderTime, r.IsCompleted); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reminders returns the reminder list in server order.
func (s *SQLiteStore) Reminders(ctx context.Context) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reminder_id, title, description, reminder_time, is_completed FROM reminders ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := []domain.Reminder{}
	for rows.Next() {
		var r domain.Reminder
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.ReminderTime, &r.IsCompleted); err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// Reset drops every cached row.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"conversations", "messages", "reminders"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
