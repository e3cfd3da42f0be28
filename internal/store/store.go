// Package store holds the session's working cache of conversations,
// messages and reminders.
package store

import (
	"context"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// Store is the conversation cache. Lists keep the order the brain sent
// them in; the cache never re-sorts.
type Store interface {
	// Conversation operations
	ReplaceConversations(ctx context.Context, conversations []domain.Conversation) error
	Conversations(ctx context.Context) ([]domain.Conversation, error)

	// Message operations
	AppendMessage(ctx context.Context, message domain.Message) error
	ReplaceMessages(ctx context.Context, messages []domain.Message) error
	ClearMessages(ctx context.Context) error
	Messages(ctx context.Context) ([]domain.Message, error)
	MessageCount(ctx context.Context) (int, error)

	// Reminder operations
	ReplaceReminders(ctx context.Context, reminders []domain.Reminder) error
	Reminders(ctx context.Context) ([]domain.Reminder, error)

	// Reset drops everything cached for the current user.
	Reset(ctx context.Context) error

	// Lifecycle
	Close() error
}
