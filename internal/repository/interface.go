package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/sticker-chat/internal/domain"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrStickerNotFound = errors.New("sticker not found")
	ErrUserNotFound    = errors.New("user not found")
)

// MessageRepository defines persistence for chat messages.
// Messages are append-only: no update or delete in normal operation.
type MessageRepository interface {
	// Create inserts the message and fills in the server-assigned ID
	// and creation timestamp. A row-insert event is published to the
	// change feed after the commit succeeds.
	Create(ctx context.Context, msg *domain.Message) error

	// GetByID fetches a single message with denormalized author
	// display data joined from the users table.
	GetByID(ctx context.Context, id int64) (*domain.Message, error)

	// ListRecent returns the most recent limit messages in ascending
	// (created_at, id) order.
	ListRecent(ctx context.Context, limit int) ([]*domain.Message, error)
}

// StickerRepository defines persistence for the shared sticker library.
type StickerRepository interface {
	// Create inserts the sticker record and publishes a row-insert
	// event after the commit succeeds.
	Create(ctx context.Context, sticker *domain.Sticker) error

	// GetByID fetches a single sticker.
	GetByID(ctx context.Context, id string) (*domain.Sticker, error)

	// List returns the library ordered by created_at descending.
	List(ctx context.Context) ([]*domain.Sticker, error)

	// Delete removes the record and publishes a row-delete event. The
	// deleted sticker is returned so the caller can remove its blob.
	Delete(ctx context.Context, id string) (*domain.Sticker, error)
}

// UserRepository defines persistence for room members and their
// presence timestamps.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// List returns all members ordered by last_seen descending, with
	// Online derived against the current wall clock.
	List(ctx context.Context) ([]*domain.User, error)

	// UpdateLastSeen unconditionally overwrites the user's last_seen.
	UpdateLastSeen(ctx context.Context, userID string, seenAt time.Time) error

	// Delete removes the member and publishes a row-delete event.
	Delete(ctx context.Context, id string) error
}
