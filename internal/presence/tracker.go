// Package presence tracks per-user liveness via periodic heartbeat
// writes and derives online status from last_seen recency.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/sticker-chat/internal/auth"
	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/pkg/log"
)

// ErrSelfRemoval is returned when an admin tries to remove their own
// presence record, which would lock them out of their live session.
var ErrSelfRemoval = errors.New("cannot remove own presence record")

// ErrNotAdmin is returned when a non-admin caller attempts removal.
var ErrNotAdmin = errors.New("admin role required")

// Tracker reads and writes presence state. Online status is never
// stored; it is derived from last_seen at read time, so a crashed
// client goes offline by simply failing to heartbeat.
type Tracker struct {
	users repository.UserRepository
}

// NewTracker creates a presence tracker over the user store.
func NewTracker(users repository.UserRepository) *Tracker {
	return &Tracker{users: users}
}

// Heartbeat stamps the user's last_seen with the current time. The
// write is unconditional; a failed beat is recoverable as long as the
// next one lands inside the staleness threshold.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	return t.users.UpdateLastSeen(ctx, userID, time.Now())
}

// Track stamps the caller's last_seen, creating the member row on
// first contact. Authentication lives outside this service, so the row
// is provisioned lazily from the verified caller identity.
func (t *Tracker) Track(ctx context.Context, caller auth.Context) error {
	err := t.users.UpdateLastSeen(ctx, caller.UserID, time.Now())
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	role := caller.Role
	if role == "" {
		role = domain.RoleUser
	}
	user := &domain.User{
		ID:          caller.UserID,
		DisplayName: caller.DisplayName,
		Role:        role,
		LastSeen:    time.Now(),
	}
	if err := t.users.Create(ctx, user); err != nil {
		return err
	}
	l := log.Ctx(ctx)
	l.Info().Str(log.FieldUserID, caller.UserID).Msg("member row created on first contact")
	return nil
}

// List returns all users ordered by last_seen descending, with the
// Online flag computed against the wall clock at call time.
func (t *Tracker) List(ctx context.Context) ([]*domain.User, error) {
	return t.users.List(ctx)
}

// Remove deletes a user's record. Admin only, and an admin may not
// remove themselves: their own heartbeat runner would immediately
// recreate confusion about a session the server still holds open.
func (t *Tracker) Remove(ctx context.Context, caller auth.Context, userID string) error {
	if !caller.IsAdmin() {
		return ErrNotAdmin
	}
	if caller.UserID == userID {
		return ErrSelfRemoval
	}
	if err := t.users.Delete(ctx, userID); err != nil {
		return err
	}
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldUserID, caller.UserID).
		Str("removed_user_id", userID).
		Msg("user removed by admin")
	return nil
}
