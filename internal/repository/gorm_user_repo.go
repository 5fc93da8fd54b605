package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/pkg/log"
	"github.com/weiawesome/sticker-chat/pkg/pubsub"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db  *gorm.DB
	bus pubsub.Publisher
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB, bus pubsub.Publisher) *GormUserRepository {
	return &GormUserRepository{db: db, bus: bus}
}

// Create inserts a new room member.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	model := user.ToModel()
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	r.publish(ctx, pubsub.KindInsert, user.ID)
	return nil
}

// GetByID retrieves a member by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model domain.UserModel
	err := r.db.WithContext(ctx).Take(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return model.ToDomain(time.Now()), nil
}

// List returns all members ordered by last_seen descending. The whole
// listing is classified against a single wall-clock instant.
func (r *GormUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	var models []domain.UserModel
	err := r.db.WithContext(ctx).
		Order("last_seen DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	now := time.Now()
	users := make([]*domain.User, len(models))
	for i := range models {
		users[i] = models[i].ToDomain(now)
	}
	return users, nil
}

// UpdateLastSeen unconditionally overwrites the member's last_seen.
func (r *GormUserRepository) UpdateLastSeen(ctx context.Context, userID string, seenAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.UserModel{}).
		Where("id = ?", userID).
		Update("last_seen", seenAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes the member and publishes the delete event.
func (r *GormUserRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.UserModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	r.publish(ctx, pubsub.KindDelete, id)
	return nil
}

func (r *GormUserRepository) publish(ctx context.Context, kind, id string) {
	event := pubsub.NewEvent(domain.TableUsers, kind, id)
	if err := r.bus.Publish(ctx, pubsub.ChannelFor(domain.TableUsers), event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldTable, domain.TableUsers).
			Str(log.FieldEventKind, kind).
			Msg("failed to publish change event")
	}
}
