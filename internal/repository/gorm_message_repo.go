package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/pkg/log"
	"github.com/weiawesome/sticker-chat/pkg/pubsub"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db  *gorm.DB
	bus pubsub.Publisher
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB, bus pubsub.Publisher) *GormMessageRepository {
	return &GormMessageRepository{db: db, bus: bus}
}

// messageRow is the scan target for the users join.
type messageRow struct {
	domain.MessageModel
	DisplayName string
	AvatarURL   string
}

func (r messageRow) toDomain() *domain.Message {
	msg := r.MessageModel.ToDomain()
	msg.AuthorName = r.DisplayName
	msg.AuthorAvatar = r.AvatarURL
	return msg
}

// Create inserts the message and publishes the insert event post-commit.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	model := msg.ToModel()
	model.ID = 0
	model.CreatedAt = time.Time{}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt

	r.publish(ctx, pubsub.KindInsert, model.ID)
	return nil
}

// GetByID fetches a single message with author display data.
func (r *GormMessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	var row messageRow
	err := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Select("messages.*, users.display_name, users.avatar_url").
		Joins("LEFT JOIN users ON users.id = messages.user_id").
		Where("messages.id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListRecent returns the most recent limit messages, ascending.
func (r *GormMessageRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Message, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Select("messages.*, users.display_name, users.avatar_url").
		Joins("LEFT JOIN users ON users.id = messages.user_id").
		Order("messages.created_at DESC, messages.id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// Query newest-first for the limit, present oldest-first.
	messages := make([]*domain.Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = row.toDomain()
	}
	return messages, nil
}

// publish emits a change-feed event. Failure to publish is logged, not
// surfaced: the feed is a wake-up signal, consumers reconcile against
// the table itself.
func (r *GormMessageRepository) publish(ctx context.Context, kind string, id int64) {
	event := pubsub.NewEvent(domain.TableMessages, kind, strconv.FormatInt(id, 10))
	if err := r.bus.Publish(ctx, pubsub.ChannelFor(domain.TableMessages), event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldTable, domain.TableMessages).
			Str(log.FieldEventKind, kind).
			Msg("failed to publish change event")
	}
}
