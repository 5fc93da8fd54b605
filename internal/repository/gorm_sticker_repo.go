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

// GormStickerRepository implements StickerRepository using GORM.
type GormStickerRepository struct {
	db  *gorm.DB
	bus pubsub.Publisher
}

// NewGormStickerRepository creates a new GORM-based sticker repository.
func NewGormStickerRepository(db *gorm.DB, bus pubsub.Publisher) *GormStickerRepository {
	return &GormStickerRepository{db: db, bus: bus}
}

// Create inserts the sticker record and publishes the insert event.
func (r *GormStickerRepository) Create(ctx context.Context, sticker *domain.Sticker) error {
	if sticker.ID == "" {
		sticker.ID = uuid.New().String()
	}

	model := sticker.ToModel()
	model.CreatedAt = time.Time{}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	sticker.CreatedAt = model.CreatedAt

	r.publish(ctx, pubsub.KindInsert, sticker.ID)
	return nil
}

// GetByID fetches a single sticker.
func (r *GormStickerRepository) GetByID(ctx context.Context, id string) (*domain.Sticker, error) {
	var model domain.StickerModel
	err := r.db.WithContext(ctx).Take(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStickerNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns the library ordered by created_at descending.
func (r *GormStickerRepository) List(ctx context.Context) ([]*domain.Sticker, error) {
	var models []domain.StickerModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	stickers := make([]*domain.Sticker, len(models))
	for i := range models {
		stickers[i] = models[i].ToDomain()
	}
	return stickers, nil
}

// Delete removes the record and publishes the delete event.
func (r *GormStickerRepository) Delete(ctx context.Context, id string) (*domain.Sticker, error) {
	sticker, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result := r.db.WithContext(ctx).Delete(&domain.StickerModel{}, "id = ?", id)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrStickerNotFound
	}

	r.publish(ctx, pubsub.KindDelete, id)
	return sticker, nil
}

func (r *GormStickerRepository) publish(ctx context.Context, kind, id string) {
	event := pubsub.NewEvent(domain.TableStickers, kind, id)
	if err := r.bus.Publish(ctx, pubsub.ChannelFor(domain.TableStickers), event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldTable, domain.TableStickers).
			Str(log.FieldEventKind, kind).
			Msg("failed to publish change event")
	}
}
