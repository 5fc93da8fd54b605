package domain

import "time"

// StickerModel is the GORM model for the stickers table.
// A sticker row must never reference a blob that is missing from the
// blob store; the upload pipeline's compensation rule enforces this.
type StickerModel struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	Name       string    `gorm:"type:varchar(255);not null"`
	URL        string    `gorm:"type:text;not null"`
	StorageKey string    `gorm:"type:varchar(512);not null"`
	FileType   string    `gorm:"type:varchar(8);not null"`
	UploadedBy string    `gorm:"type:varchar(36);index;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for StickerModel.
func (StickerModel) TableName() string {
	return TableStickers
}

// Sticker is a shared-library sticker asset.
type Sticker struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	StorageKey string    `json:"-"`
	FileType   string    `json:"file_type"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToModel converts a Sticker to its GORM model.
func (s *Sticker) ToModel() *StickerModel {
	return &StickerModel{
		ID:         s.ID,
		Name:       s.Name,
		URL:        s.URL,
		StorageKey: s.StorageKey,
		FileType:   s.FileType,
		UploadedBy: s.UploadedBy,
		CreatedAt:  s.CreatedAt,
	}
}

// ToDomain converts a StickerModel to a domain Sticker.
func (s *StickerModel) ToDomain() *Sticker {
	return &Sticker{
		ID:         s.ID,
		Name:       s.Name,
		URL:        s.URL,
		StorageKey: s.StorageKey,
		FileType:   s.FileType,
		UploadedBy: s.UploadedBy,
		CreatedAt:  s.CreatedAt,
	}
}
