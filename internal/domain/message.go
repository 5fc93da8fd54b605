package domain

import (
	"errors"
	"time"
)

// MessageType classifies what a message carries.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageSticker MessageType = "sticker"
	MessageGIF     MessageType = "gif"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	// ErrMessageBody is returned when the content/media pairing does not
	// match the message type: text messages carry content only, media
	// messages carry a media URL only.
	ErrMessageBody = errors.New("message body does not match message type")
)

// MessageModel is the GORM model for the messages table.
// Messages are immutable once created; the autoincrement ID gives every
// message a server-assigned, monotonically comparable identifier.
type MessageModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	UserID      string    `gorm:"type:varchar(36);index;not null"`
	MessageType string    `gorm:"type:varchar(16);not null"`
	Content     *string   `gorm:"type:text"`
	MediaURL    *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return TableMessages
}

// Message is a chat message with denormalized author display data
// joined from the users table.
type Message struct {
	ID           int64       `json:"id"`
	UserID       string      `json:"user_id"`
	Type         MessageType `json:"message_type"`
	Content      string      `json:"content,omitempty"`
	MediaURL     string      `json:"media_url,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	AuthorName   string      `json:"author_name"`
	AuthorAvatar string      `json:"author_avatar,omitempty"`
}

// Validate checks the exactly-one-of content/media invariant.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageText:
		if m.Content == "" || m.MediaURL != "" {
			return ErrMessageBody
		}
	case MessageSticker, MessageGIF:
		if m.MediaURL == "" || m.Content != "" {
			return ErrMessageBody
		}
	default:
		return ErrInvalidMessageType
	}
	return nil
}

// ToModel converts a Message to its GORM model.
func (m *Message) ToModel() *MessageModel {
	model := &MessageModel{
		ID:          m.ID,
		UserID:      m.UserID,
		MessageType: string(m.Type),
		CreatedAt:   m.CreatedAt,
	}
	if m.Type == MessageText {
		content := m.Content
		model.Content = &content
	} else {
		url := m.MediaURL
		model.MediaURL = &url
	}
	return model
}

// ToDomain converts a MessageModel to a domain Message.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      MessageType(m.MessageType),
		CreatedAt: m.CreatedAt,
	}
	if m.Content != nil {
		msg.Content = *m.Content
	}
	if m.MediaURL != nil {
		msg.MediaURL = *m.MediaURL
	}
	return msg
}
