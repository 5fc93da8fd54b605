// Package service holds the chat application logic between the HTTP or
// websocket surface and the repositories.
package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/sticker-chat/internal/auth"
	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/pkg/log"
)

// MaxListLimit caps message history fetches.
const MaxListLimit = 500

// SendMessageInput is one outgoing message. Exactly one of Content or
// a media reference must be set, matching the message type. StickerID
// resolves the media URL from the library when set.
type SendMessageInput struct {
	Type      domain.MessageType `json:"message_type"`
	Content   string             `json:"content"`
	MediaURL  string             `json:"media_url"`
	StickerID string             `json:"sticker_id"`
}

// ChatService sends and lists messages and exposes the sticker library.
type ChatService struct {
	messages repository.MessageRepository
	stickers repository.StickerRepository
	sf       singleflight.Group
}

// NewChatService creates the chat service.
func NewChatService(messages repository.MessageRepository, stickers repository.StickerRepository) *ChatService {
	return &ChatService{messages: messages, stickers: stickers}
}

// SendMessage validates and persists one message authored by the
// caller. On failure nothing is stored and the error is surfaced; the
// caller resubmits, there is no automatic retry.
func (s *ChatService) SendMessage(ctx context.Context, caller auth.Context, in SendMessageInput) (*domain.Message, error) {
	msg := &domain.Message{
		UserID:     caller.UserID,
		Type:       in.Type,
		Content:    strings.TrimSpace(in.Content),
		MediaURL:   in.MediaURL,
		AuthorName: caller.DisplayName,
	}

	if in.StickerID != "" && msg.MediaURL == "" {
		sticker, err := s.stickers.GetByID(ctx, in.StickerID)
		if err != nil {
			return nil, err
		}
		msg.MediaURL = sticker.URL
		if msg.Type == "" {
			msg.Type = domain.MessageSticker
		}
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).
			Str(log.FieldUserID, caller.UserID).
			Msg("failed to persist message")
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the most recent limit messages in ascending
// order, the same shape the synchronizer loads as its baseline.
// Concurrent sessions loading the same window share one query via
// singleflight.
func (s *ChatService) ListMessages(ctx context.Context, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	// The coalesced query must not die with whichever caller happened
	// to arrive first, so it runs detached from that caller's lifetime.
	qctx := context.WithoutCancel(ctx)
	result, err, _ := s.sf.Do(fmt.Sprintf("messages:%d", limit), func() (interface{}, error) {
		return s.messages.ListRecent(qctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*domain.Message), nil
}

// ListStickers returns the shared library, newest first.
func (s *ChatService) ListStickers(ctx context.Context) ([]*domain.Sticker, error) {
	qctx := context.WithoutCancel(ctx)
	result, err, _ := s.sf.Do("stickers", func() (interface{}, error) {
		return s.stickers.List(qctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*domain.Sticker), nil
}
