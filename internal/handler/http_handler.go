// Package handler exposes the chat room over HTTP and websocket.
package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/sticker-chat/internal/auth"
	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/presence"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/internal/service"
	"github.com/weiawesome/sticker-chat/internal/upload"
	"github.com/weiawesome/sticker-chat/pkg/log"
	"github.com/weiawesome/sticker-chat/pkg/response"
)

// Handler handles HTTP requests for the chat room.
type Handler struct {
	chat           *service.ChatService
	pipeline       *upload.Pipeline
	tracker        *presence.Tracker
	authMiddleware *auth.Middleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(chat *service.ChatService, pipeline *upload.Pipeline, tracker *presence.Tracker, authMiddleware *auth.Middleware) *Handler {
	return &Handler{
		chat:           chat,
		pipeline:       pipeline,
		tracker:        tracker,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.Use(h.authMiddleware.RequireAuth())
	{
		messages := api.Group("/messages")
		{
			messages.GET("", h.ListMessages)
			messages.POST("", h.SendMessage)
		}

		stickers := api.Group("/stickers")
		{
			stickers.GET("", h.ListStickers)
			stickers.POST("/upload", h.UploadSticker)
			stickers.DELETE("/:id", h.authMiddleware.RequireAdmin(), h.DeleteSticker)
		}

		pres := api.Group("/presence")
		{
			pres.GET("", h.ListPresence)
			pres.POST("/heartbeat", h.Heartbeat)
			pres.DELETE("/:id", h.RemoveUser)
		}
	}
}

// Health reports liveness. Unauthenticated.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListMessages returns the most recent messages in ascending order.
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.chat.ListMessages(ctx, limit)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to list messages")
		response.InternalError(c, "failed to list messages")
		return
	}
	response.Success(c, messages)
}

// SendMessage persists one message authored by the caller.
func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	ac, ok := auth.FromGin(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var in service.SendMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.SendMessage(ctx, ac, in)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidMessageType), errors.Is(err, domain.ErrMessageBody):
			response.BadRequest(c, err.Error())
		case errors.Is(err, repository.ErrStickerNotFound):
			response.NotFound(c, "sticker not found")
		default:
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("send message failed")
			response.InternalError(c, "failed to send message")
		}
		return
	}
	response.Created(c, msg)
}

// ListStickers returns the shared sticker library, newest first.
func (h *Handler) ListStickers(c *gin.Context) {
	ctx := c.Request.Context()
	stickers, err := h.chat.ListStickers(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to list stickers")
		response.InternalError(c, "failed to list stickers")
		return
	}
	response.Success(c, stickers)
}

// UploadSticker accepts a multipart upload under field "file". The
// response shape is the flat contract the web client expects rather
// than the standard envelope.
func (h *Handler) UploadSticker(c *gin.Context) {
	ctx := c.Request.Context()
	ac, ok := auth.FromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	subType := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileHeader.Filename), "."))
	if subType == "" {
		// Extension-less uploads still declare a MIME type on the part.
		subType, _ = upload.SubTypeFromContentType(fileHeader.Header.Get("Content-Type"))
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	// One byte past the limit is enough to reject without buffering
	// arbitrarily large bodies.
	payload, err := io.ReadAll(io.LimitReader(file, upload.MaxPayloadSize+1))
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to read upload body")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}

	sticker, err := h.pipeline.Upload(ctx, &upload.Request{
		Payload:    payload,
		SubType:    subType,
		UploaderID: ac.UserID,
		Name:       fileHeader.Filename,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		case errors.Is(err, upload.ErrPayloadTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": "File too large"})
		case errors.Is(err, upload.ErrMetadataWrite):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		default:
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("sticker upload failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"sticker": sticker,
		"url":     sticker.URL,
	})
}

// DeleteSticker removes a sticker record and its blob. Admin only.
func (h *Handler) DeleteSticker(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.pipeline.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrStickerNotFound) {
			response.NotFound(c, "sticker not found")
			return
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldStickerID, id).Msg("sticker delete failed")
		response.InternalError(c, "failed to delete sticker")
		return
	}
	response.Success(c, gin.H{"deleted": id})
}

// ListPresence returns all members with their derived online flag.
func (h *Handler) ListPresence(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := h.tracker.List(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to list presence")
		response.InternalError(c, "failed to list presence")
		return
	}
	response.Success(c, users)
}

// Heartbeat stamps the caller's last_seen.
func (h *Handler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()
	ac, ok := auth.FromGin(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	if err := h.tracker.Heartbeat(ctx, ac.UserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("heartbeat failed")
		response.InternalError(c, "failed to record heartbeat")
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// RemoveUser deletes a member. Admin only; self-removal is rejected.
func (h *Handler) RemoveUser(c *gin.Context) {
	ctx := c.Request.Context()
	ac, ok := auth.FromGin(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	id := c.Param("id")
	if err := h.tracker.Remove(ctx, ac, id); err != nil {
		switch {
		case errors.Is(err, presence.ErrNotAdmin):
			response.Forbidden(c, "admin role required")
		case errors.Is(err, presence.ErrSelfRemoval):
			response.BadRequest(c, "cannot remove yourself")
		case errors.Is(err, repository.ErrUserNotFound):
			response.NotFound(c, "user not found")
		default:
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("user removal failed")
			response.InternalError(c, "failed to remove user")
		}
		return
	}
	response.Success(c, gin.H{"removed": id})
}
