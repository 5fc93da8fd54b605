package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/sticker-chat/internal/auth"
	"github.com/weiawesome/sticker-chat/internal/config"
	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/feed"
	"github.com/weiawesome/sticker-chat/internal/hub"
	"github.com/weiawesome/sticker-chat/internal/notify"
	"github.com/weiawesome/sticker-chat/internal/presence"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/internal/service"
	msgsync "github.com/weiawesome/sticker-chat/internal/sync"
	"github.com/weiawesome/sticker-chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types pushed to the client.
const (
	frameHistory      = "history"
	frameMessage      = "message"
	frameNotification = "notification"
	frameStickers     = "stickers"
	framePresence     = "presence"
	frameDegraded     = "degraded"
	frameError        = "error"
	frameAck          = "ack"
)

// inboundFrame is one client request over the socket.
type inboundFrame struct {
	Type    string                    `json:"type"` // "send", "heartbeat", "notify"
	Send    *service.SendMessageInput `json:"send,omitempty"`
	Enabled *bool                     `json:"enabled,omitempty"`
}

type outboundFrame struct {
	Type         string               `json:"type"`
	Message      interface{}          `json:"message,omitempty"`
	Messages     interface{}          `json:"messages,omitempty"`
	Stickers     interface{}          `json:"stickers,omitempty"`
	Users        interface{}          `json:"users,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// WSHandler runs one live session per websocket connection: a message
// synchronizer, a heartbeat runner, and a notification dispatcher, all
// torn down together when the socket closes.
type WSHandler struct {
	feed     *feed.Feed
	messages repository.MessageRepository
	chat     *service.ChatService
	tracker  *presence.Tracker
	cfg      *config.Config
}

// NewWSHandler creates the websocket handler.
func NewWSHandler(f *feed.Feed, messages repository.MessageRepository, chat *service.ChatService, tracker *presence.Tracker, cfg *config.Config) *WSHandler {
	return &WSHandler{
		feed:     f,
		messages: messages,
		chat:     chat,
		tracker:  tracker,
		cfg:      cfg,
	}
}

// RegisterRoutes registers the websocket endpoint behind auth.
func (h *WSHandler) RegisterRoutes(r *gin.Engine, authMiddleware *auth.Middleware) {
	r.GET("/ws", authMiddleware.RequireAuth(), h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and runs the session.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ac, ok := auth.FromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(ac.UserID, conn, h.cfg.WebSocket)
	go h.runSession(client, ac)
}

// runSession owns the per-connection lifecycle. The session context is
// cancelled as soon as either pump exits, which stops the synchronizer,
// the heartbeat runner, and the forwarding loop together.
func (h *WSHandler) runSession(client *hub.Client, ac auth.Context) {
	ctx, cancel := context.WithCancel(auth.WithContext(context.Background(), ac))
	defer cancel()

	l := log.Ctx(ctx).With().Str(log.FieldUserID, ac.UserID).Logger()
	l.Info().Msg("websocket session started")
	defer l.Info().Msg("websocket session ended")

	sync := msgsync.New(h.messages, h.feed)
	if err := sync.Start(ctx); err != nil {
		l.Error().Err(err).Msg("failed to start message synchronizer")
		client.Close()
		return
	}
	defer sync.Stop()

	dispatcher := notify.New(ac.UserID)
	dispatcher.SetEnabled(h.cfg.Notify.Enabled)

	// Library and member rows change rarely; the events carry only row
	// ids, so the session re-reads the full list and pushes it down.
	stickerSub, err := h.feed.Subscribe(domain.TableStickers)
	if err != nil {
		l.Warn().Err(err).Msg("sticker feed subscription failed")
	} else {
		defer stickerSub.Cancel()
	}
	memberSub, err := h.feed.Subscribe(domain.TableUsers)
	if err != nil {
		l.Warn().Err(err).Msg("member feed subscription failed")
	} else {
		defer memberSub.Cancel()
	}

	if err := h.tracker.Track(ctx, ac); err != nil {
		l.Warn().Err(err).Msg("failed to provision member row")
	}
	runner := presence.NewRunner(h.tracker, ac.UserID, h.cfg.Presence.HeartbeatInterval)
	runner.Start(ctx)
	defer runner.Stop()

	go client.WritePump()
	go h.forward(ctx, client, sync, dispatcher, stickerSub, memberSub)

	baseline, err := sync.InitialLoad(ctx, msgsync.DefaultLoadLimit)
	if err != nil {
		l.Error().Err(err).Msg("initial message load failed")
		client.SendJSON(outboundFrame{Type: frameError, Error: "failed to load history"})
	} else {
		client.SendJSON(outboundFrame{Type: frameHistory, Messages: baseline})
	}

	client.ReadPump(func(raw []byte) {
		h.handleFrame(ctx, client, ac, dispatcher, raw)
	})
	cancel()
}

// forward pushes synchronizer updates, library and member refreshes,
// notifications, and the degraded signal down the socket until the
// session ends.
func (h *WSHandler) forward(ctx context.Context, client *hub.Client, sync *msgsync.Synchronizer, dispatcher *notify.Dispatcher, stickerSub, memberSub *feed.Subscription) {
	var stickerEvents, memberEvents <-chan feed.Event
	if stickerSub != nil {
		stickerEvents = stickerSub.Events()
	}
	if memberSub != nil {
		memberEvents = memberSub.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case msg, ok := <-sync.Updates():
			if !ok {
				return
			}
			client.SendJSON(outboundFrame{Type: frameMessage, Message: msg})
			dispatcher.Dispatch(msg)
		case _, ok := <-stickerEvents:
			if !ok {
				stickerEvents = nil
				continue
			}
			h.pushStickers(ctx, client)
		case _, ok := <-memberEvents:
			if !ok {
				memberEvents = nil
				continue
			}
			h.pushPresence(ctx, client)
		case n, ok := <-dispatcher.Notifications():
			if !ok {
				return
			}
			client.SendJSON(outboundFrame{Type: frameNotification, Notification: n})
		case <-sync.Degraded():
			// Live updates are gone for good on this session; the
			// client falls back to polling the history endpoint.
			client.SendJSON(outboundFrame{Type: frameDegraded})
		}
	}
}

// pushStickers sends the current library after an insert or delete
// landed on the stickers table.
func (h *WSHandler) pushStickers(ctx context.Context, client *hub.Client) {
	stickers, err := h.chat.ListStickers(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("sticker library refresh failed")
		return
	}
	client.SendJSON(outboundFrame{Type: frameStickers, Stickers: stickers})
}

// pushPresence sends the member list after a row changed on the users
// table, so removals and joins show up without polling.
func (h *WSHandler) pushPresence(ctx context.Context, client *hub.Client) {
	users, err := h.tracker.List(ctx)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("presence refresh failed")
		return
	}
	client.SendJSON(outboundFrame{Type: framePresence, Users: users})
}

func (h *WSHandler) handleFrame(ctx context.Context, client *hub.Client, ac auth.Context, dispatcher *notify.Dispatcher, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		client.SendJSON(outboundFrame{Type: frameError, Error: "invalid frame"})
		return
	}

	switch frame.Type {
	case "send":
		if frame.Send == nil {
			client.SendJSON(outboundFrame{Type: frameError, Error: "missing send body"})
			return
		}
		if _, err := h.chat.SendMessage(ctx, ac, *frame.Send); err != nil {
			// No automatic retry; the sender resubmits.
			client.SendJSON(outboundFrame{Type: frameError, Error: "failed to send message"})
			return
		}
		client.SendJSON(outboundFrame{Type: frameAck})

	case "heartbeat":
		if err := h.tracker.Heartbeat(ctx, ac.UserID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("socket heartbeat failed")
		}

	case "notify":
		if frame.Enabled != nil {
			dispatcher.SetEnabled(*frame.Enabled)
		}

	default:
		client.SendJSON(outboundFrame{Type: frameError, Error: "unknown frame type"})
	}
}
