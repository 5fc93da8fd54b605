// Package notify turns accepted message appends into short-lived,
// fire-and-forget alerts for the session's user.
package notify

import (
	"sync"
	"time"

	"github.com/weiawesome/sticker-chat/internal/domain"
)

// Lifetime is how long an alert stays visible before auto-expiry.
const Lifetime = 5 * time.Second

// MediaLabel replaces the body for messages that carry no text.
const MediaLabel = "Sent media"

// Notification is one alert. Expiry is fixed at creation; delivery is
// best-effort and never retried.
type Notification struct {
	MessageID int64     `json:"messageId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Dispatcher filters message updates into notifications for one user.
// Self-authored messages are suppressed and each message id fires at
// most once for the dispatcher's lifetime.
type Dispatcher struct {
	userID string

	mu      sync.Mutex
	enabled bool
	fired   map[int64]struct{}

	out chan *Notification
}

// New creates a dispatcher for the given user, initially enabled.
func New(userID string) *Dispatcher {
	return &Dispatcher{
		userID:  userID,
		enabled: true,
		fired:   make(map[int64]struct{}),
		out:     make(chan *Notification, 32),
	}
}

// Notifications returns the alert stream.
func (d *Dispatcher) Notifications() <-chan *Notification {
	return d.out
}

// SetEnabled toggles dispatch. While disabled, Dispatch is a silent
// no-op and the message id is not marked fired.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Dispatch considers one accepted message. Suppressed, duplicate, or
// disabled dispatches return false; undeliverable alerts (full buffer)
// are dropped, not retried.
func (d *Dispatcher) Dispatch(msg *domain.Message) bool {
	if msg.UserID == d.userID {
		return false
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return false
	}
	if _, ok := d.fired[msg.ID]; ok {
		d.mu.Unlock()
		return false
	}
	d.fired[msg.ID] = struct{}{}
	d.mu.Unlock()

	body := MediaLabel
	if msg.Content != "" {
		body = msg.Content
	}

	n := &Notification{
		MessageID: msg.ID,
		Author:    msg.AuthorName,
		Body:      body,
		ExpiresAt: time.Now().Add(Lifetime),
	}
	select {
	case d.out <- n:
		return true
	default:
		return false
	}
}
