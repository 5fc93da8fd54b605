package notify

import (
	"testing"
	"time"

	"github.com/weiawesome/sticker-chat/internal/domain"
)

func textMsg(id int64, author, name, content string) *domain.Message {
	return &domain.Message{
		ID:         id,
		UserID:     author,
		Type:       domain.MessageText,
		Content:    content,
		AuthorName: name,
	}
}

func TestDispatchFiresForOthers(t *testing.T) {
	d := New("me")

	if !d.Dispatch(textMsg(1, "them", "Them", "hi")) {
		t.Fatal("dispatch for another author should fire")
	}

	n := <-d.Notifications()
	if n.MessageID != 1 || n.Author != "Them" || n.Body != "hi" {
		t.Errorf("notification = %+v", n)
	}
	if remaining := time.Until(n.ExpiresAt); remaining <= 0 || remaining > Lifetime {
		t.Errorf("expiry %v outside the fixed lifetime", remaining)
	}
}

func TestDispatchSuppressesSelf(t *testing.T) {
	d := New("me")
	if d.Dispatch(textMsg(1, "me", "Me", "hello")) {
		t.Error("self-authored message must not fire")
	}
	select {
	case n := <-d.Notifications():
		t.Errorf("unexpected notification: %+v", n)
	default:
	}
}

func TestDispatchDedupsByMessageID(t *testing.T) {
	d := New("me")
	m := textMsg(7, "them", "Them", "once")

	if !d.Dispatch(m) {
		t.Fatal("first dispatch should fire")
	}
	if d.Dispatch(m) {
		t.Error("second dispatch of the same message fired")
	}
	<-d.Notifications()
	select {
	case n := <-d.Notifications():
		t.Errorf("duplicate notification: %+v", n)
	default:
	}
}

func TestDispatchMediaLabel(t *testing.T) {
	m := &domain.Message{
		ID:         3,
		UserID:     "them",
		Type:       domain.MessageSticker,
		MediaURL:   "https://cdn.example.com/s.png",
		AuthorName: "Them",
	}

	d := New("me")
	if !d.Dispatch(m) {
		t.Fatal("media message should fire")
	}
	if n := <-d.Notifications(); n.Body != MediaLabel {
		t.Errorf("body = %q, want %q", n.Body, MediaLabel)
	}
}

func TestDisabledDispatchIsNoOp(t *testing.T) {
	d := New("me")
	d.SetEnabled(false)

	m := textMsg(5, "them", "Them", "quiet")
	if d.Dispatch(m) {
		t.Error("disabled dispatcher fired")
	}

	// Re-enabling lets the same message fire; a disabled dispatch must
	// not consume the id.
	d.SetEnabled(true)
	if !d.Dispatch(m) {
		t.Error("message swallowed by earlier disabled dispatch")
	}
}
