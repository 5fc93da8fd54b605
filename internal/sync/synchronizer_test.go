package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/feed"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/pkg/pubsub"
)

type fakeMessageRepo struct {
	mu       gosync.Mutex
	messages map[int64]*domain.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[int64]*domain.Message)}
}

func (r *fakeMessageRepo) put(m *domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ID] = m
}

func (r *fakeMessageRepo) Create(_ context.Context, msg *domain.Message) error {
	r.put(msg)
	return nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrMessageNotFound
	}
	return m, nil
}

func (r *fakeMessageRepo) ListRecent(_ context.Context, limit int) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Message, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m)
	}
	// ascending (created_at, id)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if keyOf(out[j]).less(keyOf(out[i])) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func msg(id int64, at time.Time, author, content string) *domain.Message {
	return &domain.Message{
		ID:        id,
		UserID:    author,
		Type:      domain.MessageText,
		Content:   content,
		CreatedAt: at,
	}
}

func waitForLog(t *testing.T, s *Synchronizer, want int) []*domain.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if len(snap) == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap := s.Snapshot()
	t.Fatalf("log length = %d, want %d", len(snap), want)
	return snap
}

func publishInsert(t *testing.T, bus *pubsub.MemoryPubSub, id string) {
	t.Helper()
	ev := pubsub.NewEvent(domain.TableMessages, pubsub.KindInsert, id)
	if err := bus.Publish(context.Background(), pubsub.ChannelFor(domain.TableMessages), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestInitialLoadAscending(t *testing.T) {
	repo := newFakeMessageRepo()
	base := time.Now().Add(-time.Hour)
	repo.put(msg(3, base.Add(3*time.Second), "a", "third"))
	repo.put(msg(1, base.Add(1*time.Second), "a", "first"))
	repo.put(msg(2, base.Add(2*time.Second), "b", "second"))

	f := feed.New(pubsub.NewMemoryPubSub(), feed.DefaultConfig())
	defer f.Close()
	s := New(repo, f)

	got, err := s.InitialLoad(context.Background(), 10)
	if err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}
	for i, want := range []int64{1, 2, 3} {
		if got[i].ID != want {
			t.Errorf("log[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestEventAppendsAfterLoad(t *testing.T) {
	repo := newFakeMessageRepo()
	bus := pubsub.NewMemoryPubSub()
	f := feed.New(bus, feed.DefaultConfig())
	defer f.Close()

	s := New(repo, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if _, err := s.InitialLoad(ctx, 10); err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}

	repo.put(msg(1, time.Now(), "a", "hello"))
	publishInsert(t, bus, "1")

	select {
	case got := <-s.Updates():
		if got.ID != 1 || got.Content != "hello" {
			t.Errorf("update = %+v, want id 1 with refetched content", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
	waitForLog(t, s, 1)
}

func TestDuplicateEventsAppendOnce(t *testing.T) {
	repo := newFakeMessageRepo()
	bus := pubsub.NewMemoryPubSub()
	f := feed.New(bus, feed.DefaultConfig())
	defer f.Close()

	s := New(repo, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()
	if _, err := s.InitialLoad(ctx, 10); err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}

	repo.put(msg(7, time.Now(), "a", "once"))
	// At-least-once transport: the same event arrives three times.
	publishInsert(t, bus, "7")
	publishInsert(t, bus, "7")
	publishInsert(t, bus, "7")

	<-s.Updates()
	time.Sleep(50 * time.Millisecond)

	if snap := s.Snapshot(); len(snap) != 1 {
		t.Errorf("log length = %d after duplicate events, want 1", len(snap))
	}
	select {
	case m := <-s.Updates():
		t.Errorf("duplicate update delivered: %+v", m)
	default:
	}
}

func TestEventRacingLoadIsDeduplicated(t *testing.T) {
	repo := newFakeMessageRepo()
	bus := pubsub.NewMemoryPubSub()
	f := feed.New(bus, feed.DefaultConfig())
	defer f.Close()

	s := New(repo, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	// Event applied before the baseline load, as happens when a row
	// commits between Subscribe and InitialLoad.
	repo.put(msg(5, time.Now(), "a", "raced"))
	publishInsert(t, bus, "5")
	<-s.Updates()

	got, err := s.InitialLoad(ctx, 10)
	if err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 5 {
		t.Errorf("log after racing load = %+v, want single message 5", got)
	}
}

func TestOutOfOrderArrivalResorted(t *testing.T) {
	repo := newFakeMessageRepo()
	bus := pubsub.NewMemoryPubSub()
	f := feed.New(bus, feed.DefaultConfig())
	defer f.Close()

	s := New(repo, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()
	if _, err := s.InitialLoad(ctx, 10); err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}

	base := time.Now()
	repo.put(msg(2, base.Add(2*time.Second), "a", "later"))
	repo.put(msg(1, base.Add(1*time.Second), "b", "earlier"))

	// Older row's event arrives second.
	publishInsert(t, bus, "2")
	<-s.Updates()
	publishInsert(t, bus, "1")
	<-s.Updates()

	snap := waitForLog(t, s, 2)
	if snap[0].ID != 1 || snap[1].ID != 2 {
		t.Errorf("log order = [%d %d], want [1 2]", snap[0].ID, snap[1].ID)
	}
}

func TestTimestampTieBrokenByID(t *testing.T) {
	repo := newFakeMessageRepo()
	f := feed.New(pubsub.NewMemoryPubSub(), feed.DefaultConfig())
	defer f.Close()
	s := New(repo, f)

	at := time.Now().Truncate(time.Millisecond)
	repo.put(msg(2, at, "a", "b"))
	repo.put(msg(1, at, "a", "a"))

	got, err := s.InitialLoad(context.Background(), 10)
	if err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("tie order = [%d %d], want [1 2]", got[0].ID, got[1].ID)
	}
}

type downBus struct{}

func (downBus) Publish(context.Context, string, *pubsub.Event) error { return nil }
func (downBus) Subscribe(context.Context, string) (<-chan *pubsub.Event, error) {
	return nil, context.DeadlineExceeded
}
func (downBus) Unsubscribe(context.Context, string) error { return nil }
func (downBus) Close() error                              { return nil }

func TestDegradedWhenFeedExhausted(t *testing.T) {
	f := feed.New(downBus{}, feed.Config{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	defer f.Close()

	s := New(newFakeMessageRepo(), f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	select {
	case <-s.Degraded():
	case <-time.After(2 * time.Second):
		t.Fatal("no degraded signal after feed gave up")
	}
}

func TestInitialLoadHonorsLimit(t *testing.T) {
	repo := newFakeMessageRepo()
	base := time.Now().Add(-time.Hour)
	for i := int64(1); i <= 5; i++ {
		repo.put(msg(i, base.Add(time.Duration(i)*time.Second), "a", "m"))
	}

	f := feed.New(pubsub.NewMemoryPubSub(), feed.DefaultConfig())
	defer f.Close()
	s := New(repo, f)

	got, err := s.InitialLoad(context.Background(), 3)
	if err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Most recent three, still ascending.
	for i, want := range []int64{3, 4, 5} {
		if got[i].ID != want {
			t.Errorf("log[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}
