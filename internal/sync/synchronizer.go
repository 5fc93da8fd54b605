// Package sync maintains an ordered, deduplicated in-memory log of chat
// messages, converging the initial load with incremental change feed
// events regardless of arrival order.
package sync

import (
	"context"
	"sort"
	"strconv"
	gosync "sync"

	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/feed"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/pkg/log"
)

// DefaultLoadLimit bounds the baseline fetch when the caller does not
// supply one.
const DefaultLoadLimit = 100

// Synchronizer keeps one session's message log in sync with the record
// store. Events are wake-up signals carrying a row id; the row itself
// is always re-fetched so joined author fields stay authoritative.
type Synchronizer struct {
	repo repository.MessageRepository
	feed *feed.Feed

	mu      gosync.Mutex
	log     []*domain.Message
	seen    map[int64]struct{}
	loaded  bool
	dirty   bool
	lastKey sortKey

	updates  chan *domain.Message
	degraded chan struct{}

	sub      *feed.Subscription
	stopOnce gosync.Once
	stopped  chan struct{}
}

type sortKey struct {
	at int64 // unix milliseconds
	id int64
}

func keyOf(m *domain.Message) sortKey {
	return sortKey{at: m.CreatedAt.UnixMilli(), id: m.ID}
}

func (a sortKey) less(b sortKey) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.id < b.id
}

// New creates a synchronizer over the given store and feed.
func New(repo repository.MessageRepository, f *feed.Feed) *Synchronizer {
	return &Synchronizer{
		repo:     repo,
		feed:     f,
		seen:     make(map[int64]struct{}),
		updates:  make(chan *domain.Message, 64),
		degraded: make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Updates streams messages accepted into the log after the baseline.
func (s *Synchronizer) Updates() <-chan *domain.Message {
	return s.updates
}

// Degraded fires once if the change feed exhausts its reconnect budget.
// The log stops advancing; the consumer falls back to manual refresh.
func (s *Synchronizer) Degraded() <-chan struct{} {
	return s.degraded
}

// Start subscribes to message inserts and runs the event loop until ctx
// is cancelled or Stop is called. Call before InitialLoad so that rows
// committed during the load are not missed.
func (s *Synchronizer) Start(ctx context.Context) error {
	sub, err := s.feed.Subscribe(domain.TableMessages, feed.Insert)
	if err != nil {
		return err
	}
	s.sub = sub
	go s.loop(ctx)
	return nil
}

// Stop cancels the feed subscription and ends the event loop.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.sub != nil {
			s.sub.Cancel()
		}
	})
}

// InitialLoad replaces the baseline with the most recent limit messages
// in ascending order. Safe to call again after a degraded signal; events
// already applied are reconciled by id.
func (s *Synchronizer) InitialLoad(ctx context.Context, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = DefaultLoadLimit
	}
	baseline, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Events that raced the load were appended against the previous
	// baseline; carry them over and let the merge below re-sort.
	carried := make([]*domain.Message, 0)
	if s.loaded || len(s.log) > 0 {
		inBaseline := make(map[int64]struct{}, len(baseline))
		for _, m := range baseline {
			inBaseline[m.ID] = struct{}{}
		}
		for _, m := range s.log {
			if _, ok := inBaseline[m.ID]; !ok {
				carried = append(carried, m)
			}
		}
	}

	s.log = make([]*domain.Message, 0, len(baseline)+len(carried))
	s.seen = make(map[int64]struct{}, len(baseline)+len(carried))
	for _, m := range baseline {
		s.log = append(s.log, m)
		s.seen[m.ID] = struct{}{}
	}
	for _, m := range carried {
		s.log = append(s.log, m)
		s.seen[m.ID] = struct{}{}
		s.dirty = true
	}
	s.loaded = true
	s.restoreOrderLocked()

	return s.snapshotLocked(), nil
}

// Snapshot returns a copy of the ordered log.
func (s *Synchronizer) Snapshot() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreOrderLocked()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() []*domain.Message {
	out := make([]*domain.Message, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Synchronizer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.stopped:
			return
		case st, ok := <-s.sub.Status():
			if !ok {
				return
			}
			if st == feed.StatusDisconnected {
				s.signalDegraded()
			}
		case ev, ok := <-s.sub.Events():
			if !ok {
				// The terminal status may still be buffered; surface
				// it before giving up the loop.
				s.drainStatus()
				return
			}
			s.handleInsert(ctx, ev)
		}
	}
}

func (s *Synchronizer) signalDegraded() {
	select {
	case s.degraded <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) drainStatus() {
	for {
		select {
		case st, ok := <-s.sub.Status():
			if !ok {
				return
			}
			if st == feed.StatusDisconnected {
				s.signalDegraded()
			}
		default:
			return
		}
	}
}

func (s *Synchronizer) handleInsert(ctx context.Context, ev feed.Event) {
	id, err := strconv.ParseInt(ev.ID, 10, 64)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Str(log.FieldTable, ev.Table).Str("row_id", ev.ID).
			Msg("message event with non-numeric id, skipping")
		return
	}

	// Cheap check before the fetch; rechecked under lock after.
	s.mu.Lock()
	_, dup := s.seen[id]
	s.mu.Unlock()
	if dup {
		return
	}

	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err != repository.ErrMessageNotFound {
			l := log.Ctx(ctx)
			l.Error().Err(err).Int64(log.FieldMessageID, id).
				Msg("failed to fetch message for feed event")
		}
		return
	}

	if accepted := s.append(msg); accepted {
		select {
		case s.updates <- msg:
		default:
			l := log.Ctx(ctx)
			l.Warn().Int64(log.FieldMessageID, msg.ID).
				Msg("update channel full, consumer lagging")
		}
	}
}

// append admits a message exactly once. Rows arrive in commit order in
// the common case, so ordering is preserved by plain append; an
// out-of-order arrival marks the log dirty for re-sort on next read.
func (s *Synchronizer) append(m *domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[m.ID]; ok {
		return false
	}
	s.seen[m.ID] = struct{}{}

	k := keyOf(m)
	if len(s.log) > 0 && k.less(s.lastKey) {
		s.dirty = true
	}
	s.log = append(s.log, m)
	if s.lastKey.less(k) {
		s.lastKey = k
	}
	return true
}

// restoreOrderLocked re-sorts and re-establishes the tail key when a
// race has perturbed ordering. No-op on a clean log.
func (s *Synchronizer) restoreOrderLocked() {
	if !s.dirty {
		if n := len(s.log); n > 0 {
			s.lastKey = keyOf(s.log[n-1])
		}
		return
	}
	sort.SliceStable(s.log, func(i, j int) bool {
		return keyOf(s.log[i]).less(keyOf(s.log[j]))
	})
	s.dirty = false
	if n := len(s.log); n > 0 {
		s.lastKey = keyOf(s.log[n-1])
	}
}
