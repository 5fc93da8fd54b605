// Package feed implements the change feed: push-based notification of
// row-level insert/delete events on the record store's tables. It rides
// on pkg/pubsub for transport and owns subscription lifecycle,
// per-table fan-out, and reconnection.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/sticker-chat/pkg/log"
	"github.com/weiawesome/sticker-chat/pkg/pubsub"
)

// EventKind identifies the row operation a feed event describes.
type EventKind string

const (
	Insert EventKind = "insert"
	Delete EventKind = "delete"
)

// Event is a row-level change notification. Only the affected row's
// identifier is carried; consumers re-fetch full row data when they
// need denormalized fields.
type Event struct {
	Table string
	Kind  EventKind
	ID    string
	At    time.Time
}

// Status reports subscription health.
type Status int

const (
	// StatusLive is emitted after the transport (re)connects.
	StatusLive Status = iota
	// StatusDisconnected is emitted when the reconnect budget is
	// exhausted. No further events arrive; the consumer should fall
	// back to manual refresh.
	StatusDisconnected
)

// Config bounds the reconnection behaviour.
type Config struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// DefaultConfig returns the default reconnect budget.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
}

// Subscription is an ephemeral, process-local handle on a (table,
// kinds) filter. Not persisted; lifetime bounded by the consumer.
type Subscription struct {
	feed   *Feed
	table  string
	kinds  map[EventKind]bool
	events chan Event
	status chan Status
	done   bool
}

// Events returns the event stream. The channel closes when the
// subscription is cancelled or the feed shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Status returns the health stream.
func (s *Subscription) Status() <-chan Status {
	return s.status
}

// Cancel releases the subscription. Idempotent; after Cancel returns,
// no further events are delivered on the handle.
func (s *Subscription) Cancel() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.cancelLocked()
}

// cancelLocked closes the handle under the feed mutex. Delivery also
// happens under that mutex, so close cannot race a send.
func (s *Subscription) cancelLocked() {
	if s.done {
		return
	}
	s.done = true

	if fo, ok := s.feed.tables[s.table]; ok {
		delete(fo.subs, s)
		if len(fo.subs) == 0 {
			fo.stop()
			delete(s.feed.tables, s.table)
		}
	}

	close(s.events)
	close(s.status)
}

func (s *Subscription) wants(kind EventKind) bool {
	return s.kinds[kind]
}

// Feed multiplexes bus subscriptions: one transport reader per table,
// fanned out to any number of consumer subscriptions.
type Feed struct {
	bus pubsub.PubSub
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tables map[string]*fanout
	closed bool
}

type fanout struct {
	subs map[*Subscription]struct{}
	stop context.CancelFunc
}

// New creates a change feed over the given bus.
func New(bus pubsub.PubSub, cfg Config) *Feed {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		bus:    bus,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		tables: make(map[string]*fanout),
	}
}

// Subscribe registers interest in the given event kinds on a table.
// With no kinds given, all kinds are delivered.
func (f *Feed) Subscribe(table string, kinds ...EventKind) (*Subscription, error) {
	kindSet := make(map[EventKind]bool)
	if len(kinds) == 0 {
		kindSet[Insert] = true
		kindSet[Delete] = true
	}
	for _, k := range kinds {
		kindSet[k] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, context.Canceled
	}

	sub := &Subscription{
		feed:   f,
		table:  table,
		kinds:  kindSet,
		events: make(chan Event, 64),
		status: make(chan Status, 4),
	}

	fo, ok := f.tables[table]
	if !ok {
		readerCtx, stop := context.WithCancel(f.ctx)
		fo = &fanout{
			subs: make(map[*Subscription]struct{}),
			stop: stop,
		}
		f.tables[table] = fo
		go f.run(readerCtx, table)
	}
	fo.subs[sub] = struct{}{}

	return sub, nil
}

// Close shuts down all readers and cancels every subscription.
func (f *Feed) Close() {
	f.cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true

	for _, fo := range f.tables {
		for sub := range fo.subs {
			sub.cancelLocked()
		}
	}
}

// run is the per-table transport reader. It forwards bus events to the
// table's subscriptions and silently re-subscribes on disruption until
// the retry budget is exhausted.
func (f *Feed) run(ctx context.Context, table string) {
	channel := pubsub.ChannelFor(table)
	attempts := 0
	backoff := f.cfg.BaseBackoff

	for {
		events, err := f.bus.Subscribe(ctx, channel)
		if err == nil {
			attempts = 0
			backoff = f.cfg.BaseBackoff
			f.broadcastStatus(table, StatusLive)
			f.pump(ctx, table, events)
		}

		if ctx.Err() != nil {
			return
		}

		// Transport disrupted: no events are delivered and none are
		// synthesized while disconnected. Retry within budget.
		attempts++
		if attempts > f.cfg.MaxRetries {
			l := log.L()
			l.Warn().Str(log.FieldTable, table).
				Int("attempts", attempts-1).
				Msg("change feed reconnect budget exhausted")
			f.disconnect(table)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.MaxBackoff {
			backoff = f.cfg.MaxBackoff
		}
	}
}

// pump drains one transport subscription until it closes.
func (f *Feed) pump(ctx context.Context, table string, events <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Table != table {
				continue
			}
			f.deliver(Event{
				Table: ev.Table,
				Kind:  EventKind(ev.Kind),
				ID:    ev.RowID,
				At:    ev.Timestamp,
			})
		}
	}
}

// deliver fans an event out to matching subscriptions. Sends are
// non-blocking: a consumer that stops draining loses events, which is
// acceptable because consumers treat the feed as a wake-up signal.
func (f *Feed) deliver(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fo, ok := f.tables[ev.Table]
	if !ok {
		return
	}
	for sub := range fo.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

func (f *Feed) broadcastStatus(table string, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fo, ok := f.tables[table]
	if !ok {
		return
	}
	for sub := range fo.subs {
		select {
		case sub.status <- st:
		default:
		}
	}
}

// disconnect reports StatusDisconnected to the table's subscribers and
// tears the fanout down so a later Subscribe starts a fresh reader.
func (f *Feed) disconnect(table string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fo, ok := f.tables[table]
	if !ok {
		return
	}
	fo.stop()
	delete(f.tables, table)

	// The status channel is buffered, so the terminal signal survives
	// the close and consumers draining the channel still observe it.
	for sub := range fo.subs {
		select {
		case sub.status <- StatusDisconnected:
		default:
		}
		sub.done = true
		close(sub.events)
		close(sub.status)
	}
}
