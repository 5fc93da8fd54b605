package pubsub

import (
	"context"
	"time"
)

// Event kinds carried on the bus.
const (
	KindInsert = "insert"
	KindDelete = "delete"
)

// Event represents a row-level change published to the event bus.
// Only the affected row's identifier travels on the wire; consumers
// re-fetch full row data from the record store when they need it.
type Event struct {
	Table     string    `json:"table"`
	Kind      string    `json:"kind"` // "insert" or "delete"
	RowID     string    `json:"row_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(table, kind, rowID string) *Event {
	return &Event{
		Table:     table,
		Kind:      kind,
		RowID:     rowID,
		Timestamp: time.Now(),
	}
}

// ChannelFor returns the bus channel name for a table's change events.
func ChannelFor(table string) string {
	return "feed:" + table
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus.
// The returned channel is closed when the subscription ends, whether by
// Unsubscribe, context cancellation, or transport disruption; callers
// that need delivery beyond a disruption must re-subscribe.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
