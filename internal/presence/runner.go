package presence

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/sticker-chat/pkg/log"
)

// DefaultInterval is the heartbeat period. It must stay well under the
// 60s staleness threshold so a single dropped beat does not flip the
// user offline.
const DefaultInterval = 30 * time.Second

// Runner drives periodic heartbeats for one user session. Start beats
// immediately, then on every tick until Stop or context cancellation.
type Runner struct {
	tracker  *Tracker
	userID   string
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRunner creates a heartbeat runner. A non-positive interval falls
// back to DefaultInterval.
func NewRunner(tracker *Tracker, userID string, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		tracker:  tracker,
		userID:   userID,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the heartbeat loop. It returns immediately; the first
// beat is written before the first tick so the session shows online
// without waiting a full interval.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop ends the loop and waits for it to exit. Idempotent.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	r.beat(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	if err := r.tracker.Heartbeat(ctx, r.userID); err != nil {
		// A missed beat self-heals on the next tick as long as the
		// interval stays under the staleness threshold.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, r.userID).
			Msg("heartbeat write failed")
	}
}
