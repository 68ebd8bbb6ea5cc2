package scoreboard

import (
	"context"
	"sync"
	"time"
)

// RankedEntry is a leaderboard entry with its 1-based rank filled in.
type RankedEntry struct {
	Rank      int       `json:"rank"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Score     int64     `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a point-in-time view of the top of the leaderboard.
type Snapshot struct {
	Entries     []RankedEntry `json:"entries"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Subscription delivers coalesced snapshots on C until closed. Slow consumers
// miss intermediate snapshots rather than block the flush loop.
type Subscription struct {
	C      chan Snapshot
	cancel func()
	once   sync.Once
}

// Close detaches the subscription from the broadcaster.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Broadcaster fans leaderboard changes out to subscribers. Publishes are
// coalesced: however many arrive within one interval, subscribers see at most
// one snapshot per tick, built from the store at flush time.
type Broadcaster struct {
	store    Store
	topN     int
	interval time.Duration

	mu    sync.Mutex
	subs  map[*Subscription]struct{}
	dirty bool

	stop    chan struct{}
	done    chan struct{}
	started bool
	stopped bool
}

// NewBroadcaster creates a broadcaster flushing topN entries every interval.
func NewBroadcaster(store Store, topN int, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		store:    store,
		topN:     topN,
		interval: interval,
		subs:     map[*Subscription]struct{}{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. Calling Start again, including after Stop,
// is a no-op: a stopped broadcaster stays stopped.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.loop()
}

// Stop halts the flush loop and closes all subscriber channels.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.stopped = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done

	b.mu.Lock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.C)
	}
	b.mu.Unlock()
}

// Publish marks the leaderboard changed. The actual snapshot is taken at the
// next flush tick, collapsing bursts into a single outgoing message.
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// Subscribe registers a new observer. It receives one immediate snapshot, then
// coalesced snapshots as the leaderboard changes.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{C: make(chan Snapshot, 4)}
	sub.cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.C)
		}
		b.mu.Unlock()
	}

	snap := b.snapshot()

	// Register and deliver the initial snapshot under the lock so Stop cannot
	// close the channel in between.
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	sub.C <- snap
	b.mu.Unlock()

	return sub
}

func (b *Broadcaster) loop() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			dirty := b.dirty
			b.dirty = false
			b.mu.Unlock()
			if !dirty {
				continue
			}

			snap := b.snapshot()

			b.mu.Lock()
			for sub := range b.subs {
				select {
				case sub.C <- snap:
				default:
					// drop for slow consumers, next flush catches them up
				}
			}
			b.mu.Unlock()
		}
	}
}

// snapshot builds the current top-N view from the store.
func (b *Broadcaster) snapshot() Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entries, err := b.store.TopN(ctx, b.topN)
	if err != nil {
		entries = nil
	}

	ranked := make([]RankedEntry, 0, len(entries))
	for i, e := range entries {
		ranked = append(ranked, RankedEntry{
			Rank:      i + 1,
			UserID:    e.UserID,
			Username:  e.Username,
			Score:     e.Score,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return Snapshot{Entries: ranked, GeneratedAt: time.Now()}
}
