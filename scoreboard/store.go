package scoreboard

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one user's row in the leaderboard.
type Entry struct {
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Score     int64     `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store maintains user scores. Ordering contract: descending score, ties broken
// by earliest UpdatedAt (the first to reach a score ranks higher), then by user id.
type Store interface {
	// Upsert atomically adds delta to the user's score, creating an entry at
	// zero when absent, and returns the resulting score. A delta that would
	// drive the score negative fails with ErrInvalidDelta and changes nothing.
	Upsert(ctx context.Context, userID uint, username string, delta int64) (int64, error)
	// TopN returns up to n entries in leaderboard order. n <= 0 yields nil.
	TopN(ctx context.Context, n int) ([]Entry, error)
	// Rank returns the 1-based position of the user in the full ordering,
	// or ErrNotRanked when the user has no entry.
	Rank(ctx context.Context, userID uint) (int, error)
}

type memEntry struct {
	username  string
	score     int64
	updatedAt time.Time
}

// MemoryStore is the in-process Store, a map guarded by one RWMutex.
// Adequate at the tens-of-users scale this service targets; the Redis store
// covers multi-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uint]*memEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory leaderboard.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[uint]*memEntry{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, userID uint, username string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		e = &memEntry{}
		s.entries[userID] = e
	}
	if e.score+delta < 0 {
		if !ok {
			delete(s.entries, userID)
		}
		return 0, ErrInvalidDelta
	}
	e.score += delta
	e.username = username
	e.updatedAt = s.now()
	return e.score, nil
}

func (s *MemoryStore) TopN(_ context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	all := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, Entry{UserID: id, Username: e.username, Score: e.score, UpdatedAt: e.updatedAt})
	}
	s.mu.RUnlock()

	sortEntries(all)
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (s *MemoryStore) Rank(_ context.Context, userID uint) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me, ok := s.entries[userID]
	if !ok {
		return 0, ErrNotRanked
	}

	rank := 1
	for id, e := range s.entries {
		if id == userID {
			continue
		}
		if ranksAbove(e.score, e.updatedAt, id, me.score, me.updatedAt, userID) {
			rank++
		}
	}
	return rank, nil
}

// sortEntries orders entries by the leaderboard contract.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return ranksAbove(entries[i].Score, entries[i].UpdatedAt, entries[i].UserID,
			entries[j].Score, entries[j].UpdatedAt, entries[j].UserID)
	})
}

// ranksAbove reports whether entry a outranks entry b: higher score wins, equal
// scores go to the earlier achiever, and equal timestamps fall back to user id
// so the ordering is total.
func ranksAbove(aScore int64, aAt time.Time, aID uint, bScore int64, bAt time.Time, bID uint) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	if !aAt.Equal(bAt) {
		return aAt.Before(bAt)
	}
	return aID < bID
}
