package memory

import (
	"context"
	"fmt"
	"sync"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/store"
)

type snapshotKey struct {
	ownerID string
	period  string
}

type snapshotSub struct {
	key      snapshotKey
	onChange func(*leaderboard.Snapshot)
	sub      *store.Sub
}

type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[snapshotKey]leaderboard.Snapshot
	subs      map[*snapshotSub]bool
	failNext  int
	writes    int

	notifyMu sync.Mutex
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[snapshotKey]leaderboard.Snapshot),
		subs:      make(map[*snapshotSub]bool),
	}
}

func (s *SnapshotStore) Upsert(ctx context.Context, snap leaderboard.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	key := snapshotKey{snap.OwnerID, snap.Period}

	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return fmt.Errorf("%w: injected snapshot write failure", apperr.ErrStoreUnavailable)
	}
	snap.Rankings = append([]leaderboard.LeaderboardEntry(nil), snap.Rankings...)
	s.snapshots[key] = snap
	s.writes++
	s.mu.Unlock()

	s.notify(key)
	return nil
}

func (s *SnapshotStore) Subscribe(ctx context.Context, ownerID, period string, onChange func(*leaderboard.Snapshot)) (store.Subscription, error) {
	sub := &snapshotSub{key: snapshotKey{ownerID, period}, onChange: onChange}

	s.mu.Lock()
	s.subs[sub] = true
	s.mu.Unlock()

	done := make(chan struct{})
	sub.sub = store.NewSub(func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		close(done)
	})
	go unsubscribeOnDone(ctx, done, sub.sub)

	s.notifyMu.Lock()
	onChange(s.get(sub.key))
	s.notifyMu.Unlock()

	return sub.sub, nil
}

// Get returns a copy of the stored snapshot, or nil.
func (s *SnapshotStore) Get(ownerID, period string) *leaderboard.Snapshot {
	return s.get(snapshotKey{ownerID, period})
}

// Writes counts successful upserts.
func (s *SnapshotStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// FailNext makes the next n upserts fail.
func (s *SnapshotStore) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// BreakSubscriptions fails every live subscription with err.
func (s *SnapshotStore) BreakSubscriptions(err error) {
	s.mu.RLock()
	subs := make([]*snapshotSub, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.sub.Fail(err)
	}
}

func (s *SnapshotStore) notify(key snapshotKey) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	var targets []*snapshotSub
	for sub := range s.subs {
		if sub.key == key {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.onChange(s.get(key))
	}
}

func (s *SnapshotStore) get(key snapshotKey) *leaderboard.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key]
	if !ok {
		return nil
	}
	snap.Rankings = append([]leaderboard.LeaderboardEntry(nil), snap.Rankings...)
	return &snap
}
