// Package redis keeps leaderboard snapshots in Redis and fans writes out to
// other API instances over pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
)

type SnapshotStore struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewSnapshotStore(rdb *goredis.Client, prefix string, log *logger.Logger) *SnapshotStore {
	if prefix == "" {
		prefix = "leaderboard"
	}
	return &SnapshotStore{
		log:    log.With("store", "redis.snapshots"),
		rdb:    rdb,
		prefix: prefix,
	}
}

func (s *SnapshotStore) key(ownerID, period string) string {
	return s.prefix + ":snapshot:" + ownerID + ":" + period
}

func (s *SnapshotStore) channel(ownerID, period string) string {
	return s.prefix + ":updates:" + ownerID + ":" + period
}

// Upsert stores snap and announces it to subscribers in one transaction.
func (s *SnapshotStore) Upsert(ctx context.Context, snap leaderboard.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(snap.OwnerID, snap.Period), raw, 0)
		pipe.Publish(ctx, s.channel(snap.OwnerID, snap.Period), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write snapshot: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SnapshotStore) Subscribe(ctx context.Context, ownerID, period string, onChange func(*leaderboard.Snapshot)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := s.rdb.Subscribe(ctx, s.channel(ownerID, period))

	// ensures subscription actually started
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("%w: redis subscribe: %v", apperr.ErrStoreUnavailable, err)
	}

	sub := store.NewSub(func() {
		cancel()
		_ = ps.Close()
	})

	current, err := s.get(ctx, ownerID, period)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	onChange(current)

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					if ctx.Err() == nil {
						sub.Fail(fmt.Errorf("%w: redis subscription closed", apperr.ErrStoreUnavailable))
					}
					return
				}
				snap, err := decode([]byte(m.Payload))
				if err != nil {
					s.log.Warn("bad redis snapshot payload", "error", err)
					continue
				}
				onChange(snap)
			}
		}
	}()
	return sub, nil
}

func (s *SnapshotStore) get(ctx context.Context, ownerID, period string) (*leaderboard.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key(ownerID, period)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot: %v", apperr.ErrStoreUnavailable, err)
	}
	snap, err := decode(raw)
	if err != nil {
		s.log.Warn("unreadable stored snapshot", "owner_id", ownerID, "period", period, "error", err)
		return nil, nil
	}
	return snap, nil
}

func decode(raw []byte) (*leaderboard.Snapshot, error) {
	var snap leaderboard.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
