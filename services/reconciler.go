package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
)

const (
	streamAssessments = "assessments"
	streamSnapshots   = "snapshots"

	triggerQueueSize = 64
)

var ErrReconcilerClosed = errors.New("reconciler closed")

type ReconcilerConfig struct {
	OwnerID     string
	Period      string
	Roster      store.Roster
	Assessments store.AssessmentStore
	Snapshots   store.SnapshotStore
	Log         *logger.Logger

	// MaxRetries bounds the attempts of one snapshot write.
	MaxRetries   int
	RetryInitial time.Duration
	Now          func() time.Time

	// OnChange is called from the reconciler goroutine after the ranking
	// changed. It must not block.
	OnChange func(leaderboard.Leaderboard)
}

// Reconciler owns the leaderboard of one owner and period. Every trigger is
// applied by a single goroutine, so "recompute then adopt" is atomic with
// respect to the other triggers. Snapshot writes happen on a separate
// goroutine and never hold up a trigger.
type Reconciler struct {
	cfg      ReconcilerConfig
	log      *logger.Logger
	writerID string
	triggers chan Trigger

	mu    sync.RWMutex
	state LeaderboardState
	stale map[string]bool

	recomputing atomic.Bool

	persistMu     sync.Mutex
	pending       *leaderboard.Snapshot
	persistSignal chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	writerID := uuid.New().String()
	return &Reconciler{
		cfg:      cfg,
		writerID: writerID,
		log:      cfg.Log.With("component", "Reconciler", "owner_id", cfg.OwnerID, "period", cfg.Period, "writer", writerID),
		state: LeaderboardState{
			OwnerID:  cfg.OwnerID,
			Period:   cfg.Period,
			WriterID: writerID,
		},
		triggers:      make(chan Trigger, triggerQueueSize),
		stale:         map[string]bool{streamAssessments: true, streamSnapshots: true},
		persistSignal: make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start loads the roster, seeds an all-zero ranking and starts the trigger
// loop, the snapshot writer and both live subscriptions.
func (r *Reconciler) Start(ctx context.Context) error {
	roster, err := r.cfg.Roster.ListStudents(ctx, r.cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}

	r.mu.Lock()
	r.state.Roster = roster
	r.state.Entries = leaderboard.Compute(r.cfg.Period, roster, nil, nil)
	r.state.Stats = leaderboard.Summarize(r.state.Entries)
	r.state.LastUpdated = r.cfg.Now().UTC()
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(4)
	go r.run(runCtx)
	go r.persistLoop(runCtx)
	go r.watch(runCtx, streamAssessments, r.subscribeAssessments)
	go r.watch(runCtx, streamSnapshots, r.subscribeSnapshots)

	r.log.Info("leaderboard reconciler started", "students", len(roster))
	return nil
}

// Close stops every goroutine of the reconciler. Pending snapshot writes are dropped.
func (r *Reconciler) Close() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Enqueue hands t to the trigger loop. It blocks only while the queue is full.
func (r *Reconciler) Enqueue(t Trigger) error {
	select {
	case <-r.done:
		return ErrReconcilerClosed
	default:
	}
	select {
	case r.triggers <- t:
		return nil
	case <-r.done:
		return ErrReconcilerClosed
	}
}

// Recompute enqueues a force trigger and waits until it has been applied.
func (r *Reconciler) Recompute(ctx context.Context, roster []leaderboard.Student) error {
	ack := make(chan struct{})
	if err := r.Enqueue(Trigger{Kind: TriggerForce, Roster: roster, ack: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrReconcilerClosed
	}
}

func (r *Reconciler) Entries() []leaderboard.LeaderboardEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]leaderboard.LeaderboardEntry(nil), r.state.Entries...)
}

func (r *Reconciler) Leaderboard() leaderboard.Leaderboard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderboardLocked()
}

// Stale reports whether a live subscription is down. The ranking is still served.
func (r *Reconciler) Stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staleLocked()
}

func (r *Reconciler) Recomputing() bool {
	return r.recomputing.Load()
}

// WriterID tags the snapshots this reconciler writes.
func (r *Reconciler) WriterID() string {
	return r.writerID
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.triggers:
			r.apply(t)
		}
	}
}

func (r *Reconciler) apply(t Trigger) {
	r.recomputing.Store(true)
	defer r.recomputing.Store(false)

	r.mu.Lock()
	next, outcome := Reduce(r.state, t, r.cfg.Now().UTC())
	r.state = next
	var lb leaderboard.Leaderboard
	if outcome.Changed() {
		lb = r.leaderboardLocked()
	}
	r.mu.Unlock()

	recomputesTotal.WithLabelValues(t.Kind.String(), outcome.String()).Inc()
	if outcome.Ignored() {
		remoteSnapshotsIgnored.WithLabelValues(outcome.String()).Inc()
	}

	if outcome.Persist() {
		r.schedulePersist(next.Snapshot())
	}
	if outcome.Changed() && r.cfg.OnChange != nil {
		r.cfg.OnChange(lb)
	}
	if t.Kind == TriggerRemoteSnapshot {
		r.log.Debug("remote snapshot processed", "outcome", outcome.String())
	}
	if t.ack != nil {
		close(t.ack)
	}
}

func (r *Reconciler) leaderboardLocked() leaderboard.Leaderboard {
	return leaderboard.Leaderboard{
		OwnerID:     r.state.OwnerID,
		Period:      r.state.Period,
		Rankings:    append([]leaderboard.LeaderboardEntry(nil), r.state.Entries...),
		Stats:       r.state.Stats,
		LastUpdated: r.state.LastUpdated,
		Stale:       r.staleLocked(),
	}
}

func (r *Reconciler) staleLocked() bool {
	for _, down := range r.stale {
		if down {
			return true
		}
	}
	return false
}

func (r *Reconciler) setStale(stream string, down bool) {
	r.mu.Lock()
	r.stale[stream] = down
	r.mu.Unlock()
}

// schedulePersist replaces any snapshot still waiting to be written.
func (r *Reconciler) schedulePersist(snap leaderboard.Snapshot) {
	r.persistMu.Lock()
	r.pending = &snap
	r.persistMu.Unlock()

	select {
	case r.persistSignal <- struct{}{}:
	default:
	}
}

func (r *Reconciler) takePending() *leaderboard.Snapshot {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	snap := r.pending
	r.pending = nil
	return snap
}

func (r *Reconciler) persistLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.persistSignal:
			if snap := r.takePending(); snap != nil {
				r.persist(ctx, *snap)
			}
		}
	}
}

// persist writes snap with bounded retries. A newer snapshot scheduled in
// the meantime replaces snap on the next attempt. Failures are logged only:
// the in-memory ranking stays correct and the next trigger writes again.
func (r *Reconciler) persist(ctx context.Context, snap leaderboard.Snapshot) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitial

	operation := func() (struct{}, error) {
		if newer := r.takePending(); newer != nil {
			snap = *newer
		}
		return struct{}{}, r.cfg.Snapshots.Upsert(ctx, snap)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		persistFailures.Inc()
		r.log.Warn("failed to persist leaderboard snapshot",
			"error", fmt.Errorf("%w: %v", apperr.ErrPersistFailure, err),
			"attempts", r.cfg.MaxRetries,
		)
		return
	}
	r.log.Debug("leaderboard snapshot persisted", "students", len(snap.Rankings))
}

func (r *Reconciler) subscribeAssessments(ctx context.Context) (store.Subscription, error) {
	return r.cfg.Assessments.Subscribe(ctx, r.cfg.OwnerID, r.cfg.Period, func(set []assessment.Assessment) {
		_ = r.Enqueue(Trigger{Kind: TriggerSubscription, Assessments: set})
	})
}

func (r *Reconciler) subscribeSnapshots(ctx context.Context) (store.Subscription, error) {
	return r.cfg.Snapshots.Subscribe(ctx, r.cfg.OwnerID, r.cfg.Period, func(snap *leaderboard.Snapshot) {
		_ = r.Enqueue(Trigger{Kind: TriggerRemoteSnapshot, Snapshot: snap})
	})
}

// watch keeps one live subscription alive, re-subscribing with backoff when
// the channel breaks. The leaderboard is flagged stale while it is down.
func (r *Reconciler) watch(ctx context.Context, stream string, subscribe func(context.Context) (store.Subscription, error)) {
	defer r.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitial
	b.MaxInterval = 30 * time.Second

	for attempt := 0; ; attempt++ {
		sub, err := subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.setStale(stream, true)
			r.log.Warn("live subscription failed", "stream", stream, "error", err)
			if !sleepCtx(ctx, b.NextBackOff()) {
				return
			}
			continue
		}
		if attempt > 0 {
			subscriptionRestarts.WithLabelValues(stream).Inc()
			r.log.Info("live subscription re-established", "stream", stream)
		}
		r.setStale(stream, false)
		b.Reset()

		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			sub.Unsubscribe()
			r.setStale(stream, true)
			r.log.Warn("live subscription broke", "stream", stream, "error", err)
			if !sleepCtx(ctx, b.NextBackOff()) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		d = 30 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
