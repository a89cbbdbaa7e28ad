package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
)

const (
	StateIdle        = "idle"
	StateRecomputing = "recomputing"
)

// LeaderboardSession is what the rating screen talks to: it reads the
// reconciled ranking, rates students and asks for a manual refresh.
type LeaderboardSession struct {
	OwnerID string
	Period  string

	reconciler  *Reconciler
	hub         *LiveHub
	assessments *AssessmentService
	roster      store.Roster
	loc         *time.Location
	now         func() time.Time
	log         *logger.Logger
}

func (s *LeaderboardSession) GetEntries() []leaderboard.LeaderboardEntry {
	return s.reconciler.Entries()
}

func (s *LeaderboardSession) Leaderboard() leaderboard.Leaderboard {
	return s.reconciler.Leaderboard()
}

func (s *LeaderboardSession) Hub() *LiveHub {
	return s.hub
}

// State is "recomputing" while a trigger is being applied, else "idle".
func (s *LeaderboardSession) State() string {
	if s.reconciler.Recomputing() {
		return StateRecomputing
	}
	return StateIdle
}

// Rate rates studentID for today in the school's time zone.
func (s *LeaderboardSession) Rate(ctx context.Context, studentID string, rating int, notes string) (assessment.Assessment, error) {
	return s.RateOn(ctx, studentID, rating, notes, assessment.DateKey(s.now().In(s.loc)))
}

// RateOn stores the rating and hands the saved record to the reconciler. It
// returns once the store accepted the write; the snapshot is written later.
// Only a failed write is an error.
func (s *LeaderboardSession) RateOn(ctx context.Context, studentID string, rating int, notes, date string) (assessment.Assessment, error) {
	saved, err := s.assessments.Rate(ctx, s.OwnerID, studentID, rating, notes, date)
	if err != nil {
		return assessment.Assessment{}, err
	}
	if saved.Period != s.Period {
		return saved, nil
	}
	// The rating is stored; a session closed meanwhile picks it up from the
	// store the next time it starts.
	if err := s.reconciler.Enqueue(Trigger{Kind: TriggerLocal, Assessment: saved}); err != nil {
		s.log.Warn("rating stored but leaderboard update skipped",
			"owner_id", s.OwnerID, "student_id", saved.StudentID, "error", err)
	}
	return saved, nil
}

// ForceRecompute reloads the roster and recomputes from the known assessments.
func (s *LeaderboardSession) ForceRecompute(ctx context.Context) error {
	roster, err := s.roster.ListStudents(ctx, s.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to reload roster: %w", err)
	}
	return s.reconciler.Recompute(ctx, roster)
}

func (s *LeaderboardSession) close() {
	s.reconciler.Close()
	s.hub.Close()
}

const defaultIdleTimeout = 30 * time.Minute

type ManagerConfig struct {
	Roster      store.Roster
	Assessments store.AssessmentStore
	Snapshots   store.SnapshotStore
	Log         *logger.Logger
	Location    *time.Location
	MaxRetries  int
	// RetryInitial is the first backoff step of snapshot writes and re-subscribes.
	RetryInitial time.Duration
	// IdleTimeout is how long a session without live clients survives its last use.
	IdleTimeout time.Duration
	Now         func() time.Time
}

// sessionEntry is a session slot. ready is closed once s or err is set, so
// callers of other keys never wait on a slow start.
type sessionEntry struct {
	ready    chan struct{}
	s        *LeaderboardSession
	err      error
	lastUsed time.Time
}

// LeaderboardManager holds one running session per owner and period.
type LeaderboardManager struct {
	cfg      ManagerConfig
	log      *logger.Logger
	service  *AssessmentService
	sessions map[string]*sessionEntry
	mu       sync.Mutex
	closed   bool
}

func NewLeaderboardManager(cfg ManagerConfig) *LeaderboardManager {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &LeaderboardManager{
		cfg:      cfg,
		log:      cfg.Log.With("component", "LeaderboardManager"),
		service:  NewAssessmentService(cfg.Assessments, cfg.Log),
		sessions: make(map[string]*sessionEntry),
	}
}

// Assessments exposes the upsert service shared by every session.
func (m *LeaderboardManager) Assessments() *AssessmentService {
	return m.service
}

// CurrentPeriod is the month that is "now" in the school's time zone.
func (m *LeaderboardManager) CurrentPeriod() string {
	return assessment.PeriodKey(m.cfg.Now().In(m.cfg.Location))
}

// Today is the current day in the school's time zone.
func (m *LeaderboardManager) Today() string {
	return assessment.DateKey(m.cfg.Now().In(m.cfg.Location))
}

// Session returns the running session of ownerID and period, starting it on
// first use. An empty period means the current month.
func (m *LeaderboardManager) Session(ctx context.Context, ownerID, period string) (*LeaderboardSession, error) {
	if period == "" {
		period = m.CurrentPeriod()
	}
	if ownerID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	if !assessment.ValidPeriod(period) {
		return nil, apperr.NewValidationError("period must be YYYY-MM", apperr.FieldError{Field: "period", Error: "invalid"})
	}
	key := ownerID + "|" + period

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrReconcilerClosed
	}
	if e, ok := m.sessions[key]; ok {
		e.lastUsed = m.cfg.Now()
		m.mu.Unlock()
		select {
		case <-e.ready:
			return e.s, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &sessionEntry{ready: make(chan struct{}), lastUsed: m.cfg.Now()}
	m.sessions[key] = e
	m.mu.Unlock()

	e.s, e.err = m.start(ctx, key, ownerID, period)

	m.mu.Lock()
	if e.err != nil && m.sessions[key] == e {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	close(e.ready)
	return e.s, e.err
}

func (m *LeaderboardManager) start(ctx context.Context, key, ownerID, period string) (*LeaderboardSession, error) {
	hub := NewLiveHub(key, m.cfg.Log)
	rec := NewReconciler(ReconcilerConfig{
		OwnerID:      ownerID,
		Period:       period,
		Roster:       m.cfg.Roster,
		Assessments:  m.cfg.Assessments,
		Snapshots:    m.cfg.Snapshots,
		Log:          m.cfg.Log,
		MaxRetries:   m.cfg.MaxRetries,
		RetryInitial: m.cfg.RetryInitial,
		Now:          m.cfg.Now,
		OnChange:     hub.Publish,
	})
	if err := rec.Start(ctx); err != nil {
		return nil, err
	}
	go hub.Run()

	activeSessions.Inc()
	m.log.Info("leaderboard session started", "owner_id", ownerID, "period", period)
	return &LeaderboardSession{
		OwnerID:     ownerID,
		Period:      period,
		reconciler:  rec,
		hub:         hub,
		assessments: m.service,
		roster:      m.cfg.Roster,
		loc:         m.cfg.Location,
		now:         m.cfg.Now,
		log:         m.cfg.Log.With("component", "LeaderboardSession", "session", key),
	}, nil
}

// EvictIdle stops sessions that have no live clients and were not used for
// IdleTimeout. It returns the number of sessions stopped.
func (m *LeaderboardManager) EvictIdle() int {
	cutoff := m.cfg.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*LeaderboardSession
	for key, e := range m.sessions {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.s == nil || e.lastUsed.After(cutoff) || e.s.hub.Clients() > 0 {
			continue
		}
		delete(m.sessions, key)
		idle = append(idle, e.s)
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
		activeSessions.Dec()
		m.log.Info("idle leaderboard session stopped", "owner_id", s.OwnerID, "period", s.Period)
	}
	return len(idle)
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (m *LeaderboardManager) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// Close stops every session. Further Session calls fail.
func (m *LeaderboardManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*sessionEntry)
	m.closed = true
	m.mu.Unlock()

	for _, e := range sessions {
		<-e.ready
		if e.s == nil {
			continue
		}
		e.s.close()
		activeSessions.Dec()
	}
}
