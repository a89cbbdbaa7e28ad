// Package memory holds process local store adapters. They back development
// runs without cloud credentials and serve as fakes in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/store"
)

type assessmentSub struct {
	ownerID  string
	period   string
	onChange func([]assessment.Assessment)
	sub      *store.Sub
}

type AssessmentStore struct {
	mu      sync.RWMutex
	records map[assessment.Key]assessment.Assessment
	subs    map[*assessmentSub]bool
	down    error

	// serializes deliveries so subscribers never see an older set after a newer one
	notifyMu sync.Mutex

	Now func() time.Time
}

func NewAssessmentStore() *AssessmentStore {
	return &AssessmentStore{
		records: make(map[assessment.Key]assessment.Assessment),
		subs:    make(map[*assessmentSub]bool),
		Now:     time.Now,
	}
}

func (s *AssessmentStore) Upsert(ctx context.Context, a assessment.Assessment) (assessment.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return assessment.Assessment{}, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	if a.Period == "" {
		p, err := assessment.PeriodOf(a.AssessmentDate)
		if err != nil {
			return assessment.Assessment{}, err
		}
		a.Period = p
	}

	s.mu.Lock()
	if s.down != nil {
		err := s.down
		s.mu.Unlock()
		return assessment.Assessment{}, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	now := s.Now().UTC()
	if existing, ok := s.records[a.Key()]; ok {
		existing.Rating = a.Rating
		existing.Notes = a.Notes
		existing.UpdatedAt = now
		a = existing
	} else {
		a.ID = uuid.New().String()
		a.CreatedAt = now
		a.UpdatedAt = now
	}
	s.records[a.Key()] = a
	s.mu.Unlock()

	s.notify(a.OwnerID, a.Period)
	return a, nil
}

func (s *AssessmentStore) Subscribe(ctx context.Context, ownerID, period string, onChange func([]assessment.Assessment)) (store.Subscription, error) {
	sub := &assessmentSub{ownerID: ownerID, period: period, onChange: onChange}

	s.mu.Lock()
	if s.down != nil {
		err := s.down
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
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
	onChange(s.query(ownerID, period))
	s.notifyMu.Unlock()

	return sub.sub, nil
}

// All returns every stored assessment of ownerID ordered by student and date.
func (s *AssessmentStore) All(ownerID string) []assessment.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []assessment.Assessment
	for _, a := range s.records {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sortAssessments(out)
	return out
}

// SetUnavailable makes writes and new subscriptions fail until called with nil.
func (s *AssessmentStore) SetUnavailable(err error) {
	s.mu.Lock()
	s.down = err
	s.mu.Unlock()
}

// BreakSubscriptions fails every live subscription with err.
func (s *AssessmentStore) BreakSubscriptions(err error) {
	s.mu.RLock()
	subs := make([]*assessmentSub, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.sub.Fail(err)
	}
}

func (s *AssessmentStore) notify(ownerID, period string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	var targets []*assessmentSub
	for sub := range s.subs {
		if sub.ownerID == ownerID && sub.period == period {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.onChange(s.query(ownerID, period))
	}
}

func (s *AssessmentStore) query(ownerID, period string) []assessment.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]assessment.Assessment, 0)
	for _, a := range s.records {
		if a.OwnerID == ownerID && a.Period == period {
			out = append(out, a)
		}
	}
	sortAssessments(out)
	return out
}

func sortAssessments(out []assessment.Assessment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].AssessmentDate < out[j].AssessmentDate
	})
}

func unsubscribeOnDone(ctx context.Context, done <-chan struct{}, sub store.Subscription) {
	select {
	case <-ctx.Done():
		sub.Unsubscribe()
	case <-done:
	}
}
