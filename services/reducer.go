package services

import (
	"time"

	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
)

type TriggerKind int

const (
	// TriggerLocal follows a successful rate call, before the store echoes it.
	TriggerLocal TriggerKind = iota
	// TriggerSubscription carries the full assessment set of the period.
	TriggerSubscription
	// TriggerRemoteSnapshot carries a snapshot written by another process.
	TriggerRemoteSnapshot
	// TriggerForce is the manual refresh; it may carry a fresh roster.
	TriggerForce
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerLocal:
		return "local"
	case TriggerSubscription:
		return "subscription"
	case TriggerRemoteSnapshot:
		return "remote_snapshot"
	case TriggerForce:
		return "force"
	default:
		return "unknown"
	}
}

type Trigger struct {
	Kind        TriggerKind
	Assessment  assessment.Assessment
	Assessments []assessment.Assessment
	Snapshot    *leaderboard.Snapshot
	Roster      []leaderboard.Student

	ack chan struct{}
}

type Outcome int

const (
	OutcomeRecomputed Outcome = iota
	OutcomeAdoptedRemote
	OutcomeIgnoredEmpty
	OutcomeIgnoredOwnWrite
	OutcomeIgnoredForeign
	// OutcomeUnchanged means the trigger carried nothing the ranking depends on.
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecomputed:
		return "recomputed"
	case OutcomeAdoptedRemote:
		return "adopted_remote"
	case OutcomeIgnoredEmpty:
		return "ignored_empty"
	case OutcomeIgnoredOwnWrite:
		return "ignored_own_write"
	case OutcomeIgnoredForeign:
		return "ignored_foreign"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Ignored reports whether a remote snapshot was rejected.
func (o Outcome) Ignored() bool {
	return o == OutcomeIgnoredEmpty || o == OutcomeIgnoredOwnWrite || o == OutcomeIgnoredForeign
}

// Persist reports whether the outcome produced a state that must be written
// to the snapshot store.
func (o Outcome) Persist() bool {
	return o == OutcomeRecomputed
}

// Changed reports whether the outcome replaced the current ranking.
func (o Outcome) Changed() bool {
	return o == OutcomeRecomputed || o == OutcomeAdoptedRemote
}

// LeaderboardState is the canonical leaderboard of one owner and period.
type LeaderboardState struct {
	OwnerID     string
	Period      string
	WriterID    string
	Roster      []leaderboard.Student
	Assessments []assessment.Assessment
	Entries     []leaderboard.LeaderboardEntry
	Stats       leaderboard.Stats
	LastUpdated time.Time
}

// Reduce applies one trigger to s and returns the new state. It never
// modifies the slices of s or t.
//
// Local, subscription and force triggers win over remote snapshots. A remote
// snapshot is adopted only when it has rankings: an empty or missing remote
// ranking means "not computed yet" and must never replace a populated one.
// The remote timestamp is not consulted, so a stale non-empty snapshot from
// another writer still wins. Stats are always derived from the adopted
// ranking, never copied from the remote document.
func Reduce(s LeaderboardState, t Trigger, now time.Time) (LeaderboardState, Outcome) {
	prevAssessments, prevRoster := s.Assessments, s.Roster

	switch t.Kind {
	case TriggerLocal:
		s.Assessments = assessment.Merge(s.Assessments, t.Assessment)
	case TriggerSubscription:
		s.Assessments = append([]assessment.Assessment(nil), t.Assessments...)
	case TriggerForce:
		if t.Roster != nil {
			s.Roster = append([]leaderboard.Student(nil), t.Roster...)
		}
	case TriggerRemoteSnapshot:
		return adoptRemote(s, t.Snapshot, now)
	}

	// Every rating arrives twice, once from the caller and once echoed by the
	// store. Recomputing on the echo would reset every rank change to zero.
	if sameRatings(s.Period, prevAssessments, s.Assessments) && sameRoster(prevRoster, s.Roster) {
		if t.Kind != TriggerForce {
			return s, OutcomeUnchanged
		}
		s.LastUpdated = now
		return s, OutcomeRecomputed
	}

	s.Entries = leaderboard.Compute(s.Period, s.Roster, s.Assessments, s.Entries)
	s.Stats = leaderboard.Summarize(s.Entries)
	s.LastUpdated = now
	return s, OutcomeRecomputed
}

// sameRatings compares the ratings of period keyed by owner, student and day.
func sameRatings(period string, a, b []assessment.Assessment) bool {
	ratings := func(set []assessment.Assessment) map[assessment.Key]int {
		m := make(map[assessment.Key]int, len(set))
		for _, x := range set {
			if x.Period == period {
				m[x.Key()] = x.Rating
			}
		}
		return m
	}
	ra, rb := ratings(a), ratings(b)
	if len(ra) != len(rb) {
		return false
	}
	for k, v := range ra {
		if w, ok := rb[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func sameRoster(a, b []leaderboard.Student) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func adoptRemote(s LeaderboardState, snap *leaderboard.Snapshot, now time.Time) (LeaderboardState, Outcome) {
	if snap == nil || len(snap.Rankings) == 0 {
		return s, OutcomeIgnoredEmpty
	}
	if snap.OwnerID != s.OwnerID || snap.Period != s.Period {
		return s, OutcomeIgnoredForeign
	}
	if s.WriterID != "" && snap.UpdatedBy == s.WriterID {
		return s, OutcomeIgnoredOwnWrite
	}
	s.Entries = append([]leaderboard.LeaderboardEntry(nil), snap.Rankings...)
	s.Stats = leaderboard.Summarize(s.Entries)
	s.LastUpdated = snap.LastUpdated
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now
	}
	return s, OutcomeAdoptedRemote
}

// Snapshot returns the persisted form of s.
func (s LeaderboardState) Snapshot() leaderboard.Snapshot {
	return leaderboard.Snapshot{
		OwnerID:     s.OwnerID,
		Period:      s.Period,
		Rankings:    append([]leaderboard.LeaderboardEntry(nil), s.Entries...),
		Stats:       s.Stats,
		LastUpdated: s.LastUpdated,
		UpdatedBy:   s.WriterID,
	}
}
