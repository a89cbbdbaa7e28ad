// Package store declares the persistence collaborators of the leaderboard
// engine. Implementations live in the sub packages.
package store

import (
	"context"

	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
)

// Subscription is a live query. Err delivers at most one error when the
// underlying channel breaks; the subscription is dead afterwards.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

type Roster interface {
	ListStudents(ctx context.Context, ownerID string) ([]leaderboard.Student, error)
}

type AssessmentStore interface {
	// Upsert writes a, keyed by owner, student and assessment date. It fills
	// in ID and timestamps and returns the stored record.
	Upsert(ctx context.Context, a assessment.Assessment) (assessment.Assessment, error)
	// Subscribe calls onChange with the full set of the owner's assessments
	// for period, once on start and again after every change.
	Subscribe(ctx context.Context, ownerID, period string, onChange func([]assessment.Assessment)) (Subscription, error)
}

type SnapshotStore interface {
	// Upsert creates or overwrites the snapshot of (OwnerID, Period).
	Upsert(ctx context.Context, snap leaderboard.Snapshot) error
	// Subscribe calls onChange with the current snapshot, or nil when none
	// exists, and again whenever it is written.
	Subscribe(ctx context.Context, ownerID, period string, onChange func(*leaderboard.Snapshot)) (Subscription, error)
}
