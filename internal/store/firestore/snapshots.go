package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
)

// snapshotDoc is the stored layout of a leaderboard document.
type snapshotDoc struct {
	OwnerID           string                         `firestore:"ownerId"`
	Period            string                         `firestore:"period"`
	Rankings          []leaderboard.LeaderboardEntry `firestore:"rankings"`
	TotalAssessments  int                            `firestore:"totalAssessments"`
	AverageClassScore float64                        `firestore:"averageClassScore"`
	TopPerformerID    string                         `firestore:"topPerformerId"`
	LastUpdated       time.Time                      `firestore:"lastUpdated"`
	UpdatedBy         string                         `firestore:"updatedBy"`
}

func toDoc(s leaderboard.Snapshot) snapshotDoc {
	return snapshotDoc{
		OwnerID:           s.OwnerID,
		Period:            s.Period,
		Rankings:          s.Rankings,
		TotalAssessments:  s.TotalAssessments,
		AverageClassScore: s.AverageClassScore,
		TopPerformerID:    s.TopPerformerID,
		LastUpdated:       s.LastUpdated,
		UpdatedBy:         s.UpdatedBy,
	}
}

func (d snapshotDoc) snapshot() *leaderboard.Snapshot {
	return &leaderboard.Snapshot{
		OwnerID:  d.OwnerID,
		Period:   d.Period,
		Rankings: d.Rankings,
		Stats: leaderboard.Stats{
			TotalAssessments:  d.TotalAssessments,
			AverageClassScore: d.AverageClassScore,
			TopPerformerID:    d.TopPerformerID,
		},
		LastUpdated: d.LastUpdated,
		UpdatedBy:   d.UpdatedBy,
	}
}

// SnapshotDocID is the document id of the leaderboard of ownerID for period.
func SnapshotDocID(ownerID, period string) string {
	return ownerID + "_" + period
}

type SnapshotStore struct {
	client *firestore.Client
	log    *logger.Logger
}

func NewSnapshotStore(client *firestore.Client, log *logger.Logger) *SnapshotStore {
	return &SnapshotStore{client: client, log: log.With("store", "firestore.leaderboards")}
}

func (s *SnapshotStore) ref(ownerID, period string) *firestore.DocumentRef {
	return s.client.Collection(LeaderboardCollection).Doc(SnapshotDocID(ownerID, period))
}

// Upsert overwrites the whole document, creating it when missing.
func (s *SnapshotStore) Upsert(ctx context.Context, snap leaderboard.Snapshot) error {
	if _, err := s.ref(snap.OwnerID, snap.Period).Set(ctx, toDoc(snap)); err != nil {
		return unavailable("write leaderboard", err)
	}
	return nil
}

func (s *SnapshotStore) Subscribe(ctx context.Context, ownerID, period string, onChange func(*leaderboard.Snapshot)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.ref(ownerID, period).Snapshots(ctx)
	sub := store.NewSub(func() {
		cancel()
		it.Stop()
	})

	first, err := it.Next()
	if err != nil {
		sub.Unsubscribe()
		return nil, unavailable("subscribe leaderboard", err)
	}
	onChange(s.decode(first))

	go func() {
		for {
			doc, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) {
					sub.Fail(unavailable("leaderboard listener", err))
				}
				return
			}
			onChange(s.decode(doc))
		}
	}()
	return sub, nil
}

// decode returns nil for a missing or unreadable document.
func (s *SnapshotStore) decode(doc *firestore.DocumentSnapshot) *leaderboard.Snapshot {
	if doc == nil || !doc.Exists() {
		return nil
	}
	var d snapshotDoc
	if err := doc.DataTo(&d); err != nil {
		s.log.Warn("unreadable leaderboard document", "id", doc.Ref.ID, "error", err)
		return nil
	}
	return d.snapshot()
}
