// Package firestore stores assessments and leaderboard snapshots in Cloud
// Firestore and turns Firestore snapshot listeners into store subscriptions.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
)

const (
	AssessmentsCollection = "assessments"
	LeaderboardCollection = "leaderboards"
)

type AssessmentStore struct {
	client *firestore.Client
	log    *logger.Logger
	now    func() time.Time
}

func NewAssessmentStore(client *firestore.Client, log *logger.Logger) *AssessmentStore {
	return &AssessmentStore{client: client, log: log.With("store", "firestore.assessments"), now: time.Now}
}

func (s *AssessmentStore) keyQuery(a assessment.Assessment) firestore.Query {
	return s.client.Collection(AssessmentsCollection).
		Where("ownerId", "==", a.OwnerID).
		Where("studentId", "==", a.StudentID).
		Where("assessmentDate", "==", a.AssessmentDate).
		Limit(1)
}

// Upsert looks the record up by owner, student and day inside a transaction
// so two concurrent first ratings cannot both insert.
func (s *AssessmentStore) Upsert(ctx context.Context, a assessment.Assessment) (assessment.Assessment, error) {
	if a.Period == "" {
		p, err := assessment.PeriodOf(a.AssessmentDate)
		if err != nil {
			return assessment.Assessment{}, err
		}
		a.Period = p
	}

	var saved assessment.Assessment
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(s.keyQuery(a)).GetAll()
		if err != nil {
			return err
		}
		now := s.now().UTC()

		if len(docs) > 0 {
			existing, ok := decodeAssessment(docs[0])
			if !ok {
				existing = a
				existing.ID = docs[0].Ref.ID
				existing.CreatedAt = now
			}
			existing.Rating = a.Rating
			existing.Notes = a.Notes
			existing.UpdatedAt = now
			saved = existing
			return tx.Update(docs[0].Ref, []firestore.Update{
				{Path: "starRating", Value: a.Rating},
				{Path: "notes", Value: a.Notes},
				{Path: "updatedAt", Value: now},
			})
		}

		ref := s.client.Collection(AssessmentsCollection).NewDoc()
		a.ID = ref.ID
		a.CreatedAt = now
		a.UpdatedAt = now
		saved = a
		return tx.Create(ref, a)
	})
	if err != nil {
		return assessment.Assessment{}, unavailable("upsert assessment", err)
	}
	return saved, nil
}

func (s *AssessmentStore) Subscribe(ctx context.Context, ownerID, period string, onChange func([]assessment.Assessment)) (store.Subscription, error) {
	q := s.client.Collection(AssessmentsCollection).
		Where("ownerId", "==", ownerID).
		Where("period", "==", period)

	ctx, cancel := context.WithCancel(ctx)
	it := q.Snapshots(ctx)
	sub := store.NewSub(func() {
		cancel()
		it.Stop()
	})

	// The first snapshot is read synchronously so a dead backend fails Subscribe.
	first, err := it.Next()
	if err != nil {
		sub.Unsubscribe()
		return nil, unavailable("subscribe assessments", err)
	}
	set, err := s.decodeAll(first)
	if err != nil {
		sub.Unsubscribe()
		return nil, unavailable("read assessments", err)
	}
	onChange(set)

	go func() {
		for {
			qs, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) {
					sub.Fail(unavailable("assessment listener", err))
				}
				return
			}
			set, err := s.decodeAll(qs)
			if err != nil {
				sub.Fail(unavailable("read assessments", err))
				return
			}
			onChange(set)
		}
	}()
	return sub, nil
}

func (s *AssessmentStore) decodeAll(qs *firestore.QuerySnapshot) ([]assessment.Assessment, error) {
	docs, err := qs.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]assessment.Assessment, 0, len(docs))
	for _, doc := range docs {
		a, ok := decodeAssessment(doc)
		if !ok {
			s.log.Warn("skipping assessment without a rating", "id", doc.Ref.ID)
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].AssessmentDate < out[j].AssessmentDate
	})
	return out, nil
}

// decodeAssessment reads a stored document, accepting the older rating field names.
func decodeAssessment(doc *firestore.DocumentSnapshot) (assessment.Assessment, bool) {
	data := doc.Data()
	rating, ok := assessment.NormalizeRating(data)
	if !ok {
		return assessment.Assessment{}, false
	}
	a := assessment.Assessment{
		ID:             doc.Ref.ID,
		OwnerID:        stringField(data, "ownerId"),
		StudentID:      stringField(data, "studentId"),
		Period:         stringField(data, "period"),
		AssessmentDate: stringField(data, "assessmentDate"),
		Rating:         rating,
		Notes:          stringField(data, "notes"),
		CreatedAt:      timeField(data, "createdAt"),
		UpdatedAt:      timeField(data, "updatedAt"),
	}
	if a.Period == "" {
		a.Period, _ = assessment.PeriodOf(a.AssessmentDate)
	}
	return a, true
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func timeField(data map[string]interface{}, key string) time.Time {
	t, _ := data[key].(time.Time)
	return t
}

// stopped reports whether a listener ended because we cancelled it.
func stopped(ctx context.Context, err error) bool {
	if errors.Is(err, iterator.Done) || ctx.Err() != nil {
		return true
	}
	return status.Code(err) == codes.Canceled
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperr.ErrStoreUnavailable, op, err)
}
