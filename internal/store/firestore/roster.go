package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	"readySchoolsAPI/internal/leaderboard"
)

const StudentsCollection = "students"

type studentDoc struct {
	OwnerID     string `firestore:"ownerId"`
	DisplayName string `firestore:"displayName"`
	ImageRef    string `firestore:"imageRef"`
}

// Roster reads students from Firestore when no Postgres directory is configured.
type Roster struct {
	client *firestore.Client
}

func NewRoster(client *firestore.Client) *Roster {
	return &Roster{client: client}
}

func (r *Roster) ListStudents(ctx context.Context, ownerID string) ([]leaderboard.Student, error) {
	docs, err := r.client.Collection(StudentsCollection).
		Where("ownerId", "==", ownerID).
		OrderBy("displayName", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, unavailable("list students", err)
	}

	students := make([]leaderboard.Student, 0, len(docs))
	for _, doc := range docs {
		var d studentDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, unavailable("read student", err)
		}
		students = append(students, leaderboard.Student{ID: doc.Ref.ID, DisplayName: d.DisplayName, ImageRef: d.ImageRef})
	}
	return students, nil
}
