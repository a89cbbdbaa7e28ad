package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
)

type recorder struct {
	mu   sync.Mutex
	sets [][]assessment.Assessment
}

func (r *recorder) onChange(set []assessment.Assessment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, set)
}

func (r *recorder) last() []assessment.Assessment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets[len(r.sets)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

func TestAssessmentUpsertIsKeyed(t *testing.T) {
	s := NewAssessmentStore()
	ctx := context.Background()

	first, err := s.Upsert(ctx, assessment.Assessment{OwnerID: "t1", StudentID: "s1", AssessmentDate: "2024-03-14", Rating: 2, Notes: "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "2024-03", first.Period)
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)

	second, err := s.Upsert(ctx, assessment.Assessment{OwnerID: "t1", StudentID: "s1", AssessmentDate: "2024-03-14", Rating: 5, Notes: "b"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	all := s.All("t1")
	require.Len(t, all, 1)
	assert.Equal(t, 5, all[0].Rating)
	assert.Equal(t, "b", all[0].Notes)
}

func TestAssessmentSubscribeDeliversMatchingSets(t *testing.T) {
	s := NewAssessmentStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	sub, err := s.Subscribe(ctx, "t1", "2024-03", rec.onChange)
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())
	assert.Empty(t, rec.last())

	_, err = s.Upsert(ctx, assessment.Assessment{OwnerID: "t1", StudentID: "s1", AssessmentDate: "2024-03-14", Rating: 4})
	require.NoError(t, err)
	// other period and other owner are not delivered
	_, err = s.Upsert(ctx, assessment.Assessment{OwnerID: "t1", StudentID: "s1", AssessmentDate: "2024-04-01", Rating: 4})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, assessment.Assessment{OwnerID: "t2", StudentID: "s1", AssessmentDate: "2024-03-14", Rating: 4})
	require.NoError(t, err)

	assert.Equal(t, 2, rec.count())
	assert.Len(t, rec.last(), 1)

	sub.Unsubscribe()
	_, err = s.Upsert(ctx, assessment.Assessment{OwnerID: "t1", StudentID: "s2", AssessmentDate: "2024-03-14", Rating: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count())
}

func TestAssessmentStoreUnavailable(t *testing.T) {
	s := NewAssessmentStore()
	s.SetUnavailable(errors.New("offline"))

	_, err := s.Upsert(context.Background(), assessment.Assessment{OwnerID: "t1", StudentID: "s1", AssessmentDate: "2024-03-14", Rating: 4})
	assert.True(t, errors.Is(err, apperr.ErrStoreUnavailable))
	assert.Empty(t, s.All("t1"))
}

func TestBreakSubscriptionsReportsError(t *testing.T) {
	s := NewAssessmentStore()
	rec := &recorder{}
	sub, err := s.Subscribe(context.Background(), "t1", "2024-03", rec.onChange)
	require.NoError(t, err)

	s.BreakSubscriptions(errors.New("stream reset"))

	select {
	case err := <-sub.Err():
		assert.EqualError(t, err, "stream reset")
	case <-time.After(time.Second):
		t.Fatal("expected subscription error")
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	s := NewSnapshotStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []*leaderboard.Snapshot
	_, err := s.Subscribe(ctx, "t1", "2024-03", func(snap *leaderboard.Snapshot) {
		mu.Lock()
		got = append(got, snap)
		mu.Unlock()
	})
	require.NoError(t, err)

	s.FailNext(1)
	snap := leaderboard.Snapshot{OwnerID: "t1", Period: "2024-03", Rankings: []leaderboard.LeaderboardEntry{{StudentID: "s1", Rank: 1}}}
	assert.Error(t, s.Upsert(ctx, snap))
	require.NoError(t, s.Upsert(ctx, snap))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, "s1", got[1].Rankings[0].StudentID)
	assert.Equal(t, 1, s.Writes())
	assert.NotNil(t, s.Get("t1", "2024-03"))
}

func TestRosterKeepsOrder(t *testing.T) {
	r := NewRoster()
	r.Set("t1", leaderboard.Student{ID: "b"}, leaderboard.Student{ID: "a"})

	students, err := r.ListStudents(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", students[0].ID)
	assert.Equal(t, "a", students[1].ID)

	none, err := r.ListStudents(context.Background(), "t2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRosterLoadJSON(t *testing.T) {
	r := NewRoster()
	r.Set("t2", leaderboard.Student{ID: "z"})

	err := r.LoadJSON(strings.NewReader(`{
		"t1": [
			{"id": "s1", "displayName": "Ana", "imageRef": "ana.png"},
			{"id": "s2", "displayName": "Boris"}
		]
	}`))
	require.NoError(t, err)

	students, err := r.ListStudents(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, leaderboard.Student{ID: "s1", DisplayName: "Ana", ImageRef: "ana.png"}, students[0])
	assert.Equal(t, "s2", students[1].ID)

	kept, err := r.ListStudents(context.Background(), "t2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestRosterLoadJSONRejectsBadInput(t *testing.T) {
	r := NewRoster()

	assert.Error(t, r.LoadJSON(strings.NewReader(`[1, 2]`)))
	assert.Error(t, r.LoadJSON(strings.NewReader(`{"t1": [{"displayName": "No ID"}]}`)))

	students, err := r.ListStudents(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, students)
}
