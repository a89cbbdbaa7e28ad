package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
)

var reduceNow = time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)

func newState(ids ...string) LeaderboardState {
	roster := make([]leaderboard.Student, 0, len(ids))
	for _, id := range ids {
		roster = append(roster, leaderboard.Student{ID: id, DisplayName: id})
	}
	return LeaderboardState{
		OwnerID:  "teacher-1",
		Period:   "2024-05",
		WriterID: "writer-local",
		Roster:   roster,
		Entries:  leaderboard.Compute("2024-05", roster, nil, nil),
	}
}

func rated(student, date string, stars int) assessment.Assessment {
	return assessment.Assessment{
		OwnerID:        "teacher-1",
		StudentID:      student,
		Period:         date[:7],
		AssessmentDate: date,
		Rating:         stars,
	}
}

func populated(t *testing.T) LeaderboardState {
	t.Helper()
	s := newState("A", "B", "C", "D", "E")
	s, outcome := Reduce(s, Trigger{Kind: TriggerSubscription, Assessments: []assessment.Assessment{
		rated("A", "2024-05-01", 5),
		rated("B", "2024-05-01", 4),
		rated("C", "2024-05-01", 3),
		rated("D", "2024-05-01", 2),
		rated("E", "2024-05-01", 1),
	}}, reduceNow)
	require.Equal(t, OutcomeRecomputed, outcome)
	require.Len(t, s.Entries, 5)
	return s
}

func TestReduceEmptyRemoteNeverOverwrites(t *testing.T) {
	s := populated(t)
	before := append([]leaderboard.LeaderboardEntry(nil), s.Entries...)

	for _, snap := range []*leaderboard.Snapshot{
		nil,
		{OwnerID: "teacher-1", Period: "2024-05", Rankings: []leaderboard.LeaderboardEntry{}},
		{OwnerID: "teacher-1", Period: "2024-05", UpdatedBy: "writer-other", LastUpdated: reduceNow.Add(time.Hour)},
	} {
		next, outcome := Reduce(s, Trigger{Kind: TriggerRemoteSnapshot, Snapshot: snap}, reduceNow)
		assert.Equal(t, OutcomeIgnoredEmpty, outcome)
		assert.False(t, outcome.Persist())
		assert.Equal(t, before, next.Entries)
	}
}

func TestReduceAdoptsNonEmptyRemoteAndRecomputesStats(t *testing.T) {
	s := populated(t)
	remote := &leaderboard.Snapshot{
		OwnerID:   "teacher-1",
		Period:    "2024-05",
		UpdatedBy: "writer-other",
		Rankings: []leaderboard.LeaderboardEntry{
			{StudentID: "E", TotalStars: 9, AssessmentCount: 2, AverageScore: 4.5, Rank: 1},
			{StudentID: "A", TotalStars: 5, AssessmentCount: 1, AverageScore: 5, Rank: 2},
		},
		// stats on the wire are never trusted
		Stats:       leaderboard.Stats{TotalAssessments: 999, AverageClassScore: 1, TopPerformerID: "nobody"},
		LastUpdated: reduceNow.Add(-time.Hour),
	}

	next, outcome := Reduce(s, Trigger{Kind: TriggerRemoteSnapshot, Snapshot: remote}, reduceNow)
	require.Equal(t, OutcomeAdoptedRemote, outcome)
	assert.False(t, outcome.Persist())
	assert.True(t, outcome.Changed())

	require.Len(t, next.Entries, 2)
	assert.Equal(t, "E", next.Entries[0].StudentID)
	assert.Equal(t, 3, next.Stats.TotalAssessments)
	assert.Equal(t, 4.75, next.Stats.AverageClassScore)
	assert.Equal(t, "E", next.Stats.TopPerformerID)
	assert.Equal(t, remote.LastUpdated, next.LastUpdated)
	// the known assessment set is untouched
	assert.Len(t, next.Assessments, 5)
}

func TestReduceIgnoresOwnAndForeignSnapshots(t *testing.T) {
	s := populated(t)
	rankings := []leaderboard.LeaderboardEntry{{StudentID: "E", Rank: 1}}

	_, outcome := Reduce(s, Trigger{Kind: TriggerRemoteSnapshot, Snapshot: &leaderboard.Snapshot{
		OwnerID: "teacher-1", Period: "2024-05", UpdatedBy: "writer-local", Rankings: rankings,
	}}, reduceNow)
	assert.Equal(t, OutcomeIgnoredOwnWrite, outcome)

	_, outcome = Reduce(s, Trigger{Kind: TriggerRemoteSnapshot, Snapshot: &leaderboard.Snapshot{
		OwnerID: "teacher-1", Period: "2024-04", UpdatedBy: "writer-other", Rankings: rankings,
	}}, reduceNow)
	assert.Equal(t, OutcomeIgnoredForeign, outcome)
}

func TestReduceLocalMergesJustSeenAssessment(t *testing.T) {
	s := populated(t)

	// E jumps to the top with a second five star day
	next, outcome := Reduce(s, Trigger{Kind: TriggerLocal, Assessment: rated("E", "2024-05-02", 5)}, reduceNow)
	require.Equal(t, OutcomeRecomputed, outcome)
	assert.True(t, outcome.Persist())
	assert.Len(t, next.Assessments, 6)
	assert.Equal(t, "E", next.Entries[0].StudentID)
	assert.Equal(t, 5, next.Entries[0].PreviousRank)
	assert.Equal(t, 4, next.Entries[0].RankChange)

	// re-rating the same day replaces instead of adding
	again, _ := Reduce(next, Trigger{Kind: TriggerLocal, Assessment: rated("E", "2024-05-02", 1)}, reduceNow)
	assert.Len(t, again.Assessments, 6)
	for _, e := range again.Entries {
		if e.StudentID == "E" {
			assert.Equal(t, 2, e.TotalStars)
			assert.Equal(t, 2, e.AssessmentCount)
		}
	}

	// the input state is not modified
	assert.Len(t, s.Assessments, 5)
	assert.Equal(t, "A", s.Entries[0].StudentID)
}

func TestReduceSubscriptionReplacesSet(t *testing.T) {
	s := populated(t)

	next, outcome := Reduce(s, Trigger{Kind: TriggerSubscription, Assessments: []assessment.Assessment{
		rated("C", "2024-05-03", 5),
	}}, reduceNow)
	require.Equal(t, OutcomeRecomputed, outcome)
	assert.Len(t, next.Assessments, 1)
	assert.Equal(t, "C", next.Entries[0].StudentID)
	assert.Equal(t, 3, next.Entries[0].PreviousRank)
	assert.Equal(t, 1, next.Stats.TotalAssessments)
	assert.Equal(t, reduceNow, next.LastUpdated)
}

func TestReduceEchoOfSameRatingsKeepsRankChange(t *testing.T) {
	s := newState("A", "B", "C")
	b := rated("B", "2024-05-10", 5)

	next, outcome := Reduce(s, Trigger{Kind: TriggerLocal, Assessment: b}, reduceNow)
	require.Equal(t, OutcomeRecomputed, outcome)
	require.Equal(t, "B", next.Entries[0].StudentID)
	require.Equal(t, 1, next.Entries[0].RankChange)

	later := reduceNow.Add(time.Minute)
	echoed, outcome := Reduce(next, Trigger{Kind: TriggerSubscription, Assessments: []assessment.Assessment{b}}, later)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.False(t, outcome.Persist())
	assert.False(t, outcome.Changed())
	assert.Equal(t, next.Entries, echoed.Entries)
	assert.Equal(t, reduceNow, echoed.LastUpdated)

	// other periods do not take part in the ranking
	other := rated("A", "2024-06-01", 5)
	_, outcome = Reduce(echoed, Trigger{Kind: TriggerLocal, Assessment: other}, later)
	assert.Equal(t, OutcomeUnchanged, outcome)

	forced, outcome := Reduce(echoed, Trigger{Kind: TriggerForce}, later)
	assert.Equal(t, OutcomeRecomputed, outcome)
	assert.Equal(t, next.Entries, forced.Entries)
	assert.Equal(t, later, forced.LastUpdated)
}

func TestReduceForceAppliesNewRoster(t *testing.T) {
	s := populated(t)
	roster := append(append([]leaderboard.Student(nil), s.Roster...), leaderboard.Student{ID: "F"})

	next, outcome := Reduce(s, Trigger{Kind: TriggerForce, Roster: roster}, reduceNow)
	require.Equal(t, OutcomeRecomputed, outcome)
	require.Len(t, next.Entries, 6)
	assert.Equal(t, "F", next.Entries[5].StudentID)
	assert.Equal(t, 6, next.Entries[5].Rank)

	kept, _ := Reduce(s, Trigger{Kind: TriggerForce}, reduceNow)
	assert.Len(t, kept.Entries, 5)
}

func TestSnapshotFromState(t *testing.T) {
	s := populated(t)
	snap := s.Snapshot()

	assert.Equal(t, "teacher-1", snap.OwnerID)
	assert.Equal(t, "2024-05", snap.Period)
	assert.Equal(t, "writer-local", snap.UpdatedBy)
	assert.Equal(t, "A", snap.TopPerformerID)
	assert.Equal(t, 5, snap.TotalAssessments)
	assert.Equal(t, 3.0, snap.AverageClassScore)
	require.Len(t, snap.Rankings, 5)

	snap.Rankings[0].StudentID = "changed"
	assert.Equal(t, "A", s.Entries[0].StudentID)
}
