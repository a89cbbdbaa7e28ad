package leaderboard

import (
	"math"
	"sort"

	"readySchoolsAPI/internal/assessment"
)

// Compute ranks every roster member by the assessments of period.
//
// Entries are ordered by total stars, then assessment count, then average
// score, all descending; equal students keep roster order. previous supplies
// the prior rank of each student; students absent from it get a rank change
// of zero. Compute does not modify its arguments.
func Compute(period string, roster []Student, assessments []assessment.Assessment, previous []LeaderboardEntry) []LeaderboardEntry {
	type tally struct {
		stars int
		count int
	}
	tallies := make(map[string]*tally, len(roster))
	for _, a := range assessments {
		if a.Period != period {
			continue
		}
		t, ok := tallies[a.StudentID]
		if !ok {
			t = &tally{}
			tallies[a.StudentID] = t
		}
		t.stars += a.Rating
		t.count++
	}

	entries := make([]LeaderboardEntry, 0, len(roster))
	for _, s := range roster {
		e := LeaderboardEntry{
			StudentID:   s.ID,
			DisplayName: s.DisplayName,
			ImageRef:    s.ImageRef,
		}
		if t, ok := tallies[s.ID]; ok {
			e.TotalStars = t.stars
			e.AssessmentCount = t.count
			e.AverageScore = Round2(float64(t.stars) / float64(t.count))
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalStars != b.TotalStars {
			return a.TotalStars > b.TotalStars
		}
		if a.AssessmentCount != b.AssessmentCount {
			return a.AssessmentCount > b.AssessmentCount
		}
		return a.AverageScore > b.AverageScore
	})

	prevRanks := make(map[string]int, len(previous))
	for _, p := range previous {
		prevRanks[p.StudentID] = p.Rank
	}
	for i := range entries {
		entries[i].Rank = i + 1
		prev, ok := prevRanks[entries[i].StudentID]
		if !ok {
			prev = entries[i].Rank
		}
		entries[i].PreviousRank = prev
		entries[i].RankChange = prev - entries[i].Rank
	}
	return entries
}

// Summarize derives the class aggregates of a ranking. The class average is
// the mean of the per-student averages over students with at least one
// assessment. The top performer is the first ranked student with stars.
func Summarize(entries []LeaderboardEntry) Stats {
	var st Stats
	var sum float64
	var rated int
	for _, e := range entries {
		st.TotalAssessments += e.AssessmentCount
		if e.AssessmentCount > 0 {
			sum += e.AverageScore
			rated++
		}
		if e.Rank == 1 && e.TotalStars > 0 {
			st.TopPerformerID = e.StudentID
		}
	}
	if rated > 0 {
		st.AverageClassScore = Round2(sum / float64(rated))
	}
	return st
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
