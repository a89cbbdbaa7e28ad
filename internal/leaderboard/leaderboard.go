package leaderboard

import "time"

// Student is a roster member as served by the student directory.
type Student struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"displayName" db:"display_name"`
	ImageRef    string `json:"imageRef" db:"image_ref"`
}

type LeaderboardEntry struct {
	StudentID       string  `json:"studentId" firestore:"studentId"`
	DisplayName     string  `json:"displayName" firestore:"displayName"`
	ImageRef        string  `json:"imageRef" firestore:"imageRef"`
	TotalStars      int     `json:"totalStars" firestore:"totalStars"`
	AssessmentCount int     `json:"assessmentCount" firestore:"assessmentCount"`
	AverageScore    float64 `json:"averageScore" firestore:"averageScore"`
	Rank            int     `json:"rank" firestore:"rank"`
	PreviousRank    int     `json:"previousRank" firestore:"previousRank"`
	RankChange      int     `json:"rankChange" firestore:"rankChange"`
}

// Stats are the class wide aggregates derived from a ranking.
type Stats struct {
	TotalAssessments  int     `json:"totalAssessments" firestore:"totalAssessments"`
	AverageClassScore float64 `json:"averageClassScore" firestore:"averageClassScore"`
	TopPerformerID    string  `json:"topPerformerId" firestore:"topPerformerId"`
}

// Snapshot is the persisted, shareable form of one owner's monthly leaderboard.
type Snapshot struct {
	OwnerID  string             `json:"ownerId" firestore:"ownerId"`
	Period   string             `json:"period" firestore:"period"`
	Rankings []LeaderboardEntry `json:"rankings" firestore:"rankings"`
	Stats
	LastUpdated time.Time `json:"lastUpdated" firestore:"lastUpdated"`
	UpdatedBy   string    `json:"updatedBy,omitempty" firestore:"updatedBy"`
}

type Leaderboard struct {
	OwnerID  string             `json:"ownerId"`
	Period   string             `json:"period"`
	Rankings []LeaderboardEntry `json:"rankings"`
	Stats
	LastUpdated time.Time `json:"lastUpdated"`
	Stale       bool      `json:"stale"`
}
