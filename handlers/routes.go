package handlers

import "github.com/gorilla/mux"

// RegisterRoutes mounts the authenticated API on r. r must already carry the
// owner auth middleware.
func RegisterRoutes(r *mux.Router, assessments *AssessmentHandler, leaderboards *LeaderboardHandler, content *ContentHandler) {
	r.HandleFunc("/assessments", assessments.RateStudent).Methods("POST")

	r.HandleFunc("/leaderboard", leaderboards.GetLeaderboard).Methods("GET")
	r.HandleFunc("/leaderboard/refresh", leaderboards.RefreshLeaderboard).Methods("POST")
	r.HandleFunc("/leaderboard/live", leaderboards.LiveLeaderboard).Methods("GET")

	r.HandleFunc("/students/{studentId}/content", content.GetStudentContent).Methods("GET")
}
