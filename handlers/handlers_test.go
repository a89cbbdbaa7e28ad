package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store/memory"
	"readySchoolsAPI/middleware"
	"readySchoolsAPI/services"
)

type testAPI struct {
	router      *mux.Router
	assessments *memory.AssessmentStore
	snapshots   *memory.SnapshotStore
}

// newTestAPI serves the routes as teacher-1 unless the request says otherwise.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	roster := memory.NewRoster()
	roster.Set("teacher-1",
		leaderboard.Student{ID: "s1", DisplayName: "Ana"},
		leaderboard.Student{ID: "s2", DisplayName: "Ben"},
	)
	api := &testAPI{
		assessments: memory.NewAssessmentStore(),
		snapshots:   memory.NewSnapshotStore(),
	}
	manager := services.NewLeaderboardManager(services.ManagerConfig{
		Roster:       roster,
		Assessments:  api.assessments,
		Snapshots:    api.snapshots,
		RetryInitial: time.Millisecond,
		Now:          func() time.Time { return time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(manager.Close)

	log := logger.Nop()
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Anonymous") == "" {
				r = r.WithContext(middleware.WithOwnerID(r.Context(), "teacher-1"))
			}
			next.ServeHTTP(w, r)
		})
	})
	RegisterRoutes(v1,
		NewAssessmentHandler(manager, log),
		NewLeaderboardHandler(manager, log),
		NewContentHandler(services.NewContentService(time.UTC), log),
	)
	api.router = r
	return api
}

func (a *testAPI) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestRateStudentEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
		"studentId": "s2", "rating": 4, "notes": "helpful", "assessmentDate": "2024-05-14",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved assessment.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, "teacher-1", saved.OwnerID)
	assert.Equal(t, "2024-05", saved.Period)
	assert.Equal(t, 4, saved.Rating)

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/api/v1/leaderboard?period=2024-05", nil)
		var lb leaderboard.Leaderboard
		if json.Unmarshal(rec.Body.Bytes(), &lb) != nil || len(lb.Rankings) != 2 {
			return false
		}
		return lb.Rankings[0].StudentID == "s2" && lb.TopPerformerID == "s2"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRateStudentDefaultsToToday(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
		"studentId": "s1", "rating": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"assessmentDate":"2024-05-20"`)
}

func TestRateStudentValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
		"studentId": "s1", "rating": 9, "assessmentDate": "2024-05-14",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"rating"`)
	assert.Empty(t, api.assessments.All("teacher-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEndpointsRequireOwner(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
	req.Header.Set("X-Anonymous", "1")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/v1/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	api.assessments.SetUnavailable(assert.AnError)
	rec = api.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
		"studentId": "s1", "rating": 3, "assessmentDate": "2024-05-14",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetLeaderboardRejectsBadPeriod(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/v1/leaderboard?period=2024-5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshLeaderboard(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/api/v1/leaderboard/refresh?period=2024-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		leaderboard.Leaderboard
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Rankings, 2)
	assert.Equal(t, "2024-05", body.Period)
	assert.Contains(t, []string{services.StateIdle, services.StateRecomputing}, body.State)
}

func TestGetStudentContent(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/students/s1/content?period=2024-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got services.StudentContent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "s1", got.StudentID)
	assert.NotEmpty(t, got.Quote)
	assert.NotEmpty(t, got.Challenge)

	again := api.do(t, http.MethodGet, "/api/v1/students/s1/content?period=2024-05", nil)
	assert.Equal(t, rec.Body.String(), again.Body.String())
}

func TestLiveLeaderboardPushesUpdates(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/leaderboard/live?period=2024-05"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	rec := api.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
		"studentId": "s2", "rating": 5, "assessmentDate": "2024-05-14",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg services.LiveMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if len(msg.Leaderboard.Rankings) > 0 && msg.Leaderboard.Rankings[0].StudentID == "s2" {
			assert.Equal(t, "leaderboard_update", msg.Action)
			return
		}
	}
}
