package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/middleware"
	"readySchoolsAPI/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type LeaderboardHandler struct {
	manager *services.LeaderboardManager
	log     *logger.Logger
}

func NewLeaderboardHandler(manager *services.LeaderboardManager, log *logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		manager: manager,
		log:     log.With("handler", "LeaderboardHandler"),
	}
}

type leaderboardResponse struct {
	leaderboard.Leaderboard
	State string `json:"state"`
}

func (h *LeaderboardHandler) session(ctx context.Context, r *http.Request) (*services.LeaderboardSession, error) {
	ownerID, err := middleware.GetOwnerID(ctx)
	if err != nil {
		return nil, err
	}
	return h.manager.Session(ctx, ownerID, r.URL.Query().Get("period"))
}

func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	session, err := h.session(ctx, r)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, leaderboardResponse{
		Leaderboard: session.Leaderboard(),
		State:       session.State(),
	})
}

// RefreshLeaderboard reloads the roster and recomputes before answering.
func (h *LeaderboardHandler) RefreshLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	session, err := h.session(ctx, r)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	if err := session.ForceRecompute(ctx); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, leaderboardResponse{
		Leaderboard: session.Leaderboard(),
		State:       session.State(),
	})
}

// LiveLeaderboard upgrades to a websocket that receives every ranking change.
func (h *LeaderboardHandler) LiveLeaderboard(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r.Context(), r)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("could not upgrade connection", "error", err)
		return
	}

	client := services.NewLiveClient(session.Hub(), conn)
	if !session.Hub().Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	session.Hub().Publish(session.Leaderboard())

	go client.WritePump()
	go client.ReadPump()
}
