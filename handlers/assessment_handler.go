package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/middleware"
	"readySchoolsAPI/services"
)

type AssessmentHandler struct {
	manager *services.LeaderboardManager
	log     *logger.Logger
}

func NewAssessmentHandler(manager *services.LeaderboardManager, log *logger.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		manager: manager,
		log:     log.With("handler", "AssessmentHandler"),
	}
}

// RateStudent upserts the rating of one student for one day. The date
// defaults to today in the school's time zone.
func (h *AssessmentHandler) RateStudent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ownerID, err := middleware.GetOwnerID(ctx)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	var req services.RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssessmentDate == "" {
		req.AssessmentDate = h.manager.Today()
	}
	if err := services.ValidateRateRequest(req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	period, err := assessment.PeriodOf(req.AssessmentDate)
	if err != nil {
		respondWithAppError(w, h.log, apperr.NewValidationError(err.Error()))
		return
	}
	session, err := h.manager.Session(ctx, ownerID, period)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	saved, err := session.RateOn(ctx, req.StudentID, req.Rating, req.Notes, req.AssessmentDate)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, saved)
}
