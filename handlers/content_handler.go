package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/services"
)

type ContentHandler struct {
	contentService *services.ContentService
	log            *logger.Logger
}

func NewContentHandler(contentService *services.ContentService, log *logger.Logger) *ContentHandler {
	return &ContentHandler{
		contentService: contentService,
		log:            log.With("handler", "ContentHandler"),
	}
}

// GetStudentContent returns the quote and challenge of the month.
func (h *ContentHandler) GetStudentContent(w http.ResponseWriter, r *http.Request) {
	studentID := mux.Vars(r)["studentId"]

	c, err := h.contentService.GetContentForStudent(studentID, r.URL.Query().Get("period"))
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, c)
}
