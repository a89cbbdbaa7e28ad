package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/logger"
)

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

// respondWithAppError picks the status from the error kind. Internal errors
// are logged and answered with a generic message.
func respondWithAppError(w http.ResponseWriter, log *logger.Logger, err error) {
	code := apperr.HTTPStatus(err)
	resp := errorResponse{Error: err.Error()}

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	switch code {
	case http.StatusUnauthorized:
		resp.Error = "User not authenticated"
	case http.StatusServiceUnavailable:
		log.Warn("store unavailable", "error", err)
		resp.Error = "Service temporarily unavailable"
	case http.StatusInternalServerError:
		log.Error("request failed", "error", err)
		resp.Error = "Internal server error"
	}
	respondWithJSON(w, code, resp)
}
