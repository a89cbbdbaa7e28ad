package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
)

var validate = validator.New()

// RateRequest is one rating as submitted by a teacher.
type RateRequest struct {
	StudentID      string `json:"studentId" validate:"required,max=128"`
	Rating         int    `json:"rating" validate:"min=1,max=5"`
	Notes          string `json:"notes" validate:"max=2000"`
	AssessmentDate string `json:"assessmentDate" validate:"required,datetime=2006-01-02"`
}

type AssessmentService struct {
	store store.AssessmentStore
	log   *logger.Logger
}

func NewAssessmentService(s store.AssessmentStore, log *logger.Logger) *AssessmentService {
	return &AssessmentService{store: s, log: log.With("service", "AssessmentService")}
}

// Rate records the rating of studentID on date, replacing any rating the
// owner already gave that student on the same day. Invalid input is rejected
// before the store is touched.
func (s *AssessmentService) Rate(ctx context.Context, ownerID, studentID string, rating int, notes, date string) (assessment.Assessment, error) {
	if ownerID == "" {
		return assessment.Assessment{}, apperr.ErrNotAuthenticated
	}

	req := RateRequest{
		StudentID:      strings.TrimSpace(studentID),
		Rating:         rating,
		Notes:          strings.TrimSpace(notes),
		AssessmentDate: strings.TrimSpace(date),
	}
	if err := ValidateRateRequest(req); err != nil {
		assessmentUpserts.WithLabelValues("invalid").Inc()
		return assessment.Assessment{}, err
	}

	period, err := assessment.PeriodOf(req.AssessmentDate)
	if err != nil {
		return assessment.Assessment{}, apperr.NewValidationError(err.Error(), apperr.FieldError{Field: "assessmentDate", Error: "invalid"})
	}

	saved, err := s.store.Upsert(ctx, assessment.Assessment{
		OwnerID:        ownerID,
		StudentID:      req.StudentID,
		Period:         period,
		AssessmentDate: req.AssessmentDate,
		Rating:         req.Rating,
		Notes:          req.Notes,
	})
	if err != nil {
		assessmentUpserts.WithLabelValues("error").Inc()
		s.log.Warn("failed to save assessment", "student_id", req.StudentID, "error", err)
		if !errors.Is(err, apperr.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		return assessment.Assessment{}, fmt.Errorf("failed to save assessment: %w", err)
	}

	assessmentUpserts.WithLabelValues("ok").Inc()
	return saved, nil
}

// ValidateRateRequest checks req and reports every offending field.
func ValidateRateRequest(req RateRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.NewValidationError(err.Error())
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonName(fe.Field())
		msg := fieldMessage(fe)
		fields = append(fields, apperr.FieldError{Field: field, Error: msg})
		msgs = append(msgs, field+" "+msg)
	}
	return apperr.NewValidationError(strings.Join(msgs, "; "), fields...)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		if fe.Field() == "Rating" {
			return fmt.Sprintf("must be between %d and %d", assessment.MinRating, assessment.MaxRating)
		}
		return "is too long"
	case "datetime":
		return "must be a YYYY-MM-DD date"
	default:
		return "is invalid"
	}
}

func jsonName(field string) string {
	switch field {
	case "StudentID":
		return "studentId"
	case "AssessmentDate":
		return "assessmentDate"
	default:
		return strings.ToLower(field[:1]) + field[1:]
	}
}
