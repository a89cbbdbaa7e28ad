package services

import (
	"time"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/assessment"
	"readySchoolsAPI/internal/content"
)

type StudentContent struct {
	StudentID string `json:"studentId"`
	Period    string `json:"period"`
	content.Content
}

type ContentService struct {
	loc *time.Location
	now func() time.Time
}

func NewContentService(loc *time.Location) *ContentService {
	if loc == nil {
		loc = time.UTC
	}
	return &ContentService{loc: loc, now: time.Now}
}

// GetContentForStudent picks the monthly quote and challenge of studentID.
// An empty period means the current month.
func (s *ContentService) GetContentForStudent(studentID, period string) (StudentContent, error) {
	if period == "" {
		period = assessment.PeriodKey(s.now().In(s.loc))
	}
	if !assessment.ValidPeriod(period) {
		return StudentContent{}, apperr.NewValidationError("period must be YYYY-MM", apperr.FieldError{Field: "period", Error: "invalid"})
	}
	c, err := content.ForStudent(studentID, period)
	if err != nil {
		return StudentContent{}, err
	}
	return StudentContent{StudentID: studentID, Period: period, Content: c}, nil
}
