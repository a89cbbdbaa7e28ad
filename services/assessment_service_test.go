package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store/memory"
)

func TestAssessmentServiceRateIsIdempotentPerDay(t *testing.T) {
	st := memory.NewAssessmentStore()
	svc := NewAssessmentService(st, logger.Nop())
	ctx := context.Background()

	first, err := svc.Rate(ctx, "teacher-1", "s1", 3, "ok", "2024-03-14")
	require.NoError(t, err)
	second, err := svc.Rate(ctx, "teacher-1", "s1", 5, "much better", "2024-03-14")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "2024-03", second.Period)

	all := st.All("teacher-1")
	require.Len(t, all, 1)
	assert.Equal(t, 5, all[0].Rating)
	assert.Equal(t, "much better", all[0].Notes)

	_, err = svc.Rate(ctx, "teacher-1", "s1", 4, "", "2024-03-15")
	require.NoError(t, err)
	assert.Len(t, st.All("teacher-1"), 2)
}

func TestAssessmentServiceRejectsInvalidInput(t *testing.T) {
	st := memory.NewAssessmentStore()
	svc := NewAssessmentService(st, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		name      string
		studentID string
		rating    int
		date      string
		field     string
	}{
		{"rating too low", "s1", 0, "2024-03-14", "rating"},
		{"rating too high", "s1", 6, "2024-03-14", "rating"},
		{"missing student", "", 3, "2024-03-14", "studentId"},
		{"bad date", "s1", 3, "14/03/2024", "assessmentDate"},
		{"missing date", "s1", 3, "", "assessmentDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Rate(ctx, "teacher-1", tt.studentID, tt.rating, "", tt.date)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)

			var verr *apperr.ValidationError
			require.True(t, errors.As(err, &verr))
			var fields []string
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
	assert.Empty(t, st.All("teacher-1"))
}

func TestAssessmentServiceRequiresOwner(t *testing.T) {
	svc := NewAssessmentService(memory.NewAssessmentStore(), logger.Nop())
	_, err := svc.Rate(context.Background(), "", "s1", 3, "", "2024-03-14")
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
}

func TestAssessmentServiceStoreUnavailable(t *testing.T) {
	st := memory.NewAssessmentStore()
	st.SetUnavailable(errors.New("connection refused"))
	svc := NewAssessmentService(st, logger.Nop())

	_, err := svc.Rate(context.Background(), "teacher-1", "s1", 3, "", "2024-03-14")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}
