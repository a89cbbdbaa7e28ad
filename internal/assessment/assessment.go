package assessment

import (
	"fmt"
	"math"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5

	DateLayout   = "2006-01-02"
	PeriodLayout = "2006-01"
)

// Assessment is one daily star rating of a student by its owning teacher.
type Assessment struct {
	ID             string    `json:"id" firestore:"-"`
	OwnerID        string    `json:"ownerId" firestore:"ownerId"`
	StudentID      string    `json:"studentId" firestore:"studentId"`
	Period         string    `json:"period" firestore:"period"`
	AssessmentDate string    `json:"assessmentDate" firestore:"assessmentDate"`
	Rating         int       `json:"rating" firestore:"starRating"`
	Notes          string    `json:"notes,omitempty" firestore:"notes"`
	CreatedAt      time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// Key identifies the single assessment allowed per owner, student and day.
type Key struct {
	OwnerID        string
	StudentID      string
	AssessmentDate string
}

func (a Assessment) Key() Key {
	return Key{OwnerID: a.OwnerID, StudentID: a.StudentID, AssessmentDate: a.AssessmentDate}
}

// PeriodOf returns the month key ("2024-03") of a day key ("2024-03-14").
func PeriodOf(date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid assessment date %q: %w", date, err)
	}
	return d.Format(PeriodLayout), nil
}

// ValidPeriod reports whether p is a well formed month key.
func ValidPeriod(p string) bool {
	_, err := time.Parse(PeriodLayout, p)
	return err == nil
}

func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

func PeriodKey(t time.Time) string {
	return t.Format(PeriodLayout)
}

// NormalizeRating reads the rating out of a raw stored document. Older
// documents carry the value as totalScore instead of starRating.
func NormalizeRating(doc map[string]interface{}) (int, bool) {
	for _, field := range []string{"starRating", "rating", "totalScore"} {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		if r, ok := toInt(v); ok {
			return r, true
		}
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(math.Round(float64(n))), true
	case float64:
		return int(math.Round(n)), true
	default:
		return 0, false
	}
}

// Merge returns set with a replacing the record of the same key, or appended.
func Merge(set []Assessment, a Assessment) []Assessment {
	out := make([]Assessment, 0, len(set)+1)
	replaced := false
	for _, existing := range set {
		if existing.Key() == a.Key() {
			out = append(out, a)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, a)
	}
	return out
}
