package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"readySchoolsAPI/internal/leaderboard"
)

type Roster struct {
	mu       sync.RWMutex
	students map[string][]leaderboard.Student
}

func NewRoster() *Roster {
	return &Roster{students: make(map[string][]leaderboard.Student)}
}

// Set replaces the roster of ownerID. Order is kept.
func (r *Roster) Set(ownerID string, students ...leaderboard.Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students[ownerID] = append([]leaderboard.Student(nil), students...)
}

func (r *Roster) ListStudents(ctx context.Context, ownerID string) ([]leaderboard.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]leaderboard.Student(nil), r.students[ownerID]...), nil
}

// LoadJSON sets the rosters found in rd, an object of owner ID to student
// list. Owners missing from rd keep their roster.
func (r *Roster) LoadJSON(rd io.Reader) error {
	var rosters map[string][]leaderboard.Student
	if err := json.NewDecoder(rd).Decode(&rosters); err != nil {
		return fmt.Errorf("failed to decode roster: %w", err)
	}
	for ownerID, students := range rosters {
		for i, st := range students {
			if st.ID == "" {
				return fmt.Errorf("roster of %s: student %d has no id", ownerID, i)
			}
		}
	}
	for ownerID, students := range rosters {
		r.Set(ownerID, students...)
	}
	return nil
}
