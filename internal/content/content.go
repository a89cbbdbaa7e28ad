// Package content picks the monthly quote and challenge shown to each student.
// The choice is a pure function of student and period, so it is stable across
// restarts without storing a schedule.
package content

import (
	"fmt"

	"readySchoolsAPI/internal/apperr"
)

const Fallback = "Keep shining, every day is a chance to grow!"

type Content struct {
	Quote     string `json:"quote"`
	Challenge string `json:"challenge"`
}

var Quotes = []string{
	"Kindness is a language everyone understands.",
	"The expert in anything was once a beginner.",
	"Be the reason someone smiles today.",
	"Mistakes are proof that you are trying.",
	"Great things never come from comfort zones.",
	"Your attitude determines your direction.",
	"Small steps every day add up to big results.",
	"Respect yourself and others will respect you.",
	"Believe you can and you're halfway there.",
	"Courage doesn't always roar.",
	"Do what is right, not what is easy.",
	"Every day is a fresh start.",
}

var Challenges = []string{
	"Help a classmate who is struggling with their work.",
	"Give three sincere compliments this week.",
	"Finish every homework assignment on time this month.",
	"Read a book and share one idea from it with the class.",
	"Hold the door and greet people with a smile every morning.",
	"Write a thank-you note to someone at school.",
	"Keep your desk and supplies organized all week.",
	"Include someone new in a game or group activity.",
	"Ask one thoughtful question in every lesson.",
	"Practice listening without interrupting for a whole day.",
}

// Hash is a 32-bit polynomial string hash over the UTF-8 bytes of s.
// It wraps on overflow like a Java String hash.
func Hash(s string) int32 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = h*31 + int32(s[i])
	}
	return h
}

// Select returns the pool element assigned to studentID for period.
func Select(studentID, period string, pool []string) (string, error) {
	if studentID == "" || period == "" {
		return "", fmt.Errorf("%w: studentId and period are required", apperr.ErrInvalidInput)
	}
	if len(pool) == 0 {
		return Fallback, nil
	}
	h := int64(Hash(studentID + period))
	if h < 0 {
		h = -h
	}
	return pool[h%int64(len(pool))], nil
}

// ForStudent returns the quote and challenge of studentID for period.
func ForStudent(studentID, period string) (Content, error) {
	quote, err := Select(studentID, period, Quotes)
	if err != nil {
		return Content{}, err
	}
	challenge, err := Select(studentID, period, Challenges)
	if err != nil {
		return Content{}, err
	}
	return Content{Quote: quote, Challenge: challenge}, nil
}
