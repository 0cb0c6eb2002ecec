// Package agerule answers age and birthday questions directly from the
// subject's recorded dates, skipping retrieval and generation entirely.
// It is the one class of question where a model can only do worse than
// arithmetic.
package agerule

import (
	"fmt"
	"regexp"
	"time"
)

// vocabulary gates the rule: only messages that talk about age or
// birthdays are candidates for a deterministic answer.
var vocabulary = regexp.MustCompile(`(?i)\bhow old|age\b|birthday|born`)

// Subject carries the structured fields the rule needs. Dates are
// YYYY-MM-DD strings and may be empty.
type Subject struct {
	Name      string
	BirthDate string
	DeathDate string
}

// Matches reports whether the message contains age/birthday vocabulary.
func Matches(message string) bool {
	return vocabulary.MatchString(message)
}

// Answer returns a finished answer for an age/birthday question, or
// ok=false when the message doesn't match the vocabulary. now supplies
// the reference date for living subjects.
func Answer(message string, subject *Subject, now time.Time) (string, bool) {
	if !Matches(message) {
		return "", false
	}

	if subject == nil {
		return "I don't have their birthday recorded. You can add it on the profile.", true
	}

	name := subject.Name
	if name == "" {
		name = "them"
	}

	birth, err := parseDate(subject.BirthDate)
	if err != nil {
		return fmt.Sprintf("I don't have %s's birth date yet.", name), true
	}

	if death, err := parseDate(subject.DeathDate); err == nil {
		age := yearsBetween(birth, death)
		return fmt.Sprintf("They were %d years old (%s → %s).",
			age, birth.Format(time.DateOnly), death.Format(time.DateOnly)), true
	}

	age := yearsBetween(birth, now)
	return fmt.Sprintf("They'd be about %d years old (born %s).",
		age, birth.Format(time.DateOnly)), true
}

// yearsBetween counts completed calendar years from a to b: the year
// difference, minus one when b's month/day falls before a's.
func yearsBetween(a, b time.Time) int {
	years := b.Year() - a.Year()
	if b.Month() < a.Month() || (b.Month() == a.Month() && b.Day() < a.Day()) {
		years--
	}
	return years
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
