// Package calendar holds the calendar-date primitives shared by the
// closure provider, the due-date resolver and the stores.
//
// A calendar date is a time.Time at midnight UTC. Keeping every date in UTC
// makes AddDate and equality safe across DST transitions.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the storage and key format for calendar dates
const Layout = "2006-01-02"

// DefaultMaxIterations bounds NextSchoolDay
const DefaultMaxIterations = 60

// Date builds a calendar date
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock part of t, keeping the date as seen in t's location
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// Today returns the current calendar date in loc
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Truncate(now.In(loc))
}

// Parse reads a YYYY-MM-DD date
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Format renders a calendar date as YYYY-MM-DD
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Valid reports whether month/day exist in year
func Valid(year int, month time.Month, day int) bool {
	if month < time.January || month > time.December || day < 1 {
		return false
	}
	d := Date(year, month, day)
	return d.Month() == month && d.Day() == day
}

// IsWeekend reports Saturday or Sunday
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DateSet is a set of calendar dates
type DateSet map[string]struct{}

// NewDateSet builds a set from dates
func NewDateSet(dates ...time.Time) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s.Add(d)
	}
	return s
}

// Add inserts d
func (s DateSet) Add(d time.Time) {
	s[Format(Truncate(d))] = struct{}{}
}

// Contains reports whether d is in the set. A nil set contains nothing.
func (s DateSet) Contains(d time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s[Format(Truncate(d))]
	return ok
}

// IsSchoolDay reports a weekday that is not a closure
func IsSchoolDay(d time.Time, closures DateSet) bool {
	return !IsWeekend(d) && !closures.Contains(d)
}

// NextSchoolDay advances from seed one calendar day at a time and returns
// the first school day strictly after seed. At most maxIter days are
// examined; when the closure set swallows all of them the first weekday
// after seed is returned instead.
func NextSchoolDay(seed time.Time, closures DateSet, maxIter int) time.Time {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	seed = Truncate(seed)
	d := seed
	for i := 0; i < maxIter; i++ {
		d = d.AddDate(0, 0, 1)
		if IsSchoolDay(d, closures) {
			return d
		}
	}
	d = seed.AddDate(0, 0, 1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// NextWeekday returns the next occurrence of wd strictly after from
func NextWeekday(from time.Time, wd time.Weekday) time.Time {
	from = Truncate(from)
	delta := (int(wd) - int(from.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return from.AddDate(0, 0, delta)
}

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseMonth accepts full and abbreviated English month names, any case,
// with an optional trailing period
func ParseMonth(name string) (time.Month, bool) {
	m, ok := months[strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")]
	return m, ok
}

// ParseWeekday accepts full and abbreviated English weekday names
func ParseWeekday(name string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")]
	return wd, ok
}

// MonthPattern is a regexp alternation matching any name ParseMonth accepts
const MonthPattern = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

// WeekdayPattern is a regexp alternation matching any name ParseWeekday accepts
const WeekdayPattern = `sun(?:day)?|mon(?:day)?|tue(?:s|sday)?|wed(?:nesday)?|thu(?:rs?|rsday)?|fri(?:day)?|sat(?:urday)?`
