// Package resolver infers a concrete due date for an announcement.
//
// Resolution is an ordered chain of rules. Each rule pairs a matcher, which
// looks for a date hint in the freeform text, with a resolve function that
// turns the hint into a school day. The first rule whose matcher fires wins;
// text that no rule recognizes is due on the next school day.
package resolver

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
)

// Hint is what a matcher read from the text
type Hint struct {
	Tomorrow bool
	Weekday  time.Weekday
	Month    time.Month
	Day      int
}

// Matcher inspects lowercased freeform text
type Matcher func(text string) (Hint, bool)

// ResolveFunc turns a hint into a due date. It reports false when the hint
// cannot yield a date on or after assigned.
type ResolveFunc func(assigned time.Time, h Hint, closures calendar.DateSet, maxIter int) (time.Time, bool)

// Rule is one link of the chain
type Rule struct {
	Name    string
	Match   Matcher
	Resolve ResolveFunc
}

// DefaultRule names the fallback used when no rule applies
const DefaultRule = "default"

var (
	tomorrowRe  = regexp.MustCompile(`\btomorrow\b`)
	dueDayRe    = regexp.MustCompile(`\bdue\s+(?:on\s+)?(` + calendar.WeekdayPattern + `)\b`)
	dueNumRe    = regexp.MustCompile(`\bdue\s+(?:on\s+)?(\d{1,2})/(\d{1,2})\b`)
	dueMonthRe  = regexp.MustCompile(`\bdue\s+(?:on\s+)?(` + calendar.MonthPattern + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	assessDayRe = regexp.MustCompile(`\b(?:quiz|quizzes|test|tests|exam|exams)\s+(?:on\s+)?(tomorrow|` + calendar.WeekdayPattern + `)\b`)
)

// DefaultRules returns the standard chain in precedence order
func DefaultRules() []Rule {
	return []Rule{
		{Name: "tomorrow", Match: matchTomorrow, Resolve: resolveTomorrow},
		{Name: "due-weekday", Match: matchDueWeekday, Resolve: resolveWeekday},
		{Name: "due-numeric", Match: matchDueNumeric, Resolve: resolveExplicit},
		{Name: "due-month-name", Match: matchDueMonthName, Resolve: resolveExplicit},
		{Name: "assessment-day", Match: matchAssessmentDay, Resolve: resolveDay},
	}
}

// Resolver applies a rule chain
type Resolver struct {
	Rules         []Rule
	MaxIterations int
}

// New creates a Resolver with DefaultRules
func New(maxIterations int) *Resolver {
	if maxIterations <= 0 {
		maxIterations = calendar.DefaultMaxIterations
	}
	return &Resolver{Rules: DefaultRules(), MaxIterations: maxIterations}
}

// Resolve returns the due date for a and the name of the rule that produced it
func (r *Resolver) Resolve(a domain.Announcement, closures calendar.DateSet) (time.Time, string) {
	assigned := calendar.Truncate(a.AssignedDate)
	text := strings.ToLower(a.Text)

	for _, rule := range r.Rules {
		h, ok := rule.Match(text)
		if !ok {
			continue
		}
		if due, ok := rule.Resolve(assigned, h, closures, r.MaxIterations); ok {
			return due, rule.Name
		}
		// a matched hint that cannot be honored goes straight to the default
		break
	}
	return calendar.NextSchoolDay(assigned, closures, r.MaxIterations), DefaultRule
}

func matchTomorrow(text string) (Hint, bool) {
	return Hint{Tomorrow: true}, tomorrowRe.MatchString(text)
}

func matchDueWeekday(text string) (Hint, bool) {
	m := dueDayRe.FindStringSubmatch(text)
	if m == nil {
		return Hint{}, false
	}
	wd, ok := calendar.ParseWeekday(m[1])
	return Hint{Weekday: wd}, ok
}

func matchDueNumeric(text string) (Hint, bool) {
	m := dueNumRe.FindStringSubmatch(text)
	if m == nil {
		return Hint{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	// leap day is checked against the real year at resolve time
	if !calendar.Valid(2024, time.Month(month), day) {
		return Hint{}, false
	}
	return Hint{Month: time.Month(month), Day: day}, true
}

func matchDueMonthName(text string) (Hint, bool) {
	m := dueMonthRe.FindStringSubmatch(text)
	if m == nil {
		return Hint{}, false
	}
	month, ok := calendar.ParseMonth(m[1])
	if !ok {
		return Hint{}, false
	}
	day, _ := strconv.Atoi(m[2])
	if !calendar.Valid(2024, month, day) {
		return Hint{}, false
	}
	return Hint{Month: month, Day: day}, true
}

func matchAssessmentDay(text string) (Hint, bool) {
	m := assessDayRe.FindStringSubmatch(text)
	if m == nil {
		return Hint{}, false
	}
	if m[1] == "tomorrow" {
		return Hint{Tomorrow: true}, true
	}
	wd, ok := calendar.ParseWeekday(m[1])
	return Hint{Weekday: wd}, ok
}

func resolveTomorrow(assigned time.Time, _ Hint, closures calendar.DateSet, maxIter int) (time.Time, bool) {
	return calendar.NextSchoolDay(assigned, closures, maxIter), true
}

func resolveWeekday(assigned time.Time, h Hint, closures calendar.DateSet, maxIter int) (time.Time, bool) {
	d := calendar.NextWeekday(assigned, h.Weekday)
	if calendar.IsSchoolDay(d, closures) {
		return d, true
	}
	return calendar.NextSchoolDay(d, closures, maxIter), true
}

func resolveDay(assigned time.Time, h Hint, closures calendar.DateSet, maxIter int) (time.Time, bool) {
	if h.Tomorrow {
		return resolveTomorrow(assigned, h, closures, maxIter)
	}
	return resolveWeekday(assigned, h, closures, maxIter)
}

// resolveExplicit uses the assigned year; the year is never guessed, so a
// date that lands before assigned is rejected
func resolveExplicit(assigned time.Time, h Hint, closures calendar.DateSet, maxIter int) (time.Time, bool) {
	if !calendar.Valid(assigned.Year(), h.Month, h.Day) {
		return time.Time{}, false
	}
	d := calendar.Date(assigned.Year(), h.Month, h.Day)
	due := calendar.NextSchoolDay(d.AddDate(0, 0, -1), closures, maxIter)
	if due.Before(assigned) {
		return time.Time{}, false
	}
	return due, true
}
