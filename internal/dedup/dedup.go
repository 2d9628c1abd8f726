// Package dedup computes stable identity keys for resolved assignments and
// collapses quizzes and tests that were announced more than once.
package dedup

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
)

// PrefixLen is how many runes of the normalized title feed the identity key
const PrefixLen = 30

// namespace for UUIDv5 identity keys; changing it re-keys every record
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/pbaille/hwsync/homework"))

var (
	numericDateRe = regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`)
	monthDateRe   = regexp.MustCompile(`\b(?:` + calendar.MonthPattern + `)\.?\s*\d{1,2}(?:st|nd|rd|th)?\b`)
	dayMonthRe    = regexp.MustCompile(`\b\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?(?:` + calendar.MonthPattern + `)\b`)
	weekdayRe     = regexp.MustCompile(`\b(?:` + calendar.WeekdayPattern + `)\b`)
	relativeRe    = regexp.MustCompile(`\b(?:tomorrow|today|tonight)\b`)
	assessmentRe  = regexp.MustCompile(`(?i)\b(?:quiz|quizzes|test|tests|exam|exams)\b`)
)

// NormalizeTitle reduces a title to the words that identify the work,
// dropping every date reference so re-announcements compare equal
func NormalizeTitle(title string) string {
	s := strings.ToLower(title)
	s = numericDateRe.ReplaceAllString(s, " ")
	s = monthDateRe.ReplaceAllString(s, " ")
	s = dayMonthRe.ReplaceAllString(s, " ")
	s = weekdayRe.ReplaceAllString(s, " ")
	s = relativeRe.ReplaceAllString(s, " ")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TitlePrefix is the first PrefixLen runes of the normalized title
func TitlePrefix(title string) string {
	r := []rune(NormalizeTitle(title))
	if len(r) > PrefixLen {
		r = r[:PrefixLen]
	}
	return string(r)
}

func normSubject(subject string) string {
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

// FallbackKey identifies a (subject, due date) slot
func FallbackKey(subject string, due time.Time) string {
	return normSubject(subject) + "|" + calendar.Format(due)
}

// IdentityKey is the deterministic external id of an assignment
func IdentityKey(subject string, due time.Time, title string) string {
	name := FallbackKey(subject, due) + "|" + TitlePrefix(title)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// IsQuizOrTest reports whether a title names a quiz, test or exam
func IsQuizOrTest(title string) bool {
	return assessmentRe.MatchString(title)
}

// IsAssessment is IsQuizOrTest extended to items a splitter typed as such
func IsAssessment(a domain.ResolvedAssignment) bool {
	if a.ItemType == domain.ItemQuiz || a.ItemType == domain.ItemTest {
		return true
	}
	return IsQuizOrTest(a.Title)
}

// Collapse removes redundant assignments. Quizzes and tests sharing a
// subject and due date keep only the latest announcement (the later one in
// input order on a tie); other items are dropped only when their identity
// key repeats. Kept items stay in input order.
func Collapse(items []domain.ResolvedAssignment) []domain.ResolvedAssignment {
	winner := make(map[string]int)
	for i, it := range items {
		if !IsAssessment(it) {
			continue
		}
		k := FallbackKey(it.Subject, it.DueDate)
		j, ok := winner[k]
		if !ok || !it.AssignedDate.Before(items[j].AssignedDate) {
			winner[k] = i
		}
	}

	out := make([]domain.ResolvedAssignment, 0, len(items))
	seen := make(map[string]bool)
	for i, it := range items {
		if IsAssessment(it) {
			if winner[FallbackKey(it.Subject, it.DueDate)] != i {
				continue
			}
		} else {
			if seen[it.IdentityKey] {
				continue
			}
			seen[it.IdentityKey] = true
		}
		out = append(out, it)
	}
	return out
}
