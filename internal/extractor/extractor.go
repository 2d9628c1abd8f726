// Package extractor turns timetable markup into dated announcements.
//
// The timetable is paragraph oriented: a paragraph like
// "Monday, Dec 1, 2025" opens a date section, and paragraphs like
// "Math: p. 112 #1-20" that follow it are that day's announcements.
// Everything else is prose and is skipped.
package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/domain"
	"golang.org/x/net/html"
)

// DefaultNoHomeworkMarker is the freeform text teachers post for "no homework"
const DefaultNoHomeworkMarker = "NH"

var (
	dateHeaderRe = regexp.MustCompile(`(?i)^(monday|tuesday|wednesday|thursday|friday|saturday|sunday),?\s+([a-z]+)\.?\s+(\d{1,2}),?\s+(\d{4})`)
	subjectRe    = regexp.MustCompile(`^([A-Z][A-Za-z\s()&/]+?):\s*(.+)`)
)

// Block is one paragraph of the timetable
type Block struct {
	Text string
	Link string
}

// Blocks collects <p> elements of doc in document order
func Blocks(doc *html.Node) []Block {
	if doc == nil {
		return nil
	}
	var blocks []Block
	goquery.NewDocumentFromNode(doc).Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.ReplaceAll(s.Text(), "**", "")
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			return
		}
		link, _ := s.Find("a[href]").First().Attr("href")
		blocks = append(blocks, Block{Text: text, Link: strings.TrimSpace(link)})
	})
	return blocks
}

// Extractor groups content blocks under their date headers
type Extractor struct {
	NoHomeworkMarker string
}

// New creates an Extractor; an empty marker selects DefaultNoHomeworkMarker
func New(marker string) *Extractor {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultNoHomeworkMarker
	}
	return &Extractor{NoHomeworkMarker: marker}
}

// Extract returns announcements in document order. It returns an empty
// slice when no block is a date header.
func (e *Extractor) Extract(blocks []Block) []domain.Announcement {
	var (
		out     []domain.Announcement
		current time.Time
		inDate  bool
	)
	for _, b := range blocks {
		if d, ok := ParseDateHeader(b.Text); ok {
			current, inDate = d, true
			continue
		}
		if !inDate {
			continue
		}
		m := subjectRe.FindStringSubmatch(b.Text)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if strings.EqualFold(text, e.NoHomeworkMarker) {
			continue
		}
		out = append(out, domain.Announcement{
			AssignedDate: current,
			Subject:      strings.TrimSpace(m[1]),
			Text:         text,
			Link:         b.Link,
		})
	}
	return out
}

// ParseDateHeader recognizes "<Weekday>, <Month> <Day>, <Year>" at the start
// of text. The weekday name is not cross-checked against the date.
func ParseDateHeader(text string) (time.Time, bool) {
	m := dateHeaderRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return time.Time{}, false
	}
	month, ok := calendar.ParseMonth(m[2])
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[3])
	year, _ := strconv.Atoi(m[4])
	if !calendar.Valid(year, month, day) {
		return time.Time{}, false
	}
	return calendar.Date(year, month, day), true
}
