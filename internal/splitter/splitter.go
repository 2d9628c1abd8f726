// Package splitter breaks one announcement into structured items.
//
// A single timetable line often mixes a quiz, homework and reading. A
// Splitter may separate them and tag each with an item type; the pipeline
// works without one by treating every announcement as a single item.
package splitter

import (
	"context"

	"github.com/pbaille/hwsync/internal/domain"
)

// Item is one piece of work carved out of an announcement
type Item struct {
	Text     string          `json:"text"`
	ItemType domain.ItemType `json:"type,omitempty"`
}

// Splitter splits an announcement into items
type Splitter interface {
	Split(ctx context.Context, a domain.Announcement) ([]Item, error)
}

// PassThrough maps each announcement to one untyped item
type PassThrough struct{}

// Split returns the announcement text unchanged
func (PassThrough) Split(_ context.Context, a domain.Announcement) ([]Item, error) {
	return []Item{{Text: a.Text}}, nil
}
