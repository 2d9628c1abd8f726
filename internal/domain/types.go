package domain

import (
	"errors"
	"time"
)

var (
	// ErrSourceFetch marks a timetable source that could not be fetched or parsed.
	ErrSourceFetch = errors.New("source fetch failed")
	// ErrStore marks a failure reading or writing the homework store.
	ErrStore = errors.New("store failure")
	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("not found")
)

// Status of a persisted homework record relative to today
type Status string

const (
	StatusPending Status = "pending"
	StatusPast    Status = "past"
)

// ItemType is the optional classification attached by a splitter
type ItemType string

const (
	ItemUnset    ItemType = ""
	ItemHomework ItemType = "homework"
	ItemQuiz     ItemType = "quiz"
	ItemTest     ItemType = "test"
	ItemReading  ItemType = "reading"
	ItemProject  ItemType = "project"
)

// EventTypeNoSchool is the school event type that marks a closure date
const EventTypeNoSchool = "no_school"

// Announcement is one subject entry under a timetable date header
type Announcement struct {
	AssignedDate time.Time `json:"assigned_date"`
	Subject      string    `json:"subject"`
	Text         string    `json:"text"`
	Link         string    `json:"link,omitempty"`
}

// SchoolEvent is a row of the externally maintained events collection
type SchoolEvent struct {
	ID          string    `json:"id"`
	EventDate   time.Time `json:"event_date"`
	EventType   string    `json:"event_type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
}

// ResolvedAssignment is an announcement with a concrete due date and identity
type ResolvedAssignment struct {
	Subject      string    `json:"subject"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	AssignedDate time.Time `json:"assigned_date"`
	DueDate      time.Time `json:"due_date"`
	ItemType     ItemType  `json:"item_type,omitempty"`
	Link         string    `json:"link,omitempty"`
	IdentityKey  string    `json:"identity_key"`
	Rule         string    `json:"rule"`
}

// SourceCanvas is the source synced records are stored under. A saved copy
// of the front page is the same timetable, so file imports share it.
const SourceCanvas = "canvas"

// Scope selects the records a sync run owns
type Scope struct {
	OwnerID string
	Source  string
}

// HomeworkRecord is a persisted homework item
type HomeworkRecord struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	ExternalID   string     `json:"external_id"`
	Subject      string     `json:"subject"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Link         string     `json:"link,omitempty"`
	DateAssigned time.Time  `json:"date_assigned"`
	DateDue      time.Time  `json:"date_due"`
	Status       Status     `json:"status"`
	CheckedOff   bool       `json:"checked_off"`
	CheckedAt    *time.Time `json:"checked_at,omitempty"`
	Source       string     `json:"source"`
	SyncedAt     time.Time  `json:"synced_at"`
}

// WriteFailure is a record a scope replacement could not store
type WriteFailure struct {
	Record HomeworkRecord
	Err    error
}

// ReplaceResult reports what a scope replacement committed
type ReplaceResult struct {
	Deleted  int
	Inserted int
	Failed   []WriteFailure
}
