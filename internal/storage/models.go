package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job is one queued ingest request. Payload holds the document content or
// URL as submitted; Kind names the source format (pdf, html, text, url).
type Job struct {
	ID          string
	Domain      string
	Title       string
	Kind        string
	Payload     string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ProgressRecord is one completed learning activity. Score is only
// meaningful for assessment activities.
type ProgressRecord struct {
	ID        string
	User      string
	Domain    string
	Level     string
	Activity  string // "training", "mentor", "assessment"
	Score     int
	CreatedAt time.Time
}
