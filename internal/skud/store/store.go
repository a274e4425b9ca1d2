package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("duplicate")
	// ErrAbandoned is returned when a CommitGate declined the write. Nothing
	// was stored.
	ErrAbandoned = errors.New("write abandoned")
)

// CommitGate is consulted inside a write just before it commits. Returning
// false rolls the write back. A nil gate always commits.
type CommitGate func() bool

func (g CommitGate) Open() bool { return g == nil || g() }

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// ListFilter is shared by every paginated listing. Zero fields do not filter.
type ListFilter struct {
	ExternalSystem string
	PersonID       *int64
	Status         string
	Source         string
	Page           Page
}

// Millis converts t to the millisecond column representation.
func Millis(t time.Time) int64 { return t.UTC().UnixMilli() }

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
