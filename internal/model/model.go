// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// SourceKind identifies an external content source.
type SourceKind string

// Supported sources.
const (
	SourceReddit     SourceKind = "reddit"
	SourceHackerNews SourceKind = "hackernews"
	SourceRSS        SourceKind = "rss"
)

// TargetAll is the target name for sources without sub-scoping.
const TargetAll = "all"

// Target is a named scope within a source, e.g. a subreddit or "all".
type Target struct {
	Source SourceKind
	Name   string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Source, t.Name)
}

// Subscriber is a monitoring unit: keywords, targets and a destination channel.
type Subscriber struct {
	ID          int64
	OwnerID     int64
	Name        string
	ChannelID   string
	Keywords    []string
	Targets     []Target
	Interval    time.Duration
	StylePrompt string
	IsActive    bool
	CreatedAt   time.Time
}

// ItemKind is the kind of an external content item.
type ItemKind string

// Supported item kinds.
const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
	KindStory   ItemKind = "story"
)

// Item is a normalized piece of content fetched from a source.
type Item struct {
	ID        string
	Kind      ItemKind
	Source    SourceKind
	Location  string
	Author    string
	Title     string
	Body      string
	URL       string
	CreatedAt time.Time

	// Cursor is the stream position to store once this item is processed.
	// Empty means the item does not move the cursor.
	Cursor string
}

// CursorKey identifies the cursor of one (subscriber, target) pair.
type CursorKey struct {
	SubscriberID int64
	Target       Target
}

// Cursor tracks incremental scan progress for a (subscriber, target) pair.
type Cursor struct {
	Key          CursorKey
	Position     string
	LastScanAt   *time.Time
	Failures     int
	BackoffUntil *time.Time
}

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match statuses. Done and skipped are terminal.
const (
	StatusPending MatchStatus = "pending"
	StatusDone    MatchStatus = "done"
	StatusSkipped MatchStatus = "skipped"
)

// IsTerminal reports whether no further transitions are allowed.
func (s MatchStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusSkipped
}

// Match records that one external item satisfied one subscriber's keywords.
type Match struct {
	ID             int64
	SubscriberID   int64
	ExternalID     string
	Source         SourceKind
	Kind           ItemKind
	Location       string
	Author         string
	Title          string
	Body           string
	Permalink      string
	Keyword        string
	CreatedAt      time.Time
	DiscoveredAt   time.Time
	Status         MatchStatus
	CompletedAt    *time.Time
	DeliveryHandle string
}

// RecordOutcome is the result of a deduplicating insert.
type RecordOutcome int

// Outcomes of RecordIfNew. AlreadyExists is success, not an error.
const (
	Created RecordOutcome = iota + 1
	AlreadyExists
)

func (o RecordOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// Draft is one version of a generated response for a match.
type Draft struct {
	ID        int64
	MatchID   int64
	Version   int
	Content   string
	IsFinal   bool
	CreatedAt time.Time
}

// RefineSession maps a conversation thread to the match being refined.
type RefineSession struct {
	ThreadID     string
	MatchID      int64
	Feedback     []string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Expired reports whether the session has been idle longer than idle.
func (s RefineSession) Expired(now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActiveAt) > idle
}
