// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"scout/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a keyword or target already exists for a subscriber.
var ErrDuplicate = errors.New("already exists")

// Storage is the interface for all persistence operations.
type Storage interface {
	Ping(ctx context.Context) error

	CreateSubscriber(ctx context.Context, sub *model.Subscriber) error
	GetSubscriber(ctx context.Context, id int64) (*model.Subscriber, error)
	ListSubscribersByChannel(ctx context.Context, channelID string) ([]model.Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
	UpdateSubscriber(ctx context.Context, sub *model.Subscriber) error
	DeleteSubscriber(ctx context.Context, id int64) error
	AddKeyword(ctx context.Context, subscriberID int64, phrase string) error
	RemoveKeyword(ctx context.Context, subscriberID int64, phrase string) (bool, error)
	AddTarget(ctx context.Context, subscriberID int64, target model.Target) error
	RemoveTarget(ctx context.Context, subscriberID int64, target model.Target) (bool, error)

	GetCursor(ctx context.Context, key model.CursorKey) (model.Cursor, error)
	AdvanceCursor(ctx context.Context, key model.CursorKey, position string) error
	MarkScanned(ctx context.Context, key model.CursorKey, at time.Time) error
	SetBackoff(ctx context.Context, key model.CursorKey, failures int, until time.Time) error

	RecordIfNew(ctx context.Context, m *model.Match) (model.RecordOutcome, error)
	GetMatch(ctx context.Context, id int64) (*model.Match, error)
	GetMatchByHandle(ctx context.Context, handle string) (*model.Match, error)
	ListUndelivered(ctx context.Context, now time.Time, limit int) ([]model.Match, error)
	ClaimDelivery(ctx context.Context, matchID int64, now time.Time) (bool, error)
	ReleaseDelivery(ctx context.Context, matchID int64) error
	SetDeliveryHandle(ctx context.Context, matchID int64, handle string) error
	SetStatus(ctx context.Context, matchID int64, status model.MatchStatus, at time.Time) (bool, error)
	CountMatches(ctx context.Context, subscriberID int64) (map[model.MatchStatus]int, error)

	AddDraft(ctx context.Context, matchID int64, content string) (model.Draft, error)
	LatestDraft(ctx context.Context, matchID int64) (*model.Draft, error)
	ListDrafts(ctx context.Context, matchID int64) ([]model.Draft, error)
	FinalizeLatestDraft(ctx context.Context, matchID int64) (model.Draft, error)

	SaveSession(ctx context.Context, sess *model.RefineSession) error
	GetSession(ctx context.Context, threadID string) (*model.RefineSession, error)
	DeleteSession(ctx context.Context, threadID string) error
	DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
