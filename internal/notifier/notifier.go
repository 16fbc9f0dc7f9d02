// Package notifier delivers match alerts to a notification channel and
// handles the interactions attached to them: status changes, draft
// regeneration and refinement sessions.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"scout/internal/drafting"
	"scout/internal/metrics"
	"scout/internal/model"
	"scout/internal/storage"
)

var (
	// ErrDeliveryFailed is returned when the channel rejects a send or edit.
	// The match itself is already recorded.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrSessionExpired is returned for a refinement session idle past the timeout.
	ErrSessionExpired = errors.New("refinement session expired")
	// ErrUnknownThread is returned for feedback on a thread that belongs to no alert.
	ErrUnknownThread = errors.New("unknown thread")
	// ErrNoDraft is returned when an action needs a draft and none exists.
	ErrNoDraft = errors.New("no draft")
	// ErrClosed is returned for draft actions on a match that is done or skipped.
	ErrClosed = errors.New("match is closed")
	// ErrDraftingDisabled is returned when no draft generator is configured.
	ErrDraftingDisabled = errors.New("drafting is disabled")
)

// Channel is the notification channel boundary.
type Channel interface {
	// Send posts a new alert and returns its delivery handle.
	Send(ctx context.Context, channelID string, msg Message) (string, error)
	// Edit replaces the alert identified by handle.
	Edit(ctx context.Context, handle string, msg Message) error
}

// Drafter produces a new draft version for a match.
type Drafter interface {
	Draft(ctx context.Context, match *model.Match, sub *model.Subscriber, feedback []string) (model.Draft, error)
}

// Service renders and delivers alerts and applies user actions.
type Service struct {
	store   storage.Storage
	channel Channel
	drafter Drafter
	limiter *rate.Limiter
	idle    time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Service. drafter may be nil when drafting is disabled.
// limiter throttles every call towards the channel.
func New(store storage.Storage, channel Channel, drafter Drafter, limiter *rate.Limiter, idle time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		channel: channel,
		drafter: drafter,
		limiter: limiter,
		idle:    idle,
		log:     log,
		now:     time.Now,
	}
}

// Deliver sends the alert for a match, or edits it if it was sent before.
// A missing draft is generated first; when that fails the alert is still
// delivered with a visible marker. A first send is claimed in the store
// beforehand, so a match being delivered by another sweep is left to it.
func (s *Service) Deliver(ctx context.Context, matchID int64) error {
	m, sub, err := s.load(ctx, matchID)
	if err != nil {
		return err
	}

	if m.DeliveryHandle == "" {
		claimed, err := s.store.ClaimDelivery(ctx, m.ID, s.now())
		if err != nil {
			return err
		}
		if !claimed {
			s.log.Debug("delivery already in flight", "match_id", m.ID, "subscriber_id", sub.ID)
			return nil
		}
	}

	err = s.deliver(ctx, m, sub)
	if err != nil && m.DeliveryHandle == "" {
		// Release even when the sweep was cancelled.
		if rerr := s.store.ReleaseDelivery(context.WithoutCancel(ctx), m.ID); rerr != nil {
			s.log.Error("release delivery", "match_id", m.ID, "error", rerr)
		}
	}
	return err
}

func (s *Service) deliver(ctx context.Context, m *model.Match, sub *model.Subscriber) error {
	draft, err := s.store.LatestDraft(ctx, m.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load draft: %w", err)
	}

	var note string
	if draft == nil && !m.Status.IsTerminal() {
		draft, note = s.generate(ctx, m, sub)
	}

	return s.publish(ctx, m, sub, Render(m, draft, note, s.now()))
}

// MarkDone closes a match as handled. It returns the match's resulting
// status and whether this call changed it; repeated calls are no-ops.
func (s *Service) MarkDone(ctx context.Context, matchID int64) (model.MatchStatus, bool, error) {
	return s.close(ctx, matchID, model.StatusDone)
}

// MarkSkipped closes a match as ignored, with the same results as MarkDone.
func (s *Service) MarkSkipped(ctx context.Context, matchID int64) (model.MatchStatus, bool, error) {
	return s.close(ctx, matchID, model.StatusSkipped)
}

func (s *Service) close(ctx context.Context, matchID int64, status model.MatchStatus) (model.MatchStatus, bool, error) {
	changed, err := s.store.SetStatus(ctx, matchID, status, s.now())
	if err != nil {
		return "", false, fmt.Errorf("set status: %w", err)
	}
	if !changed {
		m, err := s.store.GetMatch(ctx, matchID)
		if err != nil {
			return "", false, fmt.Errorf("get match: %w", err)
		}
		return m.Status, false, nil
	}
	s.log.Info("match closed", "match_id", matchID, "status", status)
	return status, true, s.refresh(ctx, matchID)
}

// Regenerate creates a new draft version without feedback and updates the alert.
func (s *Service) Regenerate(ctx context.Context, matchID int64) (model.Draft, error) {
	return s.redraft(ctx, matchID, nil)
}

// StartRefine binds threadID to a match so that replies on it become
// feedback. An existing session on the thread is replaced.
func (s *Service) StartRefine(ctx context.Context, matchID int64, threadID string) error {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("get match: %w", err)
	}
	if m.Status.IsTerminal() {
		return ErrClosed
	}
	now := s.now()
	sess := &model.RefineSession{
		ThreadID:     threadID,
		MatchID:      matchID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Feedback appends text to the session on threadID and generates a revised
// draft. An unknown or expired thread starts a fresh session for the match
// whose alert carries that handle.
func (s *Service) Feedback(ctx context.Context, threadID, text string) (model.Draft, error) {
	sess, err := s.session(ctx, threadID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, ErrSessionExpired) {
		sess, err = s.freshSession(ctx, threadID)
	}
	if err != nil {
		return model.Draft{}, err
	}

	sess.Feedback = append(sess.Feedback, text)
	sess.LastActiveAt = s.now()
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return model.Draft{}, fmt.Errorf("save session: %w", err)
	}

	return s.redraft(ctx, sess.MatchID, sess.Feedback)
}

func (s *Service) session(ctx context.Context, threadID string) (*model.RefineSession, error) {
	sess, err := s.store.GetSession(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now(), s.idle) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func (s *Service) freshSession(ctx context.Context, threadID string) (*model.RefineSession, error) {
	m, err := s.store.GetMatchByHandle(ctx, threadID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrUnknownThread)
	}
	if err != nil {
		return nil, fmt.Errorf("get match by handle: %w", err)
	}
	now := s.now()
	return &model.RefineSession{
		ThreadID:     threadID,
		MatchID:      m.ID,
		CreatedAt:    now,
		LastActiveAt: now,
	}, nil
}

// Finalize marks the latest draft as the final one and ends refinement.
func (s *Service) Finalize(ctx context.Context, matchID int64) (model.Draft, error) {
	draft, err := s.store.FinalizeLatestDraft(ctx, matchID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Draft{}, ErrNoDraft
	}
	if err != nil {
		return model.Draft{}, fmt.Errorf("finalize draft: %w", err)
	}

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return model.Draft{}, fmt.Errorf("get match: %w", err)
	}
	if m.DeliveryHandle != "" {
		if err := s.store.DeleteSession(ctx, m.DeliveryHandle); err != nil {
			return model.Draft{}, fmt.Errorf("end session: %w", err)
		}
	}
	return draft, s.refresh(ctx, matchID)
}

// CopyPlain returns the text to copy for a match: the final draft if one
// exists, otherwise the latest.
func (s *Service) CopyPlain(ctx context.Context, matchID int64) (string, error) {
	drafts, err := s.store.ListDrafts(ctx, matchID)
	if err != nil {
		return "", fmt.Errorf("list drafts: %w", err)
	}
	if len(drafts) == 0 {
		return "", ErrNoDraft
	}
	for _, d := range drafts {
		if d.IsFinal {
			return d.Content, nil
		}
	}
	return drafts[len(drafts)-1].Content, nil
}

// ExpireSessions deletes refinement sessions idle past the timeout.
func (s *Service) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeleteIdleSessions(ctx, now.Add(-s.idle))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired refinement sessions", "count", n)
	}
	return n, nil
}

func (s *Service) redraft(ctx context.Context, matchID int64, feedback []string) (model.Draft, error) {
	m, sub, err := s.load(ctx, matchID)
	if err != nil {
		return model.Draft{}, err
	}
	if m.Status.IsTerminal() {
		return model.Draft{}, ErrClosed
	}
	if s.drafter == nil {
		return model.Draft{}, ErrDraftingDisabled
	}

	draft, err := s.drafter.Draft(ctx, m, sub, feedback)
	if err != nil {
		s.log.Warn("draft generation failed", "match_id", m.ID, "subscriber_id", sub.ID, "error", err)
		return model.Draft{}, err
	}
	return draft, s.refresh(ctx, matchID)
}

// generate tries to produce a first draft and returns either the draft or
// a note explaining why there is none.
func (s *Service) generate(ctx context.Context, m *model.Match, sub *model.Subscriber) (*model.Draft, string) {
	if s.drafter == nil {
		return nil, "Draft unavailable: drafting is disabled."
	}
	draft, err := s.drafter.Draft(ctx, m, sub, nil)
	if err != nil {
		s.log.Warn("draft generation failed",
			"match_id", m.ID, "subscriber_id", sub.ID, "external_id", m.ExternalID, "error", err)
		if errors.Is(err, drafting.ErrRejected) {
			return nil, "Draft unavailable: the request was rejected. Use Regenerate to try again."
		}
		return nil, "Draft unavailable: the generator could not be reached. Use Regenerate to try again."
	}
	return &draft, ""
}

// refresh re-renders an already delivered alert from stored state.
func (s *Service) refresh(ctx context.Context, matchID int64) error {
	m, sub, err := s.load(ctx, matchID)
	if err != nil {
		return err
	}
	if m.DeliveryHandle == "" {
		return nil
	}
	draft, err := s.store.LatestDraft(ctx, m.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load draft: %w", err)
	}
	return s.publish(ctx, m, sub, Render(m, draft, "", s.now()))
}

func (s *Service) publish(ctx context.Context, m *model.Match, sub *model.Subscriber, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for delivery slot: %w", err)
	}

	if m.DeliveryHandle != "" {
		if err := s.channel.Edit(ctx, m.DeliveryHandle, msg); err != nil {
			metrics.ObserveDelivery("edit", "error")
			return fmt.Errorf("%w: edit match %d: %w", ErrDeliveryFailed, m.ID, err)
		}
		metrics.ObserveDelivery("edit", "ok")
		return nil
	}

	handle, err := s.channel.Send(ctx, sub.ChannelID, msg)
	if err != nil {
		metrics.ObserveDelivery("send", "error")
		return fmt.Errorf("%w: send match %d: %w", ErrDeliveryFailed, m.ID, err)
	}
	metrics.ObserveDelivery("send", "ok")

	if err := s.store.SetDeliveryHandle(ctx, m.ID, handle); err != nil {
		return fmt.Errorf("store delivery handle: %w", err)
	}
	m.DeliveryHandle = handle
	s.log.Info("alert delivered", "match_id", m.ID, "subscriber_id", sub.ID, "handle", handle)
	return nil
}

func (s *Service) load(ctx context.Context, matchID int64) (*model.Match, *model.Subscriber, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, fmt.Errorf("get match: %w", err)
	}
	sub, err := s.store.GetSubscriber(ctx, m.SubscriberID)
	if err != nil {
		return nil, nil, fmt.Errorf("get subscriber: %w", err)
	}
	return m, sub, nil
}
