// Package scheduler decides which (subscriber, target) pairs are due and
// scans them: fetch since cursor, match, record, deliver.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scout/internal/matcher"
	"scout/internal/metrics"
	"scout/internal/model"
	"scout/internal/source"
	"scout/internal/storage"
)

// undeliveredBatch bounds how many pending alerts are retried per sweep.
const undeliveredBatch = 100

// Notifier delivers alerts for recorded matches and expires idle
// refinement sessions.
type Notifier interface {
	Deliver(ctx context.Context, matchID int64) error
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
}

// Options tunes a Scheduler. Zero fields take defaults.
type Options struct {
	Tick           time.Duration
	Workers        int
	FetchLimit     int
	FetchTimeout   time.Duration
	FailureBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.FetchLimit <= 0 {
		o.FetchLimit = 100
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.FailureBackoff <= 0 {
		o.FailureBackoff = 2 * time.Minute
	}
	return o
}

// Report summarizes one sweep.
type Report struct {
	Due          int
	Processed    int
	Failed       int
	RateLimited  int
	NewMatches   int
	Duplicates   int
	ItemsChecked int
	Redelivered  int
}

// Scheduler periodically scans due targets and hands new matches to the notifier.
type Scheduler struct {
	store    storage.Storage
	sources  source.Registry
	notifier Notifier
	log      *slog.Logger
	opts     Options
}

// New creates a Scheduler.
func New(store storage.Storage, sources source.Registry, notifier Notifier, log *slog.Logger, opts Options) *Scheduler {
	return &Scheduler{
		store:    store,
		sources:  sources,
		notifier: notifier,
		log:      log,
		opts:     opts.withDefaults(),
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	report, err := s.RunDueScans(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("sweep failed", "error", err)
		return
	}
	if report.Due > 0 || report.Redelivered > 0 {
		s.log.Info("sweep finished",
			"due", report.Due,
			"processed", report.Processed,
			"failed", report.Failed,
			"rate_limited", report.RateLimited,
			"new_matches", report.NewMatches,
			"duplicates", report.Duplicates,
			"items_checked", report.ItemsChecked,
			"redelivered", report.Redelivered,
		)
	}
}

// job is one due (subscriber, target) pair.
type job struct {
	sub    model.Subscriber
	target model.Target
	cursor model.Cursor
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeFailed
	outcomeRateLimited
	outcomeCancelled
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeFailed:
		return "failed"
	case outcomeRateLimited:
		return "rate_limited"
	default:
		return "cancelled"
	}
}

type result struct {
	outcome    outcome
	created    int
	duplicates int
	checked    int
}

// RunDueScans performs one sweep at now. Only an unreachable store is
// returned as an error; per-target failures are logged and counted.
func (s *Scheduler) RunDueScans(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	var report Report
	if err := s.store.Ping(ctx); err != nil {
		return report, fmt.Errorf("ping store: %w", err)
	}

	report.Redelivered = s.redeliver(ctx, now)

	jobs, err := s.dueJobs(ctx, now)
	if err != nil {
		return report, err
	}
	report.Due = len(jobs)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := s.scan(gctx, j, now)

			mu.Lock()
			defer mu.Unlock()
			switch res.outcome {
			case outcomeOK:
				report.Processed++
			case outcomeFailed:
				report.Failed++
			case outcomeRateLimited:
				report.RateLimited++
			}
			report.NewMatches += res.created
			report.Duplicates += res.duplicates
			report.ItemsChecked += res.checked
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil {
		if _, err := s.notifier.ExpireSessions(ctx, now); err != nil {
			s.log.Error("expire sessions", "error", err)
		}
	}
	return report, nil
}

// dueJobs re-reads active subscribers and returns the targets due at now.
func (s *Scheduler) dueJobs(ctx context.Context, now time.Time) ([]job, error) {
	subs, err := s.store.ListActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}

	var jobs []job
	for _, sub := range subs {
		if len(sub.Keywords) == 0 {
			continue
		}
		for _, target := range sub.Targets {
			key := model.CursorKey{SubscriberID: sub.ID, Target: target}
			cur, err := s.store.GetCursor(ctx, key)
			if err != nil {
				s.log.Error("get cursor", "subscriber_id", sub.ID, "target", target.String(), "error", err)
				continue
			}
			if IsDue(cur, sub.Interval, now) {
				jobs = append(jobs, job{sub: sub, target: target, cursor: cur})
			}
		}
	}
	return jobs, nil
}

// IsDue reports whether a target with cursor cur should be scanned at now.
func IsDue(cur model.Cursor, interval time.Duration, now time.Time) bool {
	if cur.BackoffUntil != nil && now.Before(*cur.BackoffUntil) {
		return false
	}
	if cur.LastScanAt == nil {
		return true
	}
	return now.Sub(*cur.LastScanAt) >= interval
}

// scan processes one target. The cursor advances after every item, so a
// sweep cut short resumes exactly where it stopped.
func (s *Scheduler) scan(ctx context.Context, j job, now time.Time) result {
	var res result
	log := s.log.With("subscriber_id", j.sub.ID, "target", j.target.String())
	key := j.cursor.Key

	client, err := s.sources.Client(j.target.Source)
	if err != nil {
		log.Error("resolve source", "error", err)
		res.outcome = outcomeFailed
		s.fail(ctx, log, j, now, err)
		return res
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	var fetchErr error
	var created []int64
	for item, err := range client.FetchSince(scanCtx, j.target.Name, j.cursor.Position, s.opts.FetchLimit) {
		if err != nil {
			fetchErr = err
			break
		}
		res.checked++

		if hit, ok := matcher.FindMatch(item, j.sub.Keywords); ok {
			id, err := s.record(ctx, j.sub, item, hit, now)
			if err != nil {
				fetchErr = err
				break
			}
			if id != 0 {
				created = append(created, id)
			} else {
				res.duplicates++
			}
		}

		if err := s.store.AdvanceCursor(ctx, key, item.Cursor); err != nil {
			fetchErr = fmt.Errorf("advance cursor: %w", err)
			break
		}
	}

	switch {
	case fetchErr == nil && scanCtx.Err() == nil:
		if err := s.store.MarkScanned(ctx, key, now); err != nil {
			log.Error("mark scanned", "error", err)
		}
		res.outcome = outcomeOK
	case ctx.Err() != nil:
		res.outcome = outcomeCancelled
	default:
		if fetchErr == nil {
			fetchErr = fmt.Errorf("%w: %w", source.ErrUnavailable, scanCtx.Err())
		}
		var rl *source.RateLimitedError
		if errors.As(fetchErr, &rl) {
			res.outcome = outcomeRateLimited
			log.Warn("source rate limited", "retry_after", rl.RetryAfter)
			if err := s.store.SetBackoff(ctx, key, j.cursor.Failures, now.Add(rl.RetryAfter)); err != nil {
				log.Error("set backoff", "error", err)
			}
		} else {
			res.outcome = outcomeFailed
			s.fail(ctx, log, j, now, fetchErr)
		}
	}

	metrics.ObserveScan(string(j.target.Source), res.outcome.String())

	// Recorded matches are delivered even when the scan failed part way.
	res.created = len(created)
	if res.created > 0 {
		log.Info("new matches", "count", res.created, "items_checked", res.checked)
	}
	for _, id := range created {
		if ctx.Err() != nil {
			break
		}
		if err := s.notifier.Deliver(ctx, id); err != nil {
			log.Error("deliver match", "match_id", id, "error", err)
		}
	}
	return res
}

// record persists a hit and returns the new match ID, or zero when the
// item was already recorded for this subscriber.
func (s *Scheduler) record(ctx context.Context, sub model.Subscriber, item model.Item, hit matcher.Result, now time.Time) (int64, error) {
	m := &model.Match{
		SubscriberID: sub.ID,
		ExternalID:   item.ID,
		Source:       item.Source,
		Kind:         item.Kind,
		Location:     item.Location,
		Author:       item.Author,
		Title:        item.Title,
		Body:         hit.Snippet,
		Permalink:    item.URL,
		Keyword:      hit.Keyword,
		CreatedAt:    item.CreatedAt,
		DiscoveredAt: now,
	}
	out, err := s.store.RecordIfNew(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("record match %s: %w", item.ID, err)
	}
	metrics.ObserveMatch(string(item.Source), out.String())
	if out != model.Created {
		return 0, nil
	}
	s.log.Debug("match recorded", "match_id", m.ID, "subscriber_id", sub.ID, "external_id", m.ExternalID, "keyword", m.Keyword)
	return m.ID, nil
}

// fail records a failed scan and backs the target off exponentially,
// capped at the subscriber's interval.
func (s *Scheduler) fail(ctx context.Context, log *slog.Logger, j job, now time.Time, cause error) {
	failures := j.cursor.Failures + 1
	delay := Backoff(s.opts.FailureBackoff, failures, j.sub.Interval)
	log.Warn("scan failed", "failures", failures, "backoff", delay, "error", cause)
	if err := s.store.SetBackoff(ctx, j.cursor.Key, failures, now.Add(delay)); err != nil {
		log.Error("set backoff", "error", err)
	}
}

// Backoff returns base·2^(failures-1), capped at limit.
func Backoff(base time.Duration, failures int, limit time.Duration) time.Duration {
	d := base
	for i := 1; i < failures && d < limit; i++ {
		d *= 2
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

// redeliver retries alerts for pending matches that never reached the channel.
// Matches whose delivery is claimed by another sweep are left alone.
func (s *Scheduler) redeliver(ctx context.Context, now time.Time) int {
	pending, err := s.store.ListUndelivered(ctx, now, undeliveredBatch)
	if err != nil {
		s.log.Error("list undelivered", "error", err)
		return 0
	}

	delivered := 0
	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := s.notifier.Deliver(ctx, m.ID); err != nil {
			s.log.Error("redeliver match", "match_id", m.ID, "subscriber_id", m.SubscriberID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
