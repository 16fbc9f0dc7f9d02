package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"scout/internal/model"
	"scout/internal/source"
	"scout/internal/storage"
)

// fakeSource serves canned items per target, oldest first.
type fakeSource struct {
	mu           sync.Mutex
	items        map[string][]model.Item
	failAfter    map[string]int // yield this many items, then err
	err          error
	ignoreCursor bool
	calls        int
}

func (f *fakeSource) FetchSince(_ context.Context, target, cursor string, limit int) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		f.mu.Lock()
		f.calls++
		items := f.items[target]
		failAfter, failing := f.failAfter[target]
		f.mu.Unlock()

		n := 0
		for _, it := range items {
			if !f.ignoreCursor && it.Cursor <= cursor {
				continue
			}
			if failing && n == failAfter {
				yield(model.Item{}, f.err)
				return
			}
			if n == limit {
				return
			}
			if !yield(it, nil) {
				return
			}
			n++
		}
		if failing && n == failAfter {
			yield(model.Item{}, f.err)
		}
	}
}

// fakeNotifier records deliveries and stores a handle on success.
type fakeNotifier struct {
	mu        sync.Mutex
	store     storage.Storage
	delivered []int64
	fail      bool
	expiries  int
}

func (n *fakeNotifier) Deliver(ctx context.Context, matchID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("channel down")
	}
	n.delivered = append(n.delivered, matchID)
	return n.store.SetDeliveryHandle(ctx, matchID, fmt.Sprintf("100:%d", matchID))
}

func (n *fakeNotifier) ExpireSessions(context.Context, time.Time) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expiries++
	return 0, nil
}

func (n *fakeNotifier) deliveredIDs() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.delivered...)
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func redditItem(id, title, cursor string) model.Item {
	return model.Item{
		ID:        "t3_" + id,
		Kind:      model.KindPost,
		Source:    model.SourceReddit,
		Location:  "golang",
		Author:    "gopher",
		Title:     title,
		URL:       "https://reddit.com/r/golang/comments/" + id + "/",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Cursor:    cursor,
	}
}

type harness struct {
	store    *storage.SQLite
	reddit   *fakeSource
	hn       *fakeSource
	notifier *fakeNotifier
	sched    *Scheduler
	sub      model.Subscriber
	now      time.Time
}

func newHarness(t *testing.T, targets ...model.Target) *harness {
	t.Helper()
	ctx := context.Background()
	store := newTestStore(t)

	if len(targets) == 0 {
		targets = []model.Target{{Source: model.SourceReddit, Name: "golang"}}
	}
	sub := model.Subscriber{
		OwnerID:   1,
		Name:      "python watch",
		ChannelID: "100",
		Keywords:  []string{"python"},
		Targets:   targets,
		Interval:  time.Hour,
		IsActive:  true,
	}
	if err := store.CreateSubscriber(ctx, &sub); err != nil {
		t.Fatalf("create subscriber: %v", err)
	}

	h := &harness{
		store:    store,
		reddit:   &fakeSource{items: map[string][]model.Item{}},
		hn:       &fakeSource{items: map[string][]model.Item{}},
		notifier: &fakeNotifier{store: store},
		sub:      sub,
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	sources := source.Registry{
		model.SourceReddit:     h.reddit,
		model.SourceHackerNews: h.hn,
	}
	h.sched = New(store, sources, h.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Workers:        2,
		FetchLimit:     50,
		FailureBackoff: 2 * time.Minute,
	})
	return h
}

func (h *harness) cursor(t *testing.T, target model.Target) model.Cursor {
	t.Helper()
	cur, err := h.store.GetCursor(context.Background(), model.CursorKey{SubscriberID: h.sub.ID, Target: target})
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	return cur
}

var golang = model.Target{Source: model.SourceReddit, Name: "golang"}

func TestRunDueScansRecordsAndDelivers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.items["golang"] = []model.Item{
		redditItem("abc", "Learning Python in 2024", "001"),
		redditItem("def", "Rust or Go?", "002"),
	}

	report, err := h.sched.RunDueScans(ctx, h.now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := Report{Due: 1, Processed: 1, NewMatches: 1, ItemsChecked: 2}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	delivered := h.notifier.deliveredIDs()
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(delivered))
	}
	m, err := h.store.GetMatch(ctx, delivered[0])
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if m.ExternalID != "t3_abc" || m.Keyword != "python" || m.Status != model.StatusPending {
		t.Errorf("unexpected match: %+v", m)
	}
	if m.Permalink != "https://reddit.com/r/golang/comments/abc/" {
		t.Errorf("permalink = %q", m.Permalink)
	}
	if !m.DiscoveredAt.Equal(h.now) {
		t.Errorf("discovered at = %v, want %v", m.DiscoveredAt, h.now)
	}

	cur := h.cursor(t, golang)
	if cur.Position != "002" {
		t.Errorf("cursor = %q, want 002", cur.Position)
	}
	if cur.LastScanAt == nil || !cur.LastScanAt.Equal(h.now) {
		t.Errorf("last scan = %v, want %v", cur.LastScanAt, h.now)
	}
	if h.notifier.expiries != 1 {
		t.Errorf("expected sessions to be expired once, got %d", h.notifier.expiries)
	}
}

func TestRunDueScansNotDueUntilInterval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.items["golang"] = []model.Item{redditItem("abc", "python", "001")}

	if _, err := h.sched.RunDueScans(ctx, h.now); err != nil {
		t.Fatalf("run: %v", err)
	}
	report, err := h.sched.RunDueScans(ctx, h.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("run again: %v", err)
	}
	if diff := cmp.Diff(Report{}, report); diff != "" {
		t.Errorf("second sweep should do nothing (-want +got):\n%s", diff)
	}
	if h.reddit.calls != 1 {
		t.Errorf("source called %d times, want 1", h.reddit.calls)
	}
}

func TestRunDueScansDeduplicates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.ignoreCursor = true
	h.reddit.items["golang"] = []model.Item{redditItem("abc", "python tips", "001")}

	if _, err := h.sched.RunDueScans(ctx, h.now); err != nil {
		t.Fatalf("run: %v", err)
	}
	report, err := h.sched.RunDueScans(ctx, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if report.NewMatches != 0 || report.Duplicates != 1 {
		t.Errorf("report = %+v, want 0 new and 1 duplicate", report)
	}
	if got := len(h.notifier.deliveredIDs()); got != 1 {
		t.Errorf("duplicate must not be delivered again, deliveries = %d", got)
	}
	counts, err := h.store.CountMatches(ctx, h.sub.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[model.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", counts[model.StatusPending])
	}
}

func TestRunDueScansIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	hn := model.Target{Source: model.SourceHackerNews, Name: model.TargetAll}
	h := newHarness(t, golang, hn)
	h.reddit.items["golang"] = []model.Item{redditItem("abc", "python", "001")}
	h.hn.failAfter = map[string]int{model.TargetAll: 0}
	h.hn.err = fmt.Errorf("%w: status 503", source.ErrUnavailable)

	report, err := h.sched.RunDueScans(ctx, h.now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 1 || report.Failed != 1 || report.NewMatches != 1 {
		t.Errorf("report = %+v", report)
	}

	cur := h.cursor(t, hn)
	if cur.Failures != 1 {
		t.Errorf("failures = %d, want 1", cur.Failures)
	}
	if cur.LastScanAt != nil {
		t.Errorf("failed target should not be marked scanned")
	}
	if want := h.now.Add(2 * time.Minute); cur.BackoffUntil == nil || !cur.BackoffUntil.Equal(want) {
		t.Errorf("backoff until = %v, want %v", cur.BackoffUntil, want)
	}

	// Still backing off: not due.
	report, err = h.sched.RunDueScans(ctx, h.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Due != 0 {
		t.Errorf("due = %d while backing off", report.Due)
	}

	// Second failure doubles the delay.
	second := h.now.Add(2 * time.Minute)
	if _, err := h.sched.RunDueScans(ctx, second); err != nil {
		t.Fatalf("run: %v", err)
	}
	cur = h.cursor(t, hn)
	if want := second.Add(4 * time.Minute); cur.Failures != 2 || !cur.BackoffUntil.Equal(want) {
		t.Errorf("cursor = failures %d until %v, want 2 until %v", cur.Failures, cur.BackoffUntil, want)
	}

	// Recovery resets the failure state.
	h.hn.failAfter = nil
	third := second.Add(4 * time.Minute)
	if _, err := h.sched.RunDueScans(ctx, third); err != nil {
		t.Fatalf("run: %v", err)
	}
	cur = h.cursor(t, hn)
	if cur.Failures != 0 || cur.BackoffUntil != nil {
		t.Errorf("cursor not reset after success: %+v", cur)
	}
}

func TestRunDueScansKeepsCursorBeforeFailedItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.items["golang"] = []model.Item{
		redditItem("a", "python one", "001"),
		redditItem("b", "nothing", "002"),
		redditItem("c", "python three", "003"),
	}
	h.reddit.failAfter = map[string]int{"golang": 2}
	h.reddit.err = fmt.Errorf("%w: connection reset", source.ErrUnavailable)

	report, err := h.sched.RunDueScans(ctx, h.now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 || report.NewMatches != 1 || report.ItemsChecked != 2 {
		t.Errorf("report = %+v", report)
	}
	if cur := h.cursor(t, golang); cur.Position != "002" {
		t.Errorf("cursor = %q, want 002", cur.Position)
	}

	// Next attempt resumes after the last processed item.
	h.reddit.failAfter = nil
	report, err = h.sched.RunDueScans(ctx, h.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.NewMatches != 1 || report.ItemsChecked != 1 || report.Duplicates != 0 {
		t.Errorf("resumed report = %+v", report)
	}
	if cur := h.cursor(t, golang); cur.Position != "003" {
		t.Errorf("cursor = %q, want 003", cur.Position)
	}
}

func TestRunDueScansRateLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.failAfter = map[string]int{"golang": 0}
	h.reddit.err = &source.RateLimitedError{RetryAfter: 42 * time.Second}

	report, err := h.sched.RunDueScans(ctx, h.now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.RateLimited != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	cur := h.cursor(t, golang)
	if cur.Failures != 0 {
		t.Errorf("rate limit should not count as failure, got %d", cur.Failures)
	}
	if want := h.now.Add(42 * time.Second); cur.BackoffUntil == nil || !cur.BackoffUntil.Equal(want) {
		t.Errorf("backoff until = %v, want %v", cur.BackoffUntil, want)
	}
}

func TestRunDueScansSkipsInactiveSubscribers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.items["golang"] = []model.Item{redditItem("abc", "python", "001")}

	h.sub.IsActive = false
	if err := h.store.UpdateSubscriber(ctx, &h.sub); err != nil {
		t.Fatalf("update: %v", err)
	}

	report, err := h.sched.RunDueScans(ctx, h.now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Due != 0 || h.reddit.calls != 0 {
		t.Errorf("inactive subscriber scanned: report %+v, calls %d", report, h.reddit.calls)
	}
}

func TestRunDueScansRedeliversPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reddit.items["golang"] = []model.Item{redditItem("abc", "python", "001")}
	h.notifier.fail = true

	report, err := h.sched.RunDueScans(ctx, h.now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.NewMatches != 1 || report.Processed != 1 {
		t.Errorf("delivery failure must not fail the scan: %+v", report)
	}

	h.notifier.fail = false
	report, err = h.sched.RunDueScans(ctx, h.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Redelivered != 1 {
		t.Errorf("redelivered = %d, want 1", report.Redelivered)
	}

	report, err = h.sched.RunDueScans(ctx, h.now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Redelivered != 0 {
		t.Errorf("delivered match retried again: %d", report.Redelivered)
	}
}

func TestRunDueScansCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.reddit.items["golang"] = []model.Item{redditItem("abc", "python", "001")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.sched.RunDueScans(ctx, h.now); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if got := len(h.notifier.deliveredIDs()); got != 0 {
		t.Errorf("expected no deliveries, got %d", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.sched.opts.Tick = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name string
		cur  model.Cursor
		want bool
	}{
		{"never scanned", model.Cursor{}, true},
		{"scanned recently", model.Cursor{LastScanAt: at(-30 * time.Minute)}, false},
		{"interval elapsed", model.Cursor{LastScanAt: at(-time.Hour)}, true},
		{"backing off", model.Cursor{BackoffUntil: at(time.Minute)}, false},
		{"backoff over", model.Cursor{LastScanAt: at(-2 * time.Hour), BackoffUntil: at(-time.Second)}, true},
		{"backoff over but scanned recently", model.Cursor{LastScanAt: at(-time.Minute), BackoffUntil: at(-time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.cur, time.Hour, now); got != tt.want {
				t.Errorf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		failures int
		limit    time.Duration
		want     time.Duration
	}{
		{1, time.Hour, 2 * time.Minute},
		{2, time.Hour, 4 * time.Minute},
		{3, time.Hour, 8 * time.Minute},
		{6, time.Hour, time.Hour},
		{50, time.Hour, time.Hour},
		{3, 5 * time.Minute, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(2*time.Minute, tt.failures, tt.limit); got != tt.want {
			t.Errorf("Backoff(%d, %s) = %s, want %s", tt.failures, tt.limit, got, tt.want)
		}
	}
}
