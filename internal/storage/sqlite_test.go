package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"scout/internal/model"
)

var ignoreSubscriberTS = cmpopts.IgnoreFields(model.Subscriber{}, "ID", "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createSubscriber(t *testing.T, s *SQLite, sub model.Subscriber) model.Subscriber {
	t.Helper()
	if err := s.CreateSubscriber(context.Background(), &sub); err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	return sub
}

func redditGolang() model.Target {
	return model.Target{Source: model.SourceReddit, Name: "golang"}
}

func TestSubscriberCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name string
		sub  model.Subscriber
	}{
		{
			name: "with keywords and targets",
			sub: model.Subscriber{
				OwnerID:     1,
				Name:        "python watch",
				ChannelID:   "100",
				Keywords:    []string{"python", "async io"},
				Targets:     []model.Target{redditGolang(), {Source: model.SourceHackerNews, Name: model.TargetAll}},
				Interval:    30 * time.Minute,
				StylePrompt: "be brief",
				IsActive:    true,
			},
		},
		{
			name: "inactive without sets",
			sub: model.Subscriber{
				OwnerID:   2,
				Name:      "idle",
				ChannelID: "200",
				Interval:  time.Hour,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := createSubscriber(t, s, tt.sub)
			if sub.ID == 0 {
				t.Fatal("expected non-zero ID")
			}

			got, err := s.GetSubscriber(ctx, sub.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(tt.sub, *got, ignoreSubscriberTS, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("GetSubscriber mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetSubscriberNotFound(t *testing.T) {
	s := newTestDB(t)
	_, err := s.GetSubscriber(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSubscribers(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "a", ChannelID: "1", Interval: time.Minute, IsActive: true, Keywords: []string{"go"}})
	createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "b", ChannelID: "1", Interval: time.Minute, IsActive: false})
	createSubscriber(t, s, model.Subscriber{OwnerID: 2, Name: "c", ChannelID: "2", Interval: time.Minute, IsActive: true})

	byChannel, err := s.ListSubscribersByChannel(ctx, "1")
	if err != nil {
		t.Fatalf("list by channel: %v", err)
	}
	var names []string
	for _, sub := range byChannel {
		names = append(names, sub.Name)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("by channel mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"go"}, byChannel[0].Keywords); diff != "" {
		t.Errorf("keywords not loaded (-want +got):\n%s", diff)
	}

	active, err := s.ListActiveSubscribers(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	names = nil
	for _, sub := range active {
		names = append(names, sub.Name)
	}
	if diff := cmp.Diff([]string{"a", "c"}, names); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateSubscriber(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "x", ChannelID: "1", Interval: time.Minute, IsActive: true})

	sub.Interval = 45 * time.Minute
	sub.IsActive = false
	sub.StylePrompt = "formal"
	if err := s.UpdateSubscriber(ctx, &sub); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetSubscriber(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(sub, *got, cmpopts.IgnoreFields(model.Subscriber{}, "CreatedAt"), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	missing := model.Subscriber{ID: 404}
	if err := s.UpdateSubscriber(ctx, &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKeywordsAreCaseInsensitiveUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "x", ChannelID: "1", Interval: time.Minute, Keywords: []string{"Python"}})

	if err := s.AddKeyword(ctx, sub.ID, "PYTHON"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.AddKeyword(ctx, sub.ID, "rust"); err != nil {
		t.Fatalf("add keyword: %v", err)
	}

	removed, err := s.RemoveKeyword(ctx, sub.ID, "python")
	if err != nil {
		t.Fatalf("remove keyword: %v", err)
	}
	if !removed {
		t.Error("expected keyword to be removed")
	}
	removed, err = s.RemoveKeyword(ctx, sub.ID, "python")
	if err != nil {
		t.Fatalf("remove keyword again: %v", err)
	}
	if removed {
		t.Error("expected second removal to be a no-op")
	}

	got, err := s.GetSubscriber(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"rust"}, got.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestTargets(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "x", ChannelID: "1", Interval: time.Minute})

	if err := s.AddTarget(ctx, sub.ID, redditGolang()); err != nil {
		t.Fatalf("add target: %v", err)
	}
	if err := s.AddTarget(ctx, sub.ID, redditGolang()); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	key := model.CursorKey{SubscriberID: sub.ID, Target: redditGolang()}
	if err := s.AdvanceCursor(ctx, key, "0001"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	removed, err := s.RemoveTarget(ctx, sub.ID, redditGolang())
	if err != nil {
		t.Fatalf("remove target: %v", err)
	}
	if !removed {
		t.Error("expected target to be removed")
	}

	c, err := s.GetCursor(ctx, key)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if c.Position != "" {
		t.Errorf("cursor should be dropped with its target, got position %q", c.Position)
	}
}

func TestCursorOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.CursorKey{SubscriberID: 1, Target: redditGolang()}

	c, err := s.GetCursor(ctx, key)
	if err != nil {
		t.Fatalf("get empty cursor: %v", err)
	}
	if diff := cmp.Diff(model.Cursor{Key: key}, c); diff != "" {
		t.Errorf("empty cursor mismatch (-want +got):\n%s", diff)
	}

	steps := []struct {
		position string
		want     string
	}{
		{"000010", "000010"},
		{"000020", "000020"},
		{"000015", "000020"},
		{"", "000020"},
		{"000021", "000021"},
	}
	for _, st := range steps {
		if err := s.AdvanceCursor(ctx, key, st.position); err != nil {
			t.Fatalf("advance %q: %v", st.position, err)
		}
		c, err := s.GetCursor(ctx, key)
		if err != nil {
			t.Fatalf("get cursor: %v", err)
		}
		if diff := cmp.Diff(st.want, c.Position); diff != "" {
			t.Errorf("after %q position mismatch (-want +got):\n%s", st.position, diff)
		}
	}
}

func TestCursorScanState(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.CursorKey{SubscriberID: 1, Target: redditGolang()}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.AdvanceCursor(ctx, key, "p1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	until := now.Add(4 * time.Minute)
	if err := s.SetBackoff(ctx, key, 3, until); err != nil {
		t.Fatalf("set backoff: %v", err)
	}

	c, err := s.GetCursor(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := model.Cursor{Key: key, Position: "p1", Failures: 3, BackoffUntil: &until}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("after backoff (-want +got):\n%s", diff)
	}

	if err := s.MarkScanned(ctx, key, now); err != nil {
		t.Fatalf("mark scanned: %v", err)
	}
	c, err = s.GetCursor(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want = model.Cursor{Key: key, Position: "p1", LastScanAt: &now}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("after scan (-want +got):\n%s", diff)
	}
}

func newMatch(subscriberID int64, externalID string) *model.Match {
	return &model.Match{
		SubscriberID: subscriberID,
		ExternalID:   externalID,
		Source:       model.SourceReddit,
		Kind:         model.KindPost,
		Location:     "golang",
		Author:       "gopher",
		Title:        "Learning python",
		Body:         "...python...",
		Permalink:    "https://reddit.com/r/golang/comments/abc",
		Keyword:      "python",
		CreatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		DiscoveredAt: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestRecordIfNew(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "x", ChannelID: "1", Interval: time.Minute, IsActive: true})

	m := newMatch(sub.ID, "t3_abc")
	outcome, err := s.RecordIfNew(ctx, m)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if outcome != model.Created {
		t.Fatalf("first record = %v, want created", outcome)
	}

	again := newMatch(sub.ID, "t3_abc")
	outcome, err = s.RecordIfNew(ctx, again)
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if outcome != model.AlreadyExists {
		t.Fatalf("second record = %v, want already_exists", outcome)
	}
	if again.ID != m.ID {
		t.Errorf("existing id = %d, want %d", again.ID, m.ID)
	}

	got, err := s.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := *newMatch(sub.ID, "t3_abc")
	want.ID = m.ID
	want.Status = model.StatusPending
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("GetMatch mismatch (-want +got):\n%s", diff)
	}

	counts, err := s.CountMatches(ctx, sub.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if diff := cmp.Diff(map[model.MatchStatus]int{model.StatusPending: 1}, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordIfNewConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "x", ChannelID: "1", Interval: time.Minute})

	const workers = 8
	outcomes := make([]model.RecordOutcome, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := s.RecordIfNew(ctx, newMatch(sub.ID, "t3_race"))
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			outcomes[i] = o
		}()
	}
	wg.Wait()

	created := 0
	for _, o := range outcomes {
		if o == model.Created {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created %d times, want exactly 1", created)
	}
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "x", ChannelID: "1", Interval: time.Minute})
	m := newMatch(sub.ID, "t3_abc")
	if _, err := s.RecordIfNew(ctx, m); err != nil {
		t.Fatalf("record: %v", err)
	}
	at := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		status      model.MatchStatus
		wantChanged bool
		wantStatus  model.MatchStatus
	}{
		{model.StatusDone, true, model.StatusDone},
		{model.StatusDone, false, model.StatusDone},
		{model.StatusSkipped, false, model.StatusDone},
	}
	for _, st := range steps {
		changed, err := s.SetStatus(ctx, m.ID, st.status, at)
		if err != nil {
			t.Fatalf("set %s: %v", st.status, err)
		}
		if changed != st.wantChanged {
			t.Errorf("set %s changed = %v, want %v", st.status, changed, st.wantChanged)
		}
		got, err := s.GetMatch(ctx, m.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != st.wantStatus {
			t.Errorf("status = %s, want %s", got.Status, st.wantStatus)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
			t.Errorf("completed_at = %v, want %v", got.CompletedAt, at)
		}
	}

	if _, err := s.SetStatus(ctx, m.ID, model.StatusPending, at); err == nil {
		t.Error("expected error moving back to pending")
	}
	if _, err := s.SetStatus(ctx, 999, model.StatusDone, at); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUndeliveredAndHandles(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	active := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "a", ChannelID: "1", Interval: time.Minute, IsActive: true})
	paused := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "p", ChannelID: "1", Interval: time.Minute})

	var ids []int64
	for i := range 3 {
		m := newMatch(active.ID, fmt.Sprintf("t3_%d", i))
		if _, err := s.RecordIfNew(ctx, m); err != nil {
			t.Fatalf("record: %v", err)
		}
		ids = append(ids, m.ID)
	}
	if _, err := s.RecordIfNew(ctx, newMatch(paused.ID, "t3_p")); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := s.SetDeliveryHandle(ctx, ids[0], "1:10"); err != nil {
		t.Fatalf("set handle: %v", err)
	}
	if _, err := s.SetStatus(ctx, ids[1], model.StatusSkipped, time.Now()); err != nil {
		t.Fatalf("set status: %v", err)
	}

	pending, err := s.ListUndelivered(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("list undelivered: %v", err)
	}
	var got []int64
	for _, m := range pending {
		got = append(got, m.ID)
	}
	if diff := cmp.Diff([]int64{ids[2]}, got); diff != "" {
		t.Errorf("undelivered mismatch (-want +got):\n%s", diff)
	}

	byHandle, err := s.GetMatchByHandle(ctx, "1:10")
	if err != nil {
		t.Fatalf("get by handle: %v", err)
	}
	if byHandle.ID != ids[0] {
		t.Errorf("by handle id = %d, want %d", byHandle.ID, ids[0])
	}
	if _, err := s.GetMatchByHandle(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty handle, got %v", err)
	}
}

func TestClaimDelivery(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "a", ChannelID: "1", Interval: time.Minute, IsActive: true})
	m := newMatch(sub.ID, "t3_claim")
	if _, err := s.RecordIfNew(ctx, m); err != nil {
		t.Fatalf("record: %v", err)
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	undelivered := func(at time.Time) int {
		t.Helper()
		pending, err := s.ListUndelivered(ctx, at, 10)
		if err != nil {
			t.Fatalf("list undelivered: %v", err)
		}
		return len(pending)
	}

	claimed, err := s.ClaimDelivery(ctx, m.ID, now)
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v; want true", claimed, err)
	}
	if claimed, _ := s.ClaimDelivery(ctx, m.ID, now.Add(time.Minute)); claimed {
		t.Error("second claim succeeded while the first is live")
	}
	if n := undelivered(now.Add(time.Minute)); n != 0 {
		t.Errorf("claimed match listed as undelivered (%d)", n)
	}

	// A claim older than the TTL is taken over.
	later := now.Add(DeliveryClaimTTL + time.Minute)
	if n := undelivered(later); n != 1 {
		t.Errorf("stale claim: undelivered = %d, want 1", n)
	}
	if claimed, _ := s.ClaimDelivery(ctx, m.ID, later); !claimed {
		t.Error("stale claim was not taken over")
	}

	if err := s.ReleaseDelivery(ctx, m.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n := undelivered(later); n != 1 {
		t.Errorf("released match: undelivered = %d, want 1", n)
	}

	if err := s.SetDeliveryHandle(ctx, m.ID, "1:5"); err != nil {
		t.Fatalf("set handle: %v", err)
	}
	if claimed, _ := s.ClaimDelivery(ctx, m.ID, later.Add(time.Hour)); claimed {
		t.Error("claimed a match that already has a handle")
	}
}

func TestDraftVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, err := s.LatestDraft(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FinalizeLatestDraft(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for i, content := range []string{"v1", "v2", "v3"} {
		d, err := s.AddDraft(ctx, 1, content)
		if err != nil {
			t.Fatalf("add draft: %v", err)
		}
		if d.Version != i+1 {
			t.Errorf("version = %d, want %d", d.Version, i+1)
		}
	}

	if _, err := s.FinalizeLatestDraft(ctx, 1); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := s.AddDraft(ctx, 1, "v4"); err != nil {
		t.Fatalf("add draft: %v", err)
	}
	final, err := s.FinalizeLatestDraft(ctx, 1)
	if err != nil {
		t.Fatalf("finalize again: %v", err)
	}
	if final.Version != 4 || !final.IsFinal {
		t.Errorf("final = %+v, want version 4 final", final)
	}

	drafts, err := s.ListDrafts(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	type vf struct {
		Version int
		Final   bool
	}
	var got []vf
	for _, d := range drafts {
		got = append(got, vf{d.Version, d.IsFinal})
	}
	want := []vf{{1, false}, {2, false}, {3, false}, {4, true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("drafts mismatch (-want +got):\n%s", diff)
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	sess := &model.RefineSession{
		ThreadID:     "100:5",
		MatchID:      7,
		Feedback:     []string{"shorter"},
		CreatedAt:    base,
		LastActiveAt: base.Add(time.Hour),
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	sess.Feedback = append(sess.Feedback, "friendlier")
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := s.GetSession(ctx, "100:5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(*sess, *got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	old := &model.RefineSession{ThreadID: "100:6", MatchID: 8, CreatedAt: base, LastActiveAt: base}
	if err := s.SaveSession(ctx, old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	n, err := s.DeleteIdleSessions(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("delete idle: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.GetSession(ctx, "100:6"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteSession(ctx, "100:5"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSession(ctx, "100:5"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSubscriberCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	keep := createSubscriber(t, s, model.Subscriber{OwnerID: 1, Name: "keep", ChannelID: "1", Interval: time.Minute, IsActive: true})
	drop := createSubscriber(t, s, model.Subscriber{
		OwnerID: 1, Name: "drop", ChannelID: "1", Interval: time.Minute, IsActive: true,
		Keywords: []string{"go"}, Targets: []model.Target{redditGolang()},
	})

	kept := newMatch(keep.ID, "t3_keep")
	dropped := newMatch(drop.ID, "t3_drop")
	for _, m := range []*model.Match{kept, dropped} {
		if _, err := s.RecordIfNew(ctx, m); err != nil {
			t.Fatalf("record: %v", err)
		}
		if _, err := s.AddDraft(ctx, m.ID, "draft"); err != nil {
			t.Fatalf("add draft: %v", err)
		}
		if err := s.SaveSession(ctx, &model.RefineSession{ThreadID: m.ExternalID, MatchID: m.ID}); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}
	dropKey := model.CursorKey{SubscriberID: drop.ID, Target: redditGolang()}
	if err := s.AdvanceCursor(ctx, dropKey, "p"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := s.DeleteSubscriber(ctx, drop.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetSubscriber(ctx, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("subscriber: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetMatch(ctx, dropped.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("match: expected ErrNotFound, got %v", err)
	}
	if _, err := s.LatestDraft(ctx, dropped.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("draft: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetSession(ctx, "t3_drop"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session: expected ErrNotFound, got %v", err)
	}
	c, err := s.GetCursor(ctx, dropKey)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if c.Position != "" {
		t.Errorf("cursor position = %q, want empty", c.Position)
	}

	if _, err := s.GetMatch(ctx, kept.ID); err != nil {
		t.Errorf("other subscriber's match should survive: %v", err)
	}
	if _, err := s.GetSession(ctx, "t3_keep"); err != nil {
		t.Errorf("other subscriber's session should survive: %v", err)
	}

	if err := s.DeleteSubscriber(ctx, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestPing(t *testing.T) {
	s := newTestDB(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
