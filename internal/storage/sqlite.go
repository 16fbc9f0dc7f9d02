package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"scout/internal/model"
	"scout/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
//
// The pool is limited to one connection: writes serialize, and an in-memory
// database stays the same database for the lifetime of the store.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSubscriber inserts a subscriber with its keywords and targets and
// populates its ID and CreatedAt.
func (s *SQLite) CreateSubscriber(ctx context.Context, sub *model.Subscriber) error {
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO subscribers (owner_id, name, channel_id, interval_minutes, style_prompt, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.OwnerID, sub.Name, sub.ChannelID, intervalMinutes(sub.Interval), sub.StylePrompt,
		boolToInt(sub.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, kw := range sub.Keywords {
		if _, err := insertKeyword(ctx, tx, id, kw); err != nil {
			return err
		}
	}
	for _, tg := range sub.Targets {
		if _, err := insertTarget(ctx, tx, id, tg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	sub.ID = id
	sub.CreatedAt = parseTime(now)
	return nil
}

// GetSubscriber returns a single subscriber with keywords and targets.
func (s *SQLite) GetSubscriber(ctx context.Context, id int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, channel_id, interval_minutes, style_prompt, is_active, created_at
		 FROM subscribers WHERE id = ?`, id,
	)
	sub, err := scanSubscriber(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSets(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscribersByChannel returns all subscribers delivering to channelID.
func (s *SQLite) ListSubscribersByChannel(ctx context.Context, channelID string) ([]model.Subscriber, error) {
	return s.listSubscribers(ctx,
		`SELECT id, owner_id, name, channel_id, interval_minutes, style_prompt, is_active, created_at
		 FROM subscribers WHERE channel_id = ? ORDER BY id`, channelID,
	)
}

// ListActiveSubscribers returns every subscriber with the active flag set.
func (s *SQLite) ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	return s.listSubscribers(ctx,
		`SELECT id, owner_id, name, channel_id, interval_minutes, style_prompt, is_active, created_at
		 FROM subscribers WHERE is_active = 1 ORDER BY id`,
	)
}

func (s *SQLite) listSubscribers(ctx context.Context, query string, args ...any) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		subs = append(subs, *sub)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}

	// Keyword and target queries run after rows is closed: the pool has a
	// single connection.
	for i := range subs {
		if err := s.loadSets(ctx, &subs[i]); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// UpdateSubscriber persists changes to the scalar fields of a subscriber.
// Keywords and targets are changed through their own operations.
func (s *SQLite) UpdateSubscriber(ctx context.Context, sub *model.Subscriber) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET name = ?, channel_id = ?, interval_minutes = ?, style_prompt = ?, is_active = ?
		 WHERE id = ?`,
		sub.Name, sub.ChannelID, intervalMinutes(sub.Interval), sub.StylePrompt, boolToInt(sub.IsActive), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	return requireAffected(res, "subscriber")
}

// DeleteSubscriber removes a subscriber and everything it owns: keywords,
// targets, cursors, matches, drafts and refinement sessions.
func (s *SQLite) DeleteSubscriber(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		what  string
		query string
	}{
		{"refine_sessions", `DELETE FROM refine_sessions WHERE match_id IN (SELECT id FROM matches WHERE subscriber_id = ?)`},
		{"drafts", `DELETE FROM drafts WHERE match_id IN (SELECT id FROM matches WHERE subscriber_id = ?)`},
		{"matches", `DELETE FROM matches WHERE subscriber_id = ?`},
		{"scan_cursors", `DELETE FROM scan_cursors WHERE subscriber_id = ?`},
		{"subscriber_targets", `DELETE FROM subscriber_targets WHERE subscriber_id = ?`},
		{"subscriber_keywords", `DELETE FROM subscriber_keywords WHERE subscriber_id = ?`},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.query, id); err != nil {
			return fmt.Errorf("delete %s: %w", st.what, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if err := requireAffected(res, "subscriber"); err != nil {
		return err
	}
	return tx.Commit()
}

// AddKeyword appends a keyword phrase. Phrases are unique per subscriber,
// compared case-insensitively; a repeat returns ErrDuplicate.
func (s *SQLite) AddKeyword(ctx context.Context, subscriberID int64, phrase string) error {
	added, err := insertKeyword(ctx, s.db, subscriberID, phrase)
	if err != nil {
		return err
	}
	if !added {
		return fmt.Errorf("keyword %q: %w", phrase, ErrDuplicate)
	}
	return nil
}

// RemoveKeyword deletes a keyword phrase, matched case-insensitively.
func (s *SQLite) RemoveKeyword(ctx context.Context, subscriberID int64, phrase string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriber_keywords WHERE subscriber_id = ? AND phrase_lower = ?`,
		subscriberID, strings.ToLower(strings.TrimSpace(phrase)),
	)
	if err != nil {
		return false, fmt.Errorf("delete keyword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// AddTarget adds a source target. A repeat returns ErrDuplicate.
func (s *SQLite) AddTarget(ctx context.Context, subscriberID int64, target model.Target) error {
	added, err := insertTarget(ctx, s.db, subscriberID, target)
	if err != nil {
		return err
	}
	if !added {
		return fmt.Errorf("target %s: %w", target, ErrDuplicate)
	}
	return nil
}

// RemoveTarget deletes a source target together with its scan cursor.
func (s *SQLite) RemoveTarget(ctx context.Context, subscriberID int64, target model.Target) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM subscriber_targets WHERE subscriber_id = ? AND source = ? AND name = ?`,
		subscriberID, string(target.Source), target.Name,
	)
	if err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scan_cursors WHERE subscriber_id = ? AND source = ? AND target = ?`,
		subscriberID, string(target.Source), target.Name,
	); err != nil {
		return false, fmt.Errorf("delete cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertKeyword(ctx context.Context, db execer, subscriberID int64, phrase string) (bool, error) {
	phrase = strings.TrimSpace(phrase)
	res, err := db.ExecContext(ctx,
		`INSERT INTO subscriber_keywords (subscriber_id, phrase, phrase_lower) VALUES (?, ?, ?)
		 ON CONFLICT (subscriber_id, phrase_lower) DO NOTHING`,
		subscriberID, phrase, strings.ToLower(phrase),
	)
	if err != nil {
		return false, fmt.Errorf("insert keyword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func insertTarget(ctx context.Context, db execer, subscriberID int64, target model.Target) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO subscriber_targets (subscriber_id, source, name) VALUES (?, ?, ?)
		 ON CONFLICT (subscriber_id, source, name) DO NOTHING`,
		subscriberID, string(target.Source), target.Name,
	)
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) loadSets(ctx context.Context, sub *model.Subscriber) error {
	kwRows, err := s.db.QueryContext(ctx,
		`SELECT phrase FROM subscriber_keywords WHERE subscriber_id = ? ORDER BY id`, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("query keywords: %w", err)
	}
	sub.Keywords = nil
	for kwRows.Next() {
		var kw string
		if err := kwRows.Scan(&kw); err != nil {
			_ = kwRows.Close()
			return fmt.Errorf("scan keyword: %w", err)
		}
		sub.Keywords = append(sub.Keywords, kw)
	}
	err = kwRows.Err()
	_ = kwRows.Close()
	if err != nil {
		return fmt.Errorf("iterate keywords: %w", err)
	}

	tgRows, err := s.db.QueryContext(ctx,
		`SELECT source, name FROM subscriber_targets WHERE subscriber_id = ? ORDER BY id`, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("query targets: %w", err)
	}
	defer func() { _ = tgRows.Close() }()
	sub.Targets = nil
	for tgRows.Next() {
		var src, name string
		if err := tgRows.Scan(&src, &name); err != nil {
			return fmt.Errorf("scan target: %w", err)
		}
		sub.Targets = append(sub.Targets, model.Target{Source: model.SourceKind(src), Name: name})
	}
	return tgRows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscriber(row scannable) (*model.Subscriber, error) {
	var sub model.Subscriber
	var minutes, isActive int
	var created string
	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.Name, &sub.ChannelID, &minutes, &sub.StylePrompt, &isActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscriber: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Interval = time.Duration(minutes) * time.Minute
	sub.IsActive = isActive == 1
	sub.CreatedAt = parseTime(created)
	return &sub, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func intervalMinutes(d time.Duration) int {
	return int(d / time.Minute)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
