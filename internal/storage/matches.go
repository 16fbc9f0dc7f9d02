package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scout/internal/model"
)

const matchColumns = `id, subscriber_id, external_id, source, kind, location, author, title, body, permalink,
	keyword, created_at, discovered_at, status, completed_at, delivery_handle`

// RecordIfNew inserts m unless a match with the same (subscriber, external
// ID) exists. The unique index makes this safe under concurrent sweeps. On
// either outcome m.ID is set to the stored row's ID.
func (s *SQLite) RecordIfNew(ctx context.Context, m *model.Match) (model.RecordOutcome, error) {
	if m.DiscoveredAt.IsZero() {
		m.DiscoveredAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (subscriber_id, external_id, source, kind, location, author, title, body,
		                      permalink, keyword, created_at, discovered_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscriber_id, external_id) DO NOTHING`,
		m.SubscriberID, m.ExternalID, string(m.Source), string(m.Kind), m.Location, m.Author, m.Title,
		m.Body, m.Permalink, m.Keyword, formatTime(m.CreatedAt), formatTime(m.DiscoveredAt),
		string(model.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM matches WHERE subscriber_id = ? AND external_id = ?`,
			m.SubscriberID, m.ExternalID,
		).Scan(&m.ID)
		if err != nil {
			return 0, fmt.Errorf("load existing match: %w", err)
		}
		return model.AlreadyExists, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.Status = model.StatusPending
	m.CreatedAt = parseTime(formatTime(m.CreatedAt))
	m.DiscoveredAt = parseTime(formatTime(m.DiscoveredAt))
	return model.Created, nil
}

// GetMatch returns a single match by its ID.
func (s *SQLite) GetMatch(ctx context.Context, id int64) (*model.Match, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	return scanMatch(row)
}

// GetMatchByHandle returns the match whose alert has the given delivery handle.
func (s *SQLite) GetMatchByHandle(ctx context.Context, handle string) (*model.Match, error) {
	if handle == "" {
		return nil, fmt.Errorf("match: %w", ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE delivery_handle = ?`, handle)
	return scanMatch(row)
}

// DeliveryClaimTTL bounds how long a delivery claim blocks other senders.
// It outlasts a drafting call with all its retries.
const DeliveryClaimTTL = 10 * time.Minute

// ListUndelivered returns pending matches that were never delivered and are
// not claimed by a delivery in flight at now, oldest first, for active
// subscribers only.
func (s *SQLite) ListUndelivered(ctx context.Context, now time.Time, limit int) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.subscriber_id, m.external_id, m.source, m.kind, m.location, m.author, m.title, m.body,
		        m.permalink, m.keyword, m.created_at, m.discovered_at, m.status, m.completed_at, m.delivery_handle
		 FROM matches m JOIN subscribers s ON s.id = m.subscriber_id
		 WHERE m.status = ? AND m.delivery_handle = '' AND s.is_active = 1
		   AND (m.delivery_claimed_at IS NULL OR m.delivery_claimed_at < ?)
		 ORDER BY m.id LIMIT ?`,
		string(model.StatusPending), formatTime(now.Add(-DeliveryClaimTTL)), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query undelivered: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ClaimDelivery marks an undelivered match as being delivered at now. It
// reports false when the match already has a handle or another claim made
// within DeliveryClaimTTL is still live.
func (s *SQLite) ClaimDelivery(ctx context.Context, matchID int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET delivery_claimed_at = ?
		 WHERE id = ? AND delivery_handle = ''
		   AND (delivery_claimed_at IS NULL OR delivery_claimed_at < ?)`,
		formatTime(now), matchID, formatTime(now.Add(-DeliveryClaimTTL)),
	)
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseDelivery drops the delivery claim on a match so the next sweep
// can retry it.
func (s *SQLite) ReleaseDelivery(ctx context.Context, matchID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET delivery_claimed_at = NULL WHERE id = ? AND delivery_handle = ''`, matchID,
	)
	if err != nil {
		return fmt.Errorf("release delivery: %w", err)
	}
	return nil
}

// SetDeliveryHandle stores the channel handle of the alert for a match.
func (s *SQLite) SetDeliveryHandle(ctx context.Context, matchID int64, handle string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET delivery_handle = ?, delivery_claimed_at = NULL WHERE id = ?`, handle, matchID,
	)
	if err != nil {
		return fmt.Errorf("set delivery handle: %w", err)
	}
	return requireAffected(res, "match")
}

// SetStatus moves a pending match to a terminal status. It reports whether
// the row changed; a match already in a terminal status is left as is.
func (s *SQLite) SetStatus(ctx context.Context, matchID int64, status model.MatchStatus, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("invalid target status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(status), formatTime(at), matchID, string(model.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches WHERE id = ?`, matchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check match: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("match: %w", ErrNotFound)
	}
	return false, nil
}

// CountMatches returns the number of matches per status for a subscriber.
func (s *SQLite) CountMatches(ctx context.Context, subscriberID int64) (map[model.MatchStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM matches WHERE subscriber_id = ? GROUP BY status`, subscriberID,
	)
	if err != nil {
		return nil, fmt.Errorf("count matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.MatchStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.MatchStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanMatch(row scannable) (*model.Match, error) {
	var m model.Match
	var src, kind, created, discovered, status string
	var completed sql.NullString
	err := row.Scan(&m.ID, &m.SubscriberID, &m.ExternalID, &src, &kind, &m.Location, &m.Author, &m.Title,
		&m.Body, &m.Permalink, &m.Keyword, &created, &discovered, &status, &completed, &m.DeliveryHandle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	m.Source = model.SourceKind(src)
	m.Kind = model.ItemKind(kind)
	m.CreatedAt = parseTime(created)
	m.DiscoveredAt = parseTime(discovered)
	m.Status = model.MatchStatus(status)
	m.CompletedAt = parseNullTime(completed)
	return &m, nil
}
