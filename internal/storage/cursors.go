package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scout/internal/model"
)

// GetCursor returns the scan cursor for key. A target that was never scanned
// yields a zero cursor.
func (s *SQLite) GetCursor(ctx context.Context, key model.CursorKey) (model.Cursor, error) {
	c := model.Cursor{Key: key}
	var lastScan, backoff sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT position, last_scan_at, failures, backoff_until
		 FROM scan_cursors WHERE subscriber_id = ? AND source = ? AND target = ?`,
		key.SubscriberID, string(key.Target.Source), key.Target.Name,
	).Scan(&c.Position, &lastScan, &c.Failures, &backoff)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("scan cursor: %w", err)
	}
	c.LastScanAt = parseNullTime(lastScan)
	c.BackoffUntil = parseNullTime(backoff)
	return c, nil
}

// AdvanceCursor moves the cursor position forward. Positions sort lexically
// in stream order, so a position at or before the stored one is ignored.
func (s *SQLite) AdvanceCursor(ctx context.Context, key model.CursorKey, position string) error {
	if position == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursors (subscriber_id, source, target, position) VALUES (?, ?, ?, ?)
		 ON CONFLICT (subscriber_id, source, target)
		 DO UPDATE SET position = excluded.position WHERE excluded.position > scan_cursors.position`,
		key.SubscriberID, string(key.Target.Source), key.Target.Name, position,
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// MarkScanned records a completed scan and clears failure state.
func (s *SQLite) MarkScanned(ctx context.Context, key model.CursorKey, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursors (subscriber_id, source, target, last_scan_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (subscriber_id, source, target)
		 DO UPDATE SET last_scan_at = excluded.last_scan_at, failures = 0, backoff_until = NULL`,
		key.SubscriberID, string(key.Target.Source), key.Target.Name, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("mark scanned: %w", err)
	}
	return nil
}

// SetBackoff stores the failure count and the time before which the target
// must not be scanned again. The position is left untouched.
func (s *SQLite) SetBackoff(ctx context.Context, key model.CursorKey, failures int, until time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursors (subscriber_id, source, target, failures, backoff_until) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (subscriber_id, source, target)
		 DO UPDATE SET failures = excluded.failures, backoff_until = excluded.backoff_until`,
		key.SubscriberID, string(key.Target.Source), key.Target.Name, failures, formatTime(until),
	)
	if err != nil {
		return fmt.Errorf("set backoff: %w", err)
	}
	return nil
}
