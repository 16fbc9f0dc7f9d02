package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scout/internal/model"
)

// SaveSession inserts or replaces a refinement session.
func (s *SQLite) SaveSession(ctx context.Context, sess *model.RefineSession) error {
	feedback, err := json.Marshal(sess.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = sess.CreatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refine_sessions (thread_id, match_id, feedback, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (thread_id) DO UPDATE SET
		   match_id = excluded.match_id,
		   feedback = excluded.feedback,
		   created_at = excluded.created_at,
		   last_active_at = excluded.last_active_at`,
		sess.ThreadID, sess.MatchID, string(feedback), formatTime(sess.CreatedAt), formatTime(sess.LastActiveAt),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns the refinement session bound to a thread.
func (s *SQLite) GetSession(ctx context.Context, threadID string) (*model.RefineSession, error) {
	var sess model.RefineSession
	var feedback, created, active string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, match_id, feedback, created_at, last_active_at FROM refine_sessions WHERE thread_id = ?`,
		threadID,
	).Scan(&sess.ThreadID, &sess.MatchID, &feedback, &created, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(feedback), &sess.Feedback); err != nil {
		return nil, fmt.Errorf("unmarshal feedback: %w", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.LastActiveAt = parseTime(active)
	return &sess, nil
}

// DeleteSession removes the session bound to a thread, if any.
func (s *SQLite) DeleteSession(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refine_sessions WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteIdleSessions removes sessions last active before the given time and
// returns how many were removed.
func (s *SQLite) DeleteIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refine_sessions WHERE last_active_at < ?`, formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
