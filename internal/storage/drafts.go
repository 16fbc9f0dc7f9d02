package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scout/internal/model"
)

// AddDraft stores content as the next version for a match. Versions start at
// 1 and increase by one; earlier versions are kept.
func (s *SQLite) AddDraft(ctx context.Context, matchID int64, content string) (model.Draft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Draft{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM drafts WHERE match_id = ?`, matchID,
	).Scan(&version)
	if err != nil {
		return model.Draft{}, fmt.Errorf("next draft version: %w", err)
	}

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO drafts (match_id, version, content, is_final, created_at) VALUES (?, ?, ?, 0, ?)`,
		matchID, version, content, now,
	)
	if err != nil {
		return model.Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Draft{}, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Draft{}, fmt.Errorf("commit: %w", err)
	}

	return model.Draft{
		ID:        id,
		MatchID:   matchID,
		Version:   version,
		Content:   content,
		CreatedAt: parseTime(now),
	}, nil
}

// LatestDraft returns the highest version draft of a match.
func (s *SQLite) LatestDraft(ctx context.Context, matchID int64) (*model.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, match_id, version, content, is_final, created_at
		 FROM drafts WHERE match_id = ? ORDER BY version DESC LIMIT 1`, matchID,
	)
	d, err := scanDraft(row)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDrafts returns every draft of a match in version order.
func (s *SQLite) ListDrafts(ctx context.Context, matchID int64) ([]model.Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, version, content, is_final, created_at
		 FROM drafts WHERE match_id = ? ORDER BY version`, matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var drafts []model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// FinalizeLatestDraft marks the latest draft final and clears the flag on
// every other version, so a match has at most one final draft.
func (s *SQLite) FinalizeLatestDraft(ctx context.Context, matchID int64) (model.Draft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Draft{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	d, err := scanDraft(tx.QueryRowContext(ctx,
		`SELECT id, match_id, version, content, is_final, created_at
		 FROM drafts WHERE match_id = ? ORDER BY version DESC LIMIT 1`, matchID,
	))
	if err != nil {
		return model.Draft{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE drafts SET is_final = 0 WHERE match_id = ? AND id != ?`, matchID, d.ID,
	); err != nil {
		return model.Draft{}, fmt.Errorf("clear final: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drafts SET is_final = 1 WHERE id = ?`, d.ID); err != nil {
		return model.Draft{}, fmt.Errorf("set final: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Draft{}, fmt.Errorf("commit: %w", err)
	}

	d.IsFinal = true
	return d, nil
}

func scanDraft(row scannable) (model.Draft, error) {
	var d model.Draft
	var isFinal int
	var created string
	err := row.Scan(&d.ID, &d.MatchID, &d.Version, &d.Content, &isFinal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("draft: %w", ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("scan draft: %w", err)
	}
	d.IsFinal = isFinal == 1
	d.CreatedAt = parseTime(created)
	return d, nil
}
