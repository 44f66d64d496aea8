package db

import (
	"context"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

const memoirColumns = `id, user_id, whisper_id, date, title, content, public, generated_at, created_at, updated_at`

// InsertMemoir stores one memoir entry.
func InsertMemoir(ctx context.Context, q Querier, m *whisper.Memoir) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO memoirs (`+memoirColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.WhisperID, m.Date, m.Title, m.Content, boolToInt(m.Public),
		m.GeneratedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListMemoirsByWhisper returns the memoirs synthesized from one whisper,
// in insertion order.
func ListMemoirsByWhisper(ctx context.Context, q Querier, whisperID string) ([]whisper.Memoir, error) {
	return queryMemoirs(ctx, q, `
		SELECT `+memoirColumns+`
		FROM memoirs
		WHERE whisper_id = ?
		ORDER BY id
	`, whisperID)
}

// ListMemoirsByUser returns a user's memoirs, newest generation first.
// With publicOnly, private entries are excluded.
func ListMemoirsByUser(ctx context.Context, q Querier, userID string, publicOnly bool, limit int) ([]whisper.Memoir, error) {
	query := `SELECT ` + memoirColumns + ` FROM memoirs WHERE user_id = ?`
	if publicOnly {
		query += ` AND public = 1`
	}
	query += ` ORDER BY generated_at DESC, id LIMIT ?`
	return queryMemoirs(ctx, q, query, userID, clampLimit(limit, 100, 1000))
}

// DeleteMemoirsByIDs deletes the given memoirs and returns how many were removed.
func DeleteMemoirsByIDs(ctx context.Context, q Querier, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := q.ExecContext(ctx, `DELETE FROM memoirs WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteMemoirsByWhisper deletes every memoir sourced from whisperID.
func DeleteMemoirsByWhisper(ctx context.Context, q Querier, whisperID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM memoirs WHERE whisper_id = ?`, whisperID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteMemoirsByUser deletes every memoir owned by userID.
func DeleteMemoirsByUser(ctx context.Context, q Querier, userID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM memoirs WHERE user_id = ?`, userID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SetMemoirVisibility sets public on every memoir sourced from whisperID.
func SetMemoirVisibility(ctx context.Context, q Querier, whisperID string, public bool, now int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE memoirs SET public = ?, updated_at = ?
		WHERE whisper_id = ? AND public != ?
	`, boolToInt(public), now, whisperID, boolToInt(public))
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func queryMemoirs(ctx context.Context, q Querier, query string, args ...any) ([]whisper.Memoir, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	items := make([]whisper.Memoir, 0)
	for rows.Next() {
		var (
			m      whisper.Memoir
			public int
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.WhisperID, &m.Date, &m.Title, &m.Content,
			&public, &m.GeneratedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		m.Public = public != 0
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}
