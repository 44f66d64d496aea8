package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

const whisperColumns = `id, user_id, title, transcript, content_json, public, revision, created_at, updated_at`

// InsertWhisper stores a new whisper and fires insert hooks.
func InsertWhisper(ctx context.Context, tx *Tx, w *whisper.Whisper) error {
	contentJSON, err := encodeContent(w.Content)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO whispers (`+whisperColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.UserID, w.Title, w.Transcript, contentJSON, boolToInt(w.Public),
		w.Revision, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}

	created := *w
	return tx.fireWhisper(ctx, WhisperChange{Op: OpInsert, New: &created})
}

// GetWhisper retrieves a whisper by ID.
func GetWhisper(ctx context.Context, q Querier, id string) (*whisper.Whisper, error) {
	row := q.QueryRowContext(ctx, `SELECT `+whisperColumns+` FROM whispers WHERE id = ?`, id)
	w, err := scanWhisper(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("whisper", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return w, nil
}

// UpdateWhisper writes every mutable field of w and fires update hooks with
// the previous state. user_id and created_at are never changed.
func UpdateWhisper(ctx context.Context, tx *Tx, w *whisper.Whisper) error {
	old, err := GetWhisper(ctx, tx, w.ID)
	if err != nil {
		return err
	}

	contentJSON, err := encodeContent(w.Content)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE whispers
		SET title = ?, transcript = ?, content_json = ?, public = ?, revision = ?, updated_at = ?
		WHERE id = ?
	`, w.Title, w.Transcript, contentJSON, boolToInt(w.Public), w.Revision, w.UpdatedAt, w.ID)
	if err != nil {
		return errors.NewInternal(err)
	}

	updated := *w
	updated.UserID = old.UserID
	updated.CreatedAt = old.CreatedAt
	return tx.fireWhisper(ctx, WhisperChange{Op: OpUpdate, Old: old, New: &updated})
}

// DeleteWhisper hard-deletes a whisper and fires delete hooks.
func DeleteWhisper(ctx context.Context, tx *Tx, id string) error {
	old, err := GetWhisper(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM whispers WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}

	return tx.fireWhisper(ctx, WhisperChange{Op: OpDelete, Old: old})
}

// ListWhispersByUser returns a user's whispers, most recently updated first.
func ListWhispersByUser(ctx context.Context, q Querier, userID string, limit, offset int) ([]whisper.Whisper, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+whisperColumns+`
		FROM whispers
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, clampLimit(limit, 100, 1000), max(offset, 0))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectWhispers(rows)
}

// CountWhispersByUser returns the number of whispers owned by userID.
func CountWhispersByUser(ctx context.Context, q Querier, userID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM whispers WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// ListWhisperIDsByUser returns the IDs of every whisper owned by userID.
func ListWhisperIDsByUser(ctx context.Context, q Querier, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM whispers WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

func collectWhispers(rows *sql.Rows) ([]whisper.Whisper, error) {
	items := make([]whisper.Whisper, 0)
	for rows.Next() {
		w, err := scanWhisper(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

func scanWhisper(row scanner) (*whisper.Whisper, error) {
	var (
		w           whisper.Whisper
		contentJSON sql.NullString
		public      int
	)
	err := row.Scan(&w.ID, &w.UserID, &w.Title, &w.Transcript, &contentJSON,
		&public, &w.Revision, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Public = public != 0

	if contentJSON.Valid && contentJSON.String != "" {
		if err := json.Unmarshal([]byte(contentJSON.String), &w.Content); err != nil {
			return nil, err
		}
	}
	return &w, nil
}

func encodeContent(blocks []whisper.Block) (sql.NullString, error) {
	if len(blocks) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return sql.NullString{}, errors.NewInternal(err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
