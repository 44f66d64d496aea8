package db

import (
	"context"
	"database/sql"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

const uploadColumns = `id, user_id, whisper_id, storage_id, status, content_type, size_bytes, error, created_at, updated_at`

// InsertUpload records a voice upload outcome.
func InsertUpload(ctx context.Context, q Querier, u *whisper.Upload) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO voice_uploads (`+uploadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.UserID, toNullString(u.WhisperID), u.StorageID, string(u.Status),
		toNullString(u.ContentType), u.SizeBytes, toNullString(u.Error), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetPendingUpload returns the oldest pending upload of storageID owned by
// userID. It returns NOT_FOUND when the user holds no such upload.
func GetPendingUpload(ctx context.Context, q Querier, userID, storageID string) (*whisper.Upload, error) {
	items, err := queryUploads(ctx, q, `SELECT `+uploadColumns+` FROM voice_uploads
		WHERE user_id = ? AND storage_id = ? AND status = ?
		ORDER BY created_at, id LIMIT 1`, userID, storageID, string(whisper.UploadPending))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.NewNotFound("upload", storageID)
	}
	return &items[0], nil
}

// CountPendingUploads returns how many pending uploads, of any user,
// reference storageID.
func CountPendingUploads(ctx context.Context, q Querier, storageID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM voice_uploads WHERE storage_id = ? AND status = ?`,
		storageID, string(whisper.UploadPending)).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// UpdateUpload writes the outcome fields of u.
func UpdateUpload(ctx context.Context, q Querier, u *whisper.Upload) error {
	res, err := q.ExecContext(ctx, `
		UPDATE voice_uploads
		SET whisper_id = ?, status = ?, content_type = ?, size_bytes = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, toNullString(u.WhisperID), string(u.Status), toNullString(u.ContentType), u.SizeBytes,
		toNullString(u.Error), u.UpdatedAt, u.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("upload", u.ID)
	}
	return nil
}

// DeleteUpload deletes one upload record.
func DeleteUpload(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM voice_uploads WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListUploadsByUser returns a user's uploads, newest first. An empty status
// returns every upload.
func ListUploadsByUser(ctx context.Context, q Querier, userID string, status whisper.UploadStatus, limit int) ([]whisper.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM voice_uploads WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit, 100, 1000))
	return queryUploads(ctx, q, query, args...)
}

func queryUploads(ctx context.Context, q Querier, query string, args ...any) ([]whisper.Upload, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	items := make([]whisper.Upload, 0)
	for rows.Next() {
		var (
			u                         whisper.Upload
			status                    string
			whisperID, ctype, failure sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.UserID, &whisperID, &u.StorageID, &status, &ctype,
			&u.SizeBytes, &failure, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		u.Status = whisper.UploadStatus(status)
		u.WhisperID = fromNullString(whisperID)
		u.ContentType = fromNullString(ctype)
		u.Error = fromNullString(failure)
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

// DeleteUploadsByWhisper deletes every upload record attached to whisperID.
func DeleteUploadsByWhisper(ctx context.Context, q Querier, whisperID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM voice_uploads WHERE whisper_id = ?`, whisperID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteUploadsByUser deletes every upload record owned by userID.
func DeleteUploadsByUser(ctx context.Context, q Querier, userID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM voice_uploads WHERE user_id = ?`, userID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
