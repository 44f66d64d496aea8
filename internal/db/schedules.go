package db

import (
	"context"
	"database/sql"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

const scheduleColumns = `id, user_id, whisper_id, scheduled_at, status, error_message, job_handle, revision, created_at, updated_at`

// InsertSchedule stores a schedule row. The one-active-per-whisper index
// rejects a second active row for the same whisper.
func InsertSchedule(ctx context.Context, q Querier, s *whisper.Schedule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO memoir_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.WhisperID, s.ScheduledAt, string(s.Status), toNullString(s.Error),
		toNullString(s.JobHandle), s.Revision, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func GetSchedule(ctx context.Context, q Querier, id string) (*whisper.Schedule, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM memoir_schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("schedule", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// GetActiveSchedule returns the active schedule for whisperID, or nil.
func GetActiveSchedule(ctx context.Context, q Querier, whisperID string) (*whisper.Schedule, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM memoir_schedules
		WHERE whisper_id = ? AND status = ?
		LIMIT 1
	`, whisperID, string(whisper.ScheduleActive))
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// GetLatestSchedule returns the most recently created schedule for whisperID, or nil.
func GetLatestSchedule(ctx context.Context, q Querier, whisperID string) (*whisper.Schedule, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM memoir_schedules
		WHERE whisper_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, whisperID)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSchedulesByWhisper returns every schedule row for whisperID, any status.
func ListSchedulesByWhisper(ctx context.Context, q Querier, whisperID string) ([]whisper.Schedule, error) {
	return querySchedules(ctx, q, `
		SELECT `+scheduleColumns+`
		FROM memoir_schedules
		WHERE whisper_id = ?
		ORDER BY created_at, id
	`, whisperID)
}

// ListSchedulesByUser returns every schedule row owned by userID.
func ListSchedulesByUser(ctx context.Context, q Querier, userID string) ([]whisper.Schedule, error) {
	return querySchedules(ctx, q, `
		SELECT `+scheduleColumns+`
		FROM memoir_schedules
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
}

// ListSchedulesByStatus returns every schedule row in status.
func ListSchedulesByStatus(ctx context.Context, q Querier, status whisper.ScheduleStatus) ([]whisper.Schedule, error) {
	return querySchedules(ctx, q, `
		SELECT `+scheduleColumns+`
		FROM memoir_schedules
		WHERE status = ?
		ORDER BY scheduled_at, id
	`, string(status))
}

// TransitionSchedule moves a schedule from one status to another only if it
// is still in from. Returns false when the row is gone or in another state.
func TransitionSchedule(ctx context.Context, q Querier, id string, from, to whisper.ScheduleStatus, errMsg string, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE memoir_schedules
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), toNullString(errMsg), now, id, string(from))
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}

// MarkScheduleFailed records a failure regardless of the current status.
// Returns false if the row no longer exists (superseded or cascaded away).
func MarkScheduleFailed(ctx context.Context, q Querier, id, errMsg string, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE memoir_schedules
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, string(whisper.ScheduleFailed), toNullString(errMsg), now, id)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateScheduleJob sets the job handle and fire time of a schedule.
func UpdateScheduleJob(ctx context.Context, q Querier, id, handle string, scheduledAt, now int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE memoir_schedules
		SET job_handle = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?
	`, toNullString(handle), scheduledAt, now, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteSchedule deletes one schedule row. Deleting a missing row is not an error.
func DeleteSchedule(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM memoir_schedules WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteSchedulesByWhisper deletes every schedule row for whisperID.
func DeleteSchedulesByWhisper(ctx context.Context, q Querier, whisperID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM memoir_schedules WHERE whisper_id = ?`, whisperID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteSchedulesByUser deletes every schedule row owned by userID.
func DeleteSchedulesByUser(ctx context.Context, q Querier, userID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM memoir_schedules WHERE user_id = ?`, userID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func querySchedules(ctx context.Context, q Querier, query string, args ...any) ([]whisper.Schedule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	items := make([]whisper.Schedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

func scanSchedule(row scanner) (*whisper.Schedule, error) {
	var (
		s      whisper.Schedule
		status string
		errMsg sql.NullString
		handle sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.WhisperID, &s.ScheduledAt, &status, &errMsg,
		&handle, &s.Revision, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = whisper.ScheduleStatus(status)
	s.Error = fromNullString(errMsg)
	s.JobHandle = fromNullString(handle)
	return &s, nil
}
