package db

import (
	"context"
	"database/sql"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

const userColumns = `id, email, first_name, last_name, profile_picture, onboarding_completed,
	memoir_public, voice_style, writing_style, candor_level, humor_style, feeling_intent, opener,
	created_at, updated_at`

// GetUser retrieves a user by auth subject.
func GetUser(ctx context.Context, q Querier, id string) (*whisper.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return u, nil
}

// SaveUser inserts or fully replaces a user row and fires insert/update hooks.
func SaveUser(ctx context.Context, tx *Tx, u *whisper.User) error {
	old, err := GetUser(ctx, tx, u.ID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	st := u.Style
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			profile_picture = excluded.profile_picture,
			onboarding_completed = excluded.onboarding_completed,
			memoir_public = excluded.memoir_public,
			voice_style = excluded.voice_style,
			writing_style = excluded.writing_style,
			candor_level = excluded.candor_level,
			humor_style = excluded.humor_style,
			feeling_intent = excluded.feeling_intent,
			opener = excluded.opener,
			updated_at = excluded.updated_at
	`, u.ID, toNullString(u.Email), toNullString(u.FirstName), toNullString(u.LastName),
		toNullString(u.ProfilePicture), boolToInt(u.OnboardingCompleted), boolToInt(u.MemoirPublic),
		toNullString(st.VoiceStyle), toNullString(st.WritingStyle), toNullString(st.CandorLevel),
		toNullString(st.HumorStyle), toNullString(st.FeelingIntent), toNullString(st.Opener),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}

	saved := *u
	if old == nil {
		return tx.fireUser(ctx, UserChange{Op: OpInsert, New: &saved})
	}
	saved.CreatedAt = old.CreatedAt
	return tx.fireUser(ctx, UserChange{Op: OpUpdate, Old: old, New: &saved})
}

// DeleteUser deletes a user row and fires delete hooks, which cascade to
// everything the user owns.
func DeleteUser(ctx context.Context, tx *Tx, id string) error {
	old, err := GetUser(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}

	return tx.fireUser(ctx, UserChange{Op: OpDelete, Old: old})
}

func scanUser(row scanner) (*whisper.User, error) {
	var (
		u                             whisper.User
		email, first, last, picture   sql.NullString
		voice, writing, candor, humor sql.NullString
		feeling, opener               sql.NullString
		onboarding, memoirPublic      int
	)
	err := row.Scan(&u.ID, &email, &first, &last, &picture, &onboarding, &memoirPublic,
		&voice, &writing, &candor, &humor, &feeling, &opener, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Email = fromNullString(email)
	u.FirstName = fromNullString(first)
	u.LastName = fromNullString(last)
	u.ProfilePicture = fromNullString(picture)
	u.OnboardingCompleted = onboarding != 0
	u.MemoirPublic = memoirPublic != 0
	u.Style = whisper.StyleProfile{
		VoiceStyle:    fromNullString(voice),
		WritingStyle:  fromNullString(writing),
		CandorLevel:   fromNullString(candor),
		HumorStyle:    fromNullString(humor),
		FeelingIntent: fromNullString(feeling),
		Opener:        fromNullString(opener),
	}
	return &u, nil
}
