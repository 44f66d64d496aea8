package db

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

// BuildFTSQuery turns free text into an FTS5 MATCH expression: every
// letter/digit run becomes a quoted prefix term and terms are ANDed.
// Returns "" when the input has no searchable terms.
func BuildFTSQuery(input string) string {
	input = norm.NFC.String(strings.ToLower(input))
	tokens := strings.FieldsFunc(input, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}

	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, `"`+tok+`"*`)
	}
	return strings.Join(terms, " AND ")
}

// SearchWhispers runs a full-text query over title and transcript, scoped to
// userID. ftsQuery must come from BuildFTSQuery.
func SearchWhispers(ctx context.Context, q Querier, userID, ftsQuery string, limit int) ([]whisper.Whisper, error) {
	if ftsQuery == "" {
		return []whisper.Whisper{}, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT w.id, w.user_id, w.title, w.transcript, w.content_json,
			w.public, w.revision, w.created_at, w.updated_at
		FROM whispers_fts
		JOIN whispers w ON w.rowid = whispers_fts.rowid
		WHERE whispers_fts MATCH ? AND w.user_id = ?
		ORDER BY bm25(whispers_fts), w.updated_at DESC
		LIMIT ?
	`, ftsQuery, userID, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectWhispers(rows)
}
