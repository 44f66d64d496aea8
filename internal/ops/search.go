package ops

import (
	"context"

	"github.com/phantompen/pen/internal/db"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Caller string
	Query  string
	Limit  int
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items []WhisperSummary `json:"items"`
	Query string           `json:"query"`
}

// SearchWhispers finds the caller's whispers whose title or transcript
// match every term of the query. A query with no searchable terms lists the
// caller's whispers by recency instead.
func SearchWhispers(ctx context.Context, env *Env, input SearchInput) (*SearchOutput, error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, MaxListLimit, MaxListLimit)

	fts := db.BuildFTSQuery(input.Query)
	if fts == "" {
		items, err := db.ListWhispersByUser(ctx, env.DB, input.Caller, limit, 0)
		if err != nil {
			return nil, err
		}
		return &SearchOutput{Items: summarizeAll(items, env.now()), Query: input.Query}, nil
	}

	items, err := db.SearchWhispers(ctx, env.DB, input.Caller, fts, limit)
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Items: summarizeAll(items, env.now()), Query: input.Query}, nil
}
