package ops

import (
	"context"

	"github.com/phantompen/pen/internal/db"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Caller string
	Limit  int
	Offset int
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []WhisperSummary `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// ListWhispers returns summaries of the caller's whispers, most recently
// updated first.
func ListWhispers(ctx context.Context, env *Env, input ListInput) (*ListOutput, error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	items, err := db.ListWhispersByUser(ctx, env.DB, input.Caller, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := db.CountWhispersByUser(ctx, env.DB, input.Caller)
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items: summarizeAll(items, env.now()),
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}
