package mcp

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/phantompen/pen/internal/errors"
)

// validator is implemented by requests that check their own arguments.
type validator interface {
	validate() error
}

// decode round-trips the tool arguments through JSON into T and runs T's
// validate method when it has one. Failures are INVALID_REQUEST errors.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewInvalidRequest("malformed arguments: " + err.Error())
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, errors.NewInvalidRequest("malformed arguments: " + err.Error())
	}
	if v, ok := any(&result).(validator); ok {
		if err := v.validate(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// requireArg returns INVALID_REQUEST when value is blank.
func requireArg(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewInvalidRequest(name + " is required")
	}
	return nil
}
