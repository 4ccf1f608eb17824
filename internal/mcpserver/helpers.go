package mcpserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

// tagsArg accepts either a JSON array or a comma-separated string.
func tagsArg(req mcp.CallToolRequest, key string) []string {
	if tags := req.GetStringSlice(key, nil); tags != nil {
		return tags
	}
	if s := req.GetString(key, ""); s != "" {
		return strings.Split(s, ",")
	}
	return nil
}

// tagFilterArg returns the usable tags under key. unusable reports a
// non-empty value none of whose elements is a usable tag, such as [1, 2].
func tagFilterArg(req mcp.CallToolRequest, key string) (tags []string, unusable bool) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, false
	}
	if tags = model.NormalizeTags(tagsArg(req, key)); len(tags) > 0 {
		return tags, false
	}
	switch v := raw.(type) {
	case []any:
		return nil, len(v) > 0
	case []string:
		return nil, len(v) > 0
	case string:
		return nil, strings.TrimSpace(v) != ""
	default:
		return nil, true
	}
}

func metadataArg(req mcp.CallToolRequest, key string) map[string]any {
	m, _ := req.GetArguments()[key].(map[string]any)
	return m
}

// timeArg parses an RFC 3339 timestamp, a date, or a duration meaning
// "that long ago". Missing values return nil.
func timeArg(req mcp.CallToolRequest, key string) (*time.Time, error) {
	s := strings.TrimSpace(req.GetString(key, ""))
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := time.Now().Add(-d)
		return &t, nil
	}
	return nil, fmt.Errorf("'%s' must be RFC 3339, YYYY-MM-DD or a duration like 48h, got %q", key, s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	res, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to encode result", err), nil
	}
	return res, nil
}

// resultOf turns a store mutation outcome into a tool result. Unsuccessful
// outcomes are tool errors carrying the JSON body.
func resultOf(r store.Result) (*mcp.CallToolResult, error) {
	res, err := jsonResult(r)
	if err == nil && !r.Success {
		res.IsError = true
	}
	return res, err
}

func errorResult(action string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(err.Error()), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err)), nil
	}
}
