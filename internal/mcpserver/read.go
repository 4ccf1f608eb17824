package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

type retrieveTool struct {
	store store.Store
}

func (t *retrieveTool) Definition() mcp.Tool {
	return mcp.NewTool("retrieve_memory",
		mcp.WithDescription("Find memories by meaning. Results are ordered best first with scores in [0,1]."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithNumber("n", mcp.DefaultNumber(5), mcp.Min(1), mcp.Description("Maximum results")),
		mcp.WithString("mode", mcp.Enum("semantic", "hybrid", "keyword"), mcp.Description("semantic (default), hybrid or keyword")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Only memories carrying any of these tags (semantic mode)")),
	)
}

func (t *retrieveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	n := req.GetInt("n", 5)

	var results []model.QueryResult
	switch mode := req.GetString("mode", "semantic"); mode {
	case "semantic":
		tags, unusable := tagFilterArg(req, "tags")
		if unusable {
			return jsonResult([]model.QueryResult{})
		}
		results, err = t.store.Retrieve(ctx, query, n, tags)
	case "hybrid":
		results, err = t.store.RetrieveHybrid(ctx, query, n, 0, 0)
	case "keyword":
		results, err = t.store.KeywordSearch(ctx, query, n)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q: want semantic, hybrid or keyword", mode)), nil
	}
	if err != nil {
		return errorResult("retrieve", err)
	}
	if results == nil {
		results = []model.QueryResult{}
	}
	return jsonResult(results)
}

type recallTool struct {
	store store.Store
}

func (t *recallTool) Definition() mcp.Tool {
	return mcp.NewTool("recall_memory",
		mcp.WithDescription("Recall memories from a time range, optionally ranked by a query. Without a query the newest come first."),
		mcp.WithString("query", mcp.Description("Optional semantic query")),
		mcp.WithString("start", mcp.Description("Range start: RFC 3339, YYYY-MM-DD, or a duration ago such as 168h")),
		mcp.WithString("end", mcp.Description("Range end, same formats as start")),
		mcp.WithNumber("n", mcp.DefaultNumber(5), mcp.Min(1), mcp.Description("Maximum results")),
	)
}

func (t *recallTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		r   store.TimeRange
		err error
	)
	if r.Start, err = timeArg(req, "start"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if r.End, err = timeArg(req, "end"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := t.store.Recall(ctx, req.GetString("query", ""), req.GetInt("n", 5), r)
	if err != nil {
		return errorResult("recall", err)
	}
	if results == nil {
		results = []model.QueryResult{}
	}
	return jsonResult(results)
}

type searchByTagTool struct {
	store store.Store
}

func (t *searchByTagTool) Definition() mcp.Tool {
	return mcp.NewTool("search_by_tag",
		mcp.WithDescription("List memories by exact tag, newest first."),
		mcp.WithArray("tags", mcp.Required(), mcp.WithStringItems(), mcp.Description("Tags to match")),
		mcp.WithString("match", mcp.Enum("any", "all"), mcp.Description("any (default) or all")),
		mcp.WithNumber("limit", mcp.DefaultNumber(20), mcp.Min(1), mcp.Description("Page size")),
		mcp.WithNumber("offset", mcp.DefaultNumber(0), mcp.Min(0), mcp.Description("Rows to skip")),
	)
}

func (t *searchByTagTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := model.NormalizeTags(tagsArg(req, "tags"))
	if len(tags) == 0 {
		return mcp.NewToolResultError("'tags' must contain at least one tag"), nil
	}
	match, ok := store.ParseTagMatch(req.GetString("match", "any"))
	if !ok {
		return mcp.NewToolResultError("'match' must be any or all"), nil
	}
	limit, offset := req.GetInt("limit", 20), req.GetInt("offset", 0)

	var (
		memories []model.Memory
		err      error
	)
	if match == store.MatchAny {
		memories, err = t.store.SearchByTagChronological(ctx, tags, limit, offset)
	} else {
		memories, err = t.store.SearchByTags(ctx, tags, match, store.TimeRange{})
		memories = page(memories, limit, offset)
	}
	if err != nil {
		return errorResult("search by tag", err)
	}
	return jsonResult(memories)
}

func page(ms []model.Memory, limit, offset int) []model.Memory {
	if offset >= len(ms) {
		return []model.Memory{}
	}
	ms = ms[max(offset, 0):]
	if limit > 0 && len(ms) > limit {
		ms = ms[:limit]
	}
	return ms
}

type statsTool struct {
	store store.Store
}

func (t *statsTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_stats",
		mcp.WithDescription("Database statistics: live and deleted counts, tags, associations, embedding model."),
	)
}

func (t *statsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.store.GetStats(ctx)
	if err != nil {
		return errorResult("read stats", err)
	}
	return jsonResult(st)
}
