package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

type storeTool struct {
	store store.Store
}

func (t *storeTool) Definition() mcp.Tool {
	return mcp.NewTool("store_memory",
		mcp.WithDescription("Store a new memory. Exact duplicates, and near-duplicates stored within the dedup window, are rejected."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The text to remember")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags for filtering (exact match)")),
		mcp.WithString("memory_type", mcp.Description("Free-form category such as note, decision, fact")),
		mcp.WithObject("metadata", mcp.Description("Arbitrary JSON metadata")),
		mcp.WithBoolean("skip_semantic_dedup", mcp.Description("Store even if a very similar memory was stored recently")),
	)
}

func (t *storeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	m := model.New(content, tagsArg(req, "tags"), req.GetString("memory_type", ""), metadataArg(req, "metadata"))
	res, err := t.store.Store(ctx, m, req.GetBool("skip_semantic_dedup", false))
	if err != nil {
		return errorResult("store memory", err)
	}
	return resultOf(res)
}

type deleteTool struct {
	store store.Store
}

func (t *deleteTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_memory",
		mcp.WithDescription("Delete a memory by content hash. The memory stops appearing in every search."),
		mcp.WithString("content_hash", mcp.Required(), mcp.Description("Hash returned by store_memory or a search")),
	)
}

func (t *deleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("content_hash")
	if err != nil {
		return mcp.NewToolResultError("'content_hash' is required"), nil
	}
	res, err := t.store.Delete(ctx, hash)
	if err != nil {
		return errorResult("delete memory", err)
	}
	return resultOf(res)
}

type deleteByTagTool struct {
	store store.Store
}

func (t *deleteByTagTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_by_tag",
		mcp.WithDescription("Delete every memory carrying any of the given tags."),
		mcp.WithArray("tags", mcp.Required(), mcp.WithStringItems(), mcp.Description("Tags to delete")),
	)
}

func (t *deleteByTagTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := model.NormalizeTags(tagsArg(req, "tags"))
	if len(tags) == 0 {
		return mcp.NewToolResultError("'tags' must contain at least one tag"), nil
	}
	res, err := t.store.DeleteByTags(ctx, tags)
	if err != nil {
		return errorResult("delete by tag", err)
	}
	return jsonResult(res)
}

type updateMetadataTool struct {
	store store.Store
}

func (t *updateMetadataTool) Definition() mcp.Tool {
	return mcp.NewTool("update_memory_metadata",
		mcp.WithDescription("Change tags, type or metadata of a memory without re-embedding it. Metadata keys are merged."),
		mcp.WithString("content_hash", mcp.Required(), mcp.Description("Memory to update")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Replacement tag list")),
		mcp.WithString("memory_type", mcp.Description("Replacement memory type")),
		mcp.WithObject("metadata", mcp.Description("Keys to merge into metadata")),
	)
}

func (t *updateMetadataTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("content_hash")
	if err != nil {
		return mcp.NewToolResultError("'content_hash' is required"), nil
	}
	u := store.MetadataUpdate{
		Tags:     tagsArg(req, "tags"),
		Metadata: metadataArg(req, "metadata"),
	}
	if _, ok := req.GetArguments()["memory_type"]; ok {
		mt := req.GetString("memory_type", "")
		u.MemoryType = &mt
	}
	res, err := t.store.UpdateMemoryMetadata(ctx, hash, u, true)
	if err != nil {
		return errorResult("update memory", err)
	}
	return resultOf(res)
}
