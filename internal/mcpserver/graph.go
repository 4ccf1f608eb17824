package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

type storeAssociationTool struct {
	store store.Store
}

func (t *storeAssociationTool) Definition() mcp.Tool {
	return mcp.NewTool("store_association",
		mcp.WithDescription("Link two memories. The link is stored in both directions; storing it again replaces it."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Content hash of one memory")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Content hash of the other memory")),
		mcp.WithNumber("similarity", mcp.Required(), mcp.Min(0), mcp.Max(1), mcp.Description("Strength of the link in [0,1]")),
		mcp.WithArray("connection_types", mcp.WithStringItems(), mcp.Description("Labels such as semantic, temporal, causal")),
		mcp.WithObject("metadata", mcp.Description("Arbitrary JSON metadata")),
	)
}

func (t *storeAssociationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("'source' is required"), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("'target' is required"), nil
	}
	similarity, err := req.RequireFloat("similarity")
	if err != nil {
		return mcp.NewToolResultError("'similarity' is required"), nil
	}
	a := model.Association{
		SourceHash:      source,
		TargetHash:      target,
		Similarity:      similarity,
		ConnectionTypes: tagsArg(req, "connection_types"),
		Metadata:        metadataArg(req, "metadata"),
	}
	if err := t.store.StoreAssociation(ctx, a); err != nil {
		return errorResult("store association", err)
	}
	return mcp.NewToolResultText("association stored"), nil
}

type findConnectedTool struct {
	store store.Store
}

func (t *findConnectedTool) Definition() mcp.Tool {
	return mcp.NewTool("find_connected",
		mcp.WithDescription("List memories reachable from a memory within max_hops links, nearest first."),
		mcp.WithString("content_hash", mcp.Required(), mcp.Description("Starting memory")),
		mcp.WithNumber("max_hops", mcp.DefaultNumber(2), mcp.Min(0), mcp.Description("Maximum link distance")),
	)
}

func (t *findConnectedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("content_hash")
	if err != nil {
		return mcp.NewToolResultError("'content_hash' is required"), nil
	}
	conns, err := t.store.FindConnected(ctx, hash, req.GetInt("max_hops", 2))
	if err != nil {
		return errorResult("find connected", err)
	}
	return jsonResult(conns)
}

type shortestPathTool struct {
	store store.Store
}

func (t *shortestPathTool) Definition() mcp.Tool {
	return mcp.NewTool("shortest_path",
		mcp.WithDescription("Shortest chain of links between two memories, or null when none exists within max_depth."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Starting memory")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Destination memory")),
		mcp.WithNumber("max_depth", mcp.DefaultNumber(5), mcp.Min(1), mcp.Description("Maximum path length in links")),
	)
}

func (t *shortestPathTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("'source' is required"), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("'target' is required"), nil
	}
	path, err := t.store.ShortestPath(ctx, source, target, req.GetInt("max_depth", 5))
	if err != nil {
		return errorResult("find path", err)
	}
	return jsonResult(map[string]any{"path": path, "found": path != nil})
}
