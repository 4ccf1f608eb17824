// Package mcpserver exposes the memory store as MCP tools.
//
// Each tool is a struct holding the store, with Definition returning the
// mcp.Tool schema and Handle processing a call. Business failures come back
// as tool errors so the client sees them; Go errors are never returned from
// handlers.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/store"
)

const instructions = `Persistent semantic memory. Use store_memory for facts worth keeping,
retrieve_memory to find them by meaning (mode=hybrid adds keyword matching),
recall_memory for time-bounded questions, and the graph tools to follow
associations between memories.`

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New builds an MCP server with every memory tool registered.
func New(st store.Store, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"memory-service",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range tools(st) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

func tools(st store.Store) []tool {
	return []tool{
		&storeTool{st},
		&retrieveTool{st},
		&recallTool{st},
		&searchByTagTool{st},
		&deleteTool{st},
		&deleteByTagTool{st},
		&updateMetadataTool{st},
		&findConnectedTool{st},
		&shortestPathTool{st},
		&storeAssociationTool{st},
		&statsTool{st},
	}
}

// ServeStdio runs s over stdin/stdout until the client disconnects or the
// process is signalled. Server errors are logged to stderr through zap.
func ServeStdio(s *server.MCPServer) error {
	logging.Infof("serving MCP over stdio")
	return server.ServeStdio(s, server.WithErrorLogger(zap.NewStdLog(logging.L().Named("mcp"))))
}
