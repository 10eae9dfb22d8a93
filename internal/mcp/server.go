// Package mcp exposes the recorder's ingest and query surface over the
// Model Context Protocol, so tool-speaking assistants can log prompts,
// conversations, and errors directly.
package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/correlate"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"trail_log_prompt": {
		def:     logPromptToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogPrompt },
	},
	"trail_log_chat": {
		def:     logChatToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogChat },
	},
	"trail_log_error": {
		def:     logErrorToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogError },
	},
	"trail_log_conversation": {
		def:     logConversationToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLogConversation },
	},
	"trail_list_events": {
		def:     listEventsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListEvents },
	},
}

// AllToolNames returns a list of all registered tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates an MCP server with the trail tools registered.
func NewServer(database *sql.DB, bus *broadcast.Broadcaster, correlator *correlate.Correlator, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"codetrail",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(database, bus, correlator)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(database *sql.DB, bus *broadcast.Broadcaster, correlator *correlate.Correlator, version string) error {
	return server.ServeStdio(NewServer(database, bus, correlator, version))
}
