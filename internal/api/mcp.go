package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mira/internal/facts"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/storage"
)

// MCPMemory is the memory surface exposed to MCP clients.
type MCPMemory interface {
	RetrieveContext(ctx context.Context, userID, query string) (string, bool)
	StoreFact(ctx context.Context, userID string, f facts.Fact, meta memory.Meta) error
	History(ctx context.Context, userID string, limit int) ([]storage.Turn, error)
}

// MCPDeps holds dependencies for the MCP server. The stdio server acts on
// behalf of a single user.
type MCPDeps struct {
	Memory MCPMemory
	Facts  *facts.Extractor
	UserID string
}

// NewMCPServer creates an MCP server exposing the user's memory.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Facts == nil {
		deps.Facts = facts.NewExtractor()
	}
	s := server.NewMCPServer(
		"mira",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mira: long-term memory of a personal companion. Recall what the user has shared, or remember new facts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search the user's long-term memory and return the relevant facts and past conversation."),
			mcp.WithString("query", mcp.Description("What to look for"), mcp.Required()),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a fact about the user in long-term memory."),
			mcp.WithString("fact", mcp.Description("The fact, as a full sentence"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Optional topic, e.g. family or work")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_facts",
			mcp.WithDescription("Extract personal facts from a message. With store=true the facts are also remembered."),
			mcp.WithString("message", mcp.Description("The message to analyze"), mcp.Required()),
			mcp.WithBoolean("store", mcp.Description("Remember the extracted facts (default false)")),
		),
		mcpExtractFacts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://history",
			"Conversation History",
			mcp.WithResourceDescription("The last 20 conversation turns"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}
		text, ok := deps.Memory.RetrieveContext(ctx, deps.UserID, query)
		if !ok {
			return mcpText("Nothing relevant is remembered."), nil
		}
		return mcpText(text), nil
	}
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("fact")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("fact is required"), nil
		}
		f := facts.Fact{
			Fact:  strings.TrimSpace(text),
			Topic: req.GetString("topic", ""),
			Tags:  req.GetStringSlice("tags", nil),
		}
		if err := deps.Memory.StoreFact(ctx, deps.UserID, f, memory.Meta{Tags: []string{"mcp"}}); err != nil {
			return mcpError(fmt.Sprintf("failed to remember: %v", err)), nil
		}
		return mcpText("Remembered: " + f.Fact), nil
	}
}

func mcpExtractFacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		found := deps.Facts.Extract(message)
		if req.GetBool("store", false) {
			for _, f := range found {
				if err := deps.Memory.StoreFact(ctx, deps.UserID, f, memory.Meta{Tags: []string{"mcp"}}); err != nil {
					return mcpError(fmt.Sprintf("failed to store %q: %v", f.Fact, err)), nil
				}
			}
		}
		if found == nil {
			found = []facts.Fact{}
		}

		type factResult struct {
			Fact  string   `json:"fact"`
			Topic string   `json:"topic"`
			Tags  []string `json:"tags"`
		}
		out := make([]factResult, len(found))
		for i, f := range found {
			out[i] = factResult{Fact: f.Fact, Topic: f.Topic, Tags: f.Tags}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal facts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		turns, err := deps.Memory.History(ctx, deps.UserID, defaultHistory)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}

		out := make([]historyTurn, len(turns))
		for i, t := range turns {
			content := t.Content
			if utf8.RuneCountInString(content) > 500 {
				content = string([]rune(content)[:500]) + "..."
			}
			out[i] = historyTurn{ID: t.ID, Role: t.Role, Content: content, CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339)}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
