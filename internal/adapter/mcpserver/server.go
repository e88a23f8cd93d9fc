// Package mcpserver exposes the memory store to MCP clients over stdio.
// Agents call memory_store after each exchange, memory_retrieve before
// answering, and memory_context to assemble the recent-interaction window.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mnemo/internal/core/store"
	"mnemo/internal/infra/tracer"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// storedRecord is the wire shape returned by memory_store.
type storedRecord struct {
	ID       string   `json:"id"`
	Tier     string   `json:"tier"`
	Concepts []string `json:"concepts,omitempty"`
	Indexed  bool     `json:"indexed"`
}

// retrievedRecord is the wire shape returned by memory_retrieve.
type retrievedRecord struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Output      string    `json:"output"`
	Tier        string    `json:"tier"`
	Score       float64   `json:"score"`
	Similarity  float64   `json:"similarity"`
	Activated   bool      `json:"activated,omitempty"`
	AccessCount int       `json:"access_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// contextRecord is the wire shape returned by memory_context.
type contextRecord struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Output    string    `json:"output"`
	Tier      string    `json:"tier"`
	Timestamp time.Time `json:"timestamp"`
}

// Server wraps the memory store behind MCP tool handlers.
type Server struct {
	store  *store.Store
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New builds the MCP server and registers the memory tools.
func New(st *store.Store, logger *slog.Logger) *Server {
	s := &Server{
		store:  st,
		logger: logger,
		mcp: server.NewMCPServer("mnemo", Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	s.mcp.AddTool(mcp.NewTool("memory_store",
		mcp.WithDescription("Persist a prompt/response exchange into semantic memory."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user prompt of the exchange")),
		mcp.WithString("output", mcp.Required(), mcp.Description("The assistant response of the exchange")),
	), s.handleStore)

	s.mcp.AddTool(mcp.NewTool("memory_retrieve",
		mcp.WithDescription("Retrieve memories semantically relevant to a query, most relevant first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return (default 5)")),
		mcp.WithNumber("threshold", mcp.Description("Minimum adjusted score, 0-100 scale (default from config)")),
	), s.handleRetrieve)

	s.mcp.AddTool(mcp.NewTool("memory_context",
		mcp.WithDescription("Return the most recently accessed interactions for prompt context."),
		mcp.WithNumber("count", mcp.Description("Window size (default from config)")),
	), s.handleContext)

	return s
}

// ServeStdio blocks serving MCP requests on stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) handleStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "mcp.memory_store")
	defer span.End()

	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	output, err := req.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.store.Store(ctx, store.Input{Prompt: prompt, Output: output})
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Error("memory_store failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("store: %v", err)), nil
	}

	_, indexed := s.store.Locate(rec.ID)
	return jsonResult(storedRecord{
		ID:       rec.ID,
		Tier:     string(rec.Tier),
		Concepts: rec.Concepts,
		Indexed:  indexed,
	})
}

func (s *Server) handleRetrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "mcp.memory_retrieve")
	defer span.End()

	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 5)
	threshold := req.GetFloat("threshold", -1)

	results, err := s.store.Retrieve(ctx, query, limit, threshold)
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Error("memory_retrieve failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("retrieve: %v", err)), nil
	}

	out := make([]retrievedRecord, 0, len(results))
	for _, r := range results {
		out = append(out, retrievedRecord{
			ID:          r.Interaction.ID,
			Prompt:      r.Interaction.Prompt,
			Output:      r.Interaction.Output,
			Tier:        string(r.Interaction.Tier),
			Score:       r.Score,
			Similarity:  r.Similarity,
			Activated:   r.Activated,
			AccessCount: r.Interaction.AccessCount,
			Timestamp:   r.Interaction.Timestamp,
		})
	}
	return jsonResult(out)
}

func (s *Server) handleContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.StartSpan(ctx, "mcp.memory_context")
	defer span.End()

	count := req.GetInt("count", 0)
	recent := s.store.LastAccessed(count)

	out := make([]contextRecord, 0, len(recent))
	for _, rec := range recent {
		out = append(out, contextRecord{
			ID:        rec.ID,
			Prompt:    rec.Prompt,
			Output:    rec.Output,
			Tier:      string(rec.Tier),
			Timestamp: rec.Timestamp,
		})
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
