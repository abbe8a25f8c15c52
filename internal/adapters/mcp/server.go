// Package mcpadapter exposes the note pipeline as MCP tools over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

const (
	serverName    = "smart-notes"
	serverVersion = "0.1.0"
)

// Services mirrors the HTTP adapter's inbound ports.
type Services struct {
	Indexer   ports.NoteIndexer
	Searcher  ports.NoteSearcher
	Tags      ports.TagService
	Extractor ports.StructureExtractor
	Answerer  ports.QuestionAnswerer
}

type Server struct {
	svc        Services
	defaultTop int
	mcp        *server.MCPServer
}

func NewServer(svc Services, defaultTopK int) *Server {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	s := &Server{
		svc:        svc,
		defaultTop: defaultTopK,
		mcp:        server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("index_note",
		mcp.WithDescription("Index a note: extract structure, resolve tags, embed and store it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Raw note text")),
		mcp.WithString("note_id", mcp.Description("Existing note id to re-index")),
		mcp.WithArray("tags", mcp.Description("User supplied tags"), mcp.WithStringItems()),
	), s.indexNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Semantic search over indexed notes."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of results")),
		mcp.WithArray("tags", mcp.Description("Only return notes carrying any of these tags"), mcp.WithStringItems()),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("search_tags",
		mcp.WithDescription("Find notes by exact canonical tags."),
		mcp.WithArray("tags", mcp.Required(), mcp.Description("Tags to match"), mcp.WithStringItems()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes")),
	), s.searchTags)

	s.mcp.AddTool(mcp.NewTool("answer_question",
		mcp.WithDescription("Answer a question grounded in the indexed notes, with citations."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question to answer")),
		mcp.WithNumber("top_k", mcp.Description("Number of notes used as context")),
	), s.answerQuestion)

	s.mcp.AddTool(mcp.NewTool("suggest_tags",
		mcp.WithDescription("Suggest canonical tags for raw note text."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Raw note text")),
		mcp.WithNumber("max_tags", mcp.Description("Maximum number of tags")),
	), s.suggestTags)

	s.mcp.AddTool(mcp.NewTool("process_tag",
		mcp.WithDescription("Normalize a tag and map it onto an existing near-duplicate when one exists."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag label")),
	), s.processTag)
}

func (s *Server) indexNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.Indexer.Index(ctx, domain.IndexRequest{
		NoteID: req.GetString("note_id", ""),
		Text:   text,
		Tags:   req.GetStringSlice("tags", nil),
	})
	if err != nil {
		return toolError("index_note", err), nil
	}
	return jsonResult(note)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter := domain.SearchFilter{Tags: req.GetStringSlice("tags", nil)}
	results, err := s.svc.Searcher.SearchVector(ctx, query, req.GetInt("top_k", 0), filter)
	if err != nil {
		return toolError("search_notes", err), nil
	}
	if results == nil {
		results = []domain.RetrievedNote{}
	}
	return jsonResult(map[string]any{"results": results})
}

func (s *Server) searchTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := req.RequireStringSlice("tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.Searcher.SearchTags(ctx, tags, req.GetInt("limit", 0))
	if err != nil {
		return toolError("search_tags", err), nil
	}
	if refs == nil {
		refs = []domain.NoteRef{}
	}
	return jsonResult(map[string]any{"results": refs})
}

func (s *Server) answerQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := s.svc.Answerer.Answer(ctx, question, req.GetInt("top_k", s.defaultTop))
	if err != nil {
		return toolError("answer_question", err), nil
	}
	return jsonResult(answer)
}

func (s *Server) suggestTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	structured, err := s.svc.Extractor.Extract(ctx, text)
	if err != nil {
		return toolError("suggest_tags", err), nil
	}
	tags, err := s.svc.Tags.SuggestTags(ctx, structured, req.GetInt("max_tags", 0))
	if err != nil {
		return toolError("suggest_tags", err), nil
	}
	if tags == nil {
		tags = []string{}
	}
	return jsonResult(map[string]any{"tags": tags})
}

func (s *Server) processTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	label, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolution, err := s.svc.Tags.ProcessTag(ctx, label)
	if err != nil {
		return toolError("process_tag", err), nil
	}
	return jsonResult(resolution)
}

// toolError reports pipeline failures as tool results so the client model can react;
// protocol errors are reserved for transport problems.
func toolError(tool string, err error) *mcp.CallToolResult {
	slog.Warn("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}
