// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes postvault tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/postvault/internal/apperr"
	"github.com/starford/postvault/internal/index"
	"github.com/starford/postvault/internal/postservice"
	"github.com/starford/postvault/internal/storage"
)

// FormatResourceURI identifies the post format contract resource.
const FormatResourceURI = "postvault://post-format"

// Server wraps the MCP server with postvault tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *postservice.Service
	store storage.Provider
}

// New creates a new MCP server with all postvault tools registered.
func New(svc *postservice.Service, store storage.Provider, version string) *Server {
	s := &Server{svc: svc, store: store}

	s.mcp = server.NewMCPServer(
		"postvault",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_posts",
		mcp.WithDescription("Full-text search through published post titles, bodies and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read the raw source of a post including its TOML front matter."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the post (e.g. 2025/hello/index.md)")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List posts newest first with their summaries."),
		mcp.WithString("tag", mcp.Description("Only posts carrying this tag")),
		mcp.WithBoolean("drafts", mcp.Description("Include draft posts")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("create_post",
		mcp.WithDescription("Create a new post at the specified path. "+
			"Content MUST follow the post format contract (+++ TOML front matter with "+
			"title and date, Markdown body). Read the contract first via the "+
			"get_post_contract tool or the "+FormatResourceURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new post (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Post source following the format contract")),
	), s.createPost)

	s.mcp.AddTool(mcp.NewTool("validate_post",
		mcp.WithDescription("Check post source against the format contract without saving it. "+
			"Returns a JSON report of issues."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Post source to check")),
		mcp.WithString("path", mcp.Description("Path the post would be stored at; used to resolve a relative cover")),
	), s.validatePost)

	s.mcp.AddTool(mcp.NewTool("get_post_contract",
		mcp.WithDescription("Returns the post format contract. "+
			"Call this before creating or updating posts to ensure correct structure."),
	), s.getPostContract)

	s.mcp.AddTool(mcp.NewTool("upload_cover",
		mcp.WithDescription("Download an image (http/https URL or base64 data URI) and store it "+
			"in a post's bundle directory so it can be referenced as a relative cover."),
		mcp.WithString("post", mcp.Required(), mcp.Description("Path of the post the cover belongs to")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Image URL or data URI")),
		mcp.WithString("filename", mcp.Description("File name inside the bundle (default cover.<ext>)")),
	), s.uploadCover)

	s.mcp.AddResource(
		mcp.NewResource(FormatResourceURI, "Post Format Contract",
			mcp.WithResourceDescription("Front matter and body format that all posts must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) searchPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readPost(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", p)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListPosts(ctx, index.ListOptions{
		Tag:           req.GetString("tag", ""),
		IncludeDrafts: req.GetBool("drafts", false),
		Limit:         req.GetInt("limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"posts": items, "total": total}), nil
}

func (s *Server) createPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := s.svc.CreatePost(ctx, p, []byte(content)); err != nil {
		var verr *postservice.ValidationError
		switch {
		case errors.As(err, &verr):
			out, _ := json.MarshalIndent(verr.Report, "", "  ")
			return mcp.NewToolResultError("post does not conform to the format contract:\n" + string(out)), nil
		case errors.Is(err, apperr.ErrAlreadyExists):
			return mcp.NewToolResultError(fmt.Sprintf("post already exists: %s", p)), nil
		default:
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", p)), nil
}

func (s *Server) validatePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p := req.GetString("path", "index.md")
	return jsonResult(s.svc.Validate(ctx, p, []byte(content))), nil
}

func (s *Server) getPostContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostFormatContract), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatResourceURI,
			MIMEType: "text/markdown",
			Text:     PostFormatContract,
		},
	}, nil
}
