package api

import (
	"github.com/starford/postvault/internal/conformance"
	"github.com/starford/postvault/internal/index"
	"github.com/starford/postvault/internal/postservice"
)

// CreatePostRequest is the request body for creating a post.
type CreatePostRequest struct {
	Path    string `json:"path" example:"posts/hello/index.md" validate:"required"`
	Content string `json:"content" example:"+++\ntitle = \"Hello\"\n+++\nBody" validate:"required"`
}

// UpdatePostRequest is the request body for updating a post.
type UpdatePostRequest struct {
	Content string `json:"content" example:"+++\ntitle = \"Hello\"\n+++\nBody" validate:"required"`
}

// ValidateRequest is the request body for a dry-run conformance check.
type ValidateRequest struct {
	Path    string `json:"path" example:"posts/hello/index.md"`
	Content string `json:"content" validate:"required"`
}

// PostDetail is the full post response type (aliased from the domain layer).
type PostDetail = postservice.PostDetail

// PostListItem is a lightweight item in a list response (aliased from the domain layer).
type PostListItem = postservice.PostListItem

// PostListResponse wraps paginated post listings.
type PostListResponse struct {
	Posts []PostListItem `json:"posts" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// TagsResponse wraps tag usage counts.
type TagsResponse struct {
	Tags []index.TagCount `json:"tags" validate:"required"`
}

// ValidationErrorResponse is returned when a post is rejected by the
// conformance checks.
type ValidationErrorResponse struct {
	Error  string              `json:"error" validate:"required"`
	Report *conformance.Report `json:"report" validate:"required"`
}
