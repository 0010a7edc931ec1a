// Package models defines the domain types for postvault.
package models

import "time"

// Cover describes the cover image block of a post's front matter.
type Cover struct {
	Image    string `json:"image,omitempty"`
	Alt      string `json:"alt,omitempty"`
	Relative bool   `json:"relative"`
	Hidden   bool   `json:"hidden"`
}

// Post is a parsed content document: front matter metadata plus Markdown body.
type Post struct {
	Path          string         `json:"path"`
	Date          time.Time      `json:"date"`
	Draft         bool           `json:"draft"`
	Title         string         `json:"title"`
	SummaryLength int            `json:"summary_length"`
	Tags          []string       `json:"tags"`
	Cover         Cover          `json:"cover"`
	Body          string         `json:"body"`
	FrontMatter   map[string]any `json:"front_matter,omitempty"`
	Checksum      string         `json:"checksum"`
}

// BundleDir returns the directory holding the post's page resources.
// For "posts/x/index.md" that is "posts/x"; for "posts/x.md" it is "posts".
func (p *Post) BundleDir() string {
	for i := len(p.Path) - 1; i >= 0; i-- {
		if p.Path[i] == '/' {
			return p.Path[:i]
		}
	}
	return ""
}

// PostMetadata is a lightweight representation returned by list operations.
type PostMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
