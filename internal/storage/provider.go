// Package storage gives the rest of postvault slash-path access to the
// content root: post files, bundle resources and atomic replacement.
package storage

import "github.com/starford/postvault/internal/models"

// Provider abstracts the content root. Paths are slash-separated and
// relative to the root; absolute or escaping paths are rejected.
type Provider interface {
	// List returns metadata for every post file under dir.
	List(dir string) ([]models.PostMetadata, error)
	Read(path string) ([]byte, error)
	// Write creates parent directories and replaces path atomically.
	Write(path string, content []byte) error
	Delete(path string) error
	// Exists reports whether a file or directory exists at path. Used for
	// bundle directories and cover resources as well as posts.
	Exists(path string) bool
}
