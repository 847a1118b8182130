package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/finassist/internal/chunker"
)

// ErrNoIndex is returned when no index has been built at the configured path.
var ErrNoIndex = errors.New("document index has not been built")

// Searcher is the read side of the document index used by the query router.
type Searcher interface {
	// Search returns up to k chunks ranked by similarity, most similar first.
	Search(ctx context.Context, query string, k int) ([]ScoredChunk, error)
}

// ScoredChunk is a retrieved chunk with its cosine similarity to the query.
type ScoredChunk struct {
	chunker.Chunk
	Score float32
}

// Meta describes how an index file was built.
type Meta struct {
	BuiltAt    time.Time
	EmbedModel string
	Dimension  int
}

// Stats summarises the index file currently at a path.
type Stats struct {
	Path       string    `json:"path"`
	Chunks     int       `json:"chunks"`
	Sources    int       `json:"sources"`
	SizeBytes  int64     `json:"size_bytes"`
	BuiltAt    time.Time `json:"built_at"`
	EmbedModel string    `json:"embed_model"`
	Dimension  int       `json:"dimension"`
}
