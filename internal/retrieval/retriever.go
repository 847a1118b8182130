package retrieval

import (
	"context"
	"fmt"
)

// Compile-time check that Index implements Searcher.
var _ Searcher = (*Index)(nil)

// Index combines query embedding and the persisted index file to find
// relevant document chunks. The file is opened per search, so a search that
// overlaps a reindex reads either the old file or the new one in full.
type Index struct {
	path     string
	embedder *Embedder
}

// NewIndex creates an Index reading the file at path.
func NewIndex(path string, embedder *Embedder) *Index {
	return &Index{path: path, embedder: embedder}
}

// Path returns the location of the index file.
func (x *Index) Path() string { return x.path }

// Search embeds the query and returns the top-K most similar chunks.
// It returns ErrNoIndex if no index has been built yet.
func (x *Index) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if err := checkIndex(x.path); err != nil {
		return nil, err
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	chunks, err := searchFile(ctx, x.path, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return chunks, nil
}

// Stats reports what the current index file contains.
func (x *Index) Stats(ctx context.Context) (Stats, error) {
	return ReadStats(ctx, x.path)
}
