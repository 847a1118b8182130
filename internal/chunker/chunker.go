package chunker

import (
	"fmt"
	"strings"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Chunk is a contiguous span of one source document.
type Chunk struct {
	Text       string
	SourceName string
	Index      int
}

// Splitter cuts text into fixed-size character windows. Sizes are counted
// in runes so multi-byte text is never split mid-character.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. overlap must be smaller than size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split returns the chunks of text attributed to source. Every chunk is at
// most size runes; consecutive chunks share exactly overlap runes, except
// that the last chunk is anchored to the end of the text and may share more.
// Blank text yields no chunks.
func (s *Splitter) Split(source, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= s.size {
		return []Chunk{{Text: text, SourceName: source, Index: 0}}
	}

	step := s.size - s.overlap
	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + s.size
		if end >= len(runes) {
			// Anchor the final window to the end of the text.
			start = len(runes) - s.size
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Text:       string(runes[start:end]),
			SourceName: source,
			Index:      len(chunks),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// SplitAll splits every (name, text) document in order.
func (s *Splitter) SplitAll(docs []Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		out = append(out, s.Split(d.Name, d.Text)...)
	}
	return out
}

// Document is the input to SplitAll.
type Document struct {
	Name string
	Text string
}
