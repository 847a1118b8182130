package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/finassist/internal/chunker"
)

func testChunks() ([]chunker.Chunk, [][]float32) {
	chunks := []chunker.Chunk{
		{Text: "Invoices are paid within 30 days.", SourceName: "policy.pdf", Index: 0},
		{Text: "Travel must be pre-approved.", SourceName: "policy.pdf", Index: 1},
		{Text: "Quarterly close checklist.", SourceName: "close.html", Index: 0},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

func buildTestIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.index")
	chunks, vectors := testChunks()
	if err := Build(context.Background(), path, chunks, vectors, Meta{EmbedModel: "mistral-embed"}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return path
}

func TestBuildAndSearch(t *testing.T) {
	path := buildTestIndex(t)

	results, err := searchFile(context.Background(), path, []float32{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("searchFile: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Text != "Invoices are paid within 30 days." {
		t.Errorf("top result = %q", results[0].Text)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered: %f < %f", results[0].Score, results[1].Score)
	}
	if results[0].SourceName != "policy.pdf" || results[0].Index != 0 {
		t.Errorf("top result source = %s#%d", results[0].SourceName, results[0].Index)
	}
}

func TestSearch_TopKLargerThanIndex(t *testing.T) {
	path := buildTestIndex(t)

	results, err := searchFile(context.Background(), path, []float32{1, 1, 1}, 10)
	if err != nil {
		t.Fatalf("searchFile: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}

func TestSearch_TopKZero(t *testing.T) {
	path := buildTestIndex(t)

	results, err := searchFile(context.Background(), path, []float32{1, 0, 0}, 0)
	if err != nil {
		t.Fatalf("searchFile with topK=0: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for topK=0, got %d", len(results))
	}
}

func TestSearch_MissingIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.index")

	_, err := searchFile(context.Background(), path, []float32{1, 0, 0}, 3)
	if !errors.Is(err, ErrNoIndex) {
		t.Fatalf("err = %v, want ErrNoIndex", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("search must not create an index file")
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	path := buildTestIndex(t)

	if _, err := searchFile(context.Background(), path, []float32{1, 0}, 3); err == nil {
		t.Fatal("expected error for mismatched query dimension")
	}
}

func TestBuild_ReplacesWholesale(t *testing.T) {
	path := buildTestIndex(t)

	replacement := []chunker.Chunk{{Text: "Only chunk.", SourceName: "new.txt", Index: 0}}
	if err := Build(context.Background(), path, replacement, [][]float32{{0, 1, 0}}, Meta{EmbedModel: "mistral-embed"}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	st, err := ReadStats(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if st.Chunks != 1 || st.Sources != 1 {
		t.Errorf("stats = %+v, want 1 chunk from 1 source", st)
	}
}

func TestBuild_FailureLeavesPriorIndex(t *testing.T) {
	path := buildTestIndex(t)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}

	chunks, _ := testChunks()
	ragged := [][]float32{{1, 0, 0}, {0, 1}, {0, 0, 1}}
	if err := Build(context.Background(), path, chunks, ragged, Meta{}); err == nil {
		t.Fatal("expected error for ragged vectors")
	}
	if err := Build(context.Background(), path, chunks, ragged[:1], Meta{}); err == nil {
		t.Fatal("expected error for chunk/vector count mismatch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, vectors := testChunks()
	if err := Build(ctx, path, chunks, vectors, Meta{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("index file changed after failed builds")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("leftover files after failed builds: %v", names)
	}
}

// generation returns n chunks whose texts all carry the generation number.
func generation(gen, n, dim int) ([]chunker.Chunk, [][]float32) {
	chunks := make([]chunker.Chunk, n)
	vectors := make([][]float32, n)
	for i := range n {
		chunks[i] = chunker.Chunk{Text: fmt.Sprintf("gen-%d chunk-%d", gen, i), SourceName: "doc.pdf", Index: i}
		v := make([]float32, dim)
		v[i%dim] = 1
		v[(i+gen)%dim] += 0.5
		vectors[i] = v
	}
	return chunks, vectors
}

func TestSearchDuringRebuilds(t *testing.T) {
	const (
		rebuilds = 30
		size     = 300
		dim      = 8
		topK     = 5
		readers  = 4
	)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs.index")
	chunks, vectors := generation(0, size, dim)
	if err := Build(ctx, path, chunks, vectors, Meta{EmbedModel: "test"}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var done atomic.Bool
	var searches atomic.Int64
	var wg sync.WaitGroup
	query := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				results, err := searchFile(ctx, path, query, topK)
				if err != nil {
					t.Errorf("searchFile during rebuild: %v", err)
					return
				}
				if len(results) != topK {
					t.Errorf("got %d results, want %d", len(results), topK)
					return
				}
				prefix, _, _ := strings.Cut(results[0].Text, " ")
				for _, r := range results {
					if !strings.HasPrefix(r.Text, prefix+" ") {
						t.Errorf("results mix index generations: %q and %q", results[0].Text, r.Text)
						return
					}
				}
				searches.Add(1)
			}
		}()
	}

	for gen := 1; gen <= rebuilds; gen++ {
		chunks, vectors := generation(gen, size, dim)
		if err := Build(ctx, path, chunks, vectors, Meta{EmbedModel: "test"}); err != nil {
			t.Fatalf("Build generation %d: %v", gen, err)
		}
	}
	for searches.Load() < readers && !t.Failed() {
		time.Sleep(time.Millisecond)
	}
	done.Store(true)
	wg.Wait()
	results, err := searchFile(ctx, path, query, topK)
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf("gen-%d ", rebuilds); !strings.HasPrefix(results[0].Text, want) {
		t.Errorf("final index serves %q, want generation %d", results[0].Text, rebuilds)
	}
}

func TestBuild_NoChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	if err := Build(context.Background(), path, nil, nil, Meta{}); err == nil {
		t.Fatal("expected error for empty build")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty build must not create an index file")
	}
}

func TestReadStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.index")
	chunks, vectors := testChunks()
	builtAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := Build(context.Background(), path, chunks, vectors, Meta{EmbedModel: "mistral-embed", BuiltAt: builtAt}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	st, err := ReadStats(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if st.Chunks != 3 || st.Sources != 2 {
		t.Errorf("chunks=%d sources=%d, want 3 and 2", st.Chunks, st.Sources)
	}
	if st.EmbedModel != "mistral-embed" || st.Dimension != 3 {
		t.Errorf("model=%q dim=%d", st.EmbedModel, st.Dimension)
	}
	if !st.BuiltAt.Equal(builtAt) {
		t.Errorf("built_at = %v, want %v", st.BuiltAt, builtAt)
	}
	if st.SizeBytes == 0 {
		t.Error("size_bytes = 0")
	}
}

func TestReadStats_MissingIndex(t *testing.T) {
	_, err := ReadStats(context.Background(), filepath.Join(t.TempDir(), "docs.index"))
	if !errors.Is(err, ErrNoIndex) {
		t.Errorf("err = %v, want ErrNoIndex", err)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
