package reindex

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kalambet/finassist/internal/chunker"
	"github.com/kalambet/finassist/internal/retrieval"
	"github.com/kalambet/finassist/internal/sharepoint"
	"github.com/kalambet/finassist/internal/storage"
)

type mockFetcher struct {
	docs    []sharepoint.Document
	err     error
	panics  bool
	block   chan struct{}
	started chan struct{}
}

func (m *mockFetcher) Fetch(_ context.Context) ([]sharepoint.Document, error) {
	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		<-m.block
	}
	if m.panics {
		panic("graph client exploded")
	}
	return m.docs, m.err
}

type mockEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, texts...)
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, float32(i)}
	}
	return out, nil
}

func (m *mockEmbedder) Model() string { return "mistral-embed" }

func newSplitter(t *testing.T) *chunker.Splitter {
	t.Helper()
	s, err := chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return s
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDocs() []sharepoint.Document {
	return []sharepoint.Document{
		{Name: "policy.txt", Text: strings.Repeat("Invoices over 10k need two approvals. ", 40)},
		{Name: "faq.txt", Text: "Short FAQ."},
	}
}

// buildPrior writes an initial index at path and returns its bytes.
func buildPrior(t *testing.T, path string) []byte {
	t.Helper()
	r := New(&mockFetcher{docs: sampleDocs()}, &mockEmbedder{}, newSplitter(t), path, nil)
	if out := r.Run(context.Background()); out.Status != StatusDone {
		t.Fatalf("prior build: %+v", out)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading prior index: %v", err)
	}
	return b
}

func TestRun_Done(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	emb := &mockEmbedder{}
	store := openStore(t)
	r := New(&mockFetcher{docs: sampleDocs()}, emb, newSplitter(t), path, store)

	out := r.Run(context.Background())
	if out.Status != StatusDone {
		t.Fatalf("status = %s (%s), want done", out.Status, out.Message)
	}
	if out.Documents != 2 || out.Chunks != len(emb.texts) || out.Chunks < 3 {
		t.Errorf("outcome = %+v, embedded %d texts", out, len(emb.texts))
	}

	st, err := retrieval.ReadStats(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if st.Chunks != out.Chunks || st.Sources != 2 || st.EmbedModel != "mistral-embed" {
		t.Errorf("stats = %+v", st)
	}

	run, err := store.LastRun(context.Background())
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run.ID != out.ID || run.Status != "done" || run.Chunks != out.Chunks {
		t.Errorf("recorded run = %+v, outcome = %+v", run, out)
	}
}

func TestRun_ChunkShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	emb := &mockEmbedder{}
	r := New(&mockFetcher{docs: sampleDocs()}, emb, newSplitter(t), path, nil)
	r.Run(context.Background())

	// policy.txt chunks come first, then the single faq.txt chunk.
	policy := emb.texts[:len(emb.texts)-1]
	for i, c := range policy {
		if n := utf8.RuneCountInString(c); n > chunker.DefaultSize {
			t.Errorf("chunk %d has %d characters", i, n)
		}
		if i+2 < len(policy) {
			next := policy[i+1]
			if c[len(c)-chunker.DefaultOverlap:] != next[:chunker.DefaultOverlap] {
				t.Errorf("chunks %d and %d do not overlap by %d", i, i+1, chunker.DefaultOverlap)
			}
		}
	}
	if emb.texts[len(emb.texts)-1] != "Short FAQ." {
		t.Errorf("last chunk = %q", emb.texts[len(emb.texts)-1])
	}
}

func TestRun_NoDocumentsLeavesIndexByteIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	before := buildPrior(t, path)

	emb := &mockEmbedder{}
	r := New(&mockFetcher{}, emb, newSplitter(t), path, nil)
	out := r.Run(context.Background())

	if out.Status != StatusInfo {
		t.Fatalf("status = %s, want info", out.Status)
	}
	if len(emb.texts) != 0 {
		t.Error("embedder called with no documents")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("index changed after empty fetch")
	}
}

func TestRun_BlankDocumentsAreInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	r := New(&mockFetcher{docs: []sharepoint.Document{{Name: "scan.pdf", Text: "  "}}}, &mockEmbedder{}, newSplitter(t), path, nil)

	out := r.Run(context.Background())
	if out.Status != StatusInfo {
		t.Fatalf("status = %s, want info", out.Status)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("index created from blank documents")
	}
}

func TestRun_FailuresKeepPriorIndex(t *testing.T) {
	tests := []struct {
		name  string
		fetch *mockFetcher
		emb   *mockEmbedder
	}{
		{"fetch error", &mockFetcher{err: errors.New("401 unauthorized")}, &mockEmbedder{}},
		{"fetch panic", &mockFetcher{panics: true}, &mockEmbedder{}},
		{"embed error", &mockFetcher{docs: sampleDocs()}, &mockEmbedder{err: errors.New("rate limited")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "docs.index")
			before := buildPrior(t, path)
			store := openStore(t)

			out := New(tt.fetch, tt.emb, newSplitter(t), path, store).Run(context.Background())
			if out.Status != StatusError {
				t.Fatalf("status = %s, want error", out.Status)
			}
			if out.Message == "" {
				t.Error("error outcome has no message")
			}

			after, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("reading index: %v", err)
			}
			if !bytes.Equal(before, after) {
				t.Error("index changed after failed reindex")
			}

			run, err := store.LastRun(context.Background())
			if err != nil {
				t.Fatalf("LastRun: %v", err)
			}
			if run.Status != "error" {
				t.Errorf("recorded status = %q, want error", run.Status)
			}
		})
	}
}

func TestRun_NotConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	fetch := &mockFetcher{docs: sampleDocs(), block: make(chan struct{}), started: make(chan struct{})}
	r := New(fetch, &mockEmbedder{}, newSplitter(t), path, nil)

	first := make(chan Outcome, 1)
	go func() { first <- r.Run(context.Background()) }()
	<-fetch.started

	second := r.Run(context.Background())
	if second.Status != StatusInfo || second.Message != msgInProgress {
		t.Errorf("concurrent run = %+v, want info %q", second, msgInProgress)
	}

	close(fetch.block)
	if out := <-first; out.Status != StatusDone {
		t.Errorf("first run = %+v, want done", out)
	}
}

type countingFetcher struct {
	calls atomic.Int32
}

func (c *countingFetcher) Fetch(_ context.Context) ([]sharepoint.Document, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	fetch := &countingFetcher{}
	r := New(fetch, &mockEmbedder{}, newSplitter(t), filepath.Join(t.TempDir(), "docs.index"), nil)
	s := NewScheduler(r, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fetch.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if fetch.calls.Load() < 2 {
		t.Errorf("scheduler ran %d times, want >= 2", fetch.calls.Load())
	}
}

func TestNewScheduler_DefaultInterval(t *testing.T) {
	s := NewScheduler(nil, 0)
	if s.interval != 24*time.Hour {
		t.Errorf("interval = %v, want 24h", s.interval)
	}
}
