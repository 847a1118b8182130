package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/finassist/internal/chunker"
	"github.com/kalambet/finassist/internal/retrieval"
	"github.com/kalambet/finassist/internal/sharepoint"
	"github.com/kalambet/finassist/internal/storage"
)

// Status is the tag of an Outcome.
type Status string

const (
	StatusDone  Status = "done"
	StatusInfo  Status = "info"
	StatusError Status = "error"
)

const msgInProgress = "reindex already in progress"

// Outcome describes one reindex attempt.
type Outcome struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Fetcher returns every document in the configured library.
type Fetcher interface {
	Fetch(ctx context.Context) ([]sharepoint.Document, error)
}

// BatchEmbedder embeds many texts and names the model that produced them.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// RunRecorder persists outcomes.
type RunRecorder interface {
	RecordRun(ctx context.Context, r storage.ReindexRun) error
}

// Reindexer rebuilds the document index from the document library. Runs are
// serialized; the index file is replaced only after a complete build.
type Reindexer struct {
	fetch    Fetcher
	embedder BatchEmbedder
	splitter *chunker.Splitter
	path     string
	recorder RunRecorder
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a Reindexer writing the index to path. recorder may be nil.
func New(fetch Fetcher, embedder BatchEmbedder, splitter *chunker.Splitter, path string, recorder RunRecorder) *Reindexer {
	return &Reindexer{
		fetch:    fetch,
		embedder: embedder,
		splitter: splitter,
		path:     path,
		recorder: recorder,
		logger:   slog.Default(),
	}
}

// Run performs one reindex and never returns an error: failures are reported
// as StatusError and the previous index is kept. A call made while another
// run is active returns StatusInfo immediately.
func (r *Reindexer) Run(ctx context.Context) Outcome {
	if !r.mu.TryLock() {
		return Outcome{Status: StatusInfo, Message: msgInProgress, StartedAt: time.Now().UTC()}
	}
	defer r.mu.Unlock()

	out := Outcome{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("reindex panic", "panic", p)
				out.Status = StatusError
				out.Message = fmt.Sprintf("reindex failed: %v", p)
			}
		}()
		r.run(ctx, &out)
	}()
	out.Duration = time.Since(out.StartedAt)

	r.logger.Info("reindex finished",
		"status", out.Status,
		"documents", out.Documents,
		"chunks", out.Chunks,
		"duration", out.Duration,
		"message", out.Message,
	)
	r.record(ctx, out)
	return out
}

func (r *Reindexer) run(ctx context.Context, out *Outcome) {
	fail := func(format string, args ...any) {
		out.Status = StatusError
		out.Message = fmt.Sprintf(format, args...)
	}

	docs, err := r.fetch.Fetch(ctx)
	if err != nil {
		fail("fetching documents: %v", err)
		return
	}
	out.Documents = len(docs)
	if len(docs) == 0 {
		out.Status = StatusInfo
		out.Message = "no documents found"
		return
	}

	inputs := make([]chunker.Document, len(docs))
	for i, d := range docs {
		inputs[i] = chunker.Document{Name: d.Name, Text: d.Text}
	}
	chunks := r.splitter.SplitAll(inputs)
	if len(chunks) == 0 {
		out.Status = StatusInfo
		out.Message = fmt.Sprintf("no text found in %d documents", len(docs))
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		fail("embedding chunks: %v", err)
		return
	}

	meta := retrieval.Meta{EmbedModel: r.embedder.Model()}
	if err := retrieval.Build(ctx, r.path, chunks, vectors, meta); err != nil {
		fail("writing index: %v", err)
		return
	}

	out.Chunks = len(chunks)
	out.Status = StatusDone
	out.Message = fmt.Sprintf("indexed %d documents into %d chunks", len(docs), len(chunks))
}

func (r *Reindexer) record(ctx context.Context, out Outcome) {
	if r.recorder == nil {
		return
	}
	run := storage.ReindexRun{
		ID:         out.ID,
		StartedAt:  out.StartedAt,
		FinishedAt: out.StartedAt.Add(out.Duration),
		Status:     string(out.Status),
		Message:    out.Message,
		Documents:  out.Documents,
		Chunks:     out.Chunks,
	}
	// Record even when the caller has gone away.
	if err := r.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("recording reindex run failed", "error", err)
	}
}
