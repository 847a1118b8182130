package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/finassist/internal/composer"
	"github.com/kalambet/finassist/internal/intent"
	"github.com/kalambet/finassist/internal/invoices"
	"github.com/kalambet/finassist/internal/retrieval"
)

const (
	DefaultTopK = 3

	msgNoRows          = "No invoice records found."
	msgNoIndex         = "No documents have been indexed yet. Run a reindex first."
	msgNoChunks        = "No relevant documents found for this question."
	msgEmptyQuery      = "Please enter a question."
	msgNoDataSource    = "The invoice database is not configured."
	msgBlankCompletion = "the model returned a blank completion"
)

// DataSource runs the fixed invoice query.
type DataSource interface {
	Query(ctx context.Context, query string) (invoices.Table, error)
}

// Generator produces a completion from a system instruction and a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Config parameterizes the two paths.
type Config struct {
	Table string // invoice table for the data-lookup query
	Limit int    // rows returned by the data-lookup query
	TopK  int    // chunks retrieved on the general path
}

// Router decides per question whether to read invoices or search documents,
// calls the answer generator, and shapes the outcome as a Result. Route never
// returns an error and never panics; collaborator failures become Error.
type Router struct {
	data     DataSource
	index    retrieval.Searcher
	gen      Generator
	composer *composer.Composer
	cfg      Config
}

// New creates a Router. data may be nil when no invoice database is
// configured; data-lookup questions then yield Error.
func New(data DataSource, index retrieval.Searcher, gen Generator, comp *composer.Composer, cfg Config) *Router {
	if cfg.Table == "" {
		cfg.Table = invoices.DefaultTable
	}
	if cfg.Limit <= 0 {
		cfg.Limit = invoices.DefaultLimit
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Router{data: data, index: index, gen: gen, composer: comp, cfg: cfg}
}

// Route answers query with exactly one Result.
func (r *Router) Route(ctx context.Context, query string) (res Result) {
	start := time.Now()
	route := intent.Classify(query)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("router panic", "route", route, "panic", p)
			res = Error{Content: fmt.Sprintf("Internal error while answering: %v", p)}
		}
		if slog.Default().Enabled(ctx, slog.LevelDebug) {
			slog.Debug("routed query",
				"route", route,
				"signals", intent.Signals(query),
				"result", res.Kind(),
				"duration", time.Since(start),
			)
		}
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return Info{Content: msgEmptyQuery}
	}

	if route == intent.RouteData {
		return r.lookupData(ctx, query)
	}
	return r.answerGeneral(ctx, query)
}

func (r *Router) lookupData(ctx context.Context, query string) Result {
	if r.data == nil {
		return Error{Content: msgNoDataSource}
	}
	stmt, err := invoices.RecentQuery(r.cfg.Table, r.cfg.Limit)
	if err != nil {
		return Error{Content: "Invoice query is misconfigured: " + err.Error()}
	}

	tbl, err := r.data.Query(ctx, stmt)
	if err != nil {
		slog.Warn("invoice query failed", "error", err)
		return Error{Content: "Could not query invoices: " + err.Error()}
	}
	if tbl.Len() == 0 {
		return Info{Content: msgNoRows}
	}

	p := r.composer.SummaryPrompt(query, tbl)
	summary, err := r.gen.Generate(ctx, p.System, p.User)
	if err != nil {
		slog.Warn("summary generation failed", "error", err)
		return Error{Content: "Could not summarize invoices: " + err.Error()}
	}
	if strings.TrimSpace(summary) == "" {
		return Error{Content: "Could not summarize invoices: " + msgBlankCompletion}
	}
	return Table{Columns: tbl.Columns, Rows: tbl.Rows, Summary: summary}
}

func (r *Router) answerGeneral(ctx context.Context, query string) Result {
	chunks, err := r.index.Search(ctx, query, r.cfg.TopK)
	if errors.Is(err, retrieval.ErrNoIndex) {
		return Info{Content: msgNoIndex}
	}
	if err != nil {
		slog.Warn("document search failed", "error", err)
		return Error{Content: "Could not search documents: " + err.Error()}
	}
	if len(chunks) == 0 {
		return Info{Content: msgNoChunks}
	}

	p := r.composer.DocumentPrompt(query, chunks)
	answer, err := r.gen.Generate(ctx, p.System, p.User)
	if err != nil {
		slog.Warn("answer generation failed", "error", err)
		return Error{Content: "Could not generate an answer: " + err.Error()}
	}
	if strings.TrimSpace(answer) == "" {
		return Error{Content: "Could not generate an answer: " + msgBlankCompletion}
	}
	return Text{Content: answer}
}
