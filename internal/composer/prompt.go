package composer

import (
	"strings"

	"github.com/kalambet/finassist/internal/invoices"
	"github.com/kalambet/finassist/internal/retrieval"
)

const defaultMaxContextTokens = 4000

const (
	// DocumentSystem instructs the model on the general-knowledge path.
	DocumentSystem = "You are a helpful assistant. Answer general or document-related questions. If data is tabular, reply in Markdown table."

	// SummarySystem instructs the model on the data-lookup path.
	SummarySystem = "You are a finance assistant. Summarize the accounts payable data below in plain language for the user. Mention totals, vendors and dates when they are relevant. Do not invent rows."

	// chunkSeparator joins retrieved chunk texts.
	chunkSeparator = "\n"
)

// Prompt is a system instruction plus a user prompt for the answer generator.
type Prompt struct {
	System string
	User   string
}

// Composer assembles prompts for both router paths. Injected context is kept
// under a token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// DocumentPrompt builds the general-path prompt from retrieved chunks, which
// are expected most similar first. Chunks that do not fit the budget are
// dropped from the end.
func (c *Composer) DocumentPrompt(question string, chunks []retrieval.ScoredChunk) Prompt {
	return Prompt{
		System: DocumentSystem,
		User: "Relevant documents:\n" + c.documentContext(chunks) +
			"\n\nAnswer the user's question: " + question + ". If possible, use a Markdown table.",
	}
}

// SummaryPrompt builds the data-path prompt from the rows returned by the
// invoice query.
func (c *Composer) SummaryPrompt(question string, t invoices.Table) Prompt {
	var sb strings.Builder
	sb.WriteString("Latest accounts payable rows:\n")
	sb.WriteString(c.tableContext(t))
	sb.WriteString("\nUser question: ")
	sb.WriteString(question)
	sb.WriteString("\nSummarize the rows above to answer the question.")
	return Prompt{System: SummarySystem, User: sb.String()}
}

// documentContext joins chunk texts in rank order, skipping any chunk that
// would push the total past the budget.
func (c *Composer) documentContext(chunks []retrieval.ScoredChunk) string {
	remaining := c.MaxContextTokens
	selected := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		tokens := EstimateTokens(ch.Text + chunkSeparator)
		if tokens > remaining {
			continue
		}
		selected = append(selected, ch.Text)
		remaining -= tokens
	}
	return strings.Join(selected, chunkSeparator)
}

// tableContext renders the table as Markdown, dropping trailing rows when the
// rendering exceeds the budget.
func (c *Composer) tableContext(t invoices.Table) string {
	md := t.Markdown()
	for len(t.Rows) > 1 && EstimateTokens(md) > c.MaxContextTokens {
		t.Rows = t.Rows[:len(t.Rows)-1]
		md = t.Markdown()
	}
	return md
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
