package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCompletion is returned when the model answers with blank content.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Engine abstracts an inference backend: the hosted OpenAI-compatible API
// (Mistral by default) or a local Ollama server. The router and the indexer
// depend on this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool
}

// StatusError is returned when an upstream API answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Generator is the answer generator: a system instruction plus a user prompt
// in, a single completion out.
type Generator struct {
	engine Engine
	model  string
}

// NewGenerator binds an Engine to the chat model used for answers.
func NewGenerator(e Engine, model string) *Generator {
	return &Generator{engine: e, model: model}
}

// Generate returns the model's completion. A blank completion is an error.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	out, err := g.engine.Chat(ctx, g.model, msgs)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
