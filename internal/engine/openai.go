package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultHostedBaseURL = "https://api.mistral.ai/v1"
	defaultTimeout       = 120 * time.Second
)

// Compile-time check that OpenAIEngine implements Engine.
var _ Engine = (*OpenAIEngine)(nil)

// OpenAIEngine talks to any OpenAI-compatible chat and embeddings API.
// Mistral's hosted API is the default target. Requests are sent once;
// failures are returned to the caller without retrying.
type OpenAIEngine struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIEngine creates a client for the given API key and base URL.
// An empty baseURL selects the hosted Mistral endpoint.
func NewOpenAIEngine(apiKey, baseURL string) *OpenAIEngine {
	if baseURL == "" {
		baseURL = DefaultHostedBaseURL
	}
	return &OpenAIEngine{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends a non-streaming chat completion request and returns the first
// choice's content.
func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	var resp chatCompletionResponse
	if err := e.post(ctx, "/chat/completions", chatCompletionRequest{Model: model, Messages: messages}, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for a single text.
func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var resp embeddingsResponse
	if err := e.post(ctx, "/embeddings", embeddingsRequest{Model: model, Input: []string{text}}, &resp); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings: empty embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// IsRunning reports whether GET /models answers 200 with the configured key.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	e.setHeaders(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *OpenAIEngine) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (e *OpenAIEngine) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
}
