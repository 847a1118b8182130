package engine

import (
	"context"
	"errors"
	"testing"
)

type stubEngine struct {
	reply string
	err   error
	got   []Message
	model string
}

func (s *stubEngine) Chat(_ context.Context, model string, messages []Message) (string, error) {
	s.model = model
	s.got = messages
	return s.reply, s.err
}
func (s *stubEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) { return nil, nil }
func (s *stubEngine) IsRunning(_ context.Context) bool                              { return true }

func TestGenerator_Generate(t *testing.T) {
	s := &stubEngine{reply: "answer"}
	g := NewGenerator(s, "mistral-large-latest")

	out, err := g.Generate(context.Background(), "be helpful", "question")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "answer" {
		t.Errorf("got %q, want answer", out)
	}
	if s.model != "mistral-large-latest" {
		t.Errorf("model = %q", s.model)
	}
	if len(s.got) != 2 || s.got[0].Role != "system" || s.got[1].Role != "user" || s.got[1].Content != "question" {
		t.Errorf("messages = %+v", s.got)
	}
}

func TestGenerator_NoSystem(t *testing.T) {
	s := &stubEngine{reply: "answer"}
	if _, err := NewGenerator(s, "m").Generate(context.Background(), "", "q"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(s.got) != 1 || s.got[0].Role != "user" {
		t.Errorf("messages = %+v", s.got)
	}
}

func TestGenerator_EmptyCompletion(t *testing.T) {
	s := &stubEngine{reply: "  \n "}
	_, err := NewGenerator(s, "m").Generate(context.Background(), "s", "q")
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("err = %v, want ErrEmptyCompletion", err)
	}
}

func TestGenerator_UpstreamError(t *testing.T) {
	s := &stubEngine{err: errors.New("connection refused")}
	_, err := NewGenerator(s, "m").Generate(context.Background(), "s", "q")
	if err == nil {
		t.Fatal("expected error")
	}
}
