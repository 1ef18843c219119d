package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"transkript/internal/upstream/openai"
)

type stubChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (s *stubChat) ChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

type stubGenerator struct {
	system, prompt string
	temperature    float32
}

func (s *stubGenerator) Generate(_ context.Context, system, prompt string, temperature float32) (string, error) {
	s.system, s.prompt, s.temperature = system, prompt, temperature
	return "## Zusammenfassung\nGemini", nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSummarizeSendsSystemAndPrompt(t *testing.T) {
	chat := &stubChat{resp: openai.ChatCompletionResponse{Content: "## Zusammenfassung\n..."}}
	svc := New(OpenAICompleter{Client: chat, Model: "gpt-4o-mini"}, DefaultPrompts(), time.Minute, quietLogger())

	got := svc.Summarize(context.Background(), "[0.0s–1.0s] A: Hallo", "Kurz: {transkript}")
	if got != "## Zusammenfassung\n..." {
		t.Fatalf("unexpected summary: %q", got)
	}
	if chat.req.Model != "gpt-4o-mini" || chat.req.Temperature != 0.4 {
		t.Fatalf("unexpected request: %+v", chat.req)
	}
	if chat.req.Messages[0].Content != DefaultSystemPrompt || chat.req.Messages[1].Content != "Kurz: [0.0s–1.0s] A: Hallo" {
		t.Fatalf("unexpected messages: %+v", chat.req.Messages)
	}
}

func TestSummarizeRemoteErrorYieldsSentinel(t *testing.T) {
	chat := &stubChat{err: &openai.Error{StatusCode: 500}}
	svc := New(OpenAICompleter{Client: chat}, DefaultPrompts(), 0, quietLogger())
	if got := svc.Summarize(context.Background(), "T", ""); got != SentinelFailed {
		t.Fatalf("unexpected summary: %q", got)
	}

	chat = &stubChat{err: errors.New("dial tcp: timeout")}
	svc = New(OpenAICompleter{Client: chat}, DefaultPrompts(), 0, quietLogger())
	if got := svc.Summarize(context.Background(), "T", ""); got != SentinelFailed {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestSummarizeWithoutKeyYieldsSentinel(t *testing.T) {
	if got := New(nil, Prompts{}, 0, quietLogger()).Summarize(context.Background(), "T", ""); got != SentinelNoAPIKey {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestSummarizeEmptyResponseYieldsSentinel(t *testing.T) {
	chat := &stubChat{resp: openai.ChatCompletionResponse{Content: "  "}}
	if got := New(OpenAICompleter{Client: chat}, DefaultPrompts(), 0, quietLogger()).Summarize(context.Background(), "T", ""); got != SentinelFailed {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestGeminiCompleter(t *testing.T) {
	gen := &stubGenerator{}
	svc := New(GeminiCompleter{Client: gen}, DefaultPrompts(), 0, quietLogger())
	got := svc.Summarize(context.Background(), "T", "{{x}} {transkript}")
	if got != "## Zusammenfassung\nGemini" || gen.prompt != "{x} T" || gen.temperature != 0.4 || gen.system != DefaultSystemPrompt {
		t.Fatalf("unexpected call: %+v -> %q", gen, got)
	}
}
