// Package summary produces the structured meeting protocol from a transcript.
package summary

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"transkript/internal/upstream/openai"
)

// Sentinels are returned as summary text and persisted like any other
// summary.
const (
	SentinelNoAPIKey = "[FEHLER] Kein API-Key vorhanden."
	SentinelFailed   = "[FEHLER] Zusammenfassung konnte nicht erstellt werden."
)

const Temperature = 0.4

// Completer sends one system+user prompt pair to a language model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAICompleter struct {
	Client ChatClient
	Model  string
}

func (c OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.Client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: Temperature,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

type Generator interface {
	Generate(ctx context.Context, system, prompt string, temperature float32) (string, error)
}

type GeminiCompleter struct {
	Client Generator
}

func (c GeminiCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.Client.Generate(ctx, system, prompt, Temperature)
}

type Service struct {
	completer Completer
	prompts   Prompts
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds the synthesizer. A nil completer means no API key is
// configured; every call then yields SentinelNoAPIKey.
func New(completer Completer, prompts Prompts, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(prompts.System) == "" {
		prompts.System = DefaultSystemPrompt
	}
	if strings.TrimSpace(prompts.Template) == "" {
		prompts.Template = DefaultTemplate
	}
	return &Service{completer: completer, prompts: prompts, timeout: timeout, logger: logger}
}

// Summarize never fails: remote errors become SentinelFailed.
func (s *Service) Summarize(ctx context.Context, transcript, userTemplate string) string {
	if s.completer == nil {
		s.logger.Error("no API key configured for summary backend")
		return SentinelNoAPIKey
	}

	prompt, err := BuildPrompt(userTemplate, s.prompts.Template, transcript)
	if err != nil {
		s.logger.Warn("user prompt rejected, using default template", "err", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.completer.Complete(ctx, s.prompts.System, prompt)
	if err != nil {
		s.logger.Warn("summary request failed", "err", err)
		return SentinelFailed
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("summary backend returned empty text")
		return SentinelFailed
	}
	return text
}
