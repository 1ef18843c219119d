// Package gemini wraps the Gemini API for summary generation.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

var ErrEmptyResponse = errors.New("empty response from Gemini")

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Client struct {
	models   *genai.Models
	model    string
	observer ObserverFunc
}

type options struct {
	baseURL    string
	httpClient *http.Client
	observer   ObserverFunc
}

type Option func(*options)

// WithBaseURL points the client at another endpoint, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithObserver(f ObserverFunc) Option {
	return func(o *options) { o.observer = f }
}

func New(ctx context.Context, apiKey, model string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{models: client.Models, model: model, observer: o.observer}, nil
}

// Generate sends one prompt with an optional system instruction and returns
// the concatenated text parts of the first candidate.
func (c *Client) Generate(ctx context.Context, system, prompt string, temperature float32) (string, error) {
	started := time.Now()
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(temperature)}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	c.observe(err, time.Since(started))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}
	return "", ErrEmptyResponse
}

func (c *Client) observe(err error, d time.Duration) {
	if c.observer == nil {
		return
	}
	status := http.StatusOK
	var apiErr genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case err != nil:
		status = 0
	}
	c.observer("generate_content", status, d)
}
