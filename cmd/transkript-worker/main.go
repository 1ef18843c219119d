// Command transkript-worker transcribes one recording into the output
// directory named by OUTPUT_DIR. The plain transcript goes to stdout, logs go
// to stderr. Any fatal error exits 1.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transkript/internal/audio"
	"transkript/internal/config"
	"transkript/internal/minutes"
	"transkript/internal/procrun"
	"transkript/internal/render"
	"transkript/internal/summary"
	"transkript/internal/transcript"
	"transkript/internal/transcription"
	"transkript/internal/upstream/gemini"
	"transkript/internal/upstream/openai"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "transkript-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: %s <audio-file>", os.Args[0])
	}
	audioPath := os.Args[len(os.Args)-1]

	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	httpClient := &http.Client{Transport: transport}
	observe := func(endpoint string, status int, d time.Duration) {
		logger.Info("upstream call", "endpoint", endpoint, "status", status, "duration_ms", d.Milliseconds())
	}
	upstream := openai.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, httpClient, openai.WithObserver(observe))

	var diarizer transcript.Diarizer = transcript.NoopDiarizer{}
	if cfg.DiarizationGap > 0 {
		diarizer = transcript.GapDiarizer{Threshold: cfg.DiarizationGap}
	}
	transcriber := transcription.New(upstream, diarizer, transcription.Options{
		Model:    cfg.TranscriptionModel,
		Language: cfg.TranscriptionLang,
		Timeout:  cfg.TranscriptionTimeout,
	}, logger)

	completer, err := newCompleter(ctx, cfg, upstream, httpClient, observe)
	if err != nil {
		return err
	}
	prompts, err := summary.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		logger.Warn("prompts file ignored", "error", err)
	}
	summarizer := summary.New(completer, prompts, cfg.SummaryTimeout, logger)

	renderer, err := render.ForFormat(cfg.RenderFormat)
	if err != nil {
		return err
	}

	runner := minutes.New(transcriber, summarizer, renderer,
		minutes.WithNormalizer(audio.New(cfg.FFmpegPath, procrun.Exec{WaitDelay: 5 * time.Second}, logger)),
		minutes.WithLogger(logger),
	)
	res, err := runner.Run(ctx, audioPath, minutes.Options{
		OutputDir:       cfg.OutputDir,
		BaseName:        cfg.TranscriptBaseName,
		UserPrompt:      cfg.UserPrompt,
		SkipDiarization: cfg.SkipDiarization,
		NormalizeAudio:  cfg.NormalizeAudio,
		SkipTrimming:    cfg.SkipTrimming,
		TrimWindow:      cfg.TrimWindow,
	})
	if err != nil {
		return err
	}

	logger.Info("run finished",
		"segments", res.Segments,
		"transcript", res.TranscriptPath,
		"summary", res.SummaryPath,
		"document", res.DocumentPath,
	)
	_, err = fmt.Fprintln(os.Stdout, res.Transcript)
	return err
}

// newCompleter returns nil when the selected backend has no API key; the
// summarizer then writes the missing-key sentinel.
func newCompleter(ctx context.Context, cfg config.WorkerConfig, upstream *openai.Client, httpClient *http.Client, observe func(string, int, time.Duration)) (summary.Completer, error) {
	switch cfg.SummaryBackend {
	case config.SummaryBackendGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel,
			gemini.WithHTTPClient(httpClient), gemini.WithObserver(observe))
		if err != nil {
			return nil, err
		}
		return summary.GeminiCompleter{Client: client}, nil
	default:
		if cfg.UpstreamAPIKey == "" {
			return nil, nil
		}
		return summary.OpenAICompleter{Client: upstream, Model: cfg.SummaryModel}, nil
	}
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
