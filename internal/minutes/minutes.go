// Package minutes is the worker's run: transcribe one recording, write the
// raw transcript and the markdown record, synthesize the protocol excerpt and
// render it.
package minutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transkript/internal/artifact"
	"transkript/internal/audio"
	"transkript/internal/render"
	"transkript/internal/transcript"
)

// TimestampLayout formats the per-run suffix of the protocol files.
const TimestampLayout = "20060102_150405"

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, skipDiarization bool) ([]transcript.Segment, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript, userTemplate string) string
}

type Normalizer interface {
	Normalize(ctx context.Context, inputPath string, opts audio.Options) (string, error)
}

type Options struct {
	OutputDir string
	// BaseName names the raw transcript; empty uses the audio file's base.
	BaseName        string
	UserPrompt      string
	SkipDiarization bool
	NormalizeAudio  bool
	SkipTrimming    bool
	TrimWindow      time.Duration
}

type Result struct {
	Transcript     string
	Segments       int
	TranscriptPath string
	RecordPath     string
	SummaryPath    string
	// DocumentPath is empty when rendering failed.
	DocumentPath string
}

type Runner struct {
	transcriber Transcriber
	summarizer  Summarizer
	renderer    render.Renderer
	normalizer  Normalizer
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Runner)

// WithNormalizer enables in-worker normalization when Options.NormalizeAudio
// is set.
func WithNormalizer(n Normalizer) Option {
	return func(r *Runner) { r.normalizer = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(transcriber Transcriber, summarizer Summarizer, renderer render.Renderer, opts ...Option) *Runner {
	r := &Runner{
		transcriber: transcriber,
		summarizer:  summarizer,
		renderer:    renderer,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run fails only when the audio cannot be transcribed or the transcript files
// cannot be written. Normalization and rendering problems are logged and the
// run continues.
func (r *Runner) Run(ctx context.Context, audioPath string, opts Options) (Result, error) {
	if strings.TrimSpace(audioPath) == "" {
		return Result{}, errors.New("no audio file given")
	}
	if _, err := os.Stat(audioPath); err != nil {
		return Result{}, fmt.Errorf("audio file: %w", err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	baseName := strings.TrimSpace(opts.BaseName)
	if baseName == "" {
		baseName = audio.BaseName(audioPath)
	}
	stamp := r.now().Format(TimestampLayout)

	source := r.normalize(ctx, audioPath, opts)

	segments, err := r.transcriber.Transcribe(ctx, source, opts.SkipDiarization)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}
	plain := transcript.PlainText(segments)
	result := Result{Transcript: plain, Segments: len(segments)}

	result.TranscriptPath = filepath.Join(opts.OutputDir, baseName+".txt")
	if err := writeFile(result.TranscriptPath, plain); err != nil {
		return result, err
	}
	result.RecordPath = filepath.Join(opts.OutputDir, "protokoll_"+stamp+".md")
	if err := writeFile(result.RecordPath, transcript.MarkdownRecord(segments)); err != nil {
		return result, err
	}
	r.logger.Info("transcript written", "segments", len(segments), "path", result.TranscriptPath)

	summary := r.summarizer.Summarize(ctx, plain, opts.UserPrompt)
	excerpt := "protokoll_" + artifact.SummaryMarker + "_" + stamp
	result.SummaryPath = filepath.Join(opts.OutputDir, excerpt+".md")
	if err := writeFile(result.SummaryPath, summary); err != nil {
		return result, err
	}

	if r.renderer != nil {
		docPath := filepath.Join(opts.OutputDir, excerpt+r.renderer.Extension())
		if err := r.renderer.Render(summary, docPath); err != nil {
			r.logger.Warn("render failed", "path", docPath, "err", err)
			_ = os.Remove(docPath)
		} else {
			result.DocumentPath = docPath
		}
	}
	return result, nil
}

func (r *Runner) normalize(ctx context.Context, audioPath string, opts Options) string {
	if !opts.NormalizeAudio || r.normalizer == nil {
		return audioPath
	}
	nopts := audio.Options{Mode: audio.ModeTrim, Window: opts.TrimWindow}
	if opts.SkipTrimming {
		nopts = audio.Options{Mode: audio.ModeFull}
	}
	out, err := r.normalizer.Normalize(ctx, audioPath, nopts)
	if err != nil {
		r.logger.Warn("normalization failed, using input as is", "err", err)
		return audioPath
	}
	return out
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
