// Package transcription turns a canonical audio file into speaker segments.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transkript/internal/transcript"
	"transkript/internal/upstream/openai"
)

var ErrEmptyTranscript = errors.New("transcription returned no text")

type Client interface {
	Transcribe(ctx context.Context, in openai.TranscriptionRequest) (openai.Transcription, error)
}

type Options struct {
	Model    string
	Language string
	Timeout  time.Duration
}

type Service struct {
	client   Client
	diarizer transcript.Diarizer
	opts     Options
	logger   *slog.Logger
}

func New(client Client, diarizer transcript.Diarizer, opts Options, logger *slog.Logger) *Service {
	if diarizer == nil {
		diarizer = transcript.NoopDiarizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.Model = strings.TrimSpace(opts.Model)
	return &Service{client: client, diarizer: diarizer, opts: opts, logger: logger}
}

// Transcribe returns the segments in engine order. A diarization failure is
// logged and the segments are returned unattributed.
func (s *Service) Transcribe(ctx context.Context, audioPath string, skipDiarization bool) ([]transcript.Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	res, err := s.client.Transcribe(callCtx, openai.TranscriptionRequest{
		File:     f,
		FileName: filepath.Base(audioPath),
		Model:    s.opts.Model,
		Language: s.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", filepath.Base(audioPath), err)
	}

	segments := toSegments(res)
	if len(segments) == 0 {
		return nil, ErrEmptyTranscript
	}

	if skipDiarization {
		return segments, nil
	}
	if err := s.diarizer.AssignSpeakers(ctx, segments); err != nil {
		s.logger.Warn("diarization failed, continuing without speakers", "err", err)
		for i := range segments {
			segments[i].Speaker = ""
		}
	}
	return segments, nil
}

func toSegments(res openai.Transcription) []transcript.Segment {
	out := make([]transcript.Segment, 0, len(res.Segments))
	for _, s := range res.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, transcript.Segment{Start: s.Start, End: s.End, Text: text})
	}
	if len(out) == 0 && strings.TrimSpace(res.Text) != "" {
		out = append(out, transcript.Segment{Start: 0, End: res.Duration, Text: strings.TrimSpace(res.Text)})
	}
	return out
}
