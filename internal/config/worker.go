package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

// Summary backends understood by the worker.
const (
	SummaryBackendOpenAI = "openai"
	SummaryBackendGemini = "gemini"
)

// WorkerConfig is read by the worker process. Most of it arrives through the
// configuration overlay that the coordinator places in the environment.
type WorkerConfig struct {
	OutputDir            string
	UserPrompt           string
	SkipDiarization      bool
	SkipTrimming         bool
	NormalizeAudio       bool
	TranscriptBaseName   string
	TrimWindow           time.Duration
	FFmpegPath           string
	UpstreamBaseURL      string
	UpstreamAPIKey       string
	TranscriptionModel   string
	TranscriptionLang    string
	TranscriptionTimeout time.Duration
	SummaryBackend       string
	SummaryModel         string
	GeminiAPIKey         string
	GeminiModel          string
	SummaryTimeout       time.Duration
	PromptsFile          string
	RenderFormat         string
	DiarizationGap       time.Duration
	LogLevel             string
}

type workerEnvConfig struct {
	OutputDir                   string  `env:"OUTPUT_DIR" envDefault:"output_data"`
	UserPrompt                  string  `env:"USER_PROMPT"`
	SkipDiarization             Flag    `env:"SKIP_DIARIZATION"`
	SkipTrimming                Flag    `env:"SKIP_TRIMMING"`
	NormalizeAudio              Flag    `env:"NORMALIZE_AUDIO"`
	TranscriptBaseName          string  `env:"TRANSCRIPT_BASENAME"`
	TrimWindowSeconds           int     `env:"TRIM_WINDOW_SECONDS" envDefault:"10"`
	FFmpegPath                  string  `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	UpstreamBaseURL             string  `env:"UPSTREAM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	UpstreamAPIKey              string  `env:"UPSTREAM_API_KEY"`
	OpenAIAPIKey                string  `env:"OPENAI_API_KEY"`
	TranscriptionModel          string  `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	TranscriptionLang           string  `env:"TRANSCRIPTION_LANGUAGE" envDefault:"de"`
	TranscriptionTimeoutSeconds int     `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"900"`
	SummaryBackend              string  `env:"SUMMARY_BACKEND" envDefault:"openai"`
	SummaryModel                string  `env:"SUMMARY_MODEL" envDefault:"gpt-4o-mini"`
	GeminiAPIKey                string  `env:"GEMINI_API_KEY"`
	GeminiModel                 string  `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	SummaryTimeoutSeconds       int     `env:"SUMMARY_TIMEOUT_SECONDS" envDefault:"120"`
	PromptsFile                 string  `env:"PROMPTS_FILE"`
	RenderFormat                string  `env:"RENDER_FORMAT" envDefault:"pdf"`
	DiarizationGapSeconds       float64 `env:"DIARIZATION_GAP_SECONDS" envDefault:"1.5"`
	LogLevel                    string  `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadWorker() (WorkerConfig, error) {
	return loadWorker(cenv.Options{})
}

func loadWorker(opts cenv.Options) (WorkerConfig, error) {
	var raw workerEnvConfig
	if err := cenv.ParseWithOptions(&raw, opts); err != nil {
		return WorkerConfig{}, err
	}

	apiKey := strings.TrimSpace(raw.UpstreamAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(raw.OpenAIAPIKey)
	}

	cfg := WorkerConfig{
		OutputDir:            strings.TrimSpace(raw.OutputDir),
		UserPrompt:           raw.UserPrompt,
		SkipDiarization:      bool(raw.SkipDiarization),
		SkipTrimming:         bool(raw.SkipTrimming),
		NormalizeAudio:       bool(raw.NormalizeAudio),
		TranscriptBaseName:   strings.TrimSpace(raw.TranscriptBaseName),
		TrimWindow:           time.Duration(raw.TrimWindowSeconds) * time.Second,
		FFmpegPath:           strings.TrimSpace(raw.FFmpegPath),
		UpstreamBaseURL:      strings.TrimRight(strings.TrimSpace(raw.UpstreamBaseURL), "/"),
		UpstreamAPIKey:       apiKey,
		TranscriptionModel:   strings.TrimSpace(raw.TranscriptionModel),
		TranscriptionLang:    strings.TrimSpace(raw.TranscriptionLang),
		TranscriptionTimeout: time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
		SummaryBackend:       strings.ToLower(strings.TrimSpace(raw.SummaryBackend)),
		SummaryModel:         strings.TrimSpace(raw.SummaryModel),
		GeminiAPIKey:         strings.TrimSpace(raw.GeminiAPIKey),
		GeminiModel:          strings.TrimSpace(raw.GeminiModel),
		SummaryTimeout:       time.Duration(raw.SummaryTimeoutSeconds) * time.Second,
		PromptsFile:          strings.TrimSpace(raw.PromptsFile),
		RenderFormat:         strings.ToLower(strings.TrimSpace(raw.RenderFormat)),
		DiarizationGap:       time.Duration(raw.DiarizationGapSeconds * float64(time.Second)),
		LogLevel:             strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}

	if err := cfg.Validate(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

func (c WorkerConfig) Validate() error {
	if c.OutputDir == "" {
		return errors.New("OUTPUT_DIR must not be empty")
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if c.TranscriptionModel == "" {
		return errors.New("TRANSCRIPTION_MODEL must not be empty")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}
	if c.SummaryTimeout <= 0 {
		return errors.New("SUMMARY_TIMEOUT_SECONDS must be > 0")
	}
	if c.TrimWindow <= 0 {
		return errors.New("TRIM_WINDOW_SECONDS must be > 0")
	}
	switch c.SummaryBackend {
	case SummaryBackendOpenAI, SummaryBackendGemini:
	default:
		return fmt.Errorf("SUMMARY_BACKEND must be %q or %q", SummaryBackendOpenAI, SummaryBackendGemini)
	}
	switch c.RenderFormat {
	case "pdf", "docx":
	default:
		return errors.New(`RENDER_FORMAT must be "pdf" or "docx"`)
	}
	if c.DiarizationGap < 0 {
		return errors.New("DIARIZATION_GAP_SECONDS must be >= 0")
	}
	return nil
}
