package config

import (
	"errors"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

// Config is the coordinator (HTTP API) configuration.
type Config struct {
	ListenAddr        string
	InputRoot         string
	OutputRoot        string
	WorkerCommand     []string
	WorkerTimeout     time.Duration
	MaxConcurrentRuns int
	QueueTimeout      time.Duration
	FFmpegPath        string
	SkipTrimming      bool
	TrimWindow        time.Duration
	WorkerNormalize   bool
	APIToken          string
	MaxUploadBytes    int64
	LogLevel          string
	NatsURL           string
	NatsSubject       string
}

type envConfig struct {
	ListenAddr           string `env:"LISTEN_ADDR" envDefault:":5000"`
	InputRoot            string `env:"INPUT_ROOT" envDefault:"input_data"`
	OutputRoot           string `env:"OUTPUT_ROOT" envDefault:"output_data"`
	WorkerCommand        string `env:"WORKER_COMMAND" envDefault:"transkript-worker"`
	WorkerTimeoutSeconds int    `env:"WORKER_TIMEOUT_SECONDS" envDefault:"1800"`
	MaxConcurrentRuns    int    `env:"MAX_CONCURRENT_RUNS" envDefault:"2"`
	QueueTimeoutSeconds  int    `env:"QUEUE_TIMEOUT_SECONDS" envDefault:"300"`
	FFmpegPath           string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	SkipTrimming         Flag   `env:"SKIP_TRIMMING"`
	TrimWindowSeconds    int    `env:"TRIM_WINDOW_SECONDS" envDefault:"10"`
	WorkerNormalize      Flag   `env:"WORKER_NORMALIZE"`
	APIToken             string `env:"API_TOKEN"`
	MaxUploadBytes       int64  `env:"MAX_UPLOAD_BYTES" envDefault:"268435456"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	NatsURL              string `env:"NATS_URL"`
	NatsSubject          string `env:"NATS_SUBJECT" envDefault:"transkript.runs"`
}

// Flag is a permissive boolean: "1", "true" and "yes" (any case) are true,
// every other value is false.
type Flag bool

func (f *Flag) UnmarshalText(text []byte) error {
	*f = Flag(ParseFlag(string(text)))
	return nil
}

func ParseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func Load() (Config, error) {
	return load(cenv.Options{})
}

func load(opts cenv.Options) (Config, error) {
	var raw envConfig
	if err := cenv.ParseWithOptions(&raw, opts); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:        strings.TrimSpace(raw.ListenAddr),
		InputRoot:         strings.TrimSpace(raw.InputRoot),
		OutputRoot:        strings.TrimSpace(raw.OutputRoot),
		WorkerCommand:     strings.Fields(raw.WorkerCommand),
		WorkerTimeout:     time.Duration(raw.WorkerTimeoutSeconds) * time.Second,
		MaxConcurrentRuns: raw.MaxConcurrentRuns,
		QueueTimeout:      time.Duration(raw.QueueTimeoutSeconds) * time.Second,
		FFmpegPath:        strings.TrimSpace(raw.FFmpegPath),
		SkipTrimming:      bool(raw.SkipTrimming),
		TrimWindow:        time.Duration(raw.TrimWindowSeconds) * time.Second,
		WorkerNormalize:   bool(raw.WorkerNormalize),
		APIToken:          strings.TrimSpace(raw.APIToken),
		MaxUploadBytes:    raw.MaxUploadBytes,
		LogLevel:          strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		NatsURL:           strings.TrimSpace(raw.NatsURL),
		NatsSubject:       strings.TrimSpace(raw.NatsSubject),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeAllowance is the share of a run reserved for storing and
// normalizing the upload.
const normalizeAllowance = 2 * time.Minute

// RunTimeout bounds one request end to end: slot wait, normalization and
// worker. The HTTP write timeout must exceed it.
func (c Config) RunTimeout() time.Duration {
	return c.QueueTimeout + normalizeAllowance + c.WorkerTimeout
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.InputRoot == "" {
		return errors.New("INPUT_ROOT must not be empty")
	}
	if c.OutputRoot == "" {
		return errors.New("OUTPUT_ROOT must not be empty")
	}
	if len(c.WorkerCommand) == 0 {
		return errors.New("WORKER_COMMAND must not be empty")
	}
	if c.WorkerTimeout <= 0 {
		return errors.New("WORKER_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxConcurrentRuns <= 0 {
		return errors.New("MAX_CONCURRENT_RUNS must be > 0")
	}
	if c.QueueTimeout <= 0 {
		return errors.New("QUEUE_TIMEOUT_SECONDS must be > 0")
	}
	if c.FFmpegPath == "" {
		return errors.New("FFMPEG_PATH must not be empty")
	}
	if c.TrimWindow <= 0 {
		return errors.New("TRIM_WINDOW_SECONDS must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.NatsURL != "" && c.NatsSubject == "" {
		return errors.New("NATS_SUBJECT must not be empty when NATS_URL is set")
	}
	return nil
}
