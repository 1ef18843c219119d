// Package audio converts uploads into the canonical transcription input:
// 16 kHz, mono, signed 16-bit PCM WAV.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transkript/internal/procrun"
)

type Mode int

const (
	ModeFull Mode = iota
	ModeTrim
)

func (m Mode) String() string {
	if m == ModeTrim {
		return "trim"
	}
	return "full"
}

const (
	DefaultWindow = 10 * time.Second
	SampleRate    = 16000
	trimPrefix    = "trimmed_"
)

type Options struct {
	Mode Mode
	// Window is the kept leading duration in ModeTrim. Zero means DefaultWindow.
	Window time.Duration
}

// Error reports a failed conversion tool run.
type Error struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	if stderr := lastLine(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

type Normalizer struct {
	ffmpegPath string
	runner     procrun.Runner
	logger     *slog.Logger
}

func New(ffmpegPath string, runner procrun.Runner, logger *slog.Logger) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = procrun.Exec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{ffmpegPath: ffmpegPath, runner: runner, logger: logger}
}

// Normalize writes the canonical derivative next to inputPath and returns its
// path. The input file is only read.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string, opts Options) (string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return "", fmt.Errorf("input path is required")
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("cannot access input audio: %w", err)
	}

	outPath := OutputPath(inputPath, opts.Mode)
	args := BuildArgs(inputPath, outPath, opts)

	started := time.Now()
	res, err := n.runner.Run(ctx, procrun.Command{Name: n.ffmpegPath, Args: args})
	if err != nil {
		return "", &Error{ExitCode: res.ExitCode, Stderr: string(res.Stderr), Err: err}
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", &Error{ExitCode: res.ExitCode, Stderr: "ffmpeg completed but output file is missing", Err: err}
	}

	n.logger.Debug("audio normalized",
		"input", inputPath,
		"output", outPath,
		"mode", opts.Mode.String(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return outPath, nil
}

// OutputPath names the derivative: <base>.wav for full re-encodes and
// trimmed_<base>.wav for trims. A full re-encode of a file already called
// <base>.wav gets a _16k suffix so the source is never overwritten.
func OutputPath(inputPath string, mode Mode) string {
	dir := filepath.Dir(inputPath)
	name := filepath.Base(inputPath)
	base := strings.TrimSuffix(name, filepath.Ext(name))

	if mode == ModeTrim {
		return filepath.Join(dir, trimPrefix+base+".wav")
	}
	out := filepath.Join(dir, base+".wav")
	if out == filepath.Clean(inputPath) {
		out = filepath.Join(dir, base+"_16k.wav")
	}
	return out
}

// BaseName strips the extension and the trim prefix, recovering the name the
// upload was stored under.
func BaseName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimSuffix(strings.TrimPrefix(name, trimPrefix), "_16k")
}

func BuildArgs(inputPath, outPath string, opts Options) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if opts.Mode == ModeTrim {
		window := opts.Window
		if window <= 0 {
			window = DefaultWindow
		}
		args = append(args, "-ss", "0", "-i", inputPath, "-t", formatSeconds(window))
	} else {
		args = append(args, "-i", inputPath)
	}
	return append(args,
		"-vn",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		outPath,
	)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
