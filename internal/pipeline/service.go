// Package pipeline runs one upload end to end: session, normalization, worker,
// artifact resolution.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"transkript/internal/artifact"
	"transkript/internal/audio"
	"transkript/internal/session"
	"transkript/internal/worker"
)

var ErrNoFile = errors.New("no audio file submitted")

// ErrBusy reports that no worker slot freed up within Settings.QueueTimeout.
var ErrBusy = errors.New("no worker slot available")

type Stage string

const (
	StageNormalize Stage = "normalize"
	StageInvoke    Stage = "invoke"
	StageResolve   Stage = "resolve"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeNoTranscript Outcome = "no_transcript"
	OutcomeWorkerFailed Outcome = "worker_failed"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeBusy         Outcome = "busy"
)

// StageOutcome records one step. Recovered marks a failure the run continued
// past, such as a normalization that fell back to the original upload.
type StageOutcome struct {
	Stage     Stage
	Status    Status
	Recovered bool
	Message   string
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
}

type Sessions interface {
	Open() (session.Session, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, inputPath string, opts audio.Options) (string, error)
}

type Resolver interface {
	Resolve(sessionID string, in artifact.Input) (artifact.Resolution, error)
}

type ProcessInput struct {
	File     io.Reader
	FileName string
	Prompt   string
	// SkipTrimming overrides the service default when set.
	SkipTrimming    *bool
	SkipDiarization bool
}

type ProcessResult struct {
	SessionID  string
	Outcome    Outcome
	Stages     []StageOutcome
	Transcript *artifact.Transcript
	Summary    *artifact.Artifact
	Artifacts  []artifact.Artifact
	Warnings   []string
	Duration   time.Duration
}

// Stage returns the outcome recorded for s.
func (r ProcessResult) Stage(s Stage) (StageOutcome, bool) {
	for _, o := range r.Stages {
		if o.Stage == s {
			return o, true
		}
	}
	return StageOutcome{}, false
}

type Settings struct {
	SkipTrimming      bool
	TrimWindow        time.Duration
	WorkerNormalize   bool
	MaxConcurrentRuns int
	// QueueTimeout bounds the wait for a worker slot. Zero waits as long as
	// the request lives.
	QueueTimeout time.Duration
	// RunTimeout bounds normalization, slot wait and worker together. Zero
	// leaves only the worker's own timeout.
	RunTimeout time.Duration
}

// RunHook observes every finished run, fatal errors excluded.
type RunHook func(ctx context.Context, res ProcessResult)

type Service struct {
	sessions   Sessions
	normalizer Normalizer
	invoker    worker.Invoker
	resolver   Resolver
	settings   Settings
	slots      *slots
	logger     *slog.Logger
	hooks      []RunHook
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithRunHook(h RunHook) Option {
	return func(s *Service) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

func New(sessions Sessions, normalizer Normalizer, invoker worker.Invoker, resolver Resolver, settings Settings, opts ...Option) *Service {
	s := &Service{
		sessions:   sessions,
		normalizer: normalizer,
		invoker:    invoker,
		resolver:   resolver,
		settings:   settings,
		slots:      newSlots(settings.MaxConcurrentRuns),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ActiveRuns reports how many worker processes are running.
func (s *Service) ActiveRuns() int { return s.slots.inUse() }

// Process returns an error only when the request cannot be served at all
// (ErrNoFile, session or upload storage) or when the run was cut short by a
// timeout, cancellation or ErrBusy. In the latter case the partial result is returned
// alongside the error. Worker failures and missing transcripts are reported
// through ProcessResult.Outcome.
func (s *Service) Process(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	started := time.Now()
	if in.File == nil || strings.TrimSpace(in.FileName) == "" {
		return ProcessResult{}, ErrNoFile
	}

	sess, err := s.sessions.Open()
	if err != nil {
		return ProcessResult{}, fmt.Errorf("open session: %w", err)
	}
	logger := s.logger.With("session_id", sess.ID)

	uploadPath, err := sess.SaveUpload(in.FileName, in.File)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("store upload: %w", err)
	}

	result := ProcessResult{SessionID: sess.ID}
	hookCtx := context.WithoutCancel(ctx)
	finish := func(outcome Outcome) ProcessResult {
		result.Outcome = outcome
		result.Duration = time.Since(started)
		logger.Info("pipeline finished",
			"outcome", string(outcome),
			"artifacts", len(result.Artifacts),
			"duration_ms", result.Duration.Milliseconds(),
		)
		for _, h := range s.hooks {
			h(hookCtx, result)
		}
		return result
	}

	callerCtx := ctx
	if s.settings.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.RunTimeout)
		defer cancel()
	}

	skipTrimming := s.settings.SkipTrimming
	if in.SkipTrimming != nil {
		skipTrimming = *in.SkipTrimming
	}
	audioPath, normalize := s.normalize(ctx, uploadPath, skipTrimming)
	result.Stages = append(result.Stages, normalize)
	if normalize.Status == StatusFailed {
		logger.Warn("normalization failed, using original upload", "err", normalize.Message)
	}

	overlay := worker.Overlay{
		UserPrompt:         in.Prompt,
		OutputDir:          sess.OutputDir,
		TranscriptBaseName: uploadBase(uploadPath),
		SkipDiarization:    in.SkipDiarization,
		SkipTrimming:       skipTrimming,
		NormalizeAudio:     s.settings.WorkerNormalize,
	}

	if err := s.acquire(ctx); err != nil {
		outcome := OutcomeBusy
		if callerErr := callerCtx.Err(); callerErr != nil {
			outcome, err = OutcomeCanceled, callerErr
		}
		result.Stages = append(result.Stages,
			StageOutcome{Stage: StageInvoke, Status: StatusSkipped, Message: err.Error()},
			StageOutcome{Stage: StageResolve, Status: StatusSkipped},
		)
		logger.Warn("worker slot not acquired", "outcome", string(outcome), "err", err)
		return finish(outcome), err
	}
	invokeStarted := time.Now()
	proc, invokeErr := s.invoker.Invoke(ctx, audioPath, overlay)
	s.slots.release()

	invoke := StageOutcome{
		Stage:    StageInvoke,
		Status:   StatusSucceeded,
		Stdout:   proc.Stdout,
		Stderr:   proc.Stderr,
		ExitCode: proc.ExitCode,
		Duration: time.Since(invokeStarted),
	}
	if invokeErr != nil || !proc.Succeeded() {
		invoke.Status = StatusFailed
		invoke.Message = fmt.Sprintf("worker exited with code %d", proc.ExitCode)
		if invokeErr != nil {
			invoke.Message = invokeErr.Error()
		}
	}
	result.Stages = append(result.Stages, invoke)

	if invoke.Status == StatusFailed {
		result.Stages = append(result.Stages, StageOutcome{Stage: StageResolve, Status: StatusSkipped})
		logger.Warn("worker failed",
			"exit_code", proc.ExitCode,
			"stderr", lastLine(proc.Stderr),
			"err", invokeErr,
		)
		switch {
		case errors.Is(invokeErr, worker.ErrTimeout):
			return finish(OutcomeTimedOut), invokeErr
		case errors.Is(invokeErr, context.Canceled):
			return finish(OutcomeCanceled), invokeErr
		default:
			return finish(OutcomeWorkerFailed), nil
		}
	}

	resolveStarted := time.Now()
	res, err := s.resolver.Resolve(sess.ID, artifact.Input{
		OutputDir: sess.OutputDir,
		BaseName:  overlay.TranscriptBaseName,
		Stdout:    proc.Stdout,
	})
	resolve := StageOutcome{Stage: StageResolve, Status: StatusSucceeded, Duration: time.Since(resolveStarted)}
	result.Transcript = res.Transcript
	result.Summary = res.Summary
	result.Artifacts = res.Artifacts
	result.Warnings = res.Warnings
	switch {
	case err != nil:
		resolve.Status = StatusFailed
		resolve.Message = err.Error()
	case res.Transcript == nil:
		resolve.Status = StatusFailed
		resolve.Message = "no transcript located"
	}
	result.Stages = append(result.Stages, resolve)

	if result.Transcript == nil {
		return finish(OutcomeNoTranscript), nil
	}
	return finish(OutcomeSucceeded), nil
}

// acquire waits for a slot. Running out of QueueTimeout or RunTimeout while
// waiting is reported as ErrBusy.
func (s *Service) acquire(ctx context.Context) error {
	waitCtx := ctx
	if s.settings.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.settings.QueueTimeout)
		defer cancel()
	}
	if err := s.slots.acquire(waitCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return nil
}

// uploadBase is the stored upload name without its extension. The worker
// names its raw transcript after it.
func uploadBase(uploadPath string) string {
	name := filepath.Base(uploadPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// normalize never fails the run: on any error the original upload is used
// and the stage is recorded as failed and recovered.
func (s *Service) normalize(ctx context.Context, uploadPath string, skipTrimming bool) (string, StageOutcome) {
	opts := audio.Options{Mode: audio.ModeTrim, Window: s.settings.TrimWindow}
	if skipTrimming {
		opts = audio.Options{Mode: audio.ModeFull}
	}
	started := time.Now()
	out, err := s.normalizer.Normalize(ctx, uploadPath, opts)
	stage := StageOutcome{Stage: StageNormalize, Status: StatusSucceeded, Duration: time.Since(started)}
	if err != nil {
		stage.Status = StatusFailed
		stage.Recovered = true
		stage.Message = err.Error()
		var audioErr *audio.Error
		if errors.As(err, &audioErr) {
			stage.ExitCode = audioErr.ExitCode
			stage.Stderr = audioErr.Stderr
		}
		return uploadPath, stage
	}
	return out, stage
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
