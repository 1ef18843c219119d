package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"transkript/internal/artifact"
	"transkript/internal/audio"
	"transkript/internal/session"
	"transkript/internal/worker"
)

type fakeNormalizer struct {
	err   error
	opts  []audio.Options
	mu    sync.Mutex
	calls int
}

func (f *fakeNormalizer) Normalize(_ context.Context, in string, opts audio.Options) (string, error) {
	f.mu.Lock()
	f.calls++
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	out := audio.OutputPath(in, opts.Mode)
	if err := os.WriteFile(out, []byte("RIFF"), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

type failingSessions struct{}

func (failingSessions) Open() (session.Session, error) {
	return session.Session{}, errors.New("no space left on device")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, norm Normalizer, inv worker.Invoker, settings Settings, opts ...Option) (*Service, *session.Manager) {
	t.Helper()
	root := t.TempDir()
	m, err := session.NewManager(filepath.Join(root, "input_data"), filepath.Join(root, "output_data"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if norm == nil {
		norm = &fakeNormalizer{}
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(m, norm, inv, artifact.NewResolver(quietLogger()), settings, opts...), m
}

func writesTranscript(name, text string) worker.InvokerFunc {
	return func(_ context.Context, _ string, o worker.Overlay) (worker.ProcessResult, error) {
		if err := os.WriteFile(filepath.Join(o.OutputDir, name), []byte(text), 0o600); err != nil {
			return worker.ProcessResult{ExitCode: 1, Stderr: err.Error()}, nil
		}
		return worker.ProcessResult{}, nil
	}
}

func upload(name string) ProcessInput {
	return ProcessInput{File: strings.NewReader("audio bytes"), FileName: name}
}

func TestProcessResolvesExactTranscript(t *testing.T) {
	var seen worker.Overlay
	var seenPath string
	inv := worker.InvokerFunc(func(ctx context.Context, p string, o worker.Overlay) (worker.ProcessResult, error) {
		seen, seenPath = o, p
		return writesTranscript("meeting.txt", "[0.0s–1.0s] SPEAKER_00: Hallo")(ctx, p, o)
	})
	svc, _ := newService(t, nil, inv, Settings{WorkerNormalize: true})

	in := upload("meeting.mp3")
	in.Prompt = "Kurz: {transkript}"
	res, err := svc.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	if res.Transcript == nil || res.Transcript.Source != artifact.SourceExactFile {
		t.Fatalf("unexpected transcript: %+v", res.Transcript)
	}
	if filepath.Base(seenPath) != "trimmed_meeting.wav" {
		t.Fatalf("worker should receive the trimmed derivative, got %s", seenPath)
	}
	if seen.UserPrompt != "Kurz: {transkript}" || seen.TranscriptBaseName != "meeting" || !seen.NormalizeAudio {
		t.Fatalf("unexpected overlay: %+v", seen)
	}
	if filepath.Base(seen.OutputDir) != res.SessionID {
		t.Fatalf("worker output dir %s is not the session's", seen.OutputDir)
	}
	if len(res.Stages) != 3 {
		t.Fatalf("expected three stages, got %+v", res.Stages)
	}
	for _, st := range res.Stages {
		if st.Status != StatusSucceeded {
			t.Fatalf("stage %s: %s", st.Stage, st.Status)
		}
	}
}

func TestProcessStdoutTranscript(t *testing.T) {
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		return worker.ProcessResult{Stdout: "printed transcript\n"}, nil
	})
	svc, _ := newService(t, nil, inv, Settings{})

	res, err := svc.Process(context.Background(), upload("meeting.wav"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Transcript == nil || res.Transcript.Text != "printed transcript\n" {
		t.Fatalf("unexpected transcript: %+v", res.Transcript)
	}
}

func TestProcessPrefixGlobTranscript(t *testing.T) {
	svc, _ := newService(t, nil, writesTranscript("meeting_alt.txt", "alt"), Settings{})

	res, err := svc.Process(context.Background(), upload("meeting.wav"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Transcript == nil || res.Transcript.Source != artifact.SourcePrefixGlob {
		t.Fatalf("unexpected transcript: %+v", res.Transcript)
	}
}

func TestProcessNoTranscriptIsPartialSuccess(t *testing.T) {
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		return worker.ProcessResult{}, nil
	})
	svc, _ := newService(t, nil, inv, Settings{})

	res, err := svc.Process(context.Background(), upload("meeting.wav"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeNoTranscript || res.Transcript != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	st, _ := res.Stage(StageResolve)
	if st.Status != StatusFailed || st.Message != "no transcript located" {
		t.Fatalf("unexpected resolve stage: %+v", st)
	}
}

func TestProcessWorkerFailureSkipsResolution(t *testing.T) {
	stdout := "halb fertig\n"
	stderr := "Traceback (most recent call last):\n  RuntimeError: CUDA\n"
	inv := worker.InvokerFunc(func(_ context.Context, _ string, o worker.Overlay) (worker.ProcessResult, error) {
		_ = os.WriteFile(filepath.Join(o.OutputDir, "meeting.txt"), []byte("partial"), 0o600)
		return worker.ProcessResult{Stdout: stdout, Stderr: stderr, ExitCode: 3}, nil
	})
	svc, _ := newService(t, nil, inv, Settings{})

	res, err := svc.Process(context.Background(), upload("meeting.wav"))
	if err != nil {
		t.Fatalf("worker failure must not be an error, got %v", err)
	}
	if res.Outcome != OutcomeWorkerFailed {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	st, _ := res.Stage(StageInvoke)
	if st.Stdout != stdout || st.Stderr != stderr || st.ExitCode != 3 {
		t.Fatalf("streams must be carried verbatim: %+v", st)
	}
	if res.Transcript != nil || res.Artifacts != nil {
		t.Fatal("resolution must not run after a worker failure")
	}
	if r, _ := res.Stage(StageResolve); r.Status != StatusSkipped {
		t.Fatalf("unexpected resolve stage: %+v", r)
	}
}

func TestProcessNormalizationFallsBackToOriginal(t *testing.T) {
	var got string
	inv := worker.InvokerFunc(func(_ context.Context, p string, _ worker.Overlay) (worker.ProcessResult, error) {
		got = p
		return worker.ProcessResult{Stdout: "ok"}, nil
	})
	norm := &fakeNormalizer{err: &audio.Error{ExitCode: 1, Stderr: "Invalid data"}}
	svc, _ := newService(t, norm, inv, Settings{})

	res, err := svc.Process(context.Background(), upload("meeting.ogg"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if filepath.Base(got) != "meeting.ogg" {
		t.Fatalf("worker should get the original upload, got %s", got)
	}
	st, _ := res.Stage(StageNormalize)
	if st.Status != StatusFailed || !st.Recovered || st.ExitCode != 1 || st.Stderr != "Invalid data" {
		t.Fatalf("unexpected normalize stage: %+v", st)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
}

func TestProcessTrimmingModes(t *testing.T) {
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		return worker.ProcessResult{Stdout: "x"}, nil
	})
	norm := &fakeNormalizer{}
	svc, _ := newService(t, norm, inv, Settings{SkipTrimming: true, TrimWindow: 5 * time.Second})

	if _, err := svc.Process(context.Background(), upload("a.wav")); err != nil {
		t.Fatal(err)
	}
	no := false
	in := upload("b.wav")
	in.SkipTrimming = &no
	if _, err := svc.Process(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if norm.opts[0].Mode != audio.ModeFull {
		t.Fatalf("server default should skip trimming: %+v", norm.opts[0])
	}
	if norm.opts[1].Mode != audio.ModeTrim || norm.opts[1].Window != 5*time.Second {
		t.Fatalf("request override should trim: %+v", norm.opts[1])
	}
}

func TestProcessRejectsMissingFile(t *testing.T) {
	called := false
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		called = true
		return worker.ProcessResult{}, nil
	})
	svc, _ := newService(t, nil, inv, Settings{})

	for _, in := range []ProcessInput{{}, {File: strings.NewReader("x"), FileName: "  "}} {
		if _, err := svc.Process(context.Background(), in); !errors.Is(err, ErrNoFile) {
			t.Fatalf("expected ErrNoFile, got %v", err)
		}
	}
	if called {
		t.Fatal("worker must not run without a file")
	}
}

func TestProcessSessionFailureIsFatal(t *testing.T) {
	svc := New(failingSessions{}, &fakeNormalizer{}, worker.InvokerFunc(nil), artifact.NewResolver(quietLogger()), Settings{}, WithLogger(quietLogger()))
	if _, err := svc.Process(context.Background(), upload("a.wav")); err == nil || !strings.Contains(err.Error(), "open session") {
		t.Fatalf("expected session error, got %v", err)
	}
}

func TestProcessTimeoutReturnsPartialResult(t *testing.T) {
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		return worker.ProcessResult{Stderr: "loading model", ExitCode: -1}, fmt.Errorf("%w after 1s: %w", worker.ErrTimeout, context.DeadlineExceeded)
	})
	var hooked atomic.Int32
	svc, _ := newService(t, nil, inv, Settings{}, WithRunHook(func(_ context.Context, res ProcessResult) {
		if res.Outcome == OutcomeTimedOut {
			hooked.Add(1)
		}
	}))

	res, err := svc.Process(context.Background(), upload("a.wav"))
	if !errors.Is(err, worker.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if res.SessionID == "" || res.Outcome != OutcomeTimedOut {
		t.Fatalf("unexpected partial result: %+v", res)
	}
	if st, _ := res.Stage(StageInvoke); st.Stderr != "loading model" {
		t.Fatalf("stderr should be kept: %+v", st)
	}
	if hooked.Load() != 1 {
		t.Fatal("run hook not called")
	}
}

func TestProcessBoundsConcurrentWorkers(t *testing.T) {
	var running, peak atomic.Int32
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return worker.ProcessResult{Stdout: "x"}, nil
	})
	svc, _ := newService(t, nil, inv, Settings{MaxConcurrentRuns: 2})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Process(context.Background(), upload(fmt.Sprintf("m%d.wav", i)))
			if err != nil {
				t.Errorf("Process() error = %v", err)
				return
			}
			ids[i] = res.SessionID
		}(i)
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds limit", peak.Load())
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("session %s reused", id)
		}
		seen[id] = true
	}
	if svc.ActiveRuns() != 0 {
		t.Fatalf("slots leaked: %d", svc.ActiveRuns())
	}
}

func TestProcessCanceledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		<-release
		return worker.ProcessResult{Stdout: "x"}, nil
	})
	svc, _ := newService(t, nil, inv, Settings{MaxConcurrentRuns: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Process(context.Background(), upload("first.wav"))
	}()
	for svc.ActiveRuns() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := svc.Process(ctx, upload("second.wav"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if st, _ := res.Stage(StageInvoke); st.Status != StatusSkipped {
		t.Fatalf("unexpected invoke stage: %+v", st)
	}
	close(release)
	<-done
}

func TestProcessKeepsUploadBaseNameVerbatim(t *testing.T) {
	for _, name := range []string{"trimmed_meeting.wav", "call_16k.mp3"} {
		t.Run(name, func(t *testing.T) {
			var seen worker.Overlay
			inv := worker.InvokerFunc(func(_ context.Context, _ string, o worker.Overlay) (worker.ProcessResult, error) {
				seen = o
				base := strings.TrimSuffix(name, filepath.Ext(name))
				if err := os.WriteFile(filepath.Join(o.OutputDir, base+".txt"), []byte("Hallo"), 0o600); err != nil {
					return worker.ProcessResult{ExitCode: 1}, nil
				}
				return worker.ProcessResult{}, nil
			})
			svc, _ := newService(t, nil, inv, Settings{})

			res, err := svc.Process(context.Background(), upload(name))
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Outcome != OutcomeSucceeded || res.Transcript == nil || res.Transcript.Source != artifact.SourceExactFile {
				t.Fatalf("unexpected result: outcome=%s transcript=%+v", res.Outcome, res.Transcript)
			}
			if seen.TranscriptBaseName != strings.TrimSuffix(name, filepath.Ext(name)) {
				t.Fatalf("unexpected base name %q", seen.TranscriptBaseName)
			}
		})
	}
}

func TestProcessQueueTimeoutReportsBusy(t *testing.T) {
	release := make(chan struct{})
	inv := worker.InvokerFunc(func(context.Context, string, worker.Overlay) (worker.ProcessResult, error) {
		<-release
		return worker.ProcessResult{Stdout: "x"}, nil
	})
	var hooked ProcessResult
	svc, _ := newService(t, nil, inv, Settings{MaxConcurrentRuns: 1, QueueTimeout: 30 * time.Millisecond},
		WithRunHook(func(_ context.Context, res ProcessResult) {
			if res.Outcome == OutcomeBusy {
				hooked = res
			}
		}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Process(context.Background(), upload("first.wav"))
	}()
	for svc.ActiveRuns() == 0 {
		time.Sleep(time.Millisecond)
	}

	started := time.Now()
	res, err := svc.Process(context.Background(), upload("second.wav"))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("slot wait not bounded: %s", elapsed)
	}
	if res.Outcome != OutcomeBusy || res.SessionID == "" || hooked.SessionID != res.SessionID {
		t.Fatalf("unexpected result: %+v (hook saw %+v)", res, hooked)
	}
	if st, _ := res.Stage(StageInvoke); st.Status != StatusSkipped {
		t.Fatalf("unexpected invoke stage: %+v", st)
	}
	close(release)
	<-done
}

func TestProcessRunTimeoutCoversSlotWaitAndWorker(t *testing.T) {
	inv := worker.InvokerFunc(func(ctx context.Context, _ string, _ worker.Overlay) (worker.ProcessResult, error) {
		<-ctx.Done()
		return worker.ProcessResult{ExitCode: -1}, fmt.Errorf("%w: %w", worker.ErrTimeout, ctx.Err())
	})
	const runTimeout = 100 * time.Millisecond
	svc, _ := newService(t, nil, inv, Settings{MaxConcurrentRuns: 1, RunTimeout: runTimeout})

	var wg sync.WaitGroup
	var slowest atomic.Int64
	outcomes := make(chan Outcome, 4)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			res, _ := svc.Process(context.Background(), upload(fmt.Sprintf("call_%d.wav", i)))
			outcomes <- res.Outcome
			d := int64(time.Since(started))
			for {
				cur := slowest.Load()
				if d <= cur || slowest.CompareAndSwap(cur, d) {
					break
				}
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	if got := time.Duration(slowest.Load()); got > runTimeout+time.Second {
		t.Fatalf("slowest request took %s, run timeout is %s", got, runTimeout)
	}
	for o := range outcomes {
		if o != OutcomeTimedOut && o != OutcomeBusy {
			t.Fatalf("unexpected outcome %s", o)
		}
	}
}
