package worker

import (
	"slices"
	"strings"
	"sync"
	"testing"
)

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if k == key {
			return v, true
		}
	}
	return "", false
}

func TestEnvironReplacesRecognisedKeys(t *testing.T) {
	base := []string{"PATH=/usr/bin", "OUTPUT_DIR=/shared/output_data", "SKIP_DIARIZATION=yes"}
	env := Overlay{OutputDir: "/srv/out/abc", UserPrompt: "Kurz: {transkript}"}.Environ(base)

	if v, _ := envValue(env, EnvOutputDir); v != "/srv/out/abc" {
		t.Fatalf("unexpected OUTPUT_DIR: %q", v)
	}
	if v, _ := envValue(env, EnvSkipDiarization); v != "false" {
		t.Fatalf("unexpected SKIP_DIARIZATION: %q", v)
	}
	if v, _ := envValue(env, EnvUserPrompt); v != "Kurz: {transkript}" {
		t.Fatalf("unexpected USER_PROMPT: %q", v)
	}
	if v, _ := envValue(env, "PATH"); v != "/usr/bin" {
		t.Fatalf("PATH should be inherited, got %q", v)
	}
	count := 0
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvOutputDir+"=") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("OUTPUT_DIR present %d times", count)
	}
}

func TestEnvironDoesNotMutateBase(t *testing.T) {
	base := []string{"PATH=/usr/bin", "USER_PROMPT=deployment default {transkript}"}
	snapshot := slices.Clone(base)

	_ = Overlay{UserPrompt: "request one {transkript}", OutputDir: "/a"}.Environ(base)
	if !slices.Equal(base, snapshot) {
		t.Fatalf("base modified: %v", base)
	}
}

func TestEnvironDoesNotLeakPromptsAcrossRuns(t *testing.T) {
	base := []string{"PATH=/usr/bin"}

	var wg sync.WaitGroup
	results := make([][]string, 2)
	overlays := []Overlay{
		{UserPrompt: "prompt A {transkript}", OutputDir: "/out/a"},
		{OutputDir: "/out/b"},
	}
	for i, o := range overlays {
		wg.Add(1)
		go func(i int, o Overlay) {
			defer wg.Done()
			results[i] = o.Environ(base)
		}(i, o)
	}
	wg.Wait()

	if v, _ := envValue(results[0], EnvUserPrompt); v != "prompt A {transkript}" {
		t.Fatalf("unexpected prompt for run A: %q", v)
	}
	if _, ok := envValue(results[1], EnvUserPrompt); ok {
		t.Fatal("run B must not see run A's prompt")
	}
	if v, _ := envValue(results[1], EnvOutputDir); v != "/out/b" {
		t.Fatalf("unexpected OUTPUT_DIR for run B: %q", v)
	}
}

func TestPairsOmitsBlankPromptAndBaseName(t *testing.T) {
	pairs := Overlay{UserPrompt: "   ", OutputDir: "/o", SkipTrimming: true}.Pairs()
	if _, ok := pairs[EnvUserPrompt]; ok {
		t.Fatal("blank prompt should be omitted")
	}
	if _, ok := pairs[EnvTranscriptBaseName]; ok {
		t.Fatal("empty base name should be omitted")
	}
	if pairs[EnvSkipTrimming] != "true" {
		t.Fatalf("unexpected SKIP_TRIMMING: %q", pairs[EnvSkipTrimming])
	}
}
