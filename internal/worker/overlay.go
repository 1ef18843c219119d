package worker

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Environment keys understood by the worker.
const (
	EnvUserPrompt         = "USER_PROMPT"
	EnvOutputDir          = "OUTPUT_DIR"
	EnvTranscriptBaseName = "TRANSCRIPT_BASENAME"
	EnvSkipDiarization    = "SKIP_DIARIZATION"
	EnvSkipTrimming       = "SKIP_TRIMMING"
	EnvNormalizeAudio     = "NORMALIZE_AUDIO"
)

// Overlay is the per-run configuration handed across the process boundary.
// It is a plain value; a run never changes it after construction.
type Overlay struct {
	UserPrompt         string
	OutputDir          string
	TranscriptBaseName string
	SkipDiarization    bool
	SkipTrimming       bool
	NormalizeAudio     bool
}

// Pairs returns the overlay as environment assignments. An empty prompt is
// omitted so a deployment-wide USER_PROMPT in the base environment survives.
func (o Overlay) Pairs() map[string]string {
	pairs := map[string]string{
		EnvOutputDir:       o.OutputDir,
		EnvSkipDiarization: strconv.FormatBool(o.SkipDiarization),
		EnvSkipTrimming:    strconv.FormatBool(o.SkipTrimming),
		EnvNormalizeAudio:  strconv.FormatBool(o.NormalizeAudio),
	}
	if strings.TrimSpace(o.UserPrompt) != "" {
		pairs[EnvUserPrompt] = o.UserPrompt
	}
	if o.TranscriptBaseName != "" {
		pairs[EnvTranscriptBaseName] = o.TranscriptBaseName
	}
	return pairs
}

// Environ builds a fresh environment from base with the overlay applied. base
// is never modified, so one template can serve concurrent runs.
func (o Overlay) Environ(base []string) []string {
	pairs := o.Pairs()
	env := make([]string, 0, len(base)+len(pairs))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := pairs[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(pairs)) {
		env = append(env, key+"="+pairs[key])
	}
	return env
}
