package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type Resolution struct {
	// Transcript is nil when no strategy located one.
	Transcript *Transcript
	Summary    *Artifact
	Artifacts  []Artifact
	Warnings   []string
}

type Resolver struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewResolver uses DefaultStrategies when none are given.
func NewResolver(logger *slog.Logger, strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{strategies: strategies, logger: logger}
}

// Resolve runs the transcript chain, then picks the summary excerpt and lists
// everything in the output directory. A strategy that errors is recorded as a
// warning and the chain moves on.
func (r *Resolver) Resolve(sessionID string, in Input) (Resolution, error) {
	var res Resolution

	for _, s := range r.strategies {
		t, found, err := s.Locate(in)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", s.Name(), err))
			r.logger.Warn("transcript strategy failed", "session_id", sessionID, "strategy", s.Name(), "err", err)
			continue
		}
		if found {
			res.Transcript = &t
			break
		}
	}

	artifacts, err := List(sessionID, in.OutputDir)
	if err != nil {
		return res, err
	}
	res.Artifacts = artifacts
	res.Summary = LatestSummary(artifacts)
	return res, nil
}

// List enumerates the regular files directly inside dir, sorted by name.
// Dotfiles are not downloadable and are left out.
func List(sessionID, dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	out := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, Artifact{
			Kind:      Classify(e.Name()),
			Name:      e.Name(),
			Path:      filepath.Join(dir, e.Name()),
			SessionID: sessionID,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return out, nil
}

// LatestSummary returns the most recently modified summary excerpt. Equal
// modification times resolve to the lexicographically greatest name.
func LatestSummary(artifacts []Artifact) *Artifact {
	var candidates []Artifact
	for _, a := range artifacts {
		if IsSummaryExcerpt(a.Name) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	best := slices.MaxFunc(candidates, func(a, b Artifact) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return &best
}
