package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Input is what a strategy may look at when locating a transcript.
type Input struct {
	OutputDir string
	BaseName  string
	Stdout    string
}

type Source string

const (
	SourceExactFile  Source = "exact-file"
	SourceStdout     Source = "stdout"
	SourcePrefixGlob Source = "prefix-glob"
)

// Transcript is the located transcript text. Path is empty when the text came
// from the worker's standard output.
type Transcript struct {
	Text   string
	Source Source
	Path   string
}

// Strategy is one step of the transcript fallback chain. Locate returns
// found=false when it has nothing to offer; an error means the step could not
// be evaluated at all.
type Strategy interface {
	Name() Source
	Locate(in Input) (Transcript, bool, error)
}

// DefaultStrategies is the fallback chain in the order it is tried.
func DefaultStrategies() []Strategy {
	return []Strategy{ExactFile{}, Stdout{}, PrefixGlob{}}
}

// ExactFile looks for <base>.txt.
type ExactFile struct{}

func (ExactFile) Name() Source { return SourceExactFile }

func (ExactFile) Locate(in Input) (Transcript, bool, error) {
	if in.BaseName == "" {
		return Transcript{}, false, nil
	}
	path := filepath.Join(in.OutputDir, in.BaseName+".txt")
	text, ok, err := readRegular(path)
	if err != nil || !ok {
		return Transcript{}, false, err
	}
	return Transcript{Text: text, Source: SourceExactFile, Path: path}, true, nil
}

// Stdout uses the worker's standard output when it carries any text. The
// text is returned exactly as captured.
type Stdout struct{}

func (Stdout) Name() Source { return SourceStdout }

func (Stdout) Locate(in Input) (Transcript, bool, error) {
	if strings.TrimSpace(in.Stdout) == "" {
		return Transcript{}, false, nil
	}
	return Transcript{Text: in.Stdout, Source: SourceStdout}, true, nil
}

// PrefixGlob takes the first <base>*.txt in lexical order.
type PrefixGlob struct{}

func (PrefixGlob) Name() Source { return SourcePrefixGlob }

func (PrefixGlob) Locate(in Input) (Transcript, bool, error) {
	if in.BaseName == "" {
		return Transcript{}, false, nil
	}
	matches, err := filepath.Glob(filepath.Join(in.OutputDir, escapeGlob(in.BaseName)+"*.txt"))
	if err != nil {
		return Transcript{}, false, fmt.Errorf("glob transcripts: %w", err)
	}
	for _, path := range matches {
		text, ok, err := readRegular(path)
		if err != nil {
			return Transcript{}, false, err
		}
		if ok {
			return Transcript{Text: text, Source: SourcePrefixGlob, Path: path}, true, nil
		}
	}
	return Transcript{}, false, nil
}

func readRegular(path string) (string, bool, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !info.Mode().IsRegular() {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read transcript: %w", err)
	}
	return strings.ToValidUTF8(string(data), "�"), true, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
