// Package artifact discovers what a worker run left in a session output
// directory. Files are found and classified, never renamed or moved.
package artifact

import (
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	KindRawTranscript    Kind = "raw-transcript"
	KindMarkdownRecord   Kind = "markdown-record"
	KindSummaryDocument  Kind = "summary-document"
	KindRenderedDocument Kind = "rendered-document"
	KindOther            Kind = "other"
)

// SummaryMarker is the token that names summary excerpts, as in
// protokoll_auszug_20240501_101500.pdf.
const SummaryMarker = "auszug"

type Artifact struct {
	Kind      Kind
	Name      string
	Path      string
	SessionID string
	Size      int64
	ModTime   time.Time
}

// Classify derives the kind of a file from its name alone.
func Classify(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".txt":
		return KindRawTranscript
	case ".md":
		if hasMarker(name) {
			return KindSummaryDocument
		}
		return KindMarkdownRecord
	case ".pdf", ".docx":
		return KindRenderedDocument
	default:
		return KindOther
	}
}

// IsSummaryExcerpt reports whether name is a rendered summary excerpt.
func IsSummaryExcerpt(name string) bool {
	return Classify(name) == KindRenderedDocument && hasMarker(name)
}

func hasMarker(name string) bool {
	return strings.Contains(strings.ToLower(name), SummaryMarker)
}
