// Package render lays a markdown protocol out as a paginated document.
//
// Only two line forms are recognized: "## " headings and body text. Blank
// lines become vertical spacing.
package render

import (
	"fmt"
	"strings"
)

const HeadingPrefix = "## "

type LineKind int

const (
	LineBody LineKind = iota
	LineHeading
	LineSpacer
)

type Line struct {
	Kind LineKind
	Text string
}

// Parse splits markdown into layout lines. Inline emphasis markers are
// dropped; everything else is kept as written.
func Parse(markdown string) []Line {
	raw := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		switch {
		case strings.TrimSpace(l) == "":
			lines = append(lines, Line{Kind: LineSpacer})
		case strings.HasPrefix(l, HeadingPrefix):
			lines = append(lines, Line{Kind: LineHeading, Text: cleanInline(strings.TrimPrefix(l, HeadingPrefix))})
		default:
			lines = append(lines, Line{Kind: LineBody, Text: cleanInline(l)})
		}
	}
	return lines
}

// Renderer writes one document. Extension includes the leading dot.
type Renderer interface {
	Extension() string
	Render(markdown, outputPath string) error
}

// ForFormat returns the renderer for "pdf" or "docx".
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pdf":
		return PDF{}, nil
	case "docx":
		return DOCX{}, nil
	default:
		return nil, fmt.Errorf("unsupported render format %q", format)
	}
}

func cleanInline(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.ReplaceAll(s, "`", "")
}
