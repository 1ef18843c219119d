// Package transcript holds time-aligned speaker segments and their text
// renderings.
package transcript

import (
	"fmt"
	"strings"
)

// DefaultSpeaker labels segments that diarization left unattributed.
const DefaultSpeaker = "Sprecher"

// Segment times are seconds from the start of the audio. Segments are kept in
// the order the engine produced them.
type Segment struct {
	Start   float64
	End     float64
	Speaker string
	Text    string
}

func (s Segment) SpeakerLabel() string {
	if strings.TrimSpace(s.Speaker) == "" {
		return DefaultSpeaker
	}
	return s.Speaker
}

// PlainText renders one line per segment: "[0.0s–2.5s] SPEAKER_00: text".
func PlainText(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, fmt.Sprintf("[%.1fs–%.1fs] %s: %s", s.Start, s.End, s.SpeakerLabel(), strings.TrimSpace(s.Text)))
	}
	return strings.Join(lines, "\n")
}

// MarkdownRecord renders the speaker-attributed record, one bullet per
// segment separated by blank lines.
func MarkdownRecord(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "- **%s** [%.1fs–%.1fs]: %s\n\n", s.SpeakerLabel(), s.Start, s.End, strings.TrimSpace(s.Text))
	}
	return b.String()
}
