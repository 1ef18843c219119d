package transcript

import (
	"context"
	"fmt"
	"time"
)

// Diarizer assigns speaker labels in place.
type Diarizer interface {
	AssignSpeakers(ctx context.Context, segments []Segment) error
}

// NoopDiarizer leaves speakers empty; output falls back to DefaultSpeaker.
type NoopDiarizer struct{}

func (NoopDiarizer) AssignSpeakers(context.Context, []Segment) error { return nil }

// GapDiarizer switches to the next speaker whenever the pause between two
// segments exceeds Threshold. If any segment already carries a speaker the
// engine diarized the transcript and the whole slice is left unchanged.
type GapDiarizer struct {
	Threshold time.Duration
	// Speakers is the number of labels cycled through; values below 2 mean 2.
	Speakers int
}

func (g GapDiarizer) AssignSpeakers(ctx context.Context, segments []Segment) error {
	for _, s := range segments {
		if s.Speaker != "" {
			return nil
		}
	}
	speakers := g.Speakers
	if speakers < 2 {
		speakers = 2
	}
	threshold := g.Threshold.Seconds()

	current := 0
	for i := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && segments[i].Start-segments[i-1].End > threshold {
			current = (current + 1) % speakers
		}
		segments[i].Speaker = SpeakerName(current)
	}
	return nil
}

// SpeakerName formats the i-th speaker label as SPEAKER_00, SPEAKER_01, ...
func SpeakerName(i int) string {
	return fmt.Sprintf("SPEAKER_%02d", i)
}
