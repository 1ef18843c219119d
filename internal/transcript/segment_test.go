package transcript

import (
	"context"
	"testing"
	"time"
)

func TestPlainText(t *testing.T) {
	got := PlainText([]Segment{
		{Start: 0, End: 2.54, Speaker: "SPEAKER_00", Text: " Guten Morgen."},
		{Start: 3, End: 4.25, Text: "Hallo"},
	})
	want := "[0.0s–2.5s] SPEAKER_00: Guten Morgen.\n[3.0s–4.2s] Sprecher: Hallo"
	if got != want {
		t.Fatalf("PlainText():\n got %q\nwant %q", got, want)
	}
	if PlainText(nil) != "" {
		t.Fatal("empty input should render empty text")
	}
}

func TestMarkdownRecord(t *testing.T) {
	got := MarkdownRecord([]Segment{{Start: 1, End: 2, Speaker: "SPEAKER_01", Text: "Ja."}})
	if got != "- **SPEAKER_01** [1.0s–2.0s]: Ja.\n\n" {
		t.Fatalf("unexpected record: %q", got)
	}
}

func TestGapDiarizerSwitchesOnPauses(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 1},
		{Start: 1.2, End: 2},
		{Start: 4, End: 5},
		{Start: 5.1, End: 6},
		{Start: 9, End: 10},
	}
	if err := (GapDiarizer{Threshold: 1500 * time.Millisecond}).AssignSpeakers(context.Background(), segs); err != nil {
		t.Fatal(err)
	}
	want := []string{"SPEAKER_00", "SPEAKER_00", "SPEAKER_01", "SPEAKER_01", "SPEAKER_00"}
	for i, s := range segs {
		if s.Speaker != want[i] {
			t.Fatalf("segment %d: got %s want %s", i, s.Speaker, want[i])
		}
	}
}

func TestGapDiarizerLeavesPartlyLabeledSliceUnchanged(t *testing.T) {
	segs := []Segment{{Start: 0, End: 1, Speaker: "Anna"}, {Start: 5, End: 6}}
	if err := (GapDiarizer{Threshold: time.Second}).AssignSpeakers(context.Background(), segs); err != nil {
		t.Fatal(err)
	}
	if segs[0].Speaker != "Anna" || segs[1].Speaker != "" {
		t.Fatalf("labels changed: %+v", segs)
	}
}

func TestGapDiarizerCyclesSpeakers(t *testing.T) {
	segs := []Segment{{Start: 0, End: 1}, {Start: 5, End: 6}, {Start: 10, End: 11}, {Start: 15, End: 16}}
	if err := (GapDiarizer{Threshold: time.Second, Speakers: 3}).AssignSpeakers(context.Background(), segs); err != nil {
		t.Fatal(err)
	}
	if segs[2].Speaker != "SPEAKER_02" || segs[3].Speaker != "SPEAKER_00" {
		t.Fatalf("unexpected labels: %+v", segs)
	}
}
