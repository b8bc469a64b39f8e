package chzzkapi

import (
	"testing"
	"time"
)

const sampleMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <BaseURL>https://vod.example.com/stream/</BaseURL>
      <Representation id="1080p" width="1920" height="1080" bandwidth="6000000">
        <SegmentTemplate timescale="1000" startNumber="1" media="$RepresentationID$/seg_$Number$.m4s" initialization="$RepresentationID$/init.mp4">
          <SegmentTimeline>
            <S t="0" d="30000"/>
            <S d="45000"/>
            <S d="20000"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
      <Representation id="720p" width="1280" height="720" bandwidth="3000000">
        <SegmentTemplate timescale="1000" startNumber="1" media="$RepresentationID$/seg_$Number$.m4s">
          <SegmentTimeline>
            <S t="0" d="30000" r="2"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4">
      <Representation id="audio" bandwidth="128000">
        <SegmentTemplate timescale="1000" media="audio/seg_$Number$.m4s">
          <SegmentTimeline><S t="0" d="95000"/></SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseMPD(t *testing.T) {
	reps, err := ParseMPD([]byte(sampleMPD), "https://apis.example.com/playback/vid?key=k")
	if err != nil {
		t.Fatalf("ParseMPD error: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("len(reps) = %d, want 2 (audio set excluded)", len(reps))
	}

	// Sorted best first.
	if reps[0].Height != 1080 || reps[1].Height != 720 {
		t.Errorf("rep order = %d, %d; want 1080, 720", reps[0].Height, reps[1].Height)
	}
	if reps[0].QualityLabel != "1080p" {
		t.Errorf("QualityLabel = %s, want 1080p", reps[0].QualityLabel)
	}

	segs := reps[0].Segments
	if len(segs) != 3 {
		t.Fatalf("len(segments) = %d, want 3", len(segs))
	}
	wantDur := []time.Duration{30 * time.Second, 45 * time.Second, 20 * time.Second}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d Index = %d", i, s.Index)
		}
		if s.Duration != wantDur[i] {
			t.Errorf("segment %d Duration = %v, want %v", i, s.Duration, wantDur[i])
		}
	}
	if got := segs[0].URL; got != "https://vod.example.com/stream/1080p/seg_1.m4s" {
		t.Errorf("segment URL = %s", got)
	}
	if got := reps[0].InitURL; got != "https://vod.example.com/stream/1080p/init.mp4" {
		t.Errorf("InitURL = %s", got)
	}
	if reps[0].TotalDuration() != 95*time.Second {
		t.Errorf("TotalDuration = %v, want 95s", reps[0].TotalDuration())
	}
}

func TestParseMPDRepeatExpansion(t *testing.T) {
	reps, err := ParseMPD([]byte(sampleMPD), "https://apis.example.com/playback/vid")
	if err != nil {
		t.Fatalf("ParseMPD error: %v", err)
	}
	segs := reps[1].Segments // 720p: one S with r=2 -> 3 segments
	if len(segs) != 3 {
		t.Fatalf("len(segments) = %d, want 3 from r=2", len(segs))
	}
	if got := segs[2].URL; got != "https://vod.example.com/stream/720p/seg_3.m4s" {
		t.Errorf("third segment URL = %s, want numbering to advance", got)
	}
}

func TestParseMPDMalformed(t *testing.T) {
	if _, err := ParseMPD([]byte("<MPD><Period>"), "https://x.example.com/m"); err == nil {
		t.Error("ParseMPD should fail on truncated XML")
	}
}

func TestSelectRepresentation(t *testing.T) {
	reps := []Representation{
		{ID: "a", Height: 1080, QualityLabel: "1080p"},
		{ID: "b", Height: 720, QualityLabel: "720p"},
		{ID: "c", Height: 480, QualityLabel: "480p"},
	}
	tests := []struct {
		pref string
		want string
	}{
		{"best", "a"},
		{"", "a"},
		{"worst", "c"},
		{"720p", "b"},
		{"720", "b"},
		{"600p", "c"}, // closest height
		{"garbage", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.pref, func(t *testing.T) {
			got := SelectRepresentation(reps, tt.pref)
			if got == nil || got.ID != tt.want {
				t.Errorf("SelectRepresentation(%q) = %+v, want id %s", tt.pref, got, tt.want)
			}
		})
	}
	if SelectRepresentation(nil, "best") != nil {
		t.Error("SelectRepresentation(nil) should return nil")
	}
}
