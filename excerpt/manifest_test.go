package excerpt

import (
	"errors"
	"testing"
	"time"

	"github.com/onnwee/vod-excerpt/chzzkapi"
)

func testManifest(durations ...time.Duration) *StreamManifest {
	segs := make([]chzzkapi.MediaSegment, len(durations))
	for i, d := range durations {
		segs[i] = chzzkapi.MediaSegment{Index: i, Duration: d, URL: "http://example.test/seg"}
	}
	return &StreamManifest{VideoNo: "12345", Segments: segs}
}

func TestPlanSelectsMinimalCover(t *testing.T) {
	m := testManifest(30*time.Second, 45*time.Second, 20*time.Second) // total 95s
	plan, err := Plan(m, TimeWindow{Start: 40 * time.Second, End: 70 * time.Second})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.First != 1 || plan.Last != 2 {
		t.Fatalf("got cover [%d,%d], want [1,2]", plan.First, plan.Last)
	}
	if plan.LeadingTrim != 10*time.Second {
		t.Errorf("leading trim = %s, want 10s", plan.LeadingTrim)
	}
	if plan.TrailingTrim != 5*time.Second {
		t.Errorf("trailing trim = %s, want 5s", plan.TrailingTrim)
	}
	if got := plan.NetDuration(); got != 30*time.Second {
		t.Errorf("net duration = %s, want 30s", got)
	}
	if len(plan.Segments) != 2 || plan.Segments[0].Index != 1 {
		t.Errorf("unexpected plan segments: %+v", plan.Segments)
	}
}

func TestPlanWindowInsideSingleSegment(t *testing.T) {
	m := testManifest(60 * time.Second)
	plan, err := Plan(m, TimeWindow{Start: 10 * time.Second, End: 25 * time.Second})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.First != 0 || plan.Last != 0 {
		t.Fatalf("got cover [%d,%d], want [0,0]", plan.First, plan.Last)
	}
	if plan.LeadingTrim != 10*time.Second || plan.TrailingTrim != 35*time.Second {
		t.Errorf("trims = %s/%s, want 10s/35s", plan.LeadingTrim, plan.TrailingTrim)
	}
	if got := plan.NetDuration(); got != 15*time.Second {
		t.Errorf("net duration = %s, want 15s", got)
	}
}

func TestPlanExactSegmentBoundaries(t *testing.T) {
	m := testManifest(30*time.Second, 45*time.Second, 20*time.Second)
	plan, err := Plan(m, TimeWindow{Start: 30 * time.Second, End: 75 * time.Second})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.First != 1 || plan.Last != 1 {
		t.Fatalf("got cover [%d,%d], want [1,1]", plan.First, plan.Last)
	}
	if plan.LeadingTrim != 0 || plan.TrailingTrim != 0 {
		t.Errorf("trims = %s/%s, want 0/0", plan.LeadingTrim, plan.TrailingTrim)
	}
}

func TestPlanWholeStream(t *testing.T) {
	m := testManifest(30*time.Second, 45*time.Second, 20*time.Second)
	plan, err := Plan(m, TimeWindow{Start: 0, End: 95 * time.Second})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.First != 0 || plan.Last != 2 || plan.LeadingTrim != 0 || plan.TrailingTrim != 0 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if got := plan.NetDuration(); got != 95*time.Second {
		t.Errorf("net duration = %s, want 95s", got)
	}
}

func TestPlanRejectsOutOfRangeWindows(t *testing.T) {
	m := testManifest(30*time.Second, 45*time.Second, 20*time.Second)
	cases := []struct {
		name string
		w    TimeWindow
	}{
		{"negative start", TimeWindow{Start: -1 * time.Second, End: 10 * time.Second}},
		{"end before start", TimeWindow{Start: 20 * time.Second, End: 10 * time.Second}},
		{"empty window", TimeWindow{Start: 20 * time.Second, End: 20 * time.Second}},
		{"end past total", TimeWindow{Start: 10 * time.Second, End: 96 * time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Plan(m, tc.w); !errors.Is(err, ErrWindowOutOfRange) {
				t.Fatalf("err = %v, want ErrWindowOutOfRange", err)
			}
		})
	}
}

func TestPlanEmptyManifest(t *testing.T) {
	m := testManifest()
	if _, err := Plan(m, TimeWindow{Start: 0, End: 10 * time.Second}); !errors.Is(err, ErrWindowOutOfRange) {
		t.Fatalf("err = %v, want ErrWindowOutOfRange", err)
	}
}

func TestTimeWindowDuration(t *testing.T) {
	w := TimeWindow{Start: 40 * time.Second, End: 70 * time.Second}
	if w.Duration() != 30*time.Second {
		t.Errorf("Duration = %s, want 30s", w.Duration())
	}
}
