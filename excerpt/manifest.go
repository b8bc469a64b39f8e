// Package excerpt implements the segment acquisition engine: resolving a VOD's
// segmented manifest, planning the minimal segment cover for a requested time
// window, fetching and trimming the media, and driving the request pipeline.
package excerpt

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/vod-excerpt/chzzkapi"
)

// StreamManifest is the resolved, immutable view of one VOD at one quality:
// broadcast start time plus the ordered, gap-free segment list.
type StreamManifest struct {
	VideoNo        string
	Title          string
	Channel        string
	BroadcastStart time.Time
	Quality        string
	InitURL        string
	Segments       []chzzkapi.MediaSegment
}

// TotalDuration is the sum of all segment durations.
func (m *StreamManifest) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range m.Segments {
		total += s.Duration
	}
	return total
}

// TimeWindow is a caller-requested [Start, End) range relative to broadcast start.
type TimeWindow struct {
	Start time.Duration
	End   time.Duration
}

func (w TimeWindow) Duration() time.Duration { return w.End - w.Start }

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start, w.End)
}

// SegmentPlan is the minimal contiguous segment cover for a window, plus the
// sub-segment amounts to discard at each edge. Derived deterministically from
// a manifest and window; consumed once by the fetcher.
type SegmentPlan struct {
	First        int // index of the first required segment
	Last         int // index of the last required segment (inclusive)
	LeadingTrim  time.Duration
	TrailingTrim time.Duration
	Segments     []chzzkapi.MediaSegment
}

// NetDuration is the covered duration after both trims: always the window length.
func (p *SegmentPlan) NetDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total - p.LeadingTrim - p.TrailingTrim
}

// Resolve fetches a VOD's manifest and broadcast metadata and binds them to one
// quality. Error taxonomy comes from chzzkapi (ErrNotFound, ErrAuthRequired,
// ErrUpstream); retries for transient errors happen inside the client.
func Resolve(ctx context.Context, client *chzzkapi.Client, videoNo, quality string) (*StreamManifest, error) {
	info, err := client.GetVideoInfo(ctx, videoNo)
	if err != nil {
		return nil, fmt.Errorf("resolve video %s: %w", videoNo, err)
	}
	reps, err := client.GetPlaybackManifest(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest %s: %w", videoNo, err)
	}
	rep := chzzkapi.SelectRepresentation(reps, quality)
	if rep == nil {
		return nil, fmt.Errorf("resolve manifest %s: %w", videoNo, chzzkapi.ErrUpstream)
	}
	start := info.BroadcastOpen
	if start.IsZero() {
		// Older VODs omit liveOpenDate; chat offsets are player-relative anyway,
		// so a zero base only affects the absolute timestamps we report.
		start = time.Unix(0, 0).UTC()
	}
	return &StreamManifest{
		VideoNo:        videoNo,
		Title:          info.Title,
		Channel:        info.ChannelName,
		BroadcastStart: start,
		Quality:        rep.QualityLabel,
		InitURL:        rep.InitURL,
		Segments:       rep.Segments,
	}, nil
}

// Plan maps a window onto the minimal contiguous segment subsequence covering
// it. Pure and deterministic; fails with ErrWindowOutOfRange for invalid or
// out-of-bounds windows.
func Plan(m *StreamManifest, w TimeWindow) (*SegmentPlan, error) {
	total := m.TotalDuration()
	if w.Start < 0 || w.End <= w.Start || w.End > total {
		return nil, fmt.Errorf("%w: window %s against total %s", ErrWindowOutOfRange, w, total)
	}
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: manifest has no segments", ErrWindowOutOfRange)
	}

	plan := &SegmentPlan{First: -1, Last: -1}
	var cum time.Duration
	for i, seg := range m.Segments {
		segStart := cum
		cum += seg.Duration
		// First segment whose cumulative end exceeds the window start.
		if plan.First < 0 && cum > w.Start {
			plan.First = i
			plan.LeadingTrim = w.Start - segStart
		}
		// Last segment whose cumulative start is below the window end.
		if segStart < w.End {
			plan.Last = i
			plan.TrailingTrim = cum - w.End
		}
	}
	plan.Segments = m.Segments[plan.First : plan.Last+1]
	return plan, nil
}
