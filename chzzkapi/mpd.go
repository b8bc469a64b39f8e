package chzzkapi

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MediaSegment is one entry of a representation's segment list, already expanded
// from the manifest timeline. Index is the 0-based position in playback order.
type MediaSegment struct {
	Index    int
	Duration time.Duration
	URL      string
}

// Representation is one quality variant of a VOD with its full segment list.
type Representation struct {
	ID           string
	Width        int
	Height       int
	Bandwidth    int
	MimeType     string
	QualityLabel string
	InitURL      string
	Segments     []MediaSegment
}

// TotalDuration sums the representation's segment durations.
func (r Representation) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range r.Segments {
		total += s.Duration
	}
	return total
}

// mpdDocument mirrors the subset of the DASH-IF schema the platform emits.
type mpdDocument struct {
	XMLName xml.Name    `xml:"MPD"`
	BaseURL string      `xml:"BaseURL"`
	Periods []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	MimeType        string              `xml:"mimeType,attr"`
	ContentType     string              `xml:"contentType,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Width           int                 `xml:"width,attr"`
	Height          int                 `xml:"height,attr"`
	Bandwidth       int                 `xml:"bandwidth,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
}

type mpdSegmentTemplate struct {
	Timescale      int64  `xml:"timescale,attr"`
	Media          string `xml:"media,attr"`
	Initialization string `xml:"initialization,attr"`
	StartNumber    int    `xml:"startNumber,attr"`
	Timeline       struct {
		Entries []struct {
			T int64 `xml:"t,attr"`
			D int64 `xml:"d,attr"`
			R int   `xml:"r,attr"`
		} `xml:"S"`
	} `xml:"SegmentTimeline"`
}

// ParseMPD parses a DASH manifest into video representations with expanded
// segment lists. Relative segment URLs resolve against nested BaseURL elements
// and finally the manifest URL itself.
func ParseMPD(data []byte, manifestURL string) ([]Representation, error) {
	var doc mpdDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mpd: %w", err)
	}

	manifestBase, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}

	var reps []Representation
	for _, period := range doc.Periods {
		for _, as := range period.AdaptationSets {
			if !strings.Contains(as.MimeType, "video") && as.ContentType != "video" {
				continue
			}
			for _, rep := range as.Representations {
				tmpl := rep.SegmentTemplate
				if tmpl == nil {
					tmpl = as.SegmentTemplate
				}
				if tmpl == nil || len(tmpl.Timeline.Entries) == 0 {
					continue
				}
				base := resolveBase(manifestBase, doc.BaseURL, period.BaseURL, as.BaseURL, rep.BaseURL)
				mime := rep.MimeType
				if mime == "" {
					mime = as.MimeType
				}
				out := Representation{
					ID:           rep.ID,
					Width:        rep.Width,
					Height:       rep.Height,
					Bandwidth:    rep.Bandwidth,
					MimeType:     mime,
					QualityLabel: qualityLabel(rep.Height),
					Segments:     expandTimeline(tmpl, rep.ID, base),
				}
				if tmpl.Initialization != "" {
					out.InitURL = resolveRef(base, substitute(tmpl.Initialization, rep.ID, 0))
				}
				if len(out.Segments) > 0 {
					reps = append(reps, out)
				}
			}
		}
	}

	// Highest quality first, matching the original ordering contract.
	sort.SliceStable(reps, func(i, j int) bool {
		if reps[i].Height != reps[j].Height {
			return reps[i].Height > reps[j].Height
		}
		return reps[i].Bandwidth > reps[j].Bandwidth
	})
	return reps, nil
}

func expandTimeline(tmpl *mpdSegmentTemplate, repID string, base *url.URL) []MediaSegment {
	timescale := tmpl.Timescale
	if timescale <= 0 {
		timescale = 1
	}
	start := tmpl.StartNumber
	if start <= 0 {
		start = 1
	}
	var segs []MediaSegment
	number := start
	for _, e := range tmpl.Timeline.Entries {
		repeat := e.R
		if repeat < 0 {
			repeat = 0
		}
		for i := 0; i <= repeat; i++ {
			d := time.Duration(e.D) * time.Second / time.Duration(timescale)
			segs = append(segs, MediaSegment{
				Index:    len(segs),
				Duration: d,
				URL:      resolveRef(base, substitute(tmpl.Media, repID, number)),
			})
			number++
		}
	}
	return segs
}

func substitute(pattern, repID string, number int) string {
	s := strings.ReplaceAll(pattern, "$RepresentationID$", repID)
	s = strings.ReplaceAll(s, "$Number$", strconv.Itoa(number))
	return s
}

// resolveBase folds nested BaseURL elements (document, period, adaptation set,
// representation) onto the manifest URL, innermost last.
func resolveBase(manifest *url.URL, bases ...string) *url.URL {
	cur := manifest
	for _, b := range bases {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if ref, err := url.Parse(b); err == nil {
			cur = cur.ResolveReference(ref)
		}
	}
	return cur
}

func resolveRef(base *url.URL, ref string) string {
	if u, err := url.Parse(strings.TrimSpace(ref)); err == nil {
		return base.ResolveReference(u).String()
	}
	return ref
}

func qualityLabel(height int) string {
	switch {
	case height >= 2160:
		return "4K"
	case height >= 1440:
		return "1440p"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	case height > 0:
		return fmt.Sprintf("%dp", height)
	default:
		return "auto"
	}
}

// SelectRepresentation picks a representation by preference: "best", "worst",
// a label like "720p", or a resolution fragment. Falls back to the closest
// height, then best. Returns nil only for an empty slice.
func SelectRepresentation(reps []Representation, preferred string) *Representation {
	if len(reps) == 0 {
		return nil
	}
	switch strings.ToLower(preferred) {
	case "", "best":
		return &reps[0]
	case "worst":
		return &reps[len(reps)-1]
	}
	for i := range reps {
		if strings.EqualFold(reps[i].QualityLabel, preferred) {
			return &reps[i]
		}
	}
	if target := parseQualityHeight(preferred); target > 0 {
		best := 0
		bestDiff := -1
		for i := range reps {
			diff := reps[i].Height - target
			if diff < 0 {
				diff = -diff
			}
			if bestDiff < 0 || diff < bestDiff {
				best, bestDiff = i, diff
			}
		}
		return &reps[best]
	}
	return &reps[0]
}

func parseQualityHeight(s string) int {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "p")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
