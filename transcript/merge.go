// Package transcript interleaves chat events with recognized speech into a
// single timeline, re-zeroed to the start of the excerpt window, and renders
// the text artifacts written next to the media file.
package transcript

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/vod-excerpt/chat"
	"github.com/onnwee/vod-excerpt/config"
	"github.com/onnwee/vod-excerpt/transcribe"
)

// Kind distinguishes timeline entry sources.
type Kind string

const (
	KindChat   Kind = "chat"
	KindSpeech Kind = "speech"
)

// Entry is one line of the merged timeline. Offset is relative to the start
// of the excerpt window, not the start of the source video.
type Entry struct {
	Offset    time.Duration
	Kind      Kind
	Author    string
	Text      string
	Sponsored bool
}

// Merge combines chat events (offsets relative to the source video) with
// speech segments (offsets relative to the trimmed media) onto one timeline
// starting at zero. Entries that would land outside [0, mediaDuration] are
// dropped and counted rather than clamped, so a caller can report the loss.
// The sort is stable: equal offsets keep chat before speech, and source order
// within each kind.
func Merge(events []chat.Event, speech []transcribe.Segment, windowStart, mediaDuration time.Duration) ([]Entry, int) {
	entries := make([]Entry, 0, len(events)+len(speech))
	dropped := 0

	for _, ev := range events {
		off := ev.Offset - windowStart
		if off < 0 || off > mediaDuration {
			dropped++
			continue
		}
		entries = append(entries, Entry{
			Offset:    off,
			Kind:      KindChat,
			Author:    ev.Author,
			Text:      ev.Message,
			Sponsored: ev.Sponsored,
		})
	}
	for _, seg := range speech {
		if seg.Start < 0 || seg.Start > mediaDuration {
			dropped++
			continue
		}
		author := seg.Speaker
		if author == "" {
			author = "speaker"
		}
		entries = append(entries, Entry{
			Offset: seg.Start,
			Kind:   KindSpeech,
			Author: author,
			Text:   seg.Text,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Offset != entries[j].Offset {
			return entries[i].Offset < entries[j].Offset
		}
		return entries[i].Kind == KindChat && entries[j].Kind == KindSpeech
	})
	return entries, dropped
}

// WriteChatLog renders chat-only lines, one event per line:
//
//	[HH:MM:SS] [donation] [nick] : message
//
// with the donation tag present only on sponsored events.
func WriteChatLog(w io.Writer, events []chat.Event, windowStart time.Duration) error {
	for _, ev := range events {
		off := ev.Offset - windowStart
		if off < 0 {
			off = 0
		}
		tag := ""
		if ev.Sponsored {
			tag = "[donation] "
		}
		if _, err := fmt.Fprintf(w, "[%s] %s[%s] : %s\n",
			config.FormatTimecode(off), tag, ev.Author, ev.Message); err != nil {
			return err
		}
	}
	return nil
}

// WriteMerged renders the merged timeline. Speech lines carry a ">>" marker so
// the two sources stay distinguishable in plain text.
func WriteMerged(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		switch e.Kind {
		case KindSpeech:
			if _, err := fmt.Fprintf(w, "[%s] >> %s: %s\n",
				config.FormatTimecode(e.Offset), e.Author, e.Text); err != nil {
				return err
			}
		default:
			tag := ""
			if e.Sponsored {
				tag = "[donation] "
			}
			if _, err := fmt.Fprintf(w, "[%s] %s[%s] : %s\n",
				config.FormatTimecode(e.Offset), tag, e.Author, e.Text); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteChatLogFile is WriteChatLog against a file path.
func WriteChatLogFile(path string, events []chat.Event, windowStart time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteChatLog(f, events, windowStart); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteMergedFile is WriteMerged against a file path.
func WriteMergedFile(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteMerged(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafeFilename = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)

// SanitizeFilename strips path separators and shell-hostile characters from a
// title so it can be used as an artifact basename.
func SanitizeFilename(s string) string {
	s = unsafeFilename.ReplaceAllString(s, "_")
	s = strings.Trim(s, " ._")
	if s == "" {
		return "excerpt"
	}
	const maxLen = 120
	// truncate on rune boundaries; Hangul titles would otherwise split mid-sequence
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen])
	}
	return s
}
