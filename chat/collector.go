// Package chat replays archived chat for a video window through the paginated
// replay API. Pages are pulled lazily: nothing is fetched until the consumer
// asks, and collection stops as soon as the window is exhausted.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/vod-excerpt/chzzkapi"
	"github.com/onnwee/vod-excerpt/telemetry"
)

// Event is one chat message positioned inside the requested window.
type Event struct {
	// Absolute is the wall-clock time the message was sent, derived from the
	// broadcast start plus the player offset.
	Absolute time.Time
	// Offset is the message position relative to the start of the video.
	Offset time.Duration
	Author  string
	Message string
	// Sponsored marks paid messages (donations).
	Sponsored bool
}

// Collector pages through a video's chat replay.
type Collector struct {
	Client         *chzzkapi.Client
	VideoNo        string
	BroadcastStart time.Time
	// PageSize is the number of messages requested per page. Zero means the
	// upstream default of 50.
	PageSize int
	// MaxPages bounds a single Collect call as a runaway guard. Zero means
	// no bound.
	MaxPages int
}

const defaultPageSize = 50

// Pager iterates chat pages lazily. The cursor is exposed so a caller can
// persist it and resume later.
type Pager struct {
	c        *Collector
	cursor   int64
	done     bool
	pages    int
	lastSeen int64 // highest offset handed out, for dedupe across page overlap
	// atLast holds identities of messages already emitted at lastSeen. Busy
	// chat produces distinct messages in the same millisecond, so the offset
	// alone cannot tell a page-overlap duplicate from a new message.
	atLast map[string]struct{}
}

// NewPager starts iteration at the given cursor (milliseconds of player time).
// Use 0 to start from the beginning of the video; for a window collection pass
// the window start so earlier pages are never fetched.
func (c *Collector) NewPager(cursorMS int64) *Pager {
	return &Pager{c: c, cursor: cursorMS, lastSeen: -1, atLast: map[string]struct{}{}}
}

// Cursor returns the player-time cursor the next page will be requested at.
func (p *Pager) Cursor() int64 { return p.cursor }

// Done reports whether the replay is exhausted.
func (p *Pager) Done() bool { return p.done }

// Next fetches one page and returns its messages in player-time order.
// It returns nil messages with done=true once the replay is exhausted, and
// refuses to loop forever: a page whose cursor does not advance terminates
// iteration.
func (p *Pager) Next(ctx context.Context) ([]chzzkapi.ChatMessage, error) {
	if p.done {
		return nil, nil
	}
	size := p.c.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	page, err := p.c.Client.GetChatPage(ctx, p.c.VideoNo, p.cursor, size)
	if err != nil {
		return nil, err
	}
	telemetry.IncChatPage()
	p.pages++

	if page.NextCursor < 0 || len(page.Messages) == 0 {
		p.done = true
	} else if page.NextCursor <= p.cursor {
		// A non-advancing cursor would replay the same page forever.
		slog.Warn("chat cursor did not advance, terminating replay",
			slog.String("video", p.c.VideoNo), slog.Int64("cursor", p.cursor))
		p.done = true
	} else {
		p.cursor = page.NextCursor
	}
	if p.c.MaxPages > 0 && p.pages >= p.c.MaxPages {
		p.done = true
	}

	// Adjacent pages can overlap at the boundary; drop anything before the
	// last offset already emitted, and at that offset anything already seen.
	out := page.Messages[:0:len(page.Messages)]
	for _, m := range page.Messages {
		if m.PlayerTimeMS < p.lastSeen {
			continue
		}
		key := m.Nickname + "\x00" + m.Content
		if m.PlayerTimeMS == p.lastSeen {
			if _, dup := p.atLast[key]; dup {
				continue
			}
		} else {
			p.lastSeen = m.PlayerTimeMS
			p.atLast = map[string]struct{}{}
		}
		p.atLast[key] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// Collect gathers every chat event in the half-open window [start, end)
// relative to the start of the video. Events exactly at start are included,
// events exactly at end are not. Missing session cookies degrade to an empty
// result rather than failing the whole request.
func (c *Collector) Collect(ctx context.Context, start, end time.Duration) ([]Event, error) {
	if end <= start || start < 0 {
		return nil, fmt.Errorf("invalid chat window [%s, %s)", start, end)
	}
	startMS := start.Milliseconds()
	endMS := end.Milliseconds()

	var events []Event
	pager := c.NewPager(startMS)
	for !pager.Done() {
		msgs, err := pager.Next(ctx)
		if err != nil {
			if errors.Is(err, chzzkapi.ErrAuthRequired) {
				slog.Warn("chat replay requires session cookies, continuing without chat",
					slog.String("video", c.VideoNo))
				return nil, nil
			}
			return nil, fmt.Errorf("chat page at cursor %d: %w", pager.Cursor(), err)
		}
		for _, m := range msgs {
			if m.PlayerTimeMS < startMS {
				continue // page started before the window, keep scanning
			}
			if m.PlayerTimeMS >= endMS {
				return events, nil
			}
			events = append(events, c.toEvent(m))
		}
	}
	return events, nil
}

func (c *Collector) toEvent(m chzzkapi.ChatMessage) Event {
	offset := time.Duration(m.PlayerTimeMS) * time.Millisecond
	return Event{
		Absolute:  c.BroadcastStart.Add(offset),
		Offset:    offset,
		Author:    m.Nickname,
		Message:   m.Content,
		Sponsored: m.TypeCode == chzzkapi.MessageTypeDonation,
	}
}
