// Package chzzkapi contains typed helpers for the CHZZK (chzzk.naver.com) VOD APIs:
// video lookup, DASH playback manifest retrieval, and chat replay pagination.
// Responses are validated at this boundary; malformed payloads surface as ErrUpstream
// rather than propagating ambiguous data inward.
package chzzkapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const (
	videoInfoURL = "https://api.chzzk.naver.com/service/v2/videos/%s"
	playbackURL  = "https://apis.naver.com/neonplayer/vodplay/v2/playback/%s?key=%s"
	chatURL      = "https://api.chzzk.naver.com/service/v1/videos/%s/chats"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	referer   = "https://chzzk.naver.com/"
)

// Error taxonomy for platform calls. Callers classify with errors.Is.
var (
	// ErrNotFound means the video id is invalid, deleted, or expired. Never retried.
	ErrNotFound = errors.New("chzzk: video not found")
	// ErrAuthRequired means the content needs a logged-in Naver session (adult flag)
	// or the supplied cookies were rejected.
	ErrAuthRequired = errors.New("chzzk: authentication required")
	// ErrUpstream wraps transient platform/network failures and malformed payloads.
	ErrUpstream = errors.New("chzzk: upstream error")
)

// Client calls the CHZZK public APIs. The zero value is usable; Cookies is the raw
// session cookie string for age-restricted content (may be empty).
type Client struct {
	HTTPClient *http.Client
	Cookies    string

	// Overridable endpoints for tests.
	VideoInfoBase string
	PlaybackBase  string
	ChatBase      string

	// Retry tuning; zero values fall back to 3 attempts / 1s base backoff.
	MaxAttempts int
	BaseBackoff time.Duration
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) attempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return 3
}

func (c *Client) backoff() time.Duration {
	if c.BaseBackoff > 0 {
		return c.BaseBackoff
	}
	return time.Second
}

// VideoInfo is the validated subset of the video lookup response the pipeline needs.
type VideoInfo struct {
	VideoNo       string
	VideoID       string
	InKey         string
	Title         string
	ChannelName   string
	Duration      time.Duration
	AdultOnly     bool
	BroadcastOpen time.Time // liveOpenDate: wall-clock broadcast start
}

// GetVideoInfo fetches video metadata and playback keys. Transient failures are
// retried with exponential backoff before surfacing as ErrUpstream.
func (c *Client) GetVideoInfo(ctx context.Context, videoNo string) (*VideoInfo, error) {
	if videoNo == "" {
		return nil, fmt.Errorf("%w: empty video number", ErrNotFound)
	}
	base := c.VideoInfoBase
	if base == "" {
		base = videoInfoURL
	}
	url := fmt.Sprintf(base, videoNo)

	var lastErr error
	for attempt := 0; attempt < c.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.backoff(), attempt); err != nil {
				return nil, err
			}
		}
		info, err := c.getVideoInfoOnce(ctx, url, videoNo)
		if err == nil {
			return info, nil
		}
		// Only transient upstream errors are worth another attempt.
		if !errors.Is(err, ErrUpstream) {
			return nil, err
		}
		lastErr = err
		slog.Warn("video info fetch failed", slog.String("video_no", videoNo), slog.Int("attempt", attempt+1), slog.Any("err", err))
	}
	return nil, lastErr
}

func (c *Client) getVideoInfoOnce(ctx context.Context, url, videoNo string) (*VideoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: video %s", ErrNotFound, videoNo)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: video %s", ErrAuthRequired, videoNo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: video info status %d", ErrUpstream, resp.StatusCode)
	}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Content struct {
			VideoID      string `json:"videoId"`
			InKey        string `json:"inKey"`
			VideoTitle   string `json:"videoTitle"`
			Duration     int    `json:"duration"`
			Adult        bool   `json:"adult"`
			LiveOpenDate string `json:"liveOpenDate"`
			Channel      struct {
				ChannelName string `json:"channelName"`
			} `json:"channel"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode video info: %v", ErrUpstream, err)
	}
	switch {
	case body.Code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: adult content, supply session cookies", ErrAuthRequired)
	case body.Code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: video %s", ErrNotFound, videoNo)
	case body.Code != http.StatusOK:
		return nil, fmt.Errorf("%w: api code %d: %s", ErrUpstream, body.Code, body.Message)
	}
	if body.Content.VideoID == "" || body.Content.InKey == "" {
		// The platform omits playback keys instead of erroring for restricted content.
		if body.Content.Adult && c.Cookies == "" {
			return nil, fmt.Errorf("%w: adult content, supply session cookies", ErrAuthRequired)
		}
		return nil, fmt.Errorf("%w: response missing playback keys", ErrAuthRequired)
	}

	info := &VideoInfo{
		VideoNo:     videoNo,
		VideoID:     body.Content.VideoID,
		InKey:       body.Content.InKey,
		Title:       body.Content.VideoTitle,
		ChannelName: body.Content.Channel.ChannelName,
		Duration:    time.Duration(body.Content.Duration) * time.Second,
		AdultOnly:   body.Content.Adult,
	}
	if body.Content.LiveOpenDate != "" {
		// liveOpenDate arrives as KST local time, "2006-01-02 15:04:05".
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", body.Content.LiveOpenDate, kst); err == nil {
			info.BroadcastOpen = t.UTC()
		}
	}
	return info, nil
}

var kst = time.FixedZone("KST", 9*60*60)

// GetPlaybackManifest fetches and parses the DASH manifest for a video,
// returning available representations with their expanded segment lists.
func (c *Client) GetPlaybackManifest(ctx context.Context, info *VideoInfo) ([]Representation, error) {
	base := c.PlaybackBase
	if base == "" {
		base = playbackURL
	}
	url := fmt.Sprintf(base, info.VideoID, info.InKey)

	var lastErr error
	for attempt := 0; attempt < c.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.backoff(), attempt); err != nil {
				return nil, err
			}
		}
		reps, err := c.getManifestOnce(ctx, url)
		if err == nil {
			return reps, nil
		}
		if !errors.Is(err, ErrUpstream) {
			return nil, err
		}
		lastErr = err
		slog.Warn("manifest fetch failed", slog.String("video_id", info.VideoID), slog.Int("attempt", attempt+1), slog.Any("err", err))
	}
	return nil, lastErr
}

func (c *Client) getManifestOnce(ctx context.Context, url string) ([]Representation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/dash+xml, application/xml, text/xml, */*")

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: manifest status %d", ErrAuthRequired, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: manifest status %d", ErrUpstream, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrUpstream, err)
	}
	reps, err := ParseMPD(data, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(reps) == 0 {
		return nil, fmt.Errorf("%w: manifest has no usable representations", ErrUpstream)
	}
	return reps, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Origin", "https://chzzk.naver.com")
	if c.Cookies != "" {
		req.Header.Set("Cookie", CookieHeader(c.Cookies))
	}
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	backoff := base * time.Duration(1<<attempt)
	backoff += time.Duration(rand.Int63n(int64(base))) // jitter up to base
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

func closeBody(rc io.Closer) {
	if err := rc.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
