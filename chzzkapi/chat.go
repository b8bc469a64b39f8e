package chzzkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Donation/paid messages carry this type code in the replay payload.
const MessageTypeDonation = 10

// ChatMessage is one raw chat replay entry. PlayerTimeMS is the player-relative
// timestamp in milliseconds; the profile blob is pre-parsed into Nickname.
type ChatMessage struct {
	PlayerTimeMS int64
	Nickname     string
	Content      string
	TypeCode     int
}

// ChatPage is one page of the chronological chat replay plus the cursor for the
// next page. NextCursor < 0 means the replay is exhausted.
type ChatPage struct {
	Messages   []ChatMessage
	NextCursor int64
}

// GetChatPage fetches one page of the chat replay starting at cursorMS
// (player-relative milliseconds). pageSize is the previousVideoChatSize hint.
func (c *Client) GetChatPage(ctx context.Context, videoNo string, cursorMS int64, pageSize int) (*ChatPage, error) {
	base := c.ChatBase
	if base == "" {
		base = chatURL
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	endpoint := fmt.Sprintf(base, videoNo)
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	q := u.Query()
	q.Set("playerMessageTime", strconv.FormatInt(cursorMS, 10))
	q.Set("previousVideoChatSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	c.setHeaders(req)
	req.Header.Set("Referer", referer+"video/"+videoNo)

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: chat replay status %d", ErrAuthRequired, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: chat replay for video %s", ErrNotFound, videoNo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: chat replay status %d", ErrUpstream, resp.StatusCode)
	}

	var body struct {
		Code    int `json:"code"`
		Content struct {
			PreviousVideoChats []rawChat `json:"previousVideoChats"`
			VideoChats         []rawChat `json:"videoChats"`
			NextPlayerTime     *int64    `json:"nextPlayerMessageTime"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode chat page: %v", ErrUpstream, err)
	}
	if body.Code == http.StatusForbidden {
		return nil, fmt.Errorf("%w: chat replay requires session", ErrAuthRequired)
	}
	if body.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: chat api code %d", ErrUpstream, body.Code)
	}

	page := &ChatPage{NextCursor: -1}
	if body.Content.NextPlayerTime != nil {
		page.NextCursor = *body.Content.NextPlayerTime
	}
	for _, raw := range append(body.Content.PreviousVideoChats, body.Content.VideoChats...) {
		page.Messages = append(page.Messages, raw.normalize())
	}
	return page, nil
}

// rawChat mirrors the wire shape: profile is a JSON string inside JSON.
type rawChat struct {
	PlayerMessageTime int64  `json:"playerMessageTime"`
	Content           string `json:"content"`
	MessageTypeCode   int    `json:"messageTypeCode"`
	Profile           string `json:"profile"`
}

func (r rawChat) normalize() ChatMessage {
	nickname := "Unknown"
	if r.Profile != "" {
		var profile struct {
			Nickname string `json:"nickname"`
		}
		if err := json.Unmarshal([]byte(r.Profile), &profile); err == nil && profile.Nickname != "" {
			nickname = profile.Nickname
		}
	}
	return ChatMessage{
		PlayerTimeMS: r.PlayerMessageTime,
		Nickname:     nickname,
		Content:      r.Content,
		TypeCode:     r.MessageTypeCode,
	}
}
