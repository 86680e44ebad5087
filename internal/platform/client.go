// Package platform – REST client.
//
// Plain net/http against the platform's REST API. Responses are decoded just
// enough to drive the pipeline: channel ids on create, retry-after metadata
// on 429, and the status/code pair everything else classifies on. The client
// performs no retries of its own; retry policy belongs to the scheduler.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Client is the production REST implementation of API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient builds a REST client authenticating with the given bot token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientOption customizes the REST client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API root (tests, proxies).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// CreateChannel creates a voice channel in the guild.
func (c *Client) CreateChannel(ctx context.Context, guildID string, cc ChannelCreate) (Channel, error) {
	var ch Channel
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", guildID), cc, &ch, "")
	return ch, err
}

// DeleteChannel deletes a channel, attaching reason to the platform audit log.
func (c *Client) DeleteChannel(ctx context.Context, channelID, reason string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil, reason)
}

// EditChannel patches a channel's name and/or user limit.
func (c *Client) EditChannel(ctx context.Context, channelID string, e ChannelEdit) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+channelID, e, nil, "")
}

// SetOverwrite creates or replaces a permission overwrite.
func (c *Client) SetOverwrite(ctx context.Context, channelID, targetID string, kind OverwriteKind, allow, deny int64) error {
	body := struct {
		Type  int    `json:"type"`
		Allow string `json:"allow"`
		Deny  string `json:"deny"`
	}{
		Type:  int(kind),
		Allow: strconv.FormatInt(allow, 10),
		Deny:  strconv.FormatInt(deny, 10),
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/permissions/%s", channelID, targetID), body, nil, "")
}

// DeleteOverwrite removes a principal's overwrite.
func (c *Client) DeleteOverwrite(ctx context.Context, channelID, targetID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/permissions/%s", channelID, targetID), nil, nil, "")
}

// MoveMember moves (or, with an empty channelID, disconnects) a member.
func (c *Client) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	body := struct {
		ChannelID *string `json:"channel_id"`
	}{}
	if channelID != "" {
		body.ChannelID = &channelID
	}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), body, nil, "")
}

// rateLimitBody is the platform's 429 response payload.
type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"` // seconds, fractional
	Global     bool    `json:"global"`
}

// errorBody is the platform's generic error payload.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, auditReason string) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", auditReason)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl rateLimitBody
		_ = json.Unmarshal(raw, &rl)
		retryAfter := time.Duration(rl.RetryAfter * float64(time.Second))
		if retryAfter <= 0 {
			// Fall back to the Retry-After header (integral seconds).
			if s := resp.Header.Get("Retry-After"); s != "" {
				if secs, err := strconv.Atoi(s); err == nil {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
		}
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return &APIError{
			Status:     resp.StatusCode,
			Message:    rl.Message,
			RetryAfter: retryAfter,
			Global:     rl.Global || resp.Header.Get("X-RateLimit-Global") == "true",
		}
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Code: eb.Code, Message: msg}
}
