// Package platform talks to the chat platform's REST API, the external,
// rate-limited, eventually-consistent resource this whole pipeline exists to
// mediate. The API interface is the narrow surface executors consume; the
// REST client (client.go) is the production implementation, and tests use an
// in-memory fake.
//
// Error contract: every failed call returns an *APIError whose status code
// distinguishes rate-limit (429, with machine-readable retry-after and a
// global-vs-route flag), not-found (404), forbidden (403), and server errors
// (5xx). The executor retry classifier depends on this distinction.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Channel is the platform's view of a voice channel.
type Channel struct {
	ID        string `json:"id"`
	GuildID   string `json:"guild_id"`
	Name      string `json:"name"`
	ParentID  string `json:"parent_id,omitempty"`
	UserLimit int    `json:"user_limit"`
}

// ChannelCreate is the request body for creating a voice channel.
type ChannelCreate struct {
	Name      string `json:"name"`
	Type      int    `json:"type"` // 2 = voice
	ParentID  string `json:"parent_id,omitempty"`
	UserLimit int    `json:"user_limit,omitempty"`
}

// ChannelEdit carries the mutable channel fields; nil means unchanged.
type ChannelEdit struct {
	Name      *string `json:"name,omitempty"`
	UserLimit *int    `json:"user_limit,omitempty"`
}

// OverwriteKind identifies the principal type of a permission overwrite.
type OverwriteKind int

const (
	OverwriteRole   OverwriteKind = 0
	OverwriteMember OverwriteKind = 1
)

// Permission bits used by the pipeline.
const (
	PermViewChannel   int64 = 1 << 10
	PermConnect       int64 = 1 << 20
	PermMoveMembers   int64 = 1 << 24
	PermManageChannel int64 = 1 << 4
)

// API is the platform surface the executors consume.
type API interface {
	CreateChannel(ctx context.Context, guildID string, c ChannelCreate) (Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	EditChannel(ctx context.Context, channelID string, e ChannelEdit) error
	// SetOverwrite creates or replaces the permission overwrite for a
	// principal on a channel.
	SetOverwrite(ctx context.Context, channelID, targetID string, kind OverwriteKind, allow, deny int64) error
	// DeleteOverwrite removes a principal's overwrite entirely.
	DeleteOverwrite(ctx context.Context, channelID, targetID string) error
	// MoveMember moves a connected member to channelID; an empty channelID
	// disconnects them.
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
}

// APIError is the structured failure every platform call returns.
type APIError struct {
	Status     int           // HTTP status code
	Code       int           // platform-specific error code, 0 if absent
	Message    string        // platform-provided message
	RetryAfter time.Duration // populated for 429 responses
	Global     bool          // 429 applies platform-wide, not just this route
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform: status=%d code=%d: %s", e.Status, e.Code, e.Message)
}

// IsRateLimited reports whether err is a 429 rate-limit response.
func IsRateLimited(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests {
		return ae, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// IsForbidden reports whether err is a 403 from the platform.
func IsForbidden(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusForbidden
}

// IsServerError reports whether err is a 5xx from the platform.
func IsServerError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status >= 500
}
