// Package intent – payload union.
//
// Each action kind carries exactly one payload struct. The Payload interface
// is a sealed marker: only types in this file implement it, so executor
// dispatch can type-switch exhaustively instead of shape-checking maps at
// runtime.
package intent

// Payload is the sealed marker interface for per-action payloads.
type Payload interface {
	isPayload()
}

// CreateChannelPayload requests a new managed voice channel for OwnerID.
type CreateChannelPayload struct {
	OwnerID   string
	Name      string
	UserLimit int
	TeamType  string // empty for a personal channel
	ParentID  string // category to create under, optional
}

// DeleteChannelPayload requests removal of a managed channel.
type DeleteChannelPayload struct {
	Reason string
}

// VisibilityPayload covers lock/unlock/hide/unhide. The action kind decides
// which flag flips; the payload only carries attribution.
type VisibilityPayload struct {
	RequestedBy string
}

// RenamePayload sets a new display name on the channel.
type RenamePayload struct {
	Name string
}

// SetLimitPayload sets the channel's member capacity. Zero means unlimited.
type SetLimitPayload struct {
	Limit int
}

// PermissionPayload covers grant/ban/revoke of channel access for a user or
// role principal.
type PermissionPayload struct {
	TargetID  string
	IsRole    bool
	Permanent bool // owner-issued grant that survives channel recreation
}

// MemberPayload covers kick/move/disconnect of a connected member.
// TargetChannelID is only meaningful for moves.
type MemberPayload struct {
	UserID          string
	TargetChannelID string
}

// TransferPayload hands channel ownership from OldOwnerID to NewOwnerID.
type TransferPayload struct {
	NewOwnerID string
	OldOwnerID string
	NewName    string // optional rename applied after the hand-off
}

// LogPayload emits an audit entry without touching the platform.
type LogPayload struct {
	Event   string
	Detail  string
	ActorID string
}

// EnforceStatePayload forces a channel's live platform state to match the
// durable record (lock/hide flags, limit, owner overwrites).
type EnforceStatePayload struct {
	ChannelID string
}

func (CreateChannelPayload) isPayload() {}
func (DeleteChannelPayload) isPayload() {}
func (VisibilityPayload) isPayload()    {}
func (RenamePayload) isPayload()        {}
func (SetLimitPayload) isPayload()      {}
func (PermissionPayload) isPayload()    {}
func (MemberPayload) isPayload()        {}
func (TransferPayload) isPayload()      {}
func (LogPayload) isPayload()           {}
func (EnforceStatePayload) isPayload()  {}
