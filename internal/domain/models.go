// Package domain defines the persistence models for managed voice channels,
// guild settings, and access records. These types are mapped with GORM and
// form the durable source of truth the in-memory state store is hydrated
// from after a restart.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// ManagedChannel is a voice channel the pipeline owns on behalf of a user.
//
// The unique index on (guild_id, owner_id) is the durable half of the
// one-channel-per-owner invariant; the in-memory owner index enforces the
// same rule on the hot path.
type ManagedChannel struct {
	ID            string         `json:"id"             gorm:"type:varchar(32);primaryKey"`
	GuildID       string         `json:"guild_id"       gorm:"type:varchar(32);not null;index;uniqueIndex:ux_guild_owner"`
	OwnerID       string         `json:"owner_id"       gorm:"type:varchar(32);not null;uniqueIndex:ux_guild_owner"`
	Name          string         `json:"name"           gorm:"type:varchar(100);not null"`
	IsLocked      bool           `json:"is_locked"      gorm:"not null;default:false"`
	IsHidden      bool           `json:"is_hidden"      gorm:"not null;default:false"`
	UserLimit     int            `json:"user_limit"     gorm:"not null;default:0"`
	IsTeamChannel bool           `json:"is_team_channel" gorm:"not null;default:false"`
	TeamType      string         `json:"team_type,omitempty" gorm:"type:varchar(32)"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for ManagedChannel.
func (ManagedChannel) TableName() string { return "managed_channels" }

// GuildSettings holds per-guild pipeline configuration.
//
// AdminStrict restricts bypassing of locked/hidden channels to the explicit
// whitelist instead of any platform-admin role. Paused suspends all
// channel-mutating intents for the guild.
type GuildSettings struct {
	GuildID     string    `json:"guild_id"     gorm:"type:varchar(32);primaryKey"`
	Paused      bool      `json:"paused"       gorm:"not null;default:false"`
	AdminStrict bool      `json:"admin_strict" gorm:"not null;default:false"`
	CategoryID  string    `json:"category_id"  gorm:"type:varchar(32)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for GuildSettings.
func (GuildSettings) TableName() string { return "guild_settings" }

// PermissionRecord is a durable per-channel permit or ban for a user or role
// principal. Bans outrank every later access tier including the whitelist.
type PermissionRecord struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ChannelID string         `json:"channel_id" gorm:"type:varchar(32);not null;index;uniqueIndex:ux_channel_principal"`
	TargetID  string         `json:"target_id"  gorm:"type:varchar(32);not null;uniqueIndex:ux_channel_principal"`
	IsRole    bool           `json:"is_role"    gorm:"not null;default:false"`
	Allow     bool           `json:"allow"      gorm:"not null"`
	GrantedBy string         `json:"granted_by" gorm:"type:varchar(32);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for PermissionRecord.
func (PermissionRecord) TableName() string { return "permission_records" }

// PermanentGrant is an owner-issued allow-list entry for a specific user on
// all of that owner's future channels in the guild.
type PermanentGrant struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	GuildID   string    `json:"guild_id"  gorm:"type:varchar(32);not null;uniqueIndex:ux_grant"`
	OwnerID   string    `json:"owner_id"  gorm:"type:varchar(32);not null;uniqueIndex:ux_grant"`
	UserID    string    `json:"user_id"   gorm:"type:varchar(32);not null;uniqueIndex:ux_grant"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PermanentGrant.
func (PermanentGrant) TableName() string { return "permanent_grants" }

// WhitelistEntry marks a user or role allowed through admin strictness.
type WhitelistEntry struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	GuildID   string    `json:"guild_id"  gorm:"type:varchar(32);not null;uniqueIndex:ux_whitelist"`
	TargetID  string    `json:"target_id" gorm:"type:varchar(32);not null;uniqueIndex:ux_whitelist"`
	IsRole    bool      `json:"is_role"   gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for WhitelistEntry.
func (WhitelistEntry) TableName() string { return "whitelist_entries" }

// UserBlock is a guild-wide block: a blocked user's intents are rejected at
// admission and their channel access is denied.
type UserBlock struct {
	ID        string     `json:"id"        gorm:"type:char(36);primaryKey"`
	GuildID   string     `json:"guild_id"  gorm:"type:varchar(32);not null;uniqueIndex:ux_block"`
	UserID    string     `json:"user_id"   gorm:"type:varchar(32);not null;uniqueIndex:ux_block"`
	Reason    string     `json:"reason"    gorm:"type:varchar(255)"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name for UserBlock.
func (UserBlock) TableName() string { return "user_blocks" }

// AuditEntry records a completed pipeline action for operators.
type AuditEntry struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	GuildID   string    `json:"guild_id"   gorm:"type:varchar(32);not null;index"`
	ChannelID string    `json:"channel_id" gorm:"type:varchar(32);index"`
	ActorID   string    `json:"actor_id"   gorm:"type:varchar(32)"`
	Event     string    `json:"event"      gorm:"type:varchar(64);not null"`
	Detail    string    `json:"detail"     gorm:"type:text"`
	TraceID   string    `json:"trace_id"   gorm:"type:char(36);index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for AuditEntry.
func (AuditEntry) TableName() string { return "audit_entries" }
