// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the access
// records the tiered evaluator consults: per-channel permits/bans, permanent
// grants, strictness whitelist entries, and guild-wide user blocks.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pkaralis/go-voice-backend/internal/domain"
)

// SavePermission inserts or updates a durable permit/ban for a principal on
// a channel. The (channel, principal) pair is unique; saving again flips the
// allow bit in place.
func SavePermission(ctx context.Context, db *gorm.DB, channelID, targetID string, isRole, allow bool, grantedBy string) error {
	now := time.Now().UTC()
	var rec domain.PermissionRecord
	err := db.WithContext(ctx).
		Where("channel_id = ? AND target_id = ?", channelID, targetID).
		First(&rec).Error
	switch {
	case err == nil:
		rec.Allow = allow
		rec.IsRole = isRole
		rec.GrantedBy = grantedBy
		rec.UpdatedAt = now
		return db.WithContext(ctx).Save(&rec).Error
	case err == gorm.ErrRecordNotFound:
		rec = domain.PermissionRecord{
			ID:        uuid.NewString(),
			ChannelID: channelID,
			TargetID:  targetID,
			IsRole:    isRole,
			Allow:     allow,
			GrantedBy: grantedBy,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return db.WithContext(ctx).Create(&rec).Error
	default:
		return err
	}
}

// DeletePermission removes a durable permit/ban for a principal on a channel.
func DeletePermission(ctx context.Context, db *gorm.DB, channelID, targetID string) error {
	return db.WithContext(ctx).
		Where("channel_id = ? AND target_id = ?", channelID, targetID).
		Delete(&domain.PermissionRecord{}).Error
}

// ListPermissions returns all durable permits/bans for a channel.
func ListPermissions(ctx context.Context, db *gorm.DB, channelID string) ([]domain.PermissionRecord, error) {
	var out []domain.PermissionRecord
	err := db.WithContext(ctx).Where("channel_id = ?", channelID).Find(&out).Error
	return out, err
}

// SaveGrant records an owner-issued permanent access grant.
func SaveGrant(ctx context.Context, db *gorm.DB, guildID, ownerID, userID string) error {
	g := domain.PermanentGrant{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		OwnerID:   ownerID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	// The unique index makes repeat grants a no-op.
	return db.WithContext(ctx).
		Where("guild_id = ? AND owner_id = ? AND user_id = ?", guildID, ownerID, userID).
		FirstOrCreate(&g).Error
}

// DeleteGrant revokes a permanent access grant.
func DeleteGrant(ctx context.Context, db *gorm.DB, guildID, ownerID, userID string) error {
	return db.WithContext(ctx).
		Where("guild_id = ? AND owner_id = ? AND user_id = ?", guildID, ownerID, userID).
		Delete(&domain.PermanentGrant{}).Error
}

// ListGrants returns every permanent grant (startup hydration).
func ListGrants(ctx context.Context, db *gorm.DB) ([]domain.PermanentGrant, error) {
	var out []domain.PermanentGrant
	err := db.WithContext(ctx).Find(&out).Error
	return out, err
}

// ListWhitelist returns the strictness whitelist for a guild.
func ListWhitelist(ctx context.Context, db *gorm.DB, guildID string) ([]domain.WhitelistEntry, error) {
	var out []domain.WhitelistEntry
	err := db.WithContext(ctx).Where("guild_id = ?", guildID).Find(&out).Error
	return out, err
}

// SaveBlock records a guild-wide user block, optionally expiring.
func SaveBlock(ctx context.Context, db *gorm.DB, guildID, userID, reason string, expiresAt *time.Time) error {
	b := domain.UserBlock{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		FirstOrCreate(&b).Error
}

// DeleteBlock lifts a guild-wide user block.
func DeleteBlock(ctx context.Context, db *gorm.DB, guildID, userID string) error {
	return db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Delete(&domain.UserBlock{}).Error
}

// ListBlocks returns all live (unexpired) user blocks (startup hydration).
func ListBlocks(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.UserBlock, error) {
	var out []domain.UserBlock
	err := db.WithContext(ctx).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&out).Error
	return out, err
}
