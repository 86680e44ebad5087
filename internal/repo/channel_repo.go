// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ManagedChannel model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a channel is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pkaralis/go-voice-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the pipeline and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertChannel inserts or replaces the durable row for a managed channel.
// Called by the create executor after the platform mutation succeeded.
func UpsertChannel(ctx context.Context, db *gorm.DB, ch *domain.ManagedChannel) error {
	ch.UpdatedAt = time.Now().UTC()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = ch.UpdatedAt
	}
	return db.WithContext(ctx).Save(ch).Error
}

// GetChannel fetches a managed channel by its platform id.
func GetChannel(ctx context.Context, db *gorm.DB, id string) (*domain.ManagedChannel, error) {
	var ch domain.ManagedChannel
	if err := db.WithContext(ctx).First(&ch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChannelByOwner fetches the channel owned by ownerID in the guild, if any.
func GetChannelByOwner(ctx context.Context, db *gorm.DB, guildID, ownerID string) (*domain.ManagedChannel, error) {
	var ch domain.ManagedChannel
	err := db.WithContext(ctx).First(&ch, "guild_id = ? AND owner_id = ?", guildID, ownerID).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns every live managed channel (used for startup
// hydration of the state store).
func ListChannels(ctx context.Context, db *gorm.DB) ([]domain.ManagedChannel, error) {
	var out []domain.ManagedChannel
	err := db.WithContext(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

// CountChannels returns the total number of managed channels in a guild.
func CountChannels(ctx context.Context, db *gorm.DB, guildID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ManagedChannel{}).
		Where("guild_id = ?", guildID).Count(&n).Error
	return n, err
}

// ListChannelsPage returns a page of managed channels for a guild, newest
// first (admin listing endpoint).
func ListChannelsPage(ctx context.Context, db *gorm.DB, guildID string, offset, limit int) ([]domain.ManagedChannel, error) {
	var out []domain.ManagedChannel
	err := db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateChannelFlags persists lock/hide flags and the user limit.
func UpdateChannelFlags(ctx context.Context, db *gorm.DB, id string, locked, hidden bool, limit int) error {
	res := db.WithContext(ctx).Model(&domain.ManagedChannel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_locked":  locked,
			"is_hidden":  hidden,
			"user_limit": limit,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChannelName persists a rename.
func UpdateChannelName(ctx context.Context, db *gorm.DB, id, name string) error {
	res := db.WithContext(ctx).Model(&domain.ManagedChannel{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChannelOwner persists an ownership hand-off.
func UpdateChannelOwner(ctx context.Context, db *gorm.DB, id, newOwnerID string) error {
	res := db.WithContext(ctx).Model(&domain.ManagedChannel{}).
		Where("id = ?", id).
		Updates(map[string]any{"owner_id": newOwnerID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChannel soft-deletes the durable row for a managed channel.
func DeleteChannel(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Delete(&domain.ManagedChannel{}, "id = ?", id).Error
}
