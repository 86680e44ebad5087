// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for guild-level
// settings and audit entries.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pkaralis/go-voice-backend/internal/domain"
)

// GetGuildSettings fetches settings for a guild, returning defaults (not
// ErrNotFound) when the guild has never been configured.
func GetGuildSettings(ctx context.Context, db *gorm.DB, guildID string) (*domain.GuildSettings, error) {
	var gs domain.GuildSettings
	err := db.WithContext(ctx).First(&gs, "guild_id = ?", guildID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.GuildSettings{GuildID: guildID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

// SaveGuildSettings inserts or updates a guild's settings row.
func SaveGuildSettings(ctx context.Context, db *gorm.DB, gs *domain.GuildSettings) error {
	gs.UpdatedAt = time.Now().UTC()
	if gs.CreatedAt.IsZero() {
		gs.CreatedAt = gs.UpdatedAt
	}
	return db.WithContext(ctx).Save(gs).Error
}

// ListGuildSettings returns every configured guild (startup hydration).
func ListGuildSettings(ctx context.Context, db *gorm.DB) ([]domain.GuildSettings, error) {
	var out []domain.GuildSettings
	err := db.WithContext(ctx).Find(&out).Error
	return out, err
}

// AppendAudit records a completed pipeline action.
func AppendAudit(ctx context.Context, db *gorm.DB, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListAuditPage returns a page of audit entries for a guild, newest first.
func ListAuditPage(ctx context.Context, db *gorm.DB, guildID string, offset, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}
