// Guild HTTP handlers.
//
// This file exposes read-mostly endpoints for guild inspection and the
// moderation switches:
//   - GET  /guilds/{id}/channels   (managed channels, paginated)
//   - GET  /guilds/{id}/audit      (audit trail, paginated)
//   - GET  /guilds/{id}            (live guild state)
//   - PUT  /guilds/{id}/pause      (pause or resume the pipeline for a guild)
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/state"
	"github.com/pkaralis/go-voice-backend/internal/utils"
)

// GuildQuery defines the guild inspection operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type GuildQuery interface {
	// ListChannelsPage returns a page of managed channels and the total count.
	ListChannelsPage(ctx context.Context, guildID string, page, pageSize int) ([]domain.ManagedChannel, int64, error)
	// ListAuditPage returns a page of audit entries, newest first.
	ListAuditPage(ctx context.Context, guildID string, page, pageSize int) ([]domain.AuditEntry, error)
	// Guild returns the live in-memory guild state.
	Guild(guildID string) state.Guild
	// SetPaused flips the guild pause switch.
	SetPaused(ctx context.Context, guildID string, paused bool) error
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
}

// ChannelListResponse is the paginated channel list envelope.
type ChannelListResponse struct {
	Data       []domain.ManagedChannel `json:"data"`
	Pagination Pagination              `json:"pagination"`
}

// GuildStateResponse is the live guild snapshot.
type GuildStateResponse struct {
	GuildID        string  `json:"guild_id"`
	Paused         bool    `json:"paused"`
	AdminStrict    bool    `json:"admin_strict"`
	RaidMode       bool    `json:"raid_mode"`
	EventPressure  float64 `json:"event_pressure"`
	PendingIntents int     `json:"pending_intents"`
}

// PauseRequest is the JSON payload for the pause switch.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// pageParams reads page/page_size query parameters with sane bounds.
func pageParams(c *gin.Context) (page, size int) {
	page = utils.AtoiDefault(c.Query("page"), 1)
	size = utils.AtoiDefault(c.Query("page_size"), 20)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

// ListGuildChannels handles GET /guilds/{id}/channels.
func (h *Handlers) ListGuildChannels(c *gin.Context) {
	guildID := c.Param("id")
	page, size := pageParams(c)

	items, total, err := h.gq.ListChannelsPage(c.Request.Context(), guildID, page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list channels")
		return
	}
	ok(c, http.StatusOK, ChannelListResponse{
		Data:       items,
		Pagination: Pagination{Page: page, PageSize: size, TotalItems: total},
	})
}

// ListGuildAudit handles GET /guilds/{id}/audit.
func (h *Handlers) ListGuildAudit(c *gin.Context) {
	guildID := c.Param("id")
	page, size := pageParams(c)

	items, err := h.gq.ListAuditPage(c.Request.Context(), guildID, page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list audit entries")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"data":       items,
		"pagination": Pagination{Page: page, PageSize: size, TotalItems: int64(len(items))},
	})
}

// GetGuildState handles GET /guilds/{id}.
func (h *Handlers) GetGuildState(c *gin.Context) {
	guildID := c.Param("id")
	g := h.gq.Guild(guildID)
	ok(c, http.StatusOK, GuildStateResponse{
		GuildID:        guildID,
		Paused:         g.Paused,
		AdminStrict:    g.AdminStrict,
		RaidMode:       g.RaidMode,
		EventPressure:  g.EventPressure,
		PendingIntents: g.PendingIntents,
	})
}

// PauseGuild handles PUT /guilds/{id}/pause.
func (h *Handlers) PauseGuild(c *gin.Context) {
	guildID := c.Param("id")
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if err := h.gq.SetPaused(c.Request.Context(), guildID, req.Paused); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not update guild")
		return
	}
	noContent(c)
}
