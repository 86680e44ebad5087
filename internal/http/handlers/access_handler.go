// Access HTTP handlers.
//
// This file exposes the join-gate evaluation:
//   - POST /channels/{id}/access   (may this user join this channel?)
//
// Gateway consumers call this on every voice-state update; the response is a
// pure decision with the winning rule, so callers can both enforce and
// explain it.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pkaralis/go-voice-backend/internal/access"
)

// AccessEvaluator answers channel join questions. Implemented by
// access.Evaluator.
type AccessEvaluator interface {
	Evaluate(ctx context.Context, req access.Request) access.Result
}

// AccessCheckRequest is the JSON payload for an access evaluation.
type AccessCheckRequest struct {
	GuildID     string   `json:"guild_id" binding:"required"`
	UserID      string   `json:"user_id" binding:"required"`
	RoleIDs     []string `json:"role_ids"`
	IsBot       bool     `json:"is_bot"`
	MemberCount int      `json:"member_count"`
}

// AccessCheckResponse reports the decision and the rule that made it.
type AccessCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Tier    int    `json:"tier"`
	Message string `json:"message,omitempty"`
}

// CheckAccess handles POST /channels/{id}/access.
func (h *Handlers) CheckAccess(c *gin.Context) {
	if h.access == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "access evaluation unavailable")
		return
	}
	var req AccessCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	res := h.access.Evaluate(c.Request.Context(), access.Request{
		GuildID:     req.GuildID,
		ChannelID:   c.Param("id"),
		UserID:      req.UserID,
		RoleIDs:     req.RoleIDs,
		IsBot:       req.IsBot,
		MemberCount: req.MemberCount,
	})
	ok(c, http.StatusOK, AccessCheckResponse{
		Allowed: res.Allowed(),
		Reason:  string(res.Reason),
		Tier:    res.Tier,
		Message: res.Message,
	})
}
