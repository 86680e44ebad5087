// Intent HTTP handlers.
//
// This file exposes REST endpoints for the intent pipeline:
//   - POST   /intents            (submit, asynchronous)
//   - POST   /intents/sync       (submit and wait for the outcome)
//   - GET    /intents/{id}       (status lookup)
//   - DELETE /intents/{id}       (cancel before dispatch)
//   - GET    /stats              (pipeline monitoring snapshot)
//
// Handlers are transport-thin: they validate input, build a typed intent,
// hand it to the bridge, and translate the receipt or outcome into HTTP
// responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkaralis/go-voice-backend/internal/bridge"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/queue"
	"github.com/pkaralis/go-voice-backend/internal/utils"
)

//
// Service contracts
//

// Pipeline defines the intent admission operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Pipeline interface {
	// Submit admits an intent and returns a receipt immediately.
	Submit(in *intent.Intent) (bridge.Receipt, error)
	// SubmitAndWait admits an intent and blocks until it finishes or the
	// timeout elapses.
	SubmitAndWait(ctx context.Context, in *intent.Intent, timeout time.Duration) (bridge.Outcome, error)
	// Status reports where a submitted intent currently is.
	Status(id string) (bridge.Outcome, bool)
	// Cancel aborts an intent that has not started executing.
	Cancel(id string) bool
	// Stats returns the monitoring snapshot.
	Stats() bridge.Stats
}

// maxSyncWait caps how long a synchronous submission may hold the connection.
const maxSyncWait = 30 * time.Second

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for intents, guild inspection, and
// access checks.
type Handlers struct {
	pipe   Pipeline
	gq     GuildQuery
	access AccessEvaluator
}

// New constructs a Handlers instance bound to the given pipeline and query
// services. access may be nil when the join gate is served elsewhere.
func New(pipe Pipeline, gq GuildQuery, access AccessEvaluator) *Handlers {
	return &Handlers{pipe: pipe, gq: gq, access: access}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it).
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

//
// DTOs
//

// SubmitIntentRequest is the JSON payload for submitting an intent.
type SubmitIntentRequest struct {
	// Action names the mutation, e.g. "create_channel" or "lock_channel".
	Action string `json:"action" binding:"required"`
	// GuildID scopes the intent to a guild.
	GuildID string `json:"guild_id" binding:"required"`
	// ChannelID targets an existing managed channel (required for every
	// action except create_channel, log and enforce_state).
	ChannelID string `json:"channel_id"`
	// Priority optionally overrides the action default
	// (immediate|critical|high|normal|low|droppable).
	Priority string `json:"priority"`
	// TTLSeconds optionally overrides the action's default time-to-live.
	TTLSeconds int `json:"ttl_seconds"`
	// Payload carries action-specific fields.
	Payload SubmitPayload `json:"payload"`
}

// SubmitPayload is the union of the action-specific fields accepted over
// HTTP. Only the fields relevant to the requested action are read.
type SubmitPayload struct {
	Name            string `json:"name"`
	UserLimit       int    `json:"user_limit"`
	TeamType        string `json:"team_type"`
	ParentID        string `json:"parent_id"`
	OwnerID         string `json:"owner_id"`
	TargetID        string `json:"target_id"`
	IsRole          bool   `json:"is_role"`
	Permanent       bool   `json:"permanent"`
	TargetChannelID string `json:"target_channel_id"`
	NewOwnerID      string `json:"new_owner_id"`
	Reason          string `json:"reason"`
	Event           string `json:"event"`
	Detail          string `json:"detail"`
}

// SubmitIntentResponse mirrors the bridge receipt.
type SubmitIntentResponse struct {
	IntentID string `json:"intent_id"`
	Queued   bool   `json:"queued"`
	Reason   string `json:"reason,omitempty"`
	ETA      string `json:"eta,omitempty"`
}

// OutcomeResponse mirrors a terminal or in-flight intent state.
type OutcomeResponse struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

//
// Endpoints
//

// SubmitIntent handles POST /intents.
//
// It validates the request, builds the typed intent, and returns 202 with a
// receipt when queued or 409/429 with the drop reason when refused.
func (h *Handlers) SubmitIntent(c *gin.Context) {
	in, valid := h.bindIntent(c)
	if !valid {
		return
	}

	rcpt, err := h.pipe.Submit(in)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "could not submit intent")
		return
	}
	writeReceipt(c, rcpt)
}

// SubmitIntentSync handles POST /intents/sync.
//
// Like SubmitIntent but holds the connection until the intent finishes. The
// wait_seconds query parameter (default 10, max 30) bounds the wait.
func (h *Handlers) SubmitIntentSync(c *gin.Context) {
	in, valid := h.bindIntent(c)
	if !valid {
		return
	}

	wait := time.Duration(utils.AtoiDefault(c.Query("wait_seconds"), 10)) * time.Second
	if wait <= 0 || wait > maxSyncWait {
		wait = maxSyncWait
	}

	out, err := h.pipe.SubmitAndWait(c.Request.Context(), in, wait)
	switch {
	case errors.Is(err, bridge.ErrWaitTimeout):
		// Accepted and still running; the client can poll GET /intents/{id}.
		ok(c, http.StatusAccepted, OutcomeResponse{
			IntentID: in.ID,
			Status:   intent.StatusExecuting.String(),
			Reason:   ErrCodeWaitTimeout,
		})
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "could not submit intent")
	case out.Status == intent.StatusDropped && out.Reason != "":
		writeDrop(c, out.IntentID, out.Reason)
	default:
		ok(c, http.StatusOK, OutcomeResponse{
			IntentID: out.IntentID,
			Status:   out.Status.String(),
			Reason:   out.Reason,
			Message:  out.Message,
		})
	}
}

// GetIntent handles GET /intents/{id}.
func (h *Handlers) GetIntent(c *gin.Context) {
	id := c.Param("id")
	out, found := h.pipe.Status(id)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "intent not found")
		return
	}
	ok(c, http.StatusOK, OutcomeResponse{
		IntentID: id,
		Status:   out.Status.String(),
		Reason:   out.Reason,
		Message:  out.Message,
	})
}

// CancelIntent handles DELETE /intents/{id}.
func (h *Handlers) CancelIntent(c *gin.Context) {
	id := c.Param("id")
	if !h.pipe.Cancel(id) {
		fail(c, http.StatusConflict, ErrCodeConflict, "intent already executing or unknown")
		return
	}
	noContent(c)
}

// GetStats handles GET /stats.
func (h *Handlers) GetStats(c *gin.Context) {
	ok(c, http.StatusOK, h.pipe.Stats())
}

//
// Helpers
//

// bindIntent validates the request body and assembles the typed intent. On
// failure it writes the error response and returns ok=false.
func (h *Handlers) bindIntent(c *gin.Context) (*intent.Intent, bool) {
	var req SubmitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return nil, false
	}

	action, known := intent.ParseAction(req.Action)
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown action: "+req.Action)
		return nil, false
	}
	if action.RequiresExistingChannel() && strings.TrimSpace(req.ChannelID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel_id is required for "+req.Action)
		return nil, false
	}

	uid := userID(c)
	payload, err := buildPayload(action, uid, req)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return nil, false
	}

	resType := intent.ResourceChannel
	resID := req.ChannelID
	switch action {
	case intent.ActionCreateChannel:
		resType = intent.ResourceOwner
		resID = uid
	case intent.ActionLog, intent.ActionEnforceState:
		resType = intent.ResourceGuild
		resID = req.GuildID
		if action == intent.ActionEnforceState && req.ChannelID != "" {
			resType = intent.ResourceChannel
			resID = req.ChannelID
		}
	}

	var opts []intent.Option
	if req.Priority != "" {
		opts = append(opts, intent.WithPriority(intent.ParsePriority(req.Priority)))
	}
	if req.TTLSeconds > 0 {
		opts = append(opts, intent.WithTTL(time.Duration(req.TTLSeconds)*time.Second))
	}

	src := intent.Source{Kind: intent.SourceUser, UserID: uid}
	return intent.New(action, req.GuildID, resType, resID, payload, src, opts...), true
}

// buildPayload maps the flat HTTP payload onto the typed payload for the
// action, enforcing per-action required fields.
func buildPayload(action intent.Action, uid string, req SubmitIntentRequest) (intent.Payload, error) {
	p := req.Payload
	switch action {
	case intent.ActionCreateChannel:
		owner := p.OwnerID
		if owner == "" {
			owner = uid
		}
		if owner == "" {
			return nil, errors.New("owner_id is required for create_channel")
		}
		return intent.CreateChannelPayload{
			OwnerID:   owner,
			Name:      p.Name,
			UserLimit: p.UserLimit,
			TeamType:  p.TeamType,
			ParentID:  p.ParentID,
		}, nil
	case intent.ActionDeleteChannel:
		return intent.DeleteChannelPayload{Reason: p.Reason}, nil
	case intent.ActionLockChannel, intent.ActionUnlockChannel,
		intent.ActionHideChannel, intent.ActionUnhideChannel:
		return intent.VisibilityPayload{RequestedBy: uid}, nil
	case intent.ActionRenameChannel:
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("name is required for rename_channel")
		}
		return intent.RenamePayload{Name: p.Name}, nil
	case intent.ActionSetLimit:
		return intent.SetLimitPayload{Limit: p.UserLimit}, nil
	case intent.ActionGrantPermission, intent.ActionRevokePermission, intent.ActionBanUser:
		if p.TargetID == "" {
			return nil, errors.New("target_id is required")
		}
		return intent.PermissionPayload{
			TargetID:  p.TargetID,
			IsRole:    p.IsRole,
			Permanent: p.Permanent,
		}, nil
	case intent.ActionKickUser, intent.ActionMoveUser, intent.ActionDisconnectUser:
		if p.TargetID == "" {
			return nil, errors.New("target_id is required")
		}
		return intent.MemberPayload{
			UserID:          p.TargetID,
			TargetChannelID: p.TargetChannelID,
		}, nil
	case intent.ActionTransferOwnership:
		if p.NewOwnerID == "" {
			return nil, errors.New("new_owner_id is required for transfer_ownership")
		}
		return intent.TransferPayload{NewOwnerID: p.NewOwnerID, NewName: p.Name}, nil
	case intent.ActionClaimOwnership:
		owner := p.NewOwnerID
		if owner == "" {
			owner = uid
		}
		if owner == "" {
			return nil, errors.New("new_owner_id is required for claim_ownership")
		}
		return intent.TransferPayload{NewOwnerID: owner}, nil
	case intent.ActionLog:
		if p.Event == "" {
			return nil, errors.New("event is required for log")
		}
		return intent.LogPayload{Event: p.Event, Detail: p.Detail, ActorID: uid}, nil
	case intent.ActionEnforceState:
		return intent.EnforceStatePayload{ChannelID: req.ChannelID}, nil
	default:
		return nil, errors.New("unsupported action: " + action.String())
	}
}

// writeReceipt maps a bridge receipt to the proper HTTP response.
func writeReceipt(c *gin.Context, rcpt bridge.Receipt) {
	if !rcpt.Queued {
		writeDrop(c, rcpt.IntentID, rcpt.Reason)
		return
	}
	ok(c, http.StatusAccepted, SubmitIntentResponse{
		IntentID: rcpt.IntentID,
		Queued:   true,
		ETA:      rcpt.ETAText,
	})
}

// writeDrop translates a queue drop reason into status + error code.
func writeDrop(c *gin.Context, id, reason string) {
	switch reason {
	case string(queue.DropDuplicate):
		fail(c, http.StatusConflict, ErrCodeDuplicate, "an identical request is already pending")
	case string(queue.DropQueueFull), string(queue.DropGuildCapacity):
		fail(c, http.StatusTooManyRequests, ErrCodeQueueFull, "intent queue at capacity, try again shortly")
	default:
		fail(c, http.StatusServiceUnavailable, ErrCodeSubmitFailed, "intent was not accepted: "+reason)
	}
}
