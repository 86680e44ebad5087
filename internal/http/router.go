// Package httpapi wires the HTTP transport (Gin) to the intent pipeline,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/pkaralis/go-voice-backend/internal/access"
	"github.com/pkaralis/go-voice-backend/internal/bridge"
	"github.com/pkaralis/go-voice-backend/internal/config"
	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/http/handlers"
	"github.com/pkaralis/go-voice-backend/internal/http/middleware"
	"github.com/pkaralis/go-voice-backend/internal/repo"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// durableLookupShim adapts the repository free functions to the
// access.DurableLookups interface.
type durableLookupShim struct {
	db *gorm.DB
}

// ChannelPermissions proxies repo.ListPermissions.
func (s durableLookupShim) ChannelPermissions(ctx context.Context, channelID string) ([]domain.PermissionRecord, error) {
	return repo.ListPermissions(ctx, s.db, channelID)
}

// GuildWhitelist proxies repo.ListWhitelist.
func (s durableLookupShim) GuildWhitelist(ctx context.Context, guildID string) ([]domain.WhitelistEntry, error) {
	return repo.ListWhitelist(ctx, s.db, guildID)
}

// guildQueryShim adapts the repository free functions and the state store to
// the handlers.GuildQuery interface. This keeps handlers decoupled from the
// concrete repo package while reusing existing functions.
type guildQueryShim struct {
	db    *gorm.DB
	store *state.Store
}

// ListChannelsPage proxies repo.ListChannelsPage plus repo.CountChannels.
func (s guildQueryShim) ListChannelsPage(ctx context.Context, guildID string, page, pageSize int) ([]domain.ManagedChannel, int64, error) {
	total, err := repo.CountChannels(ctx, s.db, guildID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListChannelsPage(ctx, s.db, guildID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAuditPage proxies repo.ListAuditPage.
func (s guildQueryShim) ListAuditPage(ctx context.Context, guildID string, page, pageSize int) ([]domain.AuditEntry, error) {
	return repo.ListAuditPage(ctx, s.db, guildID, (page-1)*pageSize, pageSize)
}

// Guild proxies the live state store.
func (s guildQueryShim) Guild(guildID string) state.Guild {
	return s.store.Guild(guildID)
}

// SetPaused flips the switch in memory and persists it.
func (s guildQueryShim) SetPaused(ctx context.Context, guildID string, paused bool) error {
	gs, err := repo.GetGuildSettings(ctx, s.db, guildID)
	if err != nil {
		return err
	}
	gs.Paused = paused
	if err := repo.SaveGuildSettings(ctx, s.db, gs); err != nil {
		return err
	}
	s.store.SetGuildPaused(guildID, paused)
	return nil
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, and then mounts
// the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, br *bridge.Bridge, db *gorm.DB, store *state.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	evaluator := access.NewEvaluator(store, durableLookupShim{db: db})
	h := handlers.New(br, guildQueryShim{db: db, store: store}, evaluator)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Intents
		api.POST("/intents", h.SubmitIntent)
		api.POST("/intents/sync", h.SubmitIntentSync)
		api.GET("/intents/:id", h.GetIntent)
		api.DELETE("/intents/:id", h.CancelIntent)

		// Monitoring
		api.GET("/stats", h.GetStats)

		// Access checks
		api.POST("/channels/:id/access", h.CheckAccess)

		// Guilds
		api.GET("/guilds/:id", h.GetGuildState)
		api.GET("/guilds/:id/channels", h.ListGuildChannels)
		api.GET("/guilds/:id/audit", h.ListGuildAudit)
		api.PUT("/guilds/:id/pause", h.PauseGuild)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
