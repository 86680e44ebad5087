// Command voiced runs the voice-channel management backend: the intent
// pipeline (queue, governor, scheduler, executors), the ownership-transfer
// machine, and the HTTP API that fronts them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pkaralis/go-voice-backend/internal/bridge"
	"github.com/pkaralis/go-voice-backend/internal/config"
	"github.com/pkaralis/go-voice-backend/internal/decision"
	"github.com/pkaralis/go-voice-backend/internal/executors"
	"github.com/pkaralis/go-voice-backend/internal/governor"
	httpapi "github.com/pkaralis/go-voice-backend/internal/http"
	"github.com/pkaralis/go-voice-backend/internal/lock"
	"github.com/pkaralis/go-voice-backend/internal/observability"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/queue"
	"github.com/pkaralis/go-voice-backend/internal/repo"
	"github.com/pkaralis/go-voice-backend/internal/scheduler"
	"github.com/pkaralis/go-voice-backend/internal/state"
	"github.com/pkaralis/go-voice-backend/internal/sysutil"
	"github.com/pkaralis/go-voice-backend/internal/transfer"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "voiced",
	Short: "Voice channel management backend",
	Long: `voiced owns temporary voice channels for chat guilds: creation on
demand, per-channel access control, debounced ownership transfer when the
owner leaves, and a rate-governed execution pipeline that keeps the platform
API happy under load.`,
}

func main() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("voiced", version)
		},
	}
}

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline and HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			} else {
				_ = godotenv.Load()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to a .env file (default: ./.env if present)")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	setupLogging(cfg)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first so DB and HTTP instrumentation hook in.
	if cfg.OTEL.Enabled {
		shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
		if err != nil {
			return fmt.Errorf("otel setup: %w", err)
		}
		defer func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(c)
		}()
	}

	// Durable store.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			logger.Warn().Err(err).Msg("db tracing unavailable")
		}
	}

	// In-memory mirror, hydrated before anything dispatches.
	store := state.New(cfg.RaidExitAfter)
	if err := store.Hydrate(ctx, db); err != nil {
		return fmt.Errorf("hydrate state: %w", err)
	}
	logger.Info().Int("channels", store.ChannelCount()).Msg("state hydrated")

	// Pipeline components.
	gov := governor.New(governor.Config{
		Window:            cfg.Governor.Window,
		MaxCostPerWindow:  cfg.Governor.MaxCostPerWindow,
		WarnThreshold:     cfg.Governor.WarnThreshold,
		CriticalThreshold: cfg.Governor.CriticalThreshold,
		EmergencyDuration: cfg.Governor.EmergencyDuration,
	}, store, logger)
	locks := lock.NewManager()
	q := queue.New(queue.Config{
		Capacity:      cfg.Queue.Capacity,
		GuildCapacity: cfg.Queue.GuildCapacity,
		DedupWindow:   cfg.Queue.DedupWindow,
	}, cfg.Scheduler.Workers, bridge.DropHandler(logger))
	engine := decision.NewEngine(decision.Config{}, store, gov, locks, q)

	var api platform.API
	if cfg.Platform.BotToken == "" {
		return errors.New("BOT_TOKEN must be set")
	}
	var clientOpts []platform.ClientOption
	if cfg.Platform.APIBase != "" {
		clientOpts = append(clientOpts, platform.WithBaseURL(cfg.Platform.APIBase))
	}
	api = platform.NewClient(cfg.Platform.BotToken, clientOpts...)

	registry := executors.NewRegistry(executors.Deps{
		API:            api,
		DB:             db,
		Store:          store,
		Governor:       gov,
		SelfEdits:      executors.NewSelfEditCache(0),
		Log:            logger,
		CreateCooldown: cfg.CreateCooldown,
	})

	// The bridge resolves waiters from scheduler completions; the scheduler
	// is built first with a late-bound hook.
	var br *bridge.Bridge
	sched := scheduler.New(scheduler.Config{
		Tick:        cfg.Scheduler.Tick,
		Workers:     cfg.Scheduler.Workers,
		BatchSize:   cfg.Scheduler.BatchSize,
		BackoffBase: cfg.Scheduler.BackoffBase,
		BackoffCap:  cfg.Scheduler.BackoffCap,
	}, q, engine, store, gov, locks, registry, logger,
		func(c scheduler.Completion) { br.OnComplete(c) })
	br = bridge.New(q, sched, store, gov, engine, logger)

	transfers := transfer.New(transfer.Config{
		Debounce:  cfg.Transfer.Debounce,
		Staleness: cfg.Transfer.Staleness,
	}, store, br, logger)

	go sched.Run(ctx)
	go transfers.Run(ctx)

	// HTTP front.
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, br, db, store, cfg)

	return runServer(ctx, cfg, logger, router)
}

func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func runServer(ctx context.Context, cfg config.Config, logger zerolog.Logger, engine *gin.Engine) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
