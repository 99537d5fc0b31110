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

	"github.com/joho/godotenv"
	"github.com/nidhogg/sigil-registry/internal/api"
	"github.com/nidhogg/sigil-registry/internal/clock"
	"github.com/nidhogg/sigil-registry/internal/config"
	"github.com/nidhogg/sigil-registry/internal/events"
	"github.com/nidhogg/sigil-registry/internal/graph"
	"github.com/nidhogg/sigil-registry/internal/notify"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"github.com/nidhogg/sigil-registry/internal/registry"
	pgstore "github.com/nidhogg/sigil-registry/internal/store"
	"github.com/nidhogg/sigil-registry/internal/sweep"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/sigil.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting Sigil registry...", zap.String("config", cfgPath))

	ctx := context.Background()

	// Initialize PostgreSQL store
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			if cfg.Registry.Rail == "postgres" {
				logger.Fatal("PostgreSQL is required by the postgres rail", zap.Error(pgErr))
			}
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Server.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Payment rail
	var rail payment.Rail
	var memRail *payment.MemoryRail
	switch cfg.Registry.Rail {
	case "postgres":
		rail = pgStore
	default:
		logger.Warn("using in-memory payment rail; balances are lost on restart")
		memRail = payment.NewMemoryRail(logger)
		rail = memRail
	}

	// Event sinks: Redis stream log, Neo4j projection, operator alerts
	var sinks registry.Sinks

	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(ctx, cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event log", zap.Error(busErr))
		} else {
			bus = b
			sinks = append(sinks, bus)
		}
	}

	var graphStore *graph.Store
	if cfg.Database.Neo4j.URI != "" {
		gs, gErr := graph.NewStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr == nil {
			gErr = gs.EnsureSchema(ctx)
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without attestation graph", zap.Error(gErr))
		} else {
			graphStore = gs
			sinks = append(sinks, gs)
		}
	}

	hub := notify.NewHub(logger)
	if cfg.Notify.Slack.Enabled {
		hub.Register(notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.ChannelID, logger))
	}
	if cfg.Notify.Discord.Enabled {
		hub.Register(notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger))
	}
	if err := hub.ConnectAll(ctx); err != nil {
		logger.Warn("some notifiers failed to connect", zap.Error(err))
	}
	broadcaster := notify.NewBroadcaster(hub, logger)
	sinks = append(sinks, broadcaster)

	// Ledger: restore persisted state or bootstrap a fresh registry
	opts := registry.Options{
		Clock:    clock.System{},
		Rail:     rail,
		Accounts: payment.Accounts{Treasury: cfg.Registry.Treasury, RewardFund: cfg.Registry.RewardFund},
		Sink:     sinks,
		Logger:   logger,
	}
	ledger, err := openLedger(ctx, pgStore, registry.Identity(cfg.Registry.Admin), opts, logger)
	if err != nil {
		logger.Fatal("failed to open registry", zap.Error(err))
	}

	// Lifecycle sweeper
	interval, _ := cfg.Registry.SweepEvery()
	sweeper := sweep.New(ledger, sinks, interval, logger)
	sweeper.Start()

	// Build HTTP handler
	handler := api.NewHandler(ledger, logger)
	handler.SetSweeper(sweeper)
	handler.SetAlerts(broadcaster)
	if memRail != nil {
		// the admin funds wallets through /api/wallets/{id}/deposit
		handler.SetFunder(memRail)
	}
	if pgStore != nil {
		handler.AddHealthCheck("postgres", pgStore.Ping)
	}
	if bus != nil {
		handler.SetEventLog(bus)
		handler.AddHealthCheck("redis", bus.Ping)
	}
	if graphStore != nil {
		handler.SetGraph(graphStore)
		handler.SetAttestationIndex(graphStore)
		handler.AddHealthCheck("neo4j", graphStore.Ping)
	}

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Sigil registry listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Sigil registry...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	sweeper.Stop()
	hub.Close()
	if graphStore != nil {
		graphStore.Close(shutdownCtx)
	}
	if bus != nil {
		bus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// openLedger restores the registry from Postgres when a snapshot exists and
// initializes a new one otherwise.
func openLedger(ctx context.Context, pgStore *pgstore.Store, admin registry.Identity, opts registry.Options, logger *zap.Logger) (*registry.Ledger, error) {
	if pgStore == nil {
		return registry.InitializeRegistry(ctx, admin, opts)
	}
	opts.Persister = pgStore

	snap, err := pgStore.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, registry.ErrRegistryNotFound):
		logger.Info("no persisted registry, initializing", zap.String("admin", string(admin)))
		return registry.InitializeRegistry(ctx, admin, opts)
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if snap.Registry.Admin != admin {
		logger.Warn("configured admin differs from persisted registry; keeping persisted admin",
			zap.String("configured", string(admin)),
			zap.String("persisted", string(snap.Registry.Admin)))
	}
	ledger, err := registry.Restore(snap, opts)
	if err != nil {
		return nil, fmt.Errorf("restore registry: %w", err)
	}
	logger.Info("registry restored",
		zap.Int("skills", len(snap.Skills)),
		zap.Int("auditors", len(snap.Auditors)),
		zap.Int("consensus_records", len(snap.Consensus)))
	return ledger, nil
}

// newLogger builds a development logger at level, or the production logger
// when level is "production".
func newLogger(level string) *zap.Logger {
	zcfg := zap.NewDevelopmentConfig()
	if level == "production" {
		zcfg = zap.NewProductionConfig()
	} else if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
