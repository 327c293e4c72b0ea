// Command gatewayd runs the multi-tenant AI request gateway: the C1-C9
// components wired together and served over /rpc, /trpc/, and /mcp.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vectorgate/gateway/pkg/api"
	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/dispatch"
	"github.com/vectorgate/gateway/pkg/kernel"
	"github.com/vectorgate/gateway/pkg/ledger"
	"github.com/vectorgate/gateway/pkg/observability"
	"github.com/vectorgate/gateway/pkg/pipeline"
	"github.com/vectorgate/gateway/pkg/policy"
	"github.com/vectorgate/gateway/pkg/providers"
	"github.com/vectorgate/gateway/pkg/registry"
	"github.com/vectorgate/gateway/pkg/resolver"
	"github.com/vectorgate/gateway/pkg/secretstore"
	"github.com/vectorgate/gateway/pkg/storedb"
	"github.com/vectorgate/gateway/pkg/workspace"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  cfg.ObservabilityName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
		Enabled:      cfg.OTLPEndpoint != "",
		Insecure:     cfg.OTLPInsecure,
	})
	if err != nil {
		log.Error("init observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, dialect, err := openDatabase(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := initSchema(ctx, db, dialect); err != nil {
		log.Error("init schema", "error", err)
		os.Exit(1)
	}

	keySet, err := auth.NewInMemoryKeySet()
	if err != nil {
		log.Error("init keyset", "error", err)
		os.Exit(1)
	}
	jwtValidator := auth.NewJWTValidator(keySet)

	fallback, err := registry.LoadEmbeddedFallback()
	if err != nil {
		log.Error("load embedded catalog fallback", "error", err)
		os.Exit(1)
	}
	var fetcher registry.Fetcher
	if cfg.CatalogURL != "" {
		fetcher = &registry.HTTPFetcher{URL: cfg.CatalogURL}
	}
	rgy := registry.New(fallback, fetcher, log)
	go rgy.Run(ctx)

	pol, err := policy.New(cfg)
	if err != nil {
		log.Error("init policy", "error", err)
		os.Exit(1)
	}

	secrets := secretstore.New(db, dialect)
	res := resolver.New(secrets, resolver.ServerKeysFromEnv())

	var accounts ledger.Accounts = ledger.NewSQLAccounts(db, dialect)
	led := ledger.New(accounts)
	sweeper := ledger.NewSweeper(led, cfg.ReservationTTL, time.Minute, log)
	go sweeper.Run(ctx)

	dispatcher := providers.NewDispatcher()

	pipe, err := pipeline.New(cfg, rgy, pol, res, led, dispatcher, log)
	if err != nil {
		log.Error("init pipeline", "error", err)
		os.Exit(1)
	}

	ws := workspace.NewManager()
	for _, wc := range cfg.Workspaces {
		if err := ws.Register(ctx, workspace.Registration{
			ID: wc.ID, Root: wc.Root, DisplayName: wc.DisplayName, ReadOnly: wc.ReadOnly,
			AllowGlobs: wc.AllowGlobs, BlockGlobs: wc.BlockGlobs,
			AllowExtensions: wc.AllowExtensions, BlockExtensions: wc.BlockExtensions,
			MaxFileSizeMB: wc.MaxFileSizeMB, FollowSymlinks: wc.FollowSymlinks,
		}); err != nil {
			log.Error("register configured workspace", "id", wc.ID, "error", err)
			os.Exit(1)
		}
	}

	var limiterStore kernel.LimiterStore = kernel.NewInMemoryLimiterStore()
	if cfg.RedisAddr != "" {
		limiterStore = kernel.NewRedisLimiterStore(cfg.RedisAddr, "", 0)
	}
	ratePolicies := map[dispatch.RateClass]kernel.BackpressurePolicy{
		dispatch.RateClassDefault:   {RPM: 120, Burst: 30},
		dispatch.RateClassRead:      {RPM: 300, Burst: 60},
		dispatch.RateClassExpensive: {RPM: 30, Burst: 5},
		dispatch.RateClassAdmin:     {RPM: 60, Burst: 10},
	}

	proc, err := dispatch.NewServer(dispatch.Dependencies{
		Pipeline: pipe, Registry: rgy, Secrets: secrets, Ledger: led,
		Workspaces: ws, Providers: dispatcher, Config: cfg, StartedAt: time.Now(),
		RateLimiter: limiterStore, RatePolicies: ratePolicies,
		Observability: obs,
	})
	if err != nil {
		log.Error("build dispatch registry", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !rgy.Health().Ready {
			api.WriteError(w, http.StatusServiceUnavailable, "Not Ready", "registry has no catalog yet")
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	dispatch.RegisterRoutes(mux, proc)

	var idemStore api.IdempotencyStorer
	if dialect == storedb.Postgres {
		idemStore = api.NewPostgresIdempotencyStore(db, 10*time.Minute)
	} else {
		idemStore = api.NewIdempotencyStore(10 * time.Minute)
	}

	var handler http.Handler = mux
	handler = api.IdempotencyMiddleware(idemStore)(handler)
	handler = auth.NewMiddleware(jwtValidator)(handler)
	handler = auth.RequestIDMiddleware(handler)
	handler = auth.CORSMiddleware(cfg.CORSOrigins)(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// openDatabase connects to Postgres when DATABASE_URL names one, or
// falls back to an embedded sqlite file for single-process operation
// (mirroring the teacher's lite-mode split).
func openDatabase(ctx context.Context, databaseURL string, log *slog.Logger) (*sql.DB, storedb.Dialect, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, storedb.Postgres, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, storedb.Postgres, fmt.Errorf("ping postgres: %w", err)
		}
		log.Info("connected to postgres")
		return db, storedb.Postgres, nil
	}

	dataDir := "data"
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, storedb.SQLite, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "gateway.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storedb.SQLite, fmt.Errorf("open sqlite: %w", err)
	}
	log.Info("running in single-process mode", "path", dbPath)
	return db, storedb.SQLite, nil
}

func initSchema(ctx context.Context, db *sql.DB, dialect storedb.Dialect) error {
	schemas := []string{secretstore.SchemaPostgres, ledger.SchemaPostgres, api.SchemaPostgres}
	if dialect == storedb.SQLite {
		schemas = []string{secretstore.SchemaSQLite, ledger.SchemaSQLite}
	}
	for _, schema := range schemas {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
