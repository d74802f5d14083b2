package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/veridecide/pkg/api"
	"github.com/Mindburn-Labs/veridecide/pkg/artifacts"
	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/config"
	"github.com/Mindburn-Labs/veridecide/pkg/governance"
	"github.com/Mindburn-Labs/veridecide/pkg/ingest"
	"github.com/Mindburn-Labs/veridecide/pkg/llm"
	"github.com/Mindburn-Labs/veridecide/pkg/observability"
	"github.com/Mindburn-Labs/veridecide/pkg/pipeline"
	"github.com/Mindburn-Labs/veridecide/pkg/policyloader"
	"github.com/Mindburn-Labs/veridecide/pkg/rag"
	"github.com/Mindburn-Labs/veridecide/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite"
)

const idempotencyTTL = 24 * time.Hour

// app holds every wired component of one process.
type app struct {
	cfg          *config.Config
	db           *sql.DB
	store        *store.SQLStore
	ledger       *audit.Ledger
	blobs        artifacts.Store
	ingester     *ingest.Ingester
	orchestrator *pipeline.Orchestrator
	reviewer     *pipeline.Reviewer
	telemetry    *observability.Provider
	redis        redis.UniversalClient
	closers      []func() error
}

// setupLogging installs the JSON handler at cfg.LogLevel as the default logger.
func setupLogging(cfg *config.Config, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// openDatabase connects to Postgres, or to SQLite under DataDir in lite mode.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, store.Dialect, error) {
	if cfg.LiteMode() {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, 0, fmt.Errorf("failed to create data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, "veridecide.db")
		log.Printf("[veridecide] lite mode: using sqlite at %s", dbPath)
		db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return db, store.SQLite, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, 0, fmt.Errorf("DB ping failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	log.Println("[veridecide] postgres: connected")
	return db, store.Postgres, nil
}

// newApp wires storage, the audit ledger, ingestion, the model and the
// pipeline from cfg. Callers must Close the result.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var dialect store.Dialect
	if a.db, dialect, err = openDatabase(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)
	a.store = store.NewSQLStore(a.db, dialect)
	if err = a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	var locker audit.Locker = audit.NewLocalLocker()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, a.redis.Close)
		locker = audit.NewRedisLocker(a.redis)
		log.Printf("[veridecide] redis: %s", cfg.RedisAddr)
	}
	a.ledger = audit.NewLedger(a.store, audit.WithLocker(locker))

	if a.blobs, err = artifacts.Open(ctx, artifacts.Config{
		Backend: cfg.Artifacts.Type,
		DataDir: cfg.DataDir,
		S3: artifacts.S3Config{
			Bucket:   cfg.Artifacts.S3Bucket,
			Region:   cfg.Artifacts.S3Region,
			Endpoint: cfg.Artifacts.S3Endpoint,
			Prefix:   cfg.Artifacts.Prefix,
		},
		GCS: artifacts.GCSOptions{Bucket: cfg.Artifacts.GCSBucket, Prefix: cfg.Artifacts.Prefix},
	}); err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	if c, ok := a.blobs.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	log.Printf("[veridecide] artifacts: %s", cfg.Artifacts.Type)

	if a.telemetry, err = observability.New(ctx, &observability.Config{
		ServiceName:    "veridecide",
		ServiceVersion: version,
		Environment:    "production",
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       true,
	}); err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.telemetry.Shutdown(shutdownCtx)
	})

	lexicon := governance.DefaultLexicon()
	if cfg.LexiconFile != "" {
		if lexicon, err = governance.LoadLexicon(cfg.LexiconFile); err != nil {
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
		log.Printf("[veridecide] lexicon: %s", cfg.LexiconFile)
	}

	engine, err := governance.NewPolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to init policy engine: %w", err)
	}
	policies := policyloader.Chain{a.store}
	if cfg.PolicyDir != "" {
		loader, lerr := policyloader.NewLoader(cfg.PolicyDir, engine)
		if lerr != nil {
			return nil, fmt.Errorf("failed to init policy loader: %w", lerr)
		}
		if err = loader.LoadAll(); err != nil {
			return nil, fmt.Errorf("failed to load policy bundles: %w", err)
		}
		// Bundles on disk override rules stored in the database.
		policies = policyloader.Chain{loader, a.store}
		log.Printf("[veridecide] policies: %d bundles from %s", len(loader.AllBundles()), cfg.PolicyDir)
	}

	ingestOpts := []ingest.Option{ingest.WithArtifacts(a.blobs)}
	if cfg.OpenSource.Enabled {
		raw, set := "", cfg.OpenSource.Allowlist != nil
		if set {
			raw = *cfg.OpenSource.Allowlist
		}
		searcher, serr := ingest.NewSearcher(cfg.OpenSource.SerpProvider, cfg.OpenSource.SerpAPIKey, cfg.OpenSource.SerpAPIURL, nil)
		if serr != nil {
			// Runs that ask for open source then fail with ErrOpenSourceDisabled.
			slog.Default().Warn("open-source search unavailable", "error", serr)
		}
		ingestOpts = append(ingestOpts, ingest.WithOpenSource(ingest.OpenSourceConfig{
			Enabled:    true,
			Allowlist:  ingest.ParseAllowlist(raw, set),
			MaxResults: cfg.OpenSource.MaxResults,
			MaxChars:   cfg.OpenSource.MaxChars,
		}, searcher, ingest.NewFetcher(nil, cfg.OpenSource.MaxChars)))
	}
	a.ingester = ingest.NewIngester(a.store, a.ledger, ingestOpts...)

	model := llm.Config{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.ServiceURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.ModelName,
		Version:     cfg.LLM.ModelVersion,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.RequestTimeout,
	}
	generator, err := llm.New(model)
	if err != nil {
		return nil, fmt.Errorf("failed to init model client: %w", err)
	}
	log.Printf("[veridecide] model: %s", model.ModelName())

	if a.orchestrator, err = pipeline.NewOrchestrator(pipeline.Deps{
		Store:      a.store,
		Ledger:     a.ledger,
		Retriever:  rag.NewRetriever(a.store, rag.HashEmbedder{}),
		Generator:  generator,
		Model:      model,
		Policies:   policies,
		Engine:     engine,
		OpenSource: a.ingester,
		Lexicon:    lexicon,
		Telemetry:  a.telemetry,
	},
		pipeline.WithMatchCount(cfg.RAGMatchCount),
		pipeline.WithOpenSourceMaxResults(cfg.OpenSource.MaxResults),
		pipeline.WithTimeout(cfg.RequestTimeout),
	); err != nil {
		return nil, err
	}
	a.reviewer = pipeline.NewReviewer(a.store, a.ledger)
	return a, nil
}

// limiter returns the Redis limiter when Redis is configured, the in-process
// one otherwise, and nil when rate limiting is off.
func (a *app) limiter() (api.Limiter, func()) {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil, func() {}
	}
	if a.redis != nil {
		return api.NewRedisRateLimiter(a.redis, a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst), func() {}
	}
	l := api.NewTenantRateLimiter(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst)
	return l, l.Close
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
