package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/trendbot/internal/config"
	"github.com/hitoshi/trendbot/internal/database"
	"github.com/hitoshi/trendbot/internal/handler"
	"github.com/hitoshi/trendbot/internal/ingest"
	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/middleware"
	"github.com/hitoshi/trendbot/internal/render"
	"github.com/hitoshi/trendbot/internal/report"
	"github.com/hitoshi/trendbot/internal/repository"
	"github.com/hitoshi/trendbot/internal/settings"
	"github.com/hitoshi/trendbot/internal/tokenize"
	"github.com/hitoshi/trendbot/internal/trend"
)

// dbPingTimeout は起動時のDB接続確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// stores はストア実装ごとのリポジトリをまとめた構造体。
type stores struct {
	db        *sql.DB // インメモリストアの場合はnil
	scopes    repository.ScopeRepository
	settings  repository.SettingsRepository
	counters  repository.CounterRepository
	snapshots repository.SnapshotRepository
	tracks    repository.TrackRepository
}

// openStores は設定されたストア実装でリポジトリを初期化する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("インメモリストアを使用します。プロセスを再起動すると集計データは失われます")
		scopes := repository.NewMemoryScopeRepo(cfg.ScopeDefaults())
		return &stores{
			scopes:    scopes,
			settings:  scopes.Settings(),
			counters:  repository.NewMemoryCounterRepo(),
			snapshots: repository.NewMemorySnapshotRepo(),
			tracks:    repository.NewMemoryTrackRepo(),
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	return &stores{
		db:        db,
		scopes:    repository.NewPostgresScopeRepo(db, cfg.ScopeDefaults()),
		settings:  repository.NewPostgresSettingsRepo(db),
		counters:  repository.NewPostgresCounterRepo(db),
		snapshots: repository.NewPostgresSnapshotRepo(db),
		tracks:    repository.NewPostgresTrackRepo(db),
	}, nil
}

// healthChecker は/healthで確認するストアを返す。インメモリストアの場合はnil。
func (s *stores) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// Close はDB接続を閉じる。
func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// services はストアの上に構築するドメインサービス群。
type services struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	ingestor  *ingest.Ingestor
	engine    *trend.Engine
	assembler *report.Assembler
	settings  *settings.Service
}

// newServices は全ドメインサービスを結線する。
func newServices(cfg *config.Config, st *stores, logger *slog.Logger) *services {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	stopWords := tokenize.LoadStopWords(cfg.StopwordsPath, cfg.StopwordsPersist, logger)
	tokenizer := tokenize.New(stopWords)

	engine := trend.NewEngine(st.counters, st.snapshots, cfg.Location, trend.WithMetrics(collector))

	renderer := render.NewPNGRenderer(cfg.ChartWidth, cfg.ChartHeight)

	return &services{
		registry:  registry,
		collector: collector,
		ingestor: ingest.NewIngestor(st.scopes, st.settings, st.counters, tokenizer, cfg.Location, logger,
			ingest.WithMetrics(collector)),
		engine:    engine,
		assembler: report.NewAssembler(engine, st.settings, st.tracks, renderer, logger, report.WithMetrics(collector)),
		// 管理者の確認はチャットゲートウェイが行うためAdminListerは使用しない
		settings: settings.NewService(st.scopes, st.settings, st.tracks, nil, logger),
	}
}

// newRouter はHTTPルーターを構築する。返されたRateLimiterは停止時にStopする。
func newRouter(cfg *config.Config, st *stores, svc *services, logger *slog.Logger) (*middleware.RateLimiter, http.Handler) {
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitIngest), logger)
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          logger,
		RateLimiter:     limiter,
		Metrics:         svc.collector,
		Gatherer:        svc.registry,
		HealthChecker:   st.healthChecker(),
		Ingester:        svc.ingestor,
		ReportBuilder:   svc.assembler,
		Trends:          svc.engine,
		SettingsService: svc.settings,
	})
	return limiter, router
}
