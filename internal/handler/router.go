package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     metrics.MetricsCollector
	Gatherer    prometheus.Gatherer

	// ヘルスチェック（nilの場合はストアを確認しない）
	HealthChecker HealthChecker

	// 取り込み
	Ingester Ingester

	// レポートとランキング
	ReportBuilder ReportBuilder
	Trends        TrendQuerier

	// スコープ設定と追跡リスト
	SettingsService SettingsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Identity → Logging → RateLimit(GeneralMiddleware)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewIdentityMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, collector))

	messageHandler := NewMessageHandler(deps.Ingester, collector)
	reportHandler := NewReportHandler(deps.ReportBuilder, deps.Trends)
	settingsHandler := NewSettingsHandler(deps.SettingsService, deps.ReportBuilder)
	botHandler := NewBotHandler(deps.ReportBuilder, deps.SettingsService, logger)

	// --- レート制限なしのルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(limiter.GeneralMiddleware())

		// POST /api/messages - 取り込み専用のレート制限を追加
		r.With(limiter.IngestMiddleware()).Post("/api/messages", messageHandler.Ingest)

		r.Get("/api/reports", reportHandler.GetReport)

		r.Route("/api/scopes", func(r chi.Router) {
			r.Get("/", settingsHandler.ListScopes)

			r.Route("/{scope}", func(r chi.Router) {
				r.Get("/top", reportHandler.TopItems)
				r.Get("/rising", reportHandler.RisingTrends)
				r.Get("/series", reportHandler.TokenSeries)
				r.Get("/snapshots", reportHandler.GetSnapshot)
				r.Post("/snapshots", reportHandler.RefreshSnapshot)

				r.Get("/settings", settingsHandler.GetSettings)
				r.Patch("/settings", settingsHandler.UpdateSettings)
			})
		})

		r.Route("/api/users/{user}/tracks", func(r chi.Router) {
			r.Get("/", settingsHandler.ListTracks)
			r.Post("/", settingsHandler.AddTrack)
			r.Delete("/", settingsHandler.RemoveTrack)
			r.Get("/report", settingsHandler.TrackReport)
		})

		r.Post("/api/bot/callbacks", botHandler.Callback)
	})

	return r
}
