package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/trendbot/internal/config"
	"github.com/hitoshi/trendbot/internal/delivery"
	"github.com/hitoshi/trendbot/internal/ingest"
	"github.com/hitoshi/trendbot/internal/worker/cleanup"
	workerreport "github.com/hitoshi/trendbot/internal/worker/report"
	"github.com/hitoshi/trendbot/internal/worker/snapshot"
)

// natsConnectTimeout はNATSサーバーへの接続タイムアウト。
const natsConnectTimeout = 5 * time.Second

// worker はNATSコンシューマと定期ジョブをまとめた構造体。
type worker struct {
	nc        *nats.Conn
	consumer  *ingest.Consumer
	scheduler *workerreport.Scheduler
	snapshots *snapshot.Job
	cleanup   *cleanup.CleanupJob
}

// newWorker はNATSに接続し、コンシューマと定期ジョブを生成する。
func newWorker(cfg *config.Config, st *stores, svc *services, logger *slog.Logger) (*worker, error) {
	nc, err := delivery.Connect(natsConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	deliverer := delivery.NewDeliverer(nc, logger)

	cleanupJob := cleanup.NewCleanupJob(st.counters, st.snapshots, cfg.Location, logger)
	cleanupJob.RetentionDays = cfg.RetentionDays

	return &worker{
		nc:        nc,
		consumer:  ingest.NewConsumer(ingest.NATSSubscriber{Conn: nc}, svc.ingestor, consumerConfig(cfg), logger, svc.collector),
		scheduler: workerreport.NewScheduler(st.settings, svc.assembler, deliverer, cfg.Location, logger, schedulerConfig(cfg)),
		snapshots: snapshot.NewJob(st.scopes, svc.engine, logger),
		cleanup:   cleanupJob,
	}, nil
}

// start はコンシューマの購読を開始し、定期ジョブをgに登録する。
// ジョブはctxがキャンセルされるまで動き続ける。
func (w *worker) start(ctx context.Context, g *errgroup.Group, cfg *config.Config) error {
	if err := w.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	slog.Info("worker starting",
		slog.String("subject", cfg.NATSSubject),
		slog.Int("ingest_concurrency", cfg.IngestMaxConcurrent),
		slog.Duration("report_tick", cfg.ReportTickInterval),
		slog.Duration("snapshot_interval", cfg.SnapshotInterval),
	)

	g.Go(func() error {
		w.scheduler.Start(ctx, cfg.ReportTickInterval)
		return nil
	})
	g.Go(func() error {
		w.snapshots.Start(ctx, cfg.SnapshotInterval)
		return nil
	})
	g.Go(func() error {
		// 起動直後に1回実行（エラーはRun内でログ出力済み）
		_ = w.cleanup.Run(ctx)
		w.cleanup.Start(ctx, cfg.CleanupInterval)
		return nil
	})
	return nil
}

// natsConfig はConfigからNATS接続設定を組み立てる。
func natsConfig(cfg *config.Config) delivery.NATSConfig {
	return delivery.NATSConfig{
		URL:            cfg.NATSURL,
		MaxReconnects:  cfg.NATSMaxReconnects,
		ReconnectWait:  cfg.NATSReconnectWait,
		ConnectTimeout: natsConnectTimeout,
	}
}

func consumerConfig(cfg *config.Config) ingest.ConsumerConfig {
	return ingest.ConsumerConfig{
		Subject:     cfg.NATSSubject,
		QueueGroup:  cfg.NATSQueueGroup,
		Concurrency: cfg.IngestMaxConcurrent,
		Timeout:     cfg.IngestTimeout,
	}
}

func schedulerConfig(cfg *config.Config) workerreport.Config {
	return workerreport.Config{
		MaxConcurrency: cfg.ReportMaxConcurrent,
		WithCharts:     cfg.ReportCharts,
	}
}
