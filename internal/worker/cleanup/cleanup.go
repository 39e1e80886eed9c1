// Package cleanup は古い集計データの自動削除ジョブを提供する。
// 保持期間（デフォルト400日）を超過した日次カウンタとスナップショットを
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

// DefaultRetentionDays はデフォルトの保持日数。前年同期の比較ができるよう1年より長く取る。
const DefaultRetentionDays = 400

// Pruner は指定日より前のデータを削除するインターフェース。
// CounterRepository と SnapshotRepository が満たす。
type Pruner interface {
	DeleteBefore(ctx context.Context, date time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した集計データの自動削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	counters      Pruner
	snapshots     Pruner
	loc           *time.Location
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 保持日数（デフォルト: 400）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// locは保持期間の境界日を決めるタイムゾーン。nilの場合はUTCを使用する。
func NewCleanupJob(counters, snapshots Pruner, loc *time.Location, logger *slog.Logger) *CleanupJob {
	if loc == nil {
		loc = time.UTC
	}
	return &CleanupJob{
		counters:      counters,
		snapshots:     snapshots,
		loc:           loc,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Cutoff は削除の境界日を返す。この日より前のバケットが削除対象。
func (j *CleanupJob) Cutoff() time.Time {
	return model.DateOf(j.now(), j.loc).AddDate(0, 0, -j.RetentionDays)
}

// Start はジョブを指定間隔で定期実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
}

// Run は保持期間を超過したカウンタとスナップショットを削除する。
// 片方の削除に失敗してももう片方は実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		return fmt.Errorf("保持日数が不正です: %d", j.RetentionDays)
	}

	start := time.Now()
	cutoff := j.Cutoff()

	counterCount, counterErr := j.prune(ctx, "counters", j.counters, cutoff)
	snapshotCount, snapshotErr := j.prune(ctx, "snapshots", j.snapshots, cutoff)
	if err := errors.Join(counterErr, snapshotErr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_counters", counterCount),
		slog.Int64("deleted_snapshots", snapshotCount),
		slog.String("cutoff", model.FormatDate(cutoff)),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) prune(ctx context.Context, target string, p Pruner, cutoff time.Time) (int64, error) {
	if p == nil {
		return 0, nil
	}
	n, err := p.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("%sの削除に失敗: %w", target, err)
	}
	return n, nil
}
