// Package snapshot は事前計算ランキングの日次更新ジョブを提供する。
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/repository"
)

// SnapshotRefresher はスナップショットを再計算するインターフェース。
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context, scope model.ScopeID, period model.Period) (*model.Snapshot, error)
}

// Periods は更新対象の集計期間。
var Periods = []model.Period{model.Daily, model.Weekly, model.Monthly}

const (
	// initialBackoff はサイクル全体が失敗した場合の初回待機時間。
	initialBackoff = 15 * time.Minute
	// maxBackoff は待機時間の上限。
	maxBackoff = 6 * time.Hour
)

// Result は1サイクルの実行結果。
type Result struct {
	Refreshed int
	Failed    int
}

// Job はスナップショットの更新ジョブ。
// スコープごとに独立して更新し、一部の失敗でサイクルを中断しない。
// すべての更新がストア障害で失敗した場合は次のサイクルをバックオフする。
type Job struct {
	scopes    repository.ScopeRepository
	refresher SnapshotRefresher
	logger    *slog.Logger
	now       func() time.Time

	consecutiveFailures int
	backoffUntil        time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(scopes repository.ScopeRepository, refresher SnapshotRefresher, logger *slog.Logger) *Job {
	return &Job{
		scopes:    scopes,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// Start はジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("スナップショット更新ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	j.run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("スナップショット更新ジョブを停止しました")
			return
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (j *Job) run(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("スナップショット更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全スコープと全体集計の日次・週次・月次スナップショットを更新する。
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	start := j.now()

	if !j.backoffUntil.IsZero() && start.Before(j.backoffUntil) {
		j.logger.Info("スナップショット更新ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return Result{}, nil
	}

	scopes, err := j.scopes.List(ctx)
	if err != nil {
		j.fail()
		return Result{}, fmt.Errorf("スコープ一覧の取得に失敗しました: %w", err)
	}

	// 全体集計も1つのスコープとして更新する
	targets := make([]model.ScopeID, 0, len(scopes)+1)
	targets = append(targets, model.GlobalScope)
	for _, s := range scopes {
		targets = append(targets, s.ID)
	}

	var res Result
	storeFailures := 0
	for _, scope := range targets {
		for _, period := range Periods {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if _, err := j.refresher.RefreshSnapshot(ctx, scope, period); err != nil {
				res.Failed++
				if errors.Is(err, model.ErrStoreUnavailable) {
					storeFailures++
				}
				j.logger.Error("スナップショットの更新に失敗しました",
					slog.String("scope", scope.Param()),
					slog.String("period", period.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Refreshed++
		}
	}

	if res.Refreshed == 0 && storeFailures > 0 {
		j.fail()
	} else {
		j.consecutiveFailures = 0
		j.backoffUntil = time.Time{}
	}

	j.logger.Info("スナップショット更新サイクルが完了しました",
		slog.Int("scope_count", len(targets)),
		slog.Int("refreshed", res.Refreshed),
		slog.Int("failed", res.Failed),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return res, nil
}

func (j *Job) fail() {
	j.consecutiveFailures++
	backoff := calculateBackoff(j.consecutiveFailures)
	j.backoffUntil = j.now().Add(backoff)
	j.logger.Warn("連続した失敗によりバックオフを適用します",
		slog.Int("consecutive_failures", j.consecutiveFailures),
		slog.Duration("backoff_duration", backoff),
	)
}

// calculateBackoff は連続失敗回数に基づく待機時間を返す。初回15分、2倍ずつ増加、最大6時間。
func calculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
