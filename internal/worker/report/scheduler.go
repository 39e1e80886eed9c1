// Package report は自動レポートのスケジューリングと配信を行う。
// スコープ設定の配信時刻と頻度に従ってレポートを生成し、配信コラボレータへ渡す。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
	reportsvc "github.com/hitoshi/trendbot/internal/report"
	"github.com/hitoshi/trendbot/internal/repository"
)

// ReportBuilder はレポート生成のインターフェース。
type ReportBuilder interface {
	Build(ctx context.Context, req reportsvc.Request) (*model.Report, error)
}

// ReportDeliverer はレポート配信のインターフェース。
type ReportDeliverer interface {
	Deliver(ctx context.Context, rep *model.Report) error
}

// Config はスケジューラの設定。
type Config struct {
	// MaxConcurrency は同時に生成するレポートの最大数（デフォルト: 4）。
	MaxConcurrency int
	// WithCharts はグラフを添付するかどうか。
	WithCharts bool
	// MaxAttempts はストア障害時の最大試行回数（デフォルト: 3）。
	MaxAttempts int
}

// Scheduler は自動レポートのスケジューラ。
// ティッカーごとに配信時刻に達したスコープを取得し、
// semaphoreパターンで最大並列数を制御しながらレポートを生成・配信する。
type Scheduler struct {
	settings  repository.SettingsRepository
	builder   ReportBuilder
	deliverer ReportDeliverer
	loc       *time.Location
	logger    *slog.Logger
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	// lastRun はスコープごとに最後に配信した分。同じ分に2回配信しない。
	lastRun map[model.ScopeID]string
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// locは配信時刻を解釈するタイムゾーン。nilの場合はUTCを使用する。
func NewScheduler(
	settings repository.SettingsRepository,
	builder ReportBuilder,
	deliverer ReportDeliverer,
	loc *time.Location,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Scheduler{
		settings:  settings,
		builder:   builder,
		deliverer: deliverer,
		loc:       loc,
		logger:    logger,
		cfg:       cfg,
		sleep:     sleepContext,
		lastRun:   make(map[model.ScopeID]string),
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 1分未満の間隔で動かしても同じ分の重複配信は起きない。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("自動レポートスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.cfg.MaxConcurrency),
		slog.String("timezone", s.loc.String()),
	)

	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("自動レポートスケジューラを停止しました")
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if _, err := s.RunOnce(ctx, now); err != nil {
		s.logger.Error("自動レポートサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はnow時点で配信対象のスコープにレポートを配信し、配信に成功した件数を返す。
// 1スコープの失敗は記録するだけで、他のスコープの配信は継続する。
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	local := now.In(s.loc)
	minute := local.Format("2006-01-02T15:04")
	clock := local.Format("15:04")

	autos, err := s.settings.ListAutoReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("自動レポート設定の取得に失敗しました: %w", err)
	}

	due := make([]model.AutoReport, 0, len(autos))
	for _, a := range autos {
		if a.Time != clock || !a.Frequency.Due(local) {
			continue
		}
		if !s.claim(a.Scope, minute) {
			continue
		}
		due = append(due, a)
	}
	if len(due) == 0 {
		return 0, nil
	}

	s.logger.Info("自動レポートの配信を開始します",
		slog.Int("scope_count", len(due)),
		slog.String("time", clock),
	)

	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0

	for _, a := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(a model.AutoReport) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.runScope(ctx, a); err != nil {
				s.logger.Error("自動レポートの配信に失敗しました",
					slog.String("scope", string(a.Scope)),
					slog.String("frequency", string(a.Frequency)),
					slog.String("error", err.Error()),
				)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(a)
	}
	wg.Wait()

	s.logger.Info("自動レポートの配信が完了しました",
		slog.Int("scope_count", len(due)),
		slog.Int("delivered", delivered),
	)
	return delivered, nil
}

// claim はスコープをこの分の配信対象として確保する。既に確保済みの場合はfalseを返す。
func (s *Scheduler) claim(scope model.ScopeID, minute string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[scope] == minute {
		return false
	}
	s.lastRun[scope] = minute
	return true
}

func (s *Scheduler) runScope(ctx context.Context, a model.AutoReport) error {
	req := reportsvc.Request{
		Scope:      a.Scope,
		Period:     a.Frequency.Period(),
		K:          a.MaxItems,
		WithCharts: s.cfg.WithCharts,
		Trigger:    reportsvc.TriggerSchedule,
	}

	var rep *model.Report
	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		rep, err = s.builder.Build(ctx, req)
		if err == nil || !retryable(err) || attempt == s.cfg.MaxAttempts {
			break
		}
		delay := CalculateBackoff(attempt)
		s.logger.Warn("レポート生成を再試行します",
			slog.String("scope", string(a.Scope)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if err != nil {
		return fmt.Errorf("レポートの生成に失敗しました: %w", err)
	}

	if err := s.deliverer.Deliver(ctx, rep); err != nil {
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
