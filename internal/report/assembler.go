// Package report はトレンドクエリの結果からチャット向けレポートを組み立てる。
// グラフ生成は Renderer に委譲し、描画に失敗した場合は本文のみのレポートに縮退する。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/repository"
	"github.com/hitoshi/trendbot/internal/trend"
)

// レポート生成のトリガー種別。メトリクスのラベルに使用する。
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerTrack    = "track"
)

const (
	// MaxRisingItems は上昇トレンドの最大表示件数。
	MaxRisingItems = 5
	// WordCloudMinItems はワードクラウドを生成する最小単語数。
	WordCloudMinItems = 10
	// TimeSeriesTokens は時系列グラフに描画する上位単語数。
	TimeSeriesTokens = 5
)

// Renderer はグラフ画像を生成するコラボレーター。
type Renderer interface {
	Render(ctx context.Context, req model.ChartRequest) ([]byte, error)
}

// Engine はレポート生成に必要なトレンドクエリのインターフェース。
type Engine interface {
	ResolvePeriod(p model.Period) (model.DateRange, error)
	TopItemsInRange(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) ([]model.RankedItem, error)
	Totals(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange) (map[string]int64, error)
	RisingTrendsInRange(ctx context.Context, scope model.ScopeID, itemType model.ItemType, curr model.DateRange, k int) ([]model.TrendChange, error)
	TokenSeriesInRange(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, r model.DateRange) ([]model.DailyCount, error)
	Location() *time.Location
}

// Request はレポート生成要求を表す。
// K が0の場合はスコープ設定のレポート件数を、ItemTypes が空の場合は全種別を使用する。
type Request struct {
	Scope      model.ScopeID
	Period     model.Period
	ItemTypes  []model.ItemType
	K          int
	WithCharts bool
	Trigger    string
}

// Assembler はレポートを組み立てるサービス。
type Assembler struct {
	engine   Engine
	settings repository.SettingsRepository
	tracks   repository.TrackRepository
	renderer Renderer
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
	newID    func() string
}

// Option はAssemblerの任意設定を表す。
type Option func(*Assembler)

// WithMetrics はレポート生成結果を記録するコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithIDGenerator はレポートIDの生成関数を差し替える。
func WithIDGenerator(newID func() string) Option {
	return func(a *Assembler) { a.newID = newID }
}

// NewAssembler はAssemblerの新しいインスタンスを生成する。
// rendererがnilの場合はグラフを生成しない。
func NewAssembler(
	engine Engine,
	settings repository.SettingsRepository,
	tracks repository.TrackRepository,
	renderer Renderer,
	logger *slog.Logger,
	opts ...Option,
) *Assembler {
	a := &Assembler{
		engine:   engine,
		settings: settings,
		tracks:   tracks,
		renderer: renderer,
		logger:   logger,
		metrics:  metrics.Nop{},
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build はレポートを生成する。
// ストアエラーはレポート全体の失敗として返し、描画エラーはDegradedとして扱う。
func (a *Assembler) Build(ctx context.Context, req Request) (*model.Report, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerAPI
	}

	rep, err := a.build(ctx, req)
	if err != nil {
		a.metrics.RecordReportFailure(trigger)
		return nil, err
	}

	a.metrics.RecordReportGenerated(trigger)
	a.logger.Info("レポートを生成しました",
		slog.String("report_id", rep.ID),
		slog.String("scope", rep.Scope.Param()),
		slog.String("period", rep.Period.String()),
		slog.String("trigger", trigger),
		slog.Int("charts", len(rep.Charts)),
		slog.Bool("degraded", rep.Degraded),
	)
	return rep, nil
}

func (a *Assembler) build(ctx context.Context, req Request) (*model.Report, error) {
	types, err := normalizeTypes(req.ItemTypes)
	if err != nil {
		return nil, err
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	k, err := a.resolveK(ctx, req.Scope, req.K)
	if err != nil {
		return nil, err
	}
	r, err := a.engine.ResolvePeriod(req.Period)
	if err != nil {
		return nil, err
	}

	sections := make([]model.Section, len(types))
	rising := []model.TrendChange{}

	g, gctx := errgroup.WithContext(ctx)
	for i, itemType := range types {
		i, itemType := i, itemType
		g.Go(func() error {
			section, err := a.section(gctx, req.Scope, itemType, r, k)
			if err != nil {
				return fmt.Errorf("%sセクションの集計に失敗しました: %w", itemType, err)
			}
			sections[i] = section
			return nil
		})
	}
	if req.Period.Kind != model.PeriodAllTime {
		g.Go(func() error {
			changes, err := a.engine.RisingTrendsInRange(gctx, req.Scope, model.ItemTypeWord, r, min(k, MaxRisingItems))
			if err != nil {
				return fmt.Errorf("上昇トレンドの集計に失敗しました: %w", err)
			}
			rising = changes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &model.Report{
		ID:          a.newID(),
		GeneratedAt: a.now().In(a.engine.Location()),
		Scope:       req.Scope,
		Period:      req.Period,
		Range:       r,
		Sections:    sections,
		Rising:      rising,
	}

	if req.WithCharts && a.renderer != nil {
		if err := a.attachCharts(ctx, rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func (a *Assembler) section(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) (model.Section, error) {
	items, err := a.engine.TopItemsInRange(ctx, scope, itemType, r, k)
	if err != nil {
		return model.Section{}, err
	}
	totals, err := a.engine.Totals(ctx, scope, itemType, r)
	if err != nil {
		return model.Section{}, err
	}

	var total int64
	for _, n := range totals {
		total += n
	}
	return model.Section{Type: itemType, Items: items, Distinct: len(totals), Total: total}, nil
}

// resolveK は件数の指定がなければスコープ設定のレポート件数を返す。
func (a *Assembler) resolveK(ctx context.Context, scope model.ScopeID, k int) (int, error) {
	if k != 0 {
		if k < trend.MinK || k > trend.MaxK {
			return 0, model.NewInvalidLimitError(k, trend.MinK, trend.MaxK)
		}
		return k, nil
	}
	if scope.IsGlobal() {
		return model.DefaultMaxItems, nil
	}

	s, err := a.settings.Get(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("スコープ設定の取得に失敗しました: %w", err)
	}
	if s == nil {
		return model.DefaultMaxItems, nil
	}
	return s.MaxItems, nil
}

// attachCharts は単語セクションからグラフを生成してレポートに添付する。
func (a *Assembler) attachCharts(ctx context.Context, rep *model.Report) error {
	words, ok := rep.Section(model.ItemTypeWord)
	if !ok || len(words.Items) == 0 {
		return nil
	}

	requests := []model.ChartRequest{{
		Kind:  model.ChartBar,
		Title: fmt.Sprintf("%s - En Çok Kullanılan Kelimeler", rep.Period.Title()),
		Items: words.Items,
	}}
	if len(words.Items) >= WordCloudMinItems {
		requests = append(requests, model.ChartRequest{
			Kind:  model.ChartWordCloud,
			Title: fmt.Sprintf("%s - Kelime Bulutu", rep.Period.Title()),
			Items: words.Items,
		})
	}
	if rep.Period.Kind == model.PeriodWeekly || rep.Period.Kind == model.PeriodMonthly {
		top := words.Items[:min(len(words.Items), TimeSeriesTokens)]
		series := make([]model.ChartSeries, 0, len(top))
		for _, item := range top {
			points, err := a.engine.TokenSeriesInRange(ctx, rep.Scope, model.ItemTypeWord, item.Token, rep.Range)
			if err != nil {
				return fmt.Errorf("時系列データの取得に失敗しました: %w", err)
			}
			series = append(series, model.ChartSeries{Label: item.Token, Points: points})
		}
		requests = append(requests, model.ChartRequest{
			Kind:   model.ChartTimeSeries,
			Title:  fmt.Sprintf("En Popüler %d Kelimenin %d Günlük Trendi", len(top), rep.Range.Days()),
			Series: series,
		})
	}

	for _, req := range requests {
		chart, ok := a.render(ctx, rep.ID, req)
		if !ok {
			rep.Degraded = true
			continue
		}
		rep.Charts = append(rep.Charts, chart)
	}
	return nil
}

// render はグラフを描画する。失敗した場合はログとメトリクスに記録してfalseを返す。
func (a *Assembler) render(ctx context.Context, reportID string, req model.ChartRequest) (model.Chart, bool) {
	img, err := a.renderer.Render(ctx, req)
	if err != nil {
		err = fmt.Errorf("%w (%s): %w", model.ErrRenderFailure, req.Kind, err)
		a.metrics.RecordRenderFailure(string(req.Kind))
		a.logger.Warn("グラフの描画に失敗したため本文のみで配信します",
			slog.String("report_id", reportID),
			slog.String("kind", string(req.Kind)),
			slog.String("error", err.Error()),
		)
		return model.Chart{}, false
	}
	return model.Chart{Kind: req.Kind, Title: req.Title, Image: img}, true
}

// TrackReport はユーザーの追跡対象について直近7日間の使用状況をまとめる。
func (a *Assembler) TrackReport(ctx context.Context, userID string, scope model.ScopeID, withCharts bool) (*model.TrackReport, error) {
	rep, err := a.trackReport(ctx, userID, scope, withCharts)
	if err != nil {
		a.metrics.RecordReportFailure(TriggerTrack)
		return nil, err
	}
	a.metrics.RecordReportGenerated(TriggerTrack)
	return rep, nil
}

func (a *Assembler) trackReport(ctx context.Context, userID string, scope model.ScopeID, withCharts bool) (*model.TrackReport, error) {
	if userID == "" {
		return nil, model.NewInvalidUserError()
	}
	r, err := a.engine.ResolvePeriod(model.Weekly)
	if err != nil {
		return nil, err
	}
	subs, err := a.tracks.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("追跡リストの取得に失敗しました: %w", err)
	}

	entries := make([]model.TrackEntry, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			points, err := a.engine.TokenSeriesInRange(gctx, scope, sub.Type, sub.Token, r)
			if err != nil {
				return fmt.Errorf("追跡対象の集計に失敗しました: %w", err)
			}
			var total int64
			for _, p := range points {
				total += p.Count
			}
			entries[i] = model.TrackEntry{Subscription: sub, Total: total, Series: points}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &model.TrackReport{
		ID:          a.newID(),
		GeneratedAt: a.now().In(a.engine.Location()),
		UserID:      userID,
		Scope:       scope,
		Range:       r,
		Entries:     entries,
	}

	if withCharts && a.renderer != nil && slices.ContainsFunc(entries, func(e model.TrackEntry) bool { return e.Total > 0 }) {
		series := make([]model.ChartSeries, 0, len(entries))
		for _, e := range entries {
			series = append(series, model.ChartSeries{
				Label:  e.Subscription.Type.Display(e.Subscription.Token),
				Points: e.Series,
			})
		}
		chart, ok := a.render(ctx, rep.ID, model.ChartRequest{
			Kind:   model.ChartTimeSeries,
			Title:  "Takip Raporu",
			Series: series,
		})
		if ok {
			rep.Charts = append(rep.Charts, chart)
		} else {
			rep.Degraded = true
		}
	}
	return rep, nil
}

// normalizeTypes は種別の重複を除き、指定がなければ全種別を返す。
func normalizeTypes(types []model.ItemType) ([]model.ItemType, error) {
	if len(types) == 0 {
		return model.AllItemTypes(), nil
	}
	out := make([]model.ItemType, 0, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, model.NewInvalidItemTypeError(string(t))
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out, nil
}
