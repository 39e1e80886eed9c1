// Package trend は集計カウンタに対するランキングと期間比較のクエリを提供する。
// Engine 自体は状態を持たず、ストアへの問い合わせ結果だけから結果を計算する。
package trend

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/trendbot/internal/metrics"
	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/repository"
)

// ランキング取得件数の許容範囲
const (
	MinK = 1
	MaxK = 100
)

// SnapshotSize はスナップショットに保存する種別ごとの最大件数。
const SnapshotSize = 50

// Engine はトレンドクエリエンジン。
// 期間は設定されたタイムゾーンの「今日」を基準に解決する。
type Engine struct {
	counters  repository.CounterRepository
	snapshots repository.SnapshotRepository
	loc       *time.Location
	now       func() time.Time
	metrics   metrics.MetricsCollector
}

// Option はEngineの任意設定を表す。
type Option func(*Engine)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics はクエリのレイテンシとストアエラーを記録するコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine はEngineの新しいインスタンスを生成する。
// locがnilの場合はUTCを使用する。
func NewEngine(
	counters repository.CounterRepository,
	snapshots repository.SnapshotRepository,
	loc *time.Location,
	opts ...Option,
) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		counters:  counters,
		snapshots: snapshots,
		loc:       loc,
		now:       time.Now,
		metrics:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location は期間解決に使うタイムゾーンを返す。
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Today は設定タイムゾーンでの今日の日付を返す。
func (e *Engine) Today() time.Time {
	return model.DateOf(e.now(), e.loc)
}

// ResolvePeriod は集計期間を今日を終端とする日付範囲に変換する。
// 全期間の場合は上下限のない範囲を返す。
func (e *Engine) ResolvePeriod(p model.Period) (model.DateRange, error) {
	return RangeEnding(p, e.Today())
}

// RangeEnding は集計期間をtodayを終端とする日付範囲に変換する。
// 同じ処理の中で日付を1回だけ決めたい場合に使う。
func RangeEnding(p model.Period, today time.Time) (model.DateRange, error) {
	if err := p.Validate(); err != nil {
		return model.DateRange{}, err
	}

	var days int
	switch p.Kind {
	case model.PeriodDaily:
		days = 1
	case model.PeriodWeekly:
		days = 7
	case model.PeriodMonthly:
		days = 30
	case model.PeriodCustom:
		days = p.Days
	case model.PeriodAllTime:
		return model.DateRange{}, nil
	}

	return model.DateRange{Start: today.AddDate(0, 0, -(days - 1)), End: today}, nil
}

// PreviousRange は範囲rの直前にある同じ長さの範囲を返す。
func PreviousRange(r model.DateRange) (model.DateRange, error) {
	if r.Unbounded() {
		return model.DateRange{}, model.NewInvalidDateRangeError("全期間には比較対象の前期間がありません")
	}
	if err := r.Validate(); err != nil {
		return model.DateRange{}, err
	}
	end := r.Start.AddDate(0, 0, -1)
	return model.DateRange{Start: end.AddDate(0, 0, -(r.Days() - 1)), End: end}, nil
}

// TopItems は期間内の使用数上位k件を返す。
func (e *Engine) TopItems(ctx context.Context, scope model.ScopeID, itemType model.ItemType, period model.Period, k int) ([]model.RankedItem, error) {
	r, err := e.ResolvePeriod(period)
	if err != nil {
		return nil, err
	}
	return e.TopItemsInRange(ctx, scope, itemType, r, k)
}

// TopItemsInRange は日付範囲内の使用数上位k件を返す。
// 同数の場合はトークンの辞書順で並べる。
func (e *Engine) TopItemsInRange(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) ([]model.RankedItem, error) {
	if err := validateQuery(itemType, k); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	defer e.observe("top_items", time.Now())
	items, err := e.counters.TopK(ctx, scope, itemType, r, k)
	if err != nil {
		e.metrics.RecordStoreError("top_k")
		return nil, err
	}
	return items, nil
}

// Totals は日付範囲内のトークンごとの合計カウントを返す。
func (e *Engine) Totals(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange) (map[string]int64, error) {
	if !itemType.Valid() {
		return nil, model.NewInvalidItemTypeError(string(itemType))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	defer e.observe("range_totals", time.Now())
	totals, err := e.counters.RangeTotals(ctx, scope, itemType, r)
	if err != nil {
		e.metrics.RecordStoreError("range_totals")
		return nil, err
	}
	return totals, nil
}

// TrendDelta は2つの範囲の使用数を比較し、変化率の絶対値が大きい順にk件返す。
// 片方の範囲にしか現れないトークンはもう片方を0として扱う。
func (e *Engine) TrendDelta(ctx context.Context, scope model.ScopeID, itemType model.ItemType, prev, curr model.DateRange, k int) ([]model.TrendChange, error) {
	if err := validateQuery(itemType, k); err != nil {
		return nil, err
	}
	for _, r := range []model.DateRange{prev, curr} {
		if r.Unbounded() {
			return nil, model.NewInvalidDateRangeError("比較には上下限のある範囲が必要です")
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	defer e.observe("trend_delta", time.Now())

	var prevTotals, currTotals map[string]int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prevTotals, err = e.counters.RangeTotals(gctx, scope, itemType, prev)
		return err
	})
	g.Go(func() error {
		var err error
		currTotals, err = e.counters.RangeTotals(gctx, scope, itemType, curr)
		return err
	})
	if err := g.Wait(); err != nil {
		e.metrics.RecordStoreError("range_totals")
		return nil, err
	}

	return RankChanges(prevTotals, currTotals, k), nil
}

// RankChanges は2つの集計結果の和集合から変化量を計算し、上位k件を返す。
// 並び順は変化率の絶対値の降順、次に変化量の降順、最後にトークンの辞書順。
func RankChanges(prev, curr map[string]int64, k int) []model.TrendChange {
	changes := make([]model.TrendChange, 0, len(prev)+len(curr))
	for token, p := range prev {
		changes = append(changes, model.NewTrendChange(token, p, curr[token]))
	}
	for token, c := range curr {
		if _, seen := prev[token]; seen {
			continue
		}
		changes = append(changes, model.NewTrendChange(token, 0, c))
	}

	slices.SortFunc(changes, func(a, b model.TrendChange) int {
		if c := cmp.Compare(math.Abs(b.PercentChange), math.Abs(a.PercentChange)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.AbsoluteChange, a.AbsoluteChange); c != 0 {
			return c
		}
		return cmp.Compare(a.Token, b.Token)
	})

	if k > 0 && len(changes) > k {
		changes = changes[:k]
	}
	return changes
}

// RisingTrends は期間とその直前の同じ長さの期間を比較する。
// 全期間には前期間がないため検証エラーになる。
func (e *Engine) RisingTrends(ctx context.Context, scope model.ScopeID, itemType model.ItemType, period model.Period, k int) ([]model.TrendChange, error) {
	if err := validateQuery(itemType, k); err != nil {
		return nil, err
	}
	curr, err := e.ResolvePeriod(period)
	if err != nil {
		return nil, err
	}
	return e.RisingTrendsInRange(ctx, scope, itemType, curr, k)
}

// RisingTrendsInRange は範囲currとその直前の同じ長さの範囲を比較する。
func (e *Engine) RisingTrendsInRange(ctx context.Context, scope model.ScopeID, itemType model.ItemType, curr model.DateRange, k int) ([]model.TrendChange, error) {
	prev, err := PreviousRange(curr)
	if err != nil {
		return nil, err
	}
	return e.TrendDelta(ctx, scope, itemType, prev, curr, k)
}

// TokenSeries は1トークンの期間内の日別カウントを返す。
// 使用のない日は0で埋め、日付の昇順に並べる。
func (e *Engine) TokenSeries(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, period model.Period) ([]model.DailyCount, error) {
	r, err := e.ResolvePeriod(period)
	if err != nil {
		return nil, err
	}
	return e.TokenSeriesInRange(ctx, scope, itemType, token, r)
}

// TokenSeriesInRange は1トークンの日付範囲内の日別カウントを返す。
func (e *Engine) TokenSeriesInRange(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, r model.DateRange) ([]model.DailyCount, error) {
	if !itemType.Valid() {
		return nil, model.NewInvalidItemTypeError(string(itemType))
	}
	if token == "" {
		return nil, model.NewInvalidTokenError(token)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	defer e.observe("token_series", time.Now())
	counts, err := e.counters.Series(ctx, scope, itemType, token, r)
	if err != nil {
		e.metrics.RecordStoreError("series")
		return nil, err
	}
	if r.Unbounded() {
		return counts, nil
	}
	return FillSeries(counts, r), nil
}

// FillSeries は範囲内の欠けている日を0件として補完する。
func FillSeries(counts []model.DailyCount, r model.DateRange) []model.DailyCount {
	byDate := make(map[string]int64, len(counts))
	for _, c := range counts {
		byDate[model.FormatDate(c.Date)] += c.Count
	}
	filled := make([]model.DailyCount, 0, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		filled = append(filled, model.DailyCount{Date: d, Count: byDate[model.FormatDate(d)]})
	}
	return filled
}

// RefreshSnapshot は期間の種別ごとの上位件数を計算し、今日の日付でスナップショットを置き換える。
// 同じ (scope, period, date) で何度実行しても結果は1セットだけ残る。
func (e *Engine) RefreshSnapshot(ctx context.Context, scope model.ScopeID, period model.Period) (*model.Snapshot, error) {
	now := e.now()
	today := model.DateOf(now, e.loc)
	r, err := RangeEnding(period, today)
	if err != nil {
		return nil, err
	}

	defer e.observe("refresh_snapshot", time.Now())

	snap := model.Snapshot{
		Scope:       scope,
		Period:      period,
		Date:        today,
		Rows:        []model.SnapshotRow{},
		RefreshedAt: now.UTC(),
	}
	for _, itemType := range model.AllItemTypes() {
		items, err := e.counters.TopK(ctx, scope, itemType, r, SnapshotSize)
		if err != nil {
			e.metrics.RecordStoreError("top_k")
			return nil, err
		}
		for i, item := range items {
			snap.Rows = append(snap.Rows, model.SnapshotRow{
				Type:  itemType,
				Rank:  i + 1,
				Token: item.Token,
				Count: item.Count,
			})
		}
	}

	if err := e.snapshots.Replace(ctx, snap); err != nil {
		e.metrics.RecordStoreError("snapshot_replace")
		return nil, err
	}
	e.metrics.RecordSnapshotRefreshed(period.String())
	return &snap, nil
}

// Snapshot は保存済みのスナップショットを返す。見つからない場合はnilを返す。
// dateがゼロ値の場合は今日の日付を使用する。
func (e *Engine) Snapshot(ctx context.Context, scope model.ScopeID, period model.Period, date time.Time) (*model.Snapshot, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = e.Today()
	}
	snap, err := e.snapshots.Get(ctx, scope, period, date)
	if err != nil {
		e.metrics.RecordStoreError("snapshot_get")
		return nil, err
	}
	return snap, nil
}

func (e *Engine) observe(op string, start time.Time) {
	e.metrics.RecordQueryLatency(op, time.Since(start))
}

func validateQuery(itemType model.ItemType, k int) error {
	if !itemType.Valid() {
		return model.NewInvalidItemTypeError(string(itemType))
	}
	if k < MinK || k > MaxK {
		return model.NewInvalidLimitError(k, MinK, MaxK)
	}
	return nil
}
