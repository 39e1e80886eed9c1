package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

// MemoryCounterRepo はプロセス内メモリに保持するカウンタリポジトリ。
// キーごとのカウンタはアトミックに加算され、異なるキーへの加算は互いにブロックしない。
// マップへのロックはキーの初回作成時にのみ排他で取得する。
type MemoryCounterRepo struct {
	mu       sync.RWMutex
	counters map[model.CounterKey]*atomic.Int64
}

// NewMemoryCounterRepo はMemoryCounterRepoを生成する。
func NewMemoryCounterRepo() *MemoryCounterRepo {
	return &MemoryCounterRepo{counters: make(map[model.CounterKey]*atomic.Int64)}
}

func (r *MemoryCounterRepo) counter(key model.CounterKey) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c = new(atomic.Int64)
	r.counters[key] = c
	return c
}

// Increment はカウンタにbyを加算する。
func (r *MemoryCounterRepo) Increment(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, date time.Time, by int64) error {
	if err := ctx.Err(); err != nil {
		return model.NewStoreError("カウンタの加算に失敗しました", err)
	}
	key := model.CounterKey{Scope: scope, Type: itemType, Token: token, Date: toDate(date)}
	r.counter(key).Add(by)
	return nil
}

// IncrementBatch は複数の加算を適用する。
// 同じキーの加算はまとめてから各カウンタにアトミックに加算する。
// 既存キーへの加算は読み取りロックだけで行うため、他のバッチとは互いにブロックしない。
func (r *MemoryCounterRepo) IncrementBatch(ctx context.Context, incs []model.Increment) error {
	if err := ctx.Err(); err != nil {
		return model.NewStoreError("カウンタの一括加算に失敗しました", err)
	}
	for _, inc := range MergeIncrements(incs) {
		r.counter(inc.Key).Add(inc.By)
	}
	return nil
}

// TopK は期間内の合計カウントの降順（同数はトークンの辞書順）で上位k件を返す。
func (r *MemoryCounterRepo) TopK(ctx context.Context, scope model.ScopeID, itemType model.ItemType, dr model.DateRange, k int) ([]model.RankedItem, error) {
	totals, err := r.RangeTotals(ctx, scope, itemType, dr)
	if err != nil {
		return nil, err
	}
	return RankTotals(totals, k), nil
}

// RangeTotals は期間内のトークンごとの合計カウントを返す。
func (r *MemoryCounterRepo) RangeTotals(ctx context.Context, scope model.ScopeID, itemType model.ItemType, dr model.DateRange) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("期間集計の取得に失敗しました", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[string]int64)
	for key, c := range r.counters {
		if !matches(key, scope, itemType, dr) {
			continue
		}
		totals[key.Token] += c.Load()
	}
	return totals, nil
}

// Series は1トークンの日別カウントを日付の昇順で返す。
func (r *MemoryCounterRepo) Series(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, dr model.DateRange) ([]model.DailyCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("日別推移の取得に失敗しました", err)
	}

	r.mu.RLock()
	byDate := make(map[time.Time]int64)
	for key, c := range r.counters {
		if key.Token != token || !matches(key, scope, itemType, dr) {
			continue
		}
		byDate[key.Date] += c.Load()
	}
	r.mu.RUnlock()

	series := make([]model.DailyCount, 0, len(byDate))
	for date, count := range byDate {
		series = append(series, model.DailyCount{Date: date, Count: count})
	}
	slices.SortFunc(series, func(a, b model.DailyCount) int {
		return a.Date.Compare(b.Date)
	})
	return series, nil
}

// DeleteBefore はdateより前のバケットを削除する。
func (r *MemoryCounterRepo) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.NewStoreError("古いカウンタの削除に失敗しました", err)
	}
	cutoff := toDate(date)

	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for key := range r.counters {
		if key.Date.Before(cutoff) {
			delete(r.counters, key)
			deleted++
		}
	}
	return deleted, nil
}

func matches(key model.CounterKey, scope model.ScopeID, itemType model.ItemType, dr model.DateRange) bool {
	if key.Type != itemType {
		return false
	}
	if !scope.IsGlobal() && key.Scope != scope {
		return false
	}
	return dr.Contains(key.Date)
}

// RankTotals は合計カウントを降順（同数はトークンの辞書順）に並べ、上位k件を返す。
func RankTotals(totals map[string]int64, k int) []model.RankedItem {
	items := make([]model.RankedItem, 0, len(totals))
	for token, count := range totals {
		items = append(items, model.RankedItem{Token: token, Count: count})
	}
	slices.SortFunc(items, func(a, b model.RankedItem) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Token, b.Token)
	})
	if k >= 0 && len(items) > k {
		items = items[:k]
	}
	return items
}
