package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

type snapshotKey struct {
	scope  model.ScopeID
	period string
	date   time.Time
}

// MemorySnapshotRepo はプロセス内メモリに保持するスナップショットリポジトリ。
type MemorySnapshotRepo struct {
	mu    sync.RWMutex
	snaps map[snapshotKey]model.Snapshot
}

// NewMemorySnapshotRepo はMemorySnapshotRepoを生成する。
func NewMemorySnapshotRepo() *MemorySnapshotRepo {
	return &MemorySnapshotRepo{snaps: make(map[snapshotKey]model.Snapshot)}
}

// Replace は (scope, period, date) のスナップショットを置き換える。
// 行のないスナップショットも「計算済み・データなし」として保存する。
func (r *MemorySnapshotRepo) Replace(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return model.NewStoreError("スナップショットの保存に失敗しました", err)
	}
	snap.Date = toDate(snap.Date)
	snap.Rows = slices.Clone(snap.Rows)
	key := snapshotKey{scope: snap.Scope, period: snap.Period.String(), date: snap.Date}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[key] = snap
	return nil
}

// Get は (scope, period, date) のスナップショットを取得する。
// 一度も計算されていない場合はnilを返し、計算済みで行がない場合は空のRowsを返す。
func (r *MemorySnapshotRepo) Get(ctx context.Context, scope model.ScopeID, period model.Period, date time.Time) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("スナップショットの取得に失敗しました", err)
	}
	key := snapshotKey{scope: scope, period: period.String(), date: toDate(date)}

	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snaps[key]
	if !ok {
		return nil, nil
	}
	snap.Rows = append([]model.SnapshotRow{}, snap.Rows...)
	return &snap, nil
}

// DeleteBefore はdateより前のスナップショットを削除する。
// 削除件数は行単位で数える。
func (r *MemorySnapshotRepo) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.NewStoreError("古いスナップショットの削除に失敗しました", err)
	}
	cutoff := toDate(date)

	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key, snap := range r.snaps {
		if key.date.Before(cutoff) {
			deleted += int64(len(snap.Rows))
			delete(r.snaps, key)
		}
	}
	return deleted, nil
}
