package repository

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/hitoshi/trendbot/internal/model"
)

type trackKey struct {
	userID   string
	itemType model.ItemType
	token    string
}

// MemoryTrackRepo はプロセス内メモリに保持する追跡リストリポジトリ。
type MemoryTrackRepo struct {
	mu   sync.RWMutex
	subs map[trackKey]model.TrackSubscription
}

// NewMemoryTrackRepo はMemoryTrackRepoを生成する。
func NewMemoryTrackRepo() *MemoryTrackRepo {
	return &MemoryTrackRepo{subs: make(map[trackKey]model.TrackSubscription)}
}

// Add は追跡対象を追加する。既に存在する場合はfalseを返す。
func (r *MemoryTrackRepo) Add(ctx context.Context, sub model.TrackSubscription) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, model.NewStoreError("追跡対象の追加に失敗しました", err)
	}
	key := trackKey{userID: sub.UserID, itemType: sub.Type, token: sub.Token}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[key]; ok {
		return false, nil
	}
	r.subs[key] = sub
	return true, nil
}

// Remove は追跡対象を削除する。存在しなかった場合はfalseを返す。
func (r *MemoryTrackRepo) Remove(ctx context.Context, userID string, itemType model.ItemType, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, model.NewStoreError("追跡対象の削除に失敗しました", err)
	}
	key := trackKey{userID: userID, itemType: itemType, token: token}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[key]; !ok {
		return false, nil
	}
	delete(r.subs, key)
	return true, nil
}

// ListByUser はユーザーの追跡対象を作成日時の昇順で返す。
func (r *MemoryTrackRepo) ListByUser(ctx context.Context, userID string) ([]model.TrackSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("追跡リストの取得に失敗しました", err)
	}
	r.mu.RLock()
	subs := []model.TrackSubscription{}
	for key, sub := range r.subs {
		if key.userID == userID {
			subs = append(subs, sub)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(subs, func(a, b model.TrackSubscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
			return c
		}
		return strings.Compare(a.Token, b.Token)
	})
	return subs, nil
}
