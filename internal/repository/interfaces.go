// Package repository はデータ永続化のインターフェースを定義する。
//
// 永続化の失敗はすべて *model.StoreError として返され、
// errors.Is(err, model.ErrStoreUnavailable) で判別できる。
// 該当データがない場合はエラーではなく空のスライスやマップを返す。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

// CounterRepository は (scope, item_type, token, date) ごとの日別カウンタの永続化インターフェース。
type CounterRepository interface {
	// Increment はカウンタにbyを加算する。キーが存在しない場合はbyで作成する。
	// 同一キーへの同時加算はすべて反映される。
	Increment(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, date time.Time, by int64) error

	// IncrementBatch は複数の加算を1トランザクションで適用する。
	// 行ロックの取得順を揃えるため、キーはソートしてから適用する。
	IncrementBatch(ctx context.Context, incs []model.Increment) error

	// TopK は期間内の合計カウントの降順（同数はトークンの辞書順）で上位k件を返す。
	// グローバルスコープの場合は全スコープを集計する。
	TopK(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange, k int) ([]model.RankedItem, error)

	// RangeTotals は期間内のトークンごとの合計カウントを返す。
	RangeTotals(ctx context.Context, scope model.ScopeID, itemType model.ItemType, r model.DateRange) (map[string]int64, error)

	// Series は1トークンの日別カウントを日付の昇順で返す。
	Series(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, r model.DateRange) ([]model.DailyCount, error)

	// DeleteBefore はdateより前のバケットを削除し、削除件数を返す。
	DeleteBefore(ctx context.Context, date time.Time) (int64, error)
}

// ScopeRepository は会話グループの永続化インターフェース。
type ScopeRepository interface {
	// Register はスコープを登録する。未登録の場合は既定値の設定も同時に作成する。
	// 新規に作成した場合はtrueを返す。
	Register(ctx context.Context, scope model.Scope) (bool, error)

	// Get は指定IDのスコープを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, id model.ScopeID) (*model.Scope, error)

	// List は登録済みの全スコープを返す。
	List(ctx context.Context) ([]model.Scope, error)
}

// SettingsRepository はスコープ設定の永続化インターフェース。
type SettingsRepository interface {
	// Get は指定スコープの設定を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error)

	// Update は設定を部分更新する。更新対象の行が存在した場合はtrueを返す。
	Update(ctx context.Context, scope model.ScopeID, patch model.SettingsPatch) (bool, error)

	// ListAutoReports は自動レポートが有効なスコープの配信設定を返す。
	ListAutoReports(ctx context.Context) ([]model.AutoReport, error)
}

// TrackRepository はユーザーの追跡リストの永続化インターフェース。
type TrackRepository interface {
	// Add は追跡対象を追加する。既に存在する場合はfalseを返す。
	Add(ctx context.Context, sub model.TrackSubscription) (bool, error)

	// Remove は追跡対象を削除する。存在しなかった場合はfalseを返す。
	Remove(ctx context.Context, userID string, itemType model.ItemType, token string) (bool, error)

	// ListByUser はユーザーの追跡対象を作成日時の昇順で返す。
	ListByUser(ctx context.Context, userID string) ([]model.TrackSubscription, error)
}

// SnapshotRepository は事前計算ランキングの永続化インターフェース。
type SnapshotRepository interface {
	// Replace は (scope, period, date) の既存行を削除してから新しい行を挿入する。
	// 削除と挿入は1トランザクションで行う。
	Replace(ctx context.Context, snap model.Snapshot) error

	// Get は (scope, period, date) のスナップショットを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, scope model.ScopeID, period model.Period, date time.Time) (*model.Snapshot, error)

	// DeleteBefore はdateより前のスナップショットを削除し、削除件数を返す。
	DeleteBefore(ctx context.Context, date time.Time) (int64, error)
}

// toDate はドライバが返した日付をUTC 0時のカレンダー日付に揃える。
func toDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
