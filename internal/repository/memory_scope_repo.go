package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

// MemoryScopeRepo はプロセス内メモリに保持するスコープと設定のリポジトリ。
// スコープ登録時に設定も作成するため、設定は Settings() のビューから参照する。
type MemoryScopeRepo struct {
	mu       sync.RWMutex
	scopes   map[model.ScopeID]model.Scope
	settings map[model.ScopeID]model.ScopeSettings
	defaults model.ScopeSettings
	now      func() time.Time
}

// NewMemoryScopeRepo はMemoryScopeRepoを生成する。
func NewMemoryScopeRepo(defaults model.ScopeSettings) *MemoryScopeRepo {
	return &MemoryScopeRepo{
		scopes:   make(map[model.ScopeID]model.Scope),
		settings: make(map[model.ScopeID]model.ScopeSettings),
		defaults: defaults,
		now:      time.Now,
	}
}

// Register はスコープを登録し、未作成であれば既定値の設定を作成する。
func (r *MemoryScopeRepo) Register(ctx context.Context, scope model.Scope) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, model.NewStoreError("スコープの登録に失敗しました", err)
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.scopes[scope.ID]
	if ok {
		if scope.Title != "" && scope.Title != existing.Title {
			existing.Title = scope.Title
			existing.UpdatedAt = now
			r.scopes[scope.ID] = existing
		}
	} else {
		r.scopes[scope.ID] = model.Scope{ID: scope.ID, Title: scope.Title, CreatedAt: now, UpdatedAt: now}
	}

	if _, exists := r.settings[scope.ID]; !exists {
		s := r.defaults
		s.Scope = scope.ID
		s.UpdatedAt = now
		r.settings[scope.ID] = s
	}
	return !ok, nil
}

// Get は指定IDのスコープを取得する。見つからない場合はnilを返す。
func (r *MemoryScopeRepo) Get(ctx context.Context, id model.ScopeID) (*model.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("スコープの取得に失敗しました", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scopes[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// List は登録済みの全スコープをID順に返す。
func (r *MemoryScopeRepo) List(ctx context.Context) ([]model.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("スコープ一覧の取得に失敗しました", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopes := make([]model.Scope, 0, len(r.scopes))
	for _, s := range r.scopes {
		scopes = append(scopes, s)
	}
	slices.SortFunc(scopes, func(a, b model.Scope) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return scopes, nil
}

// GetSettings は指定スコープの設定を取得する。見つからない場合はnilを返す。
func (r *MemoryScopeRepo) GetSettings(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("スコープ設定の取得に失敗しました", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.settings[scope]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Update は設定を部分更新する。
func (r *MemoryScopeRepo) Update(ctx context.Context, scope model.ScopeID, patch model.SettingsPatch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, model.NewStoreError("スコープ設定の更新に失敗しました", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.settings[scope]
	if !ok {
		return false, nil
	}
	s = patch.Apply(s)
	s.UpdatedAt = r.now()
	r.settings[scope] = s
	return true, nil
}

// ListAutoReports は自動レポートが有効なスコープの配信設定を返す。
func (r *MemoryScopeRepo) ListAutoReports(ctx context.Context) ([]model.AutoReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewStoreError("自動レポート設定の取得に失敗しました", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := []model.AutoReport{}
	for _, s := range r.settings {
		if !s.AutoReportEnabled {
			continue
		}
		reports = append(reports, model.AutoReport{
			Scope:     s.Scope,
			Time:      s.AutoReportTime,
			Frequency: s.AutoReportFrequency,
			MaxItems:  s.MaxItems,
		})
	}
	slices.SortFunc(reports, func(a, b model.AutoReport) int {
		return strings.Compare(string(a.Scope), string(b.Scope))
	})
	return reports, nil
}

// Settings はSettingsRepositoryとして振る舞うビューを返す。
// ScopeRepository.Get と SettingsRepository.Get の名前が衝突するため分離している。
func (r *MemoryScopeRepo) Settings() SettingsRepository {
	return memorySettingsView{r}
}

type memorySettingsView struct {
	repo *MemoryScopeRepo
}

func (v memorySettingsView) Get(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error) {
	return v.repo.GetSettings(ctx, scope)
}

func (v memorySettingsView) Update(ctx context.Context, scope model.ScopeID, patch model.SettingsPatch) (bool, error) {
	return v.repo.Update(ctx, scope, patch)
}

func (v memorySettingsView) ListAutoReports(ctx context.Context) ([]model.AutoReport, error) {
	return v.repo.ListAutoReports(ctx)
}
