// Package settings はスコープ設定とユーザーの追跡リストのドメインロジックを提供する。
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"

	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/repository"
	"github.com/hitoshi/trendbot/internal/tokenize"
)

// AdminLister はスコープの管理者を取得する外部コラボレータ。
// チャットプラットフォームの管理者一覧APIに相当する。
type AdminLister interface {
	ListAdmins(ctx context.Context, scope model.ScopeID) ([]string, error)
}

// Service は設定と追跡リストのサービス層。
type Service struct {
	scopes   repository.ScopeRepository
	settings repository.SettingsRepository
	tracks   repository.TrackRepository
	admins   AdminLister
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// adminsがnilの場合は管理者チェックを行わない。
func NewService(
	scopes repository.ScopeRepository,
	settings repository.SettingsRepository,
	tracks repository.TrackRepository,
	admins AdminLister,
	logger *slog.Logger,
) *Service {
	return &Service{
		scopes:   scopes,
		settings: settings,
		tracks:   tracks,
		admins:   admins,
		logger:   logger,
	}
}

// RegisterScope はスコープを登録する。新規登録の場合はtrueを返す。
func (s *Service) RegisterScope(ctx context.Context, scope model.Scope) (bool, error) {
	if scope.ID.IsGlobal() || string(scope.ID) == model.GlobalScopeParam {
		return false, model.NewInvalidSettingError("scope_id", "グローバルスコープは登録できません")
	}
	created, err := s.scopes.Register(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("スコープの登録に失敗しました: %w", err)
	}
	return created, nil
}

// ListScopes は登録済みの全スコープを返す。
func (s *Service) ListScopes(ctx context.Context) ([]model.Scope, error) {
	scopes, err := s.scopes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("スコープ一覧の取得に失敗しました: %w", err)
	}
	return scopes, nil
}

// GetSettings はスコープの設定を返す。
// グローバルスコープは設定を持たないため既定値を返す。
func (s *Service) GetSettings(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error) {
	if scope.IsGlobal() {
		def := model.DefaultScopeSettings(scope)
		return &def, nil
	}
	settings, err := s.settings.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("スコープ設定の取得に失敗しました: %w", err)
	}
	if settings == nil {
		return nil, model.NewScopeNotFoundError(scope)
	}
	return settings, nil
}

// UpdateSettings は設定を部分更新する。
// AdminListerが設定されている場合、userIDがスコープの管理者でなければ拒否する。
// 更新対象の行が存在した場合はtrueを返す。
func (s *Service) UpdateSettings(ctx context.Context, scope model.ScopeID, userID string, patch model.SettingsPatch) (bool, error) {
	if scope.IsGlobal() {
		return false, model.NewInvalidSettingError("scope_id", "グローバルスコープの設定は変更できません")
	}
	if patch.IsEmpty() {
		return false, model.NewInvalidSettingError("patch", "変更する項目がありません")
	}
	if err := patch.Validate(); err != nil {
		return false, err
	}
	if err := s.authorize(ctx, scope, userID); err != nil {
		return false, err
	}

	updated, err := s.settings.Update(ctx, scope, patch)
	if err != nil {
		return false, fmt.Errorf("スコープ設定の更新に失敗しました: %w", err)
	}
	if updated {
		s.logger.Info("スコープ設定を更新しました",
			slog.String("scope", string(scope)),
			slog.String("user_id", userID),
		)
	}
	return updated, nil
}

func (s *Service) authorize(ctx context.Context, scope model.ScopeID, userID string) error {
	if s.admins == nil {
		return nil
	}
	if userID == "" {
		return model.NewNotAdminError()
	}
	admins, err := s.admins.ListAdmins(ctx, scope)
	if err != nil {
		return fmt.Errorf("管理者一覧の取得に失敗しました: %w", err)
	}
	if !slices.Contains(admins, userID) {
		s.logger.Warn("管理者以外による設定変更を拒否しました",
			slog.String("scope", string(scope)),
			slog.String("user_id", userID),
		)
		return model.NewNotAdminError()
	}
	return nil
}

// AddTrack は追跡対象を追加する。既に追跡中の場合はfalseを返す。
func (s *Service) AddTrack(ctx context.Context, userID string, itemType model.ItemType, raw string) (model.TrackSubscription, bool, error) {
	sub, err := newSubscription(userID, itemType, raw)
	if err != nil {
		return model.TrackSubscription{}, false, err
	}
	added, err := s.tracks.Add(ctx, sub)
	if err != nil {
		return model.TrackSubscription{}, false, fmt.Errorf("追跡対象の追加に失敗しました: %w", err)
	}
	return sub, added, nil
}

// RemoveTrack は追跡対象を削除する。追跡していなかった場合はfalseを返す。
func (s *Service) RemoveTrack(ctx context.Context, userID string, itemType model.ItemType, raw string) (bool, error) {
	sub, err := newSubscription(userID, itemType, raw)
	if err != nil {
		return false, err
	}
	removed, err := s.tracks.Remove(ctx, sub.UserID, sub.Type, sub.Token)
	if err != nil {
		return false, fmt.Errorf("追跡対象の削除に失敗しました: %w", err)
	}
	return removed, nil
}

// ListTracks はユーザーの追跡対象を返す。
func (s *Service) ListTracks(ctx context.Context, userID string) ([]model.TrackSubscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewInvalidUserError()
	}
	subs, err := s.tracks.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("追跡リストの取得に失敗しました: %w", err)
	}
	return subs, nil
}

func newSubscription(userID string, itemType model.ItemType, raw string) (model.TrackSubscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.TrackSubscription{}, model.NewInvalidUserError()
	}
	if !itemType.Valid() {
		return model.TrackSubscription{}, model.NewInvalidItemTypeError(string(itemType))
	}
	token, ok := NormalizeTrackToken(itemType, raw)
	if !ok {
		return model.TrackSubscription{}, model.NewInvalidTokenError(raw)
	}
	return model.TrackSubscription{UserID: userID, Type: itemType, Token: token}, nil
}

// NormalizeTrackToken はユーザー入力を集計時と同じ形のトークンに変換する。
// ハッシュタグとメンションは先頭の # と @ を除去する。
// 空白を含む入力や、絵文字種別で絵文字以外の入力は受け付けない。
func NormalizeTrackToken(itemType model.ItemType, raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	switch itemType {
	case model.ItemTypeEmoji:
		if s == "" || strings.ContainsFunc(s, unicode.IsSpace) || !gomoji.ContainsEmoji(s) {
			return "", false
		}
		return s, true
	case model.ItemTypeHashtag:
		s = strings.TrimPrefix(s, "#")
	case model.ItemTypeMention:
		s = strings.TrimPrefix(s, "@")
	}
	s = tokenize.Normalize(s)
	if s == "" || strings.ContainsFunc(s, unicode.IsSpace) {
		return "", false
	}
	return s, true
}
