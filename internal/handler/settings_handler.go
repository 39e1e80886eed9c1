package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/trendbot/internal/middleware"
	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/report"
)

// SettingsServiceInterface はスコープ設定と追跡リストのサービスインターフェース。
type SettingsServiceInterface interface {
	ListScopes(ctx context.Context) ([]model.Scope, error)
	GetSettings(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error)
	UpdateSettings(ctx context.Context, scope model.ScopeID, userID string, patch model.SettingsPatch) (bool, error)
	AddTrack(ctx context.Context, userID string, itemType model.ItemType, raw string) (model.TrackSubscription, bool, error)
	RemoveTrack(ctx context.Context, userID string, itemType model.ItemType, raw string) (bool, error)
	ListTracks(ctx context.Context, userID string) ([]model.TrackSubscription, error)
}

// SettingsHandler はスコープ設定と追跡リストAPIのHTTPハンドラー。
type SettingsHandler struct {
	service SettingsServiceInterface
	builder ReportBuilder
}

// NewSettingsHandler は新しいSettingsHandlerを生成する。
func NewSettingsHandler(service SettingsServiceInterface, builder ReportBuilder) *SettingsHandler {
	return &SettingsHandler{service: service, builder: builder}
}

// updateSettingsResponse はPATCH /api/scopes/{scope}/settings のレスポンス。
type updateSettingsResponse struct {
	Updated  bool                 `json:"updated"`
	Settings *model.ScopeSettings `json:"settings"`
}

// addTrackRequest はPOST /api/users/{user}/tracks のリクエストボディ。
type addTrackRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ListScopes はGET /api/scopes を処理する。
func (h *SettingsHandler) ListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.service.ListScopes(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if scopes == nil {
		scopes = []model.Scope{}
	}
	writeJSON(w, http.StatusOK, scopes)
}

// GetSettings はGET /api/scopes/{scope}/settings を処理する。
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context(), scopeParam(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings はPATCH /api/scopes/{scope}/settings を処理する。
// 操作ユーザーはX-User-IDヘッダーから取得し、管理者権限の判定はサービス層で行う。
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	scope := scopeParam(r)

	var patch model.SettingsPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	// 未指定のユーザーは空文字列として管理者判定に委ねる
	userID, _ := middleware.UserIDFromContext(r.Context())
	updated, err := h.service.UpdateSettings(r.Context(), scope, userID, patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !updated {
		handleServiceError(w, r, model.NewScopeNotFoundError(scope))
		return
	}

	settings, err := h.service.GetSettings(r.Context(), scope)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateSettingsResponse{Updated: true, Settings: settings})
}

// ListTracks はGET /api/users/{user}/tracks を処理する。
func (h *SettingsHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.service.ListTracks(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []model.TrackSubscription{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// AddTrack はPOST /api/users/{user}/tracks を処理する。
// 新規追加の場合は201、登録済みの場合は200を返す。
func (h *SettingsHandler) AddTrack(w http.ResponseWriter, r *http.Request) {
	var req addTrackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	itemType, err := model.ParseItemType(req.Type)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	sub, created, err := h.service.AddTrack(r.Context(), chi.URLParam(r, "user"), itemType, req.Token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sub)
}

// RemoveTrack はDELETE /api/users/{user}/tracks?type=&token= を処理する。
func (h *SettingsHandler) RemoveTrack(w http.ResponseWriter, r *http.Request) {
	itemType, err := queryItemType(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	if strings.TrimSpace(token) == "" {
		handleServiceError(w, r, model.NewInvalidTokenError(token))
		return
	}

	removed, err := h.service.RemoveTrack(r.Context(), chi.URLParam(r, "user"), itemType, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !removed {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "TRACK_NOT_FOUND",
			Message:  "追跡対象が見つかりません。",
			Category: model.CategoryValidation,
			Action:   "追跡リストを確認してください。",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TrackReport はGET /api/users/{user}/tracks/report を処理する。
func (h *SettingsHandler) TrackReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.builder.TrackReport(r.Context(),
		chi.URLParam(r, "user"),
		model.ParseScopeParam(r.URL.Query().Get("scope")),
		queryBool(r, "charts", false),
	)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		writeJSON(w, http.StatusOK, textResponse{Text: report.FormatTrackText(rep), Degraded: rep.Degraded})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
