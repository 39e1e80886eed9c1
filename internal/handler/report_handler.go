package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/report"
	"github.com/hitoshi/trendbot/internal/trend"
)

// ReportBuilder はレポート組み立てのインターフェース。
type ReportBuilder interface {
	Build(ctx context.Context, req report.Request) (*model.Report, error)
	TrackReport(ctx context.Context, userID string, scope model.ScopeID, withCharts bool) (*model.TrackReport, error)
}

// TrendQuerier はランキングと時系列の問い合わせインターフェース。
type TrendQuerier interface {
	TopItems(ctx context.Context, scope model.ScopeID, itemType model.ItemType, period model.Period, k int) ([]model.RankedItem, error)
	RisingTrends(ctx context.Context, scope model.ScopeID, itemType model.ItemType, period model.Period, k int) ([]model.TrendChange, error)
	TokenSeries(ctx context.Context, scope model.ScopeID, itemType model.ItemType, token string, period model.Period) ([]model.DailyCount, error)
	RefreshSnapshot(ctx context.Context, scope model.ScopeID, period model.Period) (*model.Snapshot, error)
	Snapshot(ctx context.Context, scope model.ScopeID, period model.Period, date time.Time) (*model.Snapshot, error)
}

// ReportHandler はレポートとランキングAPIのHTTPハンドラー。
type ReportHandler struct {
	builder ReportBuilder
	trends  TrendQuerier
}

// NewReportHandler は新しいReportHandlerを生成する。
func NewReportHandler(builder ReportBuilder, trends TrendQuerier) *ReportHandler {
	return &ReportHandler{builder: builder, trends: trends}
}

// textResponse はformat=textのレスポンス。
type textResponse struct {
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
}

// topResponse はGET /api/scopes/{scope}/top のレスポンス。
type topResponse struct {
	Scope  string             `json:"scope_id"`
	Type   model.ItemType     `json:"type"`
	Period model.Period       `json:"period"`
	Items  []model.RankedItem `json:"items"`
}

// risingResponse はGET /api/scopes/{scope}/rising のレスポンス。
type risingResponse struct {
	Scope   string              `json:"scope_id"`
	Type    model.ItemType      `json:"type"`
	Period  model.Period        `json:"period"`
	Changes []model.TrendChange `json:"changes"`
}

// seriesResponse はGET /api/scopes/{scope}/series のレスポンス。
type seriesResponse struct {
	Scope  string             `json:"scope_id"`
	Type   model.ItemType     `json:"type"`
	Token  string             `json:"token"`
	Period model.Period       `json:"period"`
	Points []model.DailyCount `json:"points"`
}

// GetReport はGET /api/reports を処理する。
// クエリ: scope, period, types（カンマ区切り）, k, charts, format=text
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	period, err := queryPeriod(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	types, err := queryItemTypes(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	k, ok := queryInt(r, "k", 0)
	if !ok {
		handleServiceError(w, r, model.NewInvalidLimitError(0, trend.MinK, trend.MaxK))
		return
	}

	rep, err := h.builder.Build(r.Context(), report.Request{
		Scope:      model.ParseScopeParam(r.URL.Query().Get("scope")),
		Period:     period,
		ItemTypes:  types,
		K:          k,
		WithCharts: queryBool(r, "charts", false),
		Trigger:    report.TriggerAPI,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		writeJSON(w, http.StatusOK, textResponse{Text: report.FormatText(rep), Degraded: rep.Degraded})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// TopItems はGET /api/scopes/{scope}/top を処理する。
func (h *ReportHandler) TopItems(w http.ResponseWriter, r *http.Request) {
	scope := scopeParam(r)
	itemType, period, k, ok := h.rankingQuery(w, r)
	if !ok {
		return
	}

	items, err := h.trends.TopItems(r.Context(), scope, itemType, period, k)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topResponse{Scope: scope.Param(), Type: itemType, Period: period, Items: items})
}

// RisingTrends はGET /api/scopes/{scope}/rising を処理する。
func (h *ReportHandler) RisingTrends(w http.ResponseWriter, r *http.Request) {
	scope := scopeParam(r)
	itemType, period, k, ok := h.rankingQuery(w, r)
	if !ok {
		return
	}

	changes, err := h.trends.RisingTrends(r.Context(), scope, itemType, period, k)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if changes == nil {
		changes = []model.TrendChange{}
	}
	writeJSON(w, http.StatusOK, risingResponse{Scope: scope.Param(), Type: itemType, Period: period, Changes: changes})
}

// TokenSeries はGET /api/scopes/{scope}/series を処理する。tokenは必須。
func (h *ReportHandler) TokenSeries(w http.ResponseWriter, r *http.Request) {
	scope := scopeParam(r)
	token := r.URL.Query().Get("token")
	if strings.TrimSpace(token) == "" {
		handleServiceError(w, r, model.NewInvalidTokenError(token))
		return
	}
	itemType, err := queryItemType(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	period, err := queryPeriod(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	points, err := h.trends.TokenSeries(r.Context(), scope, itemType, token, period)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{Scope: scope.Param(), Type: itemType, Token: token, Period: period, Points: points})
}

// RefreshSnapshot はPOST /api/scopes/{scope}/snapshots を処理する。
func (h *ReportHandler) RefreshSnapshot(w http.ResponseWriter, r *http.Request) {
	period, err := queryPeriod(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	snap, err := h.trends.RefreshSnapshot(r.Context(), scopeParam(r), period)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetSnapshot はGET /api/scopes/{scope}/snapshots を処理する。
// dateを省略した場合は今日のスナップショットを返す。
func (h *ReportHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	period, err := queryPeriod(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var date time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err = model.ParseDate(raw)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	snap, err := h.trends.Snapshot(r.Context(), scopeParam(r), period, date)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if snap == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "SNAPSHOT_NOT_FOUND",
			Message:  "スナップショットが見つかりません。",
			Category: model.CategoryScope,
			Action:   "POSTで再計算してから取得してください。",
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// rankingQuery はtype, period, kのクエリを解析する。失敗した場合はレスポンスを書き込みfalseを返す。
func (h *ReportHandler) rankingQuery(w http.ResponseWriter, r *http.Request) (model.ItemType, model.Period, int, bool) {
	itemType, err := queryItemType(r)
	if err != nil {
		handleServiceError(w, r, err)
		return "", model.Period{}, 0, false
	}
	period, err := queryPeriod(r)
	if err != nil {
		handleServiceError(w, r, err)
		return "", model.Period{}, 0, false
	}
	k, ok := queryInt(r, "k", 10)
	if !ok {
		handleServiceError(w, r, model.NewInvalidLimitError(0, trend.MinK, trend.MaxK))
		return "", model.Period{}, 0, false
	}
	return itemType, period, k, true
}
