package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/trendbot/internal/ingest"
	"github.com/hitoshi/trendbot/internal/middleware"
	"github.com/hitoshi/trendbot/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをvに読み込む。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: model.CategoryValidation,
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// ストア障害は空の結果にせず503で返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	}

	switch {
	case errors.Is(err, model.ErrStoreUnavailable):
		slog.Error("store unavailable", attrs...)
		middleware.WriteStoreUnavailable(w)
	case errors.Is(err, ingest.ErrClosed):
		middleware.WriteShuttingDown(w)
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("request timed out", attrs...)
		middleware.WriteTimeout(w)
	default:
		// APIError以外のエラーは内部サーバーエラーとして扱う
		slog.Error("internal server error", attrs...)
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeScopeNotFound, "SNAPSHOT_NOT_FOUND", "TRACK_NOT_FOUND":
		return http.StatusNotFound
	case model.ErrCodeNotAdmin:
		return http.StatusForbidden
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	switch apiErr.Category {
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryAuth:
		return http.StatusForbidden
	case model.CategoryScope:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// scopeParam はURLパスの{scope}をScopeIDに変換する。"_global"はグローバルスコープ。
func scopeParam(r *http.Request) model.ScopeID {
	return model.ParseScopeParam(chi.URLParam(r, "scope"))
}

// queryPeriod はクエリパラメータperiodを解析する。未指定の場合は日次。
func queryPeriod(r *http.Request) (model.Period, error) {
	return model.ParsePeriod(r.URL.Query().Get("period"))
}

// queryItemType はクエリパラメータtypeを解析する。未指定の場合は単語。
func queryItemType(r *http.Request) (model.ItemType, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return model.ItemTypeWord, nil
	}
	return model.ParseItemType(raw)
}

// queryItemTypes はカンマ区切りのクエリパラメータtypesを解析する。未指定の場合はnil。
func queryItemTypes(r *http.Request) ([]model.ItemType, error) {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil, nil
	}
	var types []model.ItemType
	for _, part := range strings.Split(raw, ",") {
		t, err := model.ParseItemType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// queryInt はクエリパラメータを整数として解析する。未指定の場合はdefを返す。
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// queryBool はクエリパラメータを真偽値として解析する。不正な値はdefとして扱う。
func queryBool(r *http.Request, key string, def bool) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
