package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/trendbot/internal/model"
)

// システムエラーのコード
const (
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeShuttingDown      = "SHUTTING_DOWN"
	ErrCodeTimeout           = "TIMEOUT"
)

// storeRetryAfterSeconds はストア障害時に再試行を促すまでの秒数。
const storeRetryAfterSeconds = 5

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// チャットゲートウェイはcodeで分岐し、messageとactionをそのまま利用者に見せる。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はapiErrを統一エラーフォーマットで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteRetryableError はRetry-Afterヘッダー付きでエラーを書き込む。
// retryAfterが0以下の場合はヘッダーを付けない。
func WriteRetryableError(w http.ResponseWriter, statusCode, retryAfter int, apiErr *model.APIError) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	WriteErrorResponse(w, statusCode, apiErr)
}

func systemError(code, message, action string) *model.APIError {
	return &model.APIError{
		Code:     code,
		Message:  message,
		Category: model.CategorySystem,
		Action:   action,
	}
}

// WriteInternalServerError は内部エラーの500を書き込む。詳細はログにだけ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError,
		systemError(ErrCodeInternal, "内部エラーが発生しました。", "しばらく待ってから再度お試しください。"))
}

// WriteStoreUnavailable はストア障害時の503を書き込む。
// 空の集計結果として返さず、呼び出し側に再試行させる。
func WriteStoreUnavailable(w http.ResponseWriter) {
	WriteRetryableError(w, http.StatusServiceUnavailable, storeRetryAfterSeconds,
		systemError(model.ErrCodeStoreUnavailable, "集計データストアに一時的に接続できません。", "しばらく待ってから再度お試しください。"))
}

// WriteShuttingDown は停止処理中に受け付けたリクエストへの503を書き込む。
func WriteShuttingDown(w http.ResponseWriter) {
	WriteRetryableError(w, http.StatusServiceUnavailable, storeRetryAfterSeconds,
		systemError(ErrCodeShuttingDown, "サーバーが停止処理中です。", "しばらく待ってから再度お試しください。"))
}

// WriteTimeout はクエリが期限内に終わらなかった場合の504を書き込む。
func WriteTimeout(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusGatewayTimeout,
		systemError(ErrCodeTimeout, "処理がタイムアウトしました。", "期間を短くするか、しばらく待ってから再度お試しください。"))
}

// WriteRateLimited はレート制限超過の429を書き込む。
func WriteRateLimited(w http.ResponseWriter, retryAfter int) {
	WriteRetryableError(w, http.StatusTooManyRequests, max(1, retryAfter),
		systemError(ErrCodeRateLimitExceeded, "リクエストが多すぎます。", "Retry-Afterで指定された秒数だけ待ってから再度お試しください。"))
}
