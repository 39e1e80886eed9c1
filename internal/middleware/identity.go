// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ヘッダー名
const (
	// HeaderUserID はボットゲートウェイが操作ユーザーを伝えるヘッダー。
	HeaderUserID = "X-User-ID"
	// HeaderRequestID はリクエストの相関ID。
	HeaderRequestID = "X-Request-ID"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey    = contextKey("user_id")
	requestIDContextKey = contextKey("request_id")
)

// NewIdentityMiddleware は操作ユーザーIDとリクエストIDをコンテキストに注入するミドルウェアを返す。
// ユーザーIDは任意。設定変更など操作者が必要なハンドラ側で検証する。
// リクエストIDがヘッダーにない場合は新規に採番し、レスポンスヘッダーにも設定する。
func NewIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)
			ctx = context.WithValue(ctx, requestIDContextKey, requestID)

			if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
				ctx = context.WithValue(ctx, userIDContextKey, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストから操作ユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// RequestIDFromContext はリクエストIDを返す。ない場合は空文字列を返す。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// ClientKey はレート制限に使う呼び出し元の識別子を返す。
// 操作ユーザーIDがあればそれを、なければ接続元IPを使う。
func ClientKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
