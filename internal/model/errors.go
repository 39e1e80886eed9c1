// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, scope, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryScope      = "scope"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidPeriod    = "INVALID_PERIOD"
	ErrCodeInvalidItemType  = "INVALID_ITEM_TYPE"
	ErrCodeInvalidLimit     = "INVALID_LIMIT"
	ErrCodeInvalidDateRange = "INVALID_DATE_RANGE"
	ErrCodeInvalidSetting   = "INVALID_SETTING"
	ErrCodeInvalidToken     = "INVALID_TOKEN"
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeInvalidUser      = "INVALID_USER"
	ErrCodeScopeNotFound    = "SCOPE_NOT_FOUND"
	ErrCodeNotAdmin         = "NOT_ADMIN"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// ErrStoreUnavailable は永続化層が一時的に利用できないことを表す。
// 呼び出し側はバックオフ付きでリトライしてよいが、空の結果として扱ってはならない。
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrRenderFailure は外部レンダラーが画像を生成できなかったことを表す。
// レポート本文はグラフなしで配信される。
var ErrRenderFailure = errors.New("render failure")

// StoreError は永続化操作の失敗を表す。
// errors.Is(err, ErrStoreUnavailable) が真になる。
type StoreError struct {
	Op  string // 失敗した操作名
	Err error  // ドライバから返された元のエラー
}

// NewStoreError はStoreErrorを生成する。
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap はErrStoreUnavailableと元のエラーの両方を返す。
func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// IsValidation はerrが入力検証エラーかどうかを返す。
func IsValidation(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == CategoryValidation
	}
	return false
}

// NewInvalidPeriodError は無効な集計期間エラーを生成する。
func NewInvalidPeriodError(period string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPeriod,
		Message:  fmt.Sprintf("無効な集計期間です: %s", period),
		Category: CategoryValidation,
		Action:   "期間には daily、weekly、monthly、alltime、または custom:N（Nは1から90）を指定してください。",
	}
}

// NewInvalidItemTypeError は無効な項目種別エラーを生成する。
func NewInvalidItemTypeError(itemType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidItemType,
		Message:  fmt.Sprintf("無効な項目種別です: %s", itemType),
		Category: CategoryValidation,
		Action:   "種別には word、hashtag、mention、emoji のいずれかを指定してください。",
	}
}

// NewInvalidLimitError は取得件数が範囲外の場合のエラーを生成する。
func NewInvalidLimitError(k, min, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な取得件数です: %d", k),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("取得件数は%dから%dの範囲で指定してください。", min, max),
	}
}

// NewInvalidDateRangeError は日付範囲が不正な場合のエラーを生成する。
func NewInvalidDateRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDateRange,
		Message:  fmt.Sprintf("無効な日付範囲です: %s", reason),
		Category: CategoryValidation,
		Action:   "開始日が終了日以前になるように指定してください。",
	}
}

// NewInvalidSettingError はスコープ設定値が不正な場合のエラーを生成する。
func NewInvalidSettingError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSetting,
		Message:  fmt.Sprintf("無効な設定値です（%s）: %s", field, reason),
		Category: CategoryValidation,
		Action:   "最小単語長は2から10、レポート件数は5から50、時刻はHH:MM形式で指定してください。",
	}
}

// NewInvalidTokenError は追跡対象のトークンが不正な場合のエラーを生成する。
func NewInvalidTokenError(token string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  fmt.Sprintf("無効なトークンです: %q", token),
		Category: CategoryValidation,
		Action:   "空でない単語、ハッシュタグ、メンションを指定してください。",
	}
}

// NewInvalidUserError はユーザーIDが指定されていない場合のエラーを返す。
func NewInvalidUserError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUser,
		Message:  "ユーザーIDが指定されていません。",
		Category: CategoryValidation,
		Action:   "追跡リストを操作するユーザーを指定してください。",
	}
}

// NewInvalidMessageError は取り込みメッセージが不正な場合のエラーを生成する。
func NewInvalidMessageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMessage,
		Message:  fmt.Sprintf("無効なメッセージです: %s", reason),
		Category: CategoryValidation,
		Action:   "scope_id と text を含むメッセージを送信してください。",
	}
}

// NewScopeNotFoundError はスコープが登録されていない場合のエラーを生成する。
func NewScopeNotFoundError(scope ScopeID) *APIError {
	return &APIError{
		Code:     ErrCodeScopeNotFound,
		Message:  fmt.Sprintf("指定されたスコープが見つかりません: %s", scope),
		Category: CategoryScope,
		Action:   "ボットがグループに追加されているか確認してください。",
	}
}

// NewNotAdminError はグループ管理者以外が設定を変更しようとした場合のエラーを生成する。
func NewNotAdminError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAdmin,
		Message:  "この操作はグループ管理者のみ実行できます。",
		Category: CategoryAuth,
		Action:   "グループ管理者に設定変更を依頼してください。",
	}
}
