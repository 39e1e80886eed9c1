package model

import (
	"strings"
	"time"
)

// ItemType は集計対象の項目種別を表す。
// 閉じた集合であり、追加にはスキーマ変更を伴う。
type ItemType string

const (
	// ItemTypeWord は通常の単語。
	ItemTypeWord ItemType = "word"
	// ItemTypeHashtag は#付きのハッシュタグ（#は除去して保存する）。
	ItemTypeHashtag ItemType = "hashtag"
	// ItemTypeMention は@付きのメンション（@は除去して保存する）。
	ItemTypeMention ItemType = "mention"
	// ItemTypeEmoji は絵文字。
	ItemTypeEmoji ItemType = "emoji"
)

// AllItemTypes は全項目種別を表示順で返す。
func AllItemTypes() []ItemType {
	return []ItemType{ItemTypeWord, ItemTypeHashtag, ItemTypeMention, ItemTypeEmoji}
}

// Valid は項目種別が既知の値かどうかを返す。
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeWord, ItemTypeHashtag, ItemTypeMention, ItemTypeEmoji:
		return true
	}
	return false
}

// ParseItemType は文字列を項目種別に変換する。
// 未知の値はバリデーションエラーになる。
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", NewInvalidItemTypeError(s)
	}
	return t, nil
}

// Display は項目をチャットに表示する際の文字列を返す。
func (t ItemType) Display(token string) string {
	switch t {
	case ItemTypeHashtag:
		return "#" + token
	case ItemTypeMention:
		return "@" + token
	default:
		return token
	}
}

// CounterKey は集計バケットの一意キー。
// 1キーにつき1つのカウントだけが存在する。
type CounterKey struct {
	Scope ScopeID
	Type  ItemType
	Token string
	Date  time.Time // カレンダー日付（UTCの0時）
}

// CounterEntry はバケットの累積カウント。
// 初回のインクリメントで作成され、減算されることはない。
type CounterEntry struct {
	Key   CounterKey
	Count int64
}

// Increment は1回のアップサート加算を表す。
type Increment struct {
	Key CounterKey
	By  int64
}

// RankedItem はランキングの1行を表す。
type RankedItem struct {
	Token string `json:"token"`
	Count int64  `json:"count"`
}

// DailyCount は1トークンの日別カウントを表す。
type DailyCount struct {
	Date  time.Time `json:"date"`
	Count int64     `json:"count"`
}

// Tokens はメッセージから抽出された分類済みトークン。
// 同じトークンの複数回の出現はそのまま保持する。
type Tokens struct {
	Words    []string `json:"words"`
	Hashtags []string `json:"hashtags"`
	Mentions []string `json:"mentions"`
	Emoji    []string `json:"emoji"`
}

// ByType は項目種別ごとのトークン列を返す。
func (t Tokens) ByType(itemType ItemType) []string {
	switch itemType {
	case ItemTypeWord:
		return t.Words
	case ItemTypeHashtag:
		return t.Hashtags
	case ItemTypeMention:
		return t.Mentions
	case ItemTypeEmoji:
		return t.Emoji
	}
	return nil
}

// Len は全種別のトークン数の合計を返す。
func (t Tokens) Len() int {
	return len(t.Words) + len(t.Hashtags) + len(t.Mentions) + len(t.Emoji)
}
