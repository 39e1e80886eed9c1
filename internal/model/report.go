package model

import "time"

// ChartKind はレンダラーに要求するグラフ種別を表す。
type ChartKind string

const (
	ChartBar        ChartKind = "bar"
	ChartWordCloud  ChartKind = "wordcloud"
	ChartTimeSeries ChartKind = "timeseries"
)

// Chart はレンダラーが生成した画像を表す。
// Image はJSONではbase64文字列になる。
type Chart struct {
	Kind  ChartKind `json:"kind"`
	Title string    `json:"title"`
	Image []byte    `json:"image"`
}

// Section は項目種別ごとのランキングと集計値を表す。
type Section struct {
	Type     ItemType     `json:"type"`
	Items    []RankedItem `json:"items"`
	Distinct int          `json:"distinct"`
	Total    int64        `json:"total"`
}

// Report はチャットへ配信するトレンドレポートを表す。
// Degraded はグラフ生成に失敗し、本文のみで配信されることを示す。
type Report struct {
	ID          string        `json:"id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Scope       ScopeID       `json:"scope_id"`
	Period      Period        `json:"period"`
	Range       DateRange     `json:"range"`
	Sections    []Section     `json:"sections"`
	Rising      []TrendChange `json:"rising_trends"`
	Charts      []Chart       `json:"charts,omitempty"`
	Degraded    bool          `json:"degraded"`
}

// Section は指定種別のセクションを返す。存在しない場合はfalseを返す。
func (r *Report) Section(itemType ItemType) (Section, bool) {
	for _, s := range r.Sections {
		if s.Type == itemType {
			return s, true
		}
	}
	return Section{}, false
}

// Empty はすべてのセクションが空かどうかを返す。
func (r *Report) Empty() bool {
	for _, s := range r.Sections {
		if len(s.Items) > 0 {
			return false
		}
	}
	return true
}

// TrackEntry は追跡対象1件の集計結果を表す。
type TrackEntry struct {
	Subscription TrackSubscription `json:"subscription"`
	Total        int64             `json:"total"`
	Series       []DailyCount      `json:"series"`
}

// TrackReport はユーザーの追跡リストに対するレポートを表す。
type TrackReport struct {
	ID          string       `json:"id"`
	GeneratedAt time.Time    `json:"generated_at"`
	UserID      string       `json:"user_id"`
	Scope       ScopeID      `json:"scope_id"`
	Range       DateRange    `json:"range"`
	Entries     []TrackEntry `json:"entries"`
	Charts      []Chart      `json:"charts,omitempty"`
	Degraded    bool         `json:"degraded"`
}

// TrackSubscription はユーザーの追跡対象を表す。
// (user, type, token) ごとに一意で、スコープには依存しない。
type TrackSubscription struct {
	UserID    string    `json:"user_id"`
	Type      ItemType  `json:"type"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// ChartSeries は時系列グラフの1系列を表す。
type ChartSeries struct {
	Label  string       `json:"label"`
	Points []DailyCount `json:"points"`
}

// ChartRequest はレンダラーへの描画要求を表す。
// bar と wordcloud は Items を、timeseries は Series を使用する。
type ChartRequest struct {
	Kind   ChartKind     `json:"kind"`
	Title  string        `json:"title"`
	Items  []RankedItem  `json:"items,omitempty"`
	Series []ChartSeries `json:"series,omitempty"`
}
