package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeriodKind は集計期間の種別を表す。
type PeriodKind string

const (
	// PeriodDaily は当日のみ。
	PeriodDaily PeriodKind = "daily"
	// PeriodWeekly は直近7日間。
	PeriodWeekly PeriodKind = "weekly"
	// PeriodMonthly は直近30日間。
	PeriodMonthly PeriodKind = "monthly"
	// PeriodAllTime は全期間。
	PeriodAllTime PeriodKind = "alltime"
	// PeriodCustom は直近N日間。
	PeriodCustom PeriodKind = "custom"
)

// カスタム期間の日数の許容範囲
const (
	MinCustomDays = 1
	MaxCustomDays = 90
)

// Period は名前付きまたはカスタムの集計期間を表す。
// Days はカスタム期間でのみ使用する。
type Period struct {
	Kind PeriodKind
	Days int
}

// 定義済みの集計期間
var (
	Daily   = Period{Kind: PeriodDaily}
	Weekly  = Period{Kind: PeriodWeekly}
	Monthly = Period{Kind: PeriodMonthly}
	AllTime = Period{Kind: PeriodAllTime}
)

// CustomPeriod は直近days日間のカスタム期間を返す。
func CustomPeriod(days int) Period {
	return Period{Kind: PeriodCustom, Days: days}
}

// ParsePeriod は文字列表現を集計期間に変換する。
// "daily"、"weekly"、"monthly"、"alltime"、"custom:N" を受け付ける。
func ParsePeriod(s string) (Period, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	switch raw {
	case "", string(PeriodDaily):
		return Daily, nil
	case string(PeriodWeekly):
		return Weekly, nil
	case string(PeriodMonthly):
		return Monthly, nil
	case string(PeriodAllTime), "all", "all-time":
		return AllTime, nil
	}

	daysStr, ok := strings.CutPrefix(raw, string(PeriodCustom)+":")
	if !ok {
		return Period{}, NewInvalidPeriodError(s)
	}
	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return Period{}, NewInvalidPeriodError(s)
	}
	p := CustomPeriod(days)
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate は集計期間が有効かどうかを検証する。
func (p Period) Validate() error {
	switch p.Kind {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return nil
	case PeriodCustom:
		if p.Days < MinCustomDays || p.Days > MaxCustomDays {
			return NewInvalidPeriodError(p.String())
		}
		return nil
	}
	return NewInvalidPeriodError(string(p.Kind))
}

// String は集計期間の文字列表現を返す。ParsePeriodで復元できる。
func (p Period) String() string {
	if p.Kind == PeriodCustom {
		return fmt.Sprintf("%s:%d", PeriodCustom, p.Days)
	}
	return string(p.Kind)
}

// MarshalText はJSONなどのテキスト表現を返す。
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText はテキスト表現から集計期間を復元する。
func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Title はレポート見出しに使うトルコ語の期間名を返す。
func (p Period) Title() string {
	switch p.Kind {
	case PeriodDaily:
		return "Günlük"
	case PeriodWeekly:
		return "Haftalık"
	case PeriodMonthly:
		return "Aylık"
	case PeriodAllTime:
		return "Tüm Zamanlar"
	case PeriodCustom:
		return fmt.Sprintf("Son %d Günlük", p.Days)
	}
	return string(p.Kind)
}

// DateRange は両端を含むカレンダー日付の範囲を表す。
// Start と End がともにゼロ値の場合は全期間（上下限なし）を表す。
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Unbounded は範囲が全期間を表すかどうかを返す。
func (r DateRange) Unbounded() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Days は範囲に含まれる日数を返す。全期間の場合は0を返す。
func (r DateRange) Days() int {
	if r.Unbounded() {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains は日付が範囲に含まれるかどうかを返す。
func (r DateRange) Contains(date time.Time) bool {
	if !r.Start.IsZero() && date.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && date.After(r.End) {
		return false
	}
	return true
}

// Validate は開始日が終了日以前であることを検証する。
func (r DateRange) Validate() error {
	if r.Unbounded() {
		return nil
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return NewInvalidDateRangeError("開始日と終了日の両方が必要です")
	}
	if r.Start.After(r.End) {
		return NewInvalidDateRangeError(fmt.Sprintf("%s > %s", FormatDate(r.Start), FormatDate(r.End)))
	}
	return nil
}

// DateLayout はカレンダー日付の文字列表現。
const DateLayout = "2006-01-02"

// DateOf は時刻tをlocでのカレンダー日付に変換する。
// 結果はその日付のUTC 0時として表現される。
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate は "2006-01-02" 形式の日付を解析する。
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewInvalidDateRangeError(fmt.Sprintf("日付の形式が不正です: %s", s))
	}
	return d, nil
}

// FormatDate はカレンダー日付を "2006-01-02" 形式で返す。
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}
