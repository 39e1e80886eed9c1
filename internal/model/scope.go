package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScopeID は会話グループの識別子を表す。
// 空文字列は全グループを横断するグローバルスコープを表す。
type ScopeID string

// GlobalScope は全グループを集計するグローバルスコープ。
const GlobalScope ScopeID = ""

// GlobalScopeParam はURLなどでグローバルスコープを表す文字列。
const GlobalScopeParam = "_global"

// ParseScopeParam はURLパラメータをScopeIDに変換する。
func ParseScopeParam(s string) ScopeID {
	s = strings.TrimSpace(s)
	if s == GlobalScopeParam {
		return GlobalScope
	}
	return ScopeID(s)
}

// IsGlobal はグローバルスコープかどうかを返す。
func (s ScopeID) IsGlobal() bool {
	return s == GlobalScope
}

// Param はURLパラメータ用の文字列を返す。
func (s ScopeID) Param() string {
	if s.IsGlobal() {
		return GlobalScopeParam
	}
	return string(s)
}

// Scope は登録済みの会話グループを表す。
type Scope struct {
	ID        ScopeID   `json:"scope_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportFrequency は自動レポートの頻度を表す。
type ReportFrequency string

const (
	// FrequencyDaily は毎日配信する。
	FrequencyDaily ReportFrequency = "daily"
	// FrequencyWeekly は毎週日曜日に配信する。
	FrequencyWeekly ReportFrequency = "weekly"
	// FrequencyMonthly は毎月1日に配信する。
	FrequencyMonthly ReportFrequency = "monthly"
)

// ParseReportFrequency は文字列をレポート頻度に変換する。
func ParseReportFrequency(s string) (ReportFrequency, error) {
	f := ReportFrequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	}
	return "", NewInvalidSettingError("auto_report_frequency", fmt.Sprintf("未知の頻度です: %s", s))
}

// Period は頻度に対応する集計期間を返す。
func (f ReportFrequency) Period() Period {
	switch f {
	case FrequencyWeekly:
		return Weekly
	case FrequencyMonthly:
		return Monthly
	default:
		return Daily
	}
}

// Due は時刻tが配信日に当たるかどうかを返す。
// 週次は日曜日、月次は1日に配信する。
func (f ReportFrequency) Due(t time.Time) bool {
	switch f {
	case FrequencyWeekly:
		return t.Weekday() == time.Sunday
	case FrequencyMonthly:
		return t.Day() == 1
	default:
		return true
	}
}

// スコープ設定の既定値と許容範囲
const (
	DefaultMinWordLength = 3
	DefaultMaxItems      = 10
	DefaultReportTime    = "09:00"

	MinWordLengthLower = 2
	MinWordLengthUpper = 10
	MaxItemsLower      = 5
	MaxItemsUpper      = 50
)

// ScopeSettings はスコープごとの設定を表す。
// スコープ登録時に既定値で作成され、管理者操作でのみ変更される。
type ScopeSettings struct {
	Scope               ScopeID         `json:"scope_id"`
	MinWordLength       int             `json:"min_word_length"`
	MaxItems            int             `json:"max_items"`
	ExcludeCommon       bool            `json:"exclude_common"`
	AutoReportEnabled   bool            `json:"auto_report_enabled"`
	AutoReportTime      string          `json:"auto_report_time"`
	AutoReportFrequency ReportFrequency `json:"auto_report_frequency"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// DefaultScopeSettings は既定値のスコープ設定を返す。
func DefaultScopeSettings(scope ScopeID) ScopeSettings {
	return ScopeSettings{
		Scope:               scope,
		MinWordLength:       DefaultMinWordLength,
		MaxItems:            DefaultMaxItems,
		ExcludeCommon:       true,
		AutoReportEnabled:   false,
		AutoReportTime:      DefaultReportTime,
		AutoReportFrequency: FrequencyDaily,
	}
}

// SettingsPatch はスコープ設定の部分更新を表す。
// nilのフィールドは変更しない。
type SettingsPatch struct {
	MinWordLength       *int             `json:"min_word_length,omitempty"`
	MaxItems            *int             `json:"max_items,omitempty"`
	ExcludeCommon       *bool            `json:"exclude_common,omitempty"`
	AutoReportEnabled   *bool            `json:"auto_report_enabled,omitempty"`
	AutoReportTime      *string          `json:"auto_report_time,omitempty"`
	AutoReportFrequency *ReportFrequency `json:"auto_report_frequency,omitempty"`
}

// IsEmpty は変更対象のフィールドが1つもないかどうかを返す。
func (p SettingsPatch) IsEmpty() bool {
	return p.MinWordLength == nil && p.MaxItems == nil && p.ExcludeCommon == nil &&
		p.AutoReportEnabled == nil && p.AutoReportTime == nil && p.AutoReportFrequency == nil
}

// Validate は部分更新の各値が許容範囲内かどうかを検証する。
func (p SettingsPatch) Validate() error {
	if p.MinWordLength != nil {
		if v := *p.MinWordLength; v < MinWordLengthLower || v > MinWordLengthUpper {
			return NewInvalidSettingError("min_word_length",
				fmt.Sprintf("%dは%dから%dの範囲外です", v, MinWordLengthLower, MinWordLengthUpper))
		}
	}
	if p.MaxItems != nil {
		if v := *p.MaxItems; v < MaxItemsLower || v > MaxItemsUpper {
			return NewInvalidSettingError("max_items",
				fmt.Sprintf("%dは%dから%dの範囲外です", v, MaxItemsLower, MaxItemsUpper))
		}
	}
	if p.AutoReportTime != nil {
		if _, _, err := ParseClock(*p.AutoReportTime); err != nil {
			return err
		}
	}
	if p.AutoReportFrequency != nil {
		if _, err := ParseReportFrequency(string(*p.AutoReportFrequency)); err != nil {
			return err
		}
	}
	return nil
}

// Apply は部分更新を適用した設定を返す。元の設定は変更しない。
func (p SettingsPatch) Apply(s ScopeSettings) ScopeSettings {
	if p.MinWordLength != nil {
		s.MinWordLength = *p.MinWordLength
	}
	if p.MaxItems != nil {
		s.MaxItems = *p.MaxItems
	}
	if p.ExcludeCommon != nil {
		s.ExcludeCommon = *p.ExcludeCommon
	}
	if p.AutoReportEnabled != nil {
		s.AutoReportEnabled = *p.AutoReportEnabled
	}
	if p.AutoReportTime != nil {
		s.AutoReportTime = *p.AutoReportTime
	}
	if p.AutoReportFrequency != nil {
		s.AutoReportFrequency = *p.AutoReportFrequency
	}
	return s
}

// ParseClock は "HH:MM" 形式の時刻を時と分に分解する。
func ParseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, NewInvalidSettingError("auto_report_time", fmt.Sprintf("HH:MM形式ではありません: %q", s))
	}
	hour, errH := strconv.Atoi(hh)
	minute, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, NewInvalidSettingError("auto_report_time", fmt.Sprintf("時刻が範囲外です: %q", s))
	}
	return hour, minute, nil
}

// AutoReport は自動レポートが有効なスコープの配信設定を表す。
type AutoReport struct {
	Scope     ScopeID
	Time      string
	Frequency ReportFrequency
	MaxItems  int
}
