// Package botcmd はチャットのインラインボタンが送るコールバック文字列と、
// メニュー間の状態遷移を扱う。
//
// コールバック文字列の解析と生成はこのパッケージだけで行う。
package botcmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/trendbot/internal/model"
)

// MaxCallbackBytes はチャットプラットフォームが受け付けるコールバック文字列の最大長。
const MaxCallbackBytes = 64

var (
	// ErrUnknownCommand は解釈できないコールバック文字列のエラー。
	ErrUnknownCommand = errors.New("未知のコマンドです")
	// ErrCallbackTooLong はコールバック文字列が長すぎる場合のエラー。
	ErrCallbackTooLong = errors.New("コールバック文字列が長すぎます")
)

// Action はボタン操作の種類を表す。
type Action int

const (
	ActionUnknown Action = iota
	ActionMainMenu
	ActionHelp
	ActionShowReports
	ActionShowTrack
	ActionShowSettings
	ActionCancelInput

	// レポート
	ActionReport
	ActionReportCustom
	ActionReportRising
	ActionReportMentions

	// 追跡
	ActionTrackAdd
	ActionTrackList
	ActionTrackRemoveMenu
	ActionTrackRemove
	ActionTrackReport

	// 設定
	ActionToggleCommon
	ActionToggleAutoReport
	ActionSetMinLength
	ActionSetMaxItems
)

var actionNames = map[Action]string{
	ActionMainMenu:         "main_menu",
	ActionHelp:             "help",
	ActionShowReports:      "show_reports",
	ActionShowTrack:        "show_track",
	ActionShowSettings:     "show_settings",
	ActionCancelInput:      "cancel_input",
	ActionReport:           "report",
	ActionReportCustom:     "report_custom",
	ActionReportRising:     "report_rising",
	ActionReportMentions:   "report_mentions",
	ActionTrackAdd:         "track_add",
	ActionTrackList:        "track_list",
	ActionTrackRemoveMenu:  "track_remove",
	ActionTrackRemove:      "remove",
	ActionTrackReport:      "track_report",
	ActionToggleCommon:     "settings_toggle_common",
	ActionToggleAutoReport: "settings_toggle",
	ActionSetMinLength:     "settings_min_length",
	ActionSetMaxItems:      "settings_max_words",
}

// String はアクション名を返す。
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Command は解析済みのコールバックを表す。
// 引数を持つアクションだけが Period、Frequency、ItemType、Token を使用する。
type Command struct {
	Action    Action
	Period    model.Period
	Frequency model.ReportFrequency
	ItemType  model.ItemType
	Token     string
}

// fixed は引数を持たないコールバック文字列。
// 旧バージョンのボタンが送る別名も同じアクションとして受け付ける。
var fixed = map[string]Action{
	"main_menu":               ActionMainMenu,
	"back_to_main":            ActionMainMenu,
	"report_back":             ActionMainMenu,
	"track_back":              ActionMainMenu,
	"settings_back":           ActionMainMenu,
	"help":                    ActionHelp,
	"menu_help":               ActionHelp,
	"show_reports":            ActionShowReports,
	"menu_reports":            ActionShowReports,
	"show_track":              ActionShowTrack,
	"menu_track":              ActionShowTrack,
	"show_settings":           ActionShowSettings,
	"menu_settings":           ActionShowSettings,
	"cancel_input":            ActionCancelInput,
	"report_custom":           ActionReportCustom,
	"report_rising":           ActionReportRising,
	"report_mentions":         ActionReportMentions,
	"track_list":              ActionTrackList,
	"track_remove":            ActionTrackRemoveMenu,
	"track_report":            ActionTrackReport,
	"settings_toggle_common":  ActionToggleCommon,
	"settings_exclude_common": ActionToggleCommon,
	"settings_min_length":     ActionSetMinLength,
	"settings_word_length":    ActionSetMinLength,
	"settings_max_words":      ActionSetMaxItems,
}

var reportPeriods = map[string]model.Period{
	"daily":   model.Daily,
	"weekly":  model.Weekly,
	"monthly": model.Monthly,
	"alltime": model.AllTime,
}

// Parse はコールバック文字列をCommandに変換する。
func Parse(raw string) (Command, error) {
	if len(raw) > MaxCallbackBytes {
		return Command{}, ErrCallbackTooLong
	}
	if action, ok := fixed[raw]; ok {
		return Command{Action: action}, nil
	}

	switch {
	case strings.HasPrefix(raw, "report_"):
		if p, ok := reportPeriods[strings.TrimPrefix(raw, "report_")]; ok {
			return Command{Action: ActionReport, Period: p}, nil
		}
	case strings.HasPrefix(raw, "track_add_"):
		if t, err := model.ParseItemType(strings.TrimPrefix(raw, "track_add_")); err == nil {
			return Command{Action: ActionTrackAdd, ItemType: t}, nil
		}
	case strings.HasPrefix(raw, "track_"):
		// 旧形式 track_<type>
		if t, err := model.ParseItemType(strings.TrimPrefix(raw, "track_")); err == nil {
			return Command{Action: ActionTrackAdd, ItemType: t}, nil
		}
	case strings.HasPrefix(raw, "remove_"):
		// トークンに _ を含む場合があるため先頭の2区切りだけで分割する
		parts := strings.SplitN(raw, "_", 3)
		if len(parts) == 3 && parts[2] != "" {
			if t, err := model.ParseItemType(parts[1]); err == nil {
				return Command{Action: ActionTrackRemove, ItemType: t, Token: parts[2]}, nil
			}
		}
	case strings.HasPrefix(raw, "settings_toggle_"):
		if f, err := model.ParseReportFrequency(strings.TrimPrefix(raw, "settings_toggle_")); err == nil {
			return Command{Action: ActionToggleAutoReport, Frequency: f}, nil
		}
	case strings.HasPrefix(raw, "auto_report_"):
		if f, err := model.ParseReportFrequency(strings.TrimPrefix(raw, "auto_report_")); err == nil {
			return Command{Action: ActionToggleAutoReport, Frequency: f}, nil
		}
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
}

// String は正規形のコールバック文字列を返す。
// Parse(c.String()) は c と等しいCommandを返す。
func (c Command) String() string {
	switch c.Action {
	case ActionReport:
		return "report_" + reportName(c.Period)
	case ActionTrackAdd:
		return "track_add_" + string(c.ItemType)
	case ActionTrackRemove:
		return fmt.Sprintf("remove_%s_%s", c.ItemType, c.Token)
	case ActionToggleAutoReport:
		return "settings_toggle_" + string(c.Frequency)
	}
	return c.Action.String()
}

// Encode はボタンに埋め込むコールバック文字列を返す。
// 長さの上限を超える場合はエラーを返す。
func (c Command) Encode() (string, error) {
	s := c.String()
	if len(s) > MaxCallbackBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackTooLong, len(s))
	}
	return s, nil
}

func reportName(p model.Period) string {
	if _, ok := reportPeriods[string(p.Kind)]; ok {
		return string(p.Kind)
	}
	return string(model.PeriodDaily)
}
