package botcmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/trendbot/internal/model"
)

var (
	// ErrInvalidTransition は現在のメニューから実行できない操作のエラー。
	ErrInvalidTransition = errors.New("このメニューでは実行できない操作です")
	// ErrNotAwaitingInput は入力待ちでない状態でテキストが送られた場合のエラー。
	ErrNotAwaitingInput = errors.New("入力待ちではありません")
)

// Menu はボットの会話メニューを表す。
type Menu string

const (
	MenuMain     Menu = "main"
	MenuReports  Menu = "reports"
	MenuTrack    Menu = "track"
	MenuSettings Menu = "settings"
)

// Input はテキスト入力待ちの種類を表す。
type Input string

const (
	InputNone       Input = ""
	InputMinLength  Input = "min_length"
	InputMaxItems   Input = "max_items"
	InputCustomDays Input = "custom_days"
	InputTrackToken Input = "track_token"
)

// State はユーザーごとの会話状態。
// TrackType は InputTrackToken の入力待ちでのみ使用する。
type State struct {
	Menu      Menu           `json:"menu"`
	Awaiting  Input          `json:"awaiting,omitempty"`
	TrackType model.ItemType `json:"track_type,omitempty"`
}

// Effect は遷移後にボットが実行する処理を表す。
type Effect string

const (
	EffectShowMenu       Effect = "show_menu"
	EffectShowHelp       Effect = "show_help"
	EffectPrompt         Effect = "prompt"
	EffectBuildReport    Effect = "build_report"
	EffectRisingReport   Effect = "rising_report"
	EffectMentionsReport Effect = "mentions_report"
	EffectListTracks     Effect = "list_tracks"
	EffectRemoveMenu     Effect = "remove_menu"
	EffectRemoveTrack    Effect = "remove_track"
	EffectTrackReport    Effect = "track_report"
	EffectToggleSetting  Effect = "toggle_setting"
)

// Transition は1回の操作による状態遷移の結果。
type Transition struct {
	State   State   `json:"state"`
	Effect  Effect  `json:"effect"`
	Command Command `json:"-"`
}

type edge struct {
	next   Menu
	effect Effect
	input  Input
}

// Router は (メニュー, 操作) から次のメニューを決める状態遷移表。
type Router struct {
	global map[Action]edge
	table  map[Menu]map[Action]edge
}

// NewRouter はボットのメニュー構成に基づくRouterを生成する。
func NewRouter() *Router {
	return &Router{
		// どのメニューからでも実行できる操作
		global: map[Action]edge{
			ActionMainMenu:     {next: MenuMain, effect: EffectShowMenu},
			ActionHelp:         {next: MenuMain, effect: EffectShowHelp},
			ActionShowReports:  {next: MenuReports, effect: EffectShowMenu},
			ActionShowTrack:    {next: MenuTrack, effect: EffectShowMenu},
			ActionShowSettings: {next: MenuSettings, effect: EffectShowMenu},
		},
		table: map[Menu]map[Action]edge{
			MenuMain: {
				ActionReport: {next: MenuMain, effect: EffectBuildReport},
			},
			MenuReports: {
				ActionReport:         {next: MenuReports, effect: EffectBuildReport},
				ActionReportCustom:   {next: MenuReports, effect: EffectPrompt, input: InputCustomDays},
				ActionReportRising:   {next: MenuReports, effect: EffectRisingReport},
				ActionReportMentions: {next: MenuReports, effect: EffectMentionsReport},
			},
			MenuTrack: {
				ActionTrackAdd:        {next: MenuTrack, effect: EffectPrompt, input: InputTrackToken},
				ActionTrackList:       {next: MenuTrack, effect: EffectListTracks},
				ActionTrackRemoveMenu: {next: MenuTrack, effect: EffectRemoveMenu},
				ActionTrackRemove:     {next: MenuTrack, effect: EffectRemoveTrack},
				ActionTrackReport:     {next: MenuTrack, effect: EffectTrackReport},
			},
			MenuSettings: {
				ActionToggleCommon:     {next: MenuSettings, effect: EffectToggleSetting},
				ActionToggleAutoReport: {next: MenuSettings, effect: EffectToggleSetting},
				ActionSetMinLength:     {next: MenuSettings, effect: EffectPrompt, input: InputMinLength},
				ActionSetMaxItems:      {next: MenuSettings, effect: EffectPrompt, input: InputMaxItems},
			},
		},
	}
}

// Next は現在の状態に操作を適用した遷移を返す。
// ボタン操作は入力待ちを解除する。キャンセルは入力待ちを解除して同じメニューを再表示する。
func (r *Router) Next(current State, cmd Command) (Transition, error) {
	menu := current.Menu
	if menu == "" {
		menu = MenuMain
	}

	if cmd.Action == ActionCancelInput {
		return Transition{State: State{Menu: menu}, Effect: EffectShowMenu, Command: cmd}, nil
	}

	e, ok := r.global[cmd.Action]
	if !ok {
		e, ok = r.table[menu][cmd.Action]
	}
	if !ok {
		return Transition{}, fmt.Errorf("%w: menu=%s action=%s", ErrInvalidTransition, menu, cmd.Action)
	}

	next := State{Menu: e.next, Awaiting: e.input}
	if e.input == InputTrackToken {
		next.TrackType = cmd.ItemType
	}
	return Transition{State: next, Effect: e.effect, Command: cmd}, nil
}

// Submission は入力待ちに対して送られたテキストの解析結果。
type Submission struct {
	Input    Input          `json:"input"`
	Number   int            `json:"number,omitempty"`
	ItemType model.ItemType `json:"item_type,omitempty"`
	Text     string         `json:"text,omitempty"`
}

// Submit は入力待ちの状態にテキストを適用する。
// 値が不正な場合は入力待ちを維持したまま検証エラーを返す。
func (r *Router) Submit(current State, text string) (State, Submission, error) {
	text = strings.TrimSpace(text)
	sub := Submission{Input: current.Awaiting}

	switch current.Awaiting {
	case InputNone:
		return current, Submission{}, ErrNotAwaitingInput
	case InputMinLength:
		n, err := strconv.Atoi(text)
		if err != nil {
			return current, Submission{}, model.NewInvalidSettingError("min_word_length", fmt.Sprintf("数値ではありません: %q", text))
		}
		if err := (model.SettingsPatch{MinWordLength: &n}).Validate(); err != nil {
			return current, Submission{}, err
		}
		sub.Number = n
	case InputMaxItems:
		n, err := strconv.Atoi(text)
		if err != nil {
			return current, Submission{}, model.NewInvalidSettingError("max_items", fmt.Sprintf("数値ではありません: %q", text))
		}
		if err := (model.SettingsPatch{MaxItems: &n}).Validate(); err != nil {
			return current, Submission{}, err
		}
		sub.Number = n
	case InputCustomDays:
		n, err := strconv.Atoi(text)
		if err != nil {
			return current, Submission{}, model.NewInvalidPeriodError(text)
		}
		if err := model.CustomPeriod(n).Validate(); err != nil {
			return current, Submission{}, err
		}
		sub.Number = n
	case InputTrackToken:
		if text == "" {
			return current, Submission{}, model.NewInvalidTokenError(text)
		}
		sub.ItemType = current.TrackType
		sub.Text = text
	default:
		return current, Submission{}, fmt.Errorf("%w: %s", ErrNotAwaitingInput, current.Awaiting)
	}

	return State{Menu: current.Menu}, sub, nil
}
