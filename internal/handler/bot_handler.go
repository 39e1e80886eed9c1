package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/trendbot/internal/botcmd"
	"github.com/hitoshi/trendbot/internal/middleware"
	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/report"
)

// ErrCodeInvalidCommand はボット操作が解析できない、または現在のメニューで実行できない場合のエラーコード。
const ErrCodeInvalidCommand = "INVALID_COMMAND"

// BotHandler はチャットゲートウェイから転送されるボタン操作とテキスト入力を処理する。
// メニューの状態はゲートウェイが保持し、リクエストごとに送られてくる。
type BotHandler struct {
	router   *botcmd.Router
	builder  ReportBuilder
	settings SettingsServiceInterface
	logger   *slog.Logger
}

// NewBotHandler は新しいBotHandlerを生成する。
func NewBotHandler(builder ReportBuilder, settings SettingsServiceInterface, logger *slog.Logger) *BotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotHandler{
		router:   botcmd.NewRouter(),
		builder:  builder,
		settings: settings,
		logger:   logger,
	}
}

// botCallbackRequest はPOST /api/bot/callbacks のリクエストボディ。
// dataとtextはどちらか一方を指定する。
type botCallbackRequest struct {
	Scope  string       `json:"scope_id"`
	UserID string       `json:"user_id"`
	State  botcmd.State `json:"state"`
	Data   string       `json:"data"`
	Text   string       `json:"text"`
}

// botButton はインラインボタン1つを表す。
type botButton struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// botResponse はゲートウェイが描画するレスポンス。
type botResponse struct {
	State       botcmd.State              `json:"state"`
	Effect      botcmd.Effect             `json:"effect"`
	Text        string                    `json:"text"`
	Buttons     [][]botButton             `json:"buttons,omitempty"`
	Report      *model.Report             `json:"report,omitempty"`
	TrackReport *model.TrackReport        `json:"track_report,omitempty"`
	Tracks      []model.TrackSubscription `json:"tracks,omitempty"`
	Settings    *model.ScopeSettings      `json:"settings,omitempty"`
}

// Callback はPOST /api/bot/callbacks を処理する。
func (h *BotHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req botCallbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID, _ = middleware.UserIDFromContext(r.Context())
	}
	scope := model.ParseScopeParam(req.Scope)

	var (
		resp *botResponse
		err  error
	)
	switch {
	case req.Data != "":
		resp, err = h.handleCommand(r.Context(), scope, req.UserID, req.State, req.Data)
	case req.Text != "":
		resp, err = h.handleText(r.Context(), scope, req.UserID, req.State, req.Text)
	default:
		err = fmt.Errorf("%w: data と text が空です", botcmd.ErrUnknownCommand)
	}
	if err != nil {
		h.writeBotError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BotHandler) handleCommand(ctx context.Context, scope model.ScopeID, userID string, state botcmd.State, data string) (*botResponse, error) {
	cmd, err := botcmd.Parse(data)
	if err != nil {
		return nil, err
	}
	tr, err := h.router.Next(state, cmd)
	if err != nil {
		return nil, err
	}

	resp := &botResponse{State: tr.State, Effect: tr.Effect}

	switch tr.Effect {
	case botcmd.EffectShowMenu:
		resp.Text, resp.Buttons = menuView(tr.State.Menu)
	case botcmd.EffectShowHelp:
		resp.Text = helpText
		resp.Buttons = [][]botButton{backButton(botcmd.ActionMainMenu)}
	case botcmd.EffectPrompt:
		resp.Text = promptText(tr.State)
		resp.Buttons = [][]botButton{{button("🔙 İptal", botcmd.Command{Action: botcmd.ActionCancelInput})}}
	case botcmd.EffectBuildReport:
		err = h.attachReport(ctx, resp, report.Request{Scope: scope, Period: cmd.Period})
	case botcmd.EffectRisingReport:
		err = h.attachReport(ctx, resp, report.Request{Scope: scope, Period: model.Weekly, ItemTypes: []model.ItemType{model.ItemTypeWord}})
	case botcmd.EffectMentionsReport:
		err = h.attachReport(ctx, resp, report.Request{Scope: scope, Period: model.Weekly, ItemTypes: []model.ItemType{model.ItemTypeMention}})
	case botcmd.EffectListTracks:
		err = h.attachTracks(ctx, resp, userID, false)
	case botcmd.EffectRemoveMenu:
		err = h.attachTracks(ctx, resp, userID, true)
	case botcmd.EffectRemoveTrack:
		err = h.removeTrack(ctx, resp, userID, cmd)
	case botcmd.EffectTrackReport:
		err = h.attachTrackReport(ctx, resp, scope, userID)
	case botcmd.EffectToggleSetting:
		err = h.toggleSetting(ctx, resp, scope, userID, cmd)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *BotHandler) handleText(ctx context.Context, scope model.ScopeID, userID string, state botcmd.State, text string) (*botResponse, error) {
	next, sub, err := h.router.Submit(state, text)
	if err != nil {
		return nil, err
	}

	resp := &botResponse{State: next, Effect: botcmd.EffectShowMenu}
	switch sub.Input {
	case botcmd.InputMinLength:
		if err := h.updateSettings(ctx, scope, userID, model.SettingsPatch{MinWordLength: &sub.Number}); err != nil {
			return nil, err
		}
		resp.Text = fmt.Sprintf("Minimum kelime uzunluğu %d olarak ayarlandı.", sub.Number)
	case botcmd.InputMaxItems:
		if err := h.updateSettings(ctx, scope, userID, model.SettingsPatch{MaxItems: &sub.Number}); err != nil {
			return nil, err
		}
		resp.Text = fmt.Sprintf("Raporda gösterilecek maksimum kelime sayısı %d olarak ayarlandı.", sub.Number)
	case botcmd.InputCustomDays:
		resp.Effect = botcmd.EffectBuildReport
		if err := h.attachReport(ctx, resp, report.Request{Scope: scope, Period: model.CustomPeriod(sub.Number)}); err != nil {
			return nil, err
		}
	case botcmd.InputTrackToken:
		ts, created, err := h.settings.AddTrack(ctx, userID, sub.ItemType, sub.Text)
		if err != nil {
			return nil, err
		}
		if created {
			resp.Text = fmt.Sprintf("'%s' takip listenize eklendi.", ts.Type.Display(ts.Token))
		} else {
			resp.Text = fmt.Sprintf("'%s' zaten takip listenizde bulunuyor.", ts.Type.Display(ts.Token))
		}
		resp.Tracks = []model.TrackSubscription{ts}
	}
	if resp.Buttons == nil {
		_, resp.Buttons = menuView(next.Menu)
	}
	return resp, nil
}

func (h *BotHandler) attachReport(ctx context.Context, resp *botResponse, req report.Request) error {
	req.WithCharts = true
	req.Trigger = report.TriggerAPI
	rep, err := h.builder.Build(ctx, req)
	if err != nil {
		return err
	}
	resp.Report = rep
	resp.Text = report.FormatText(rep)
	resp.Buttons = [][]botButton{backButton(botcmd.ActionShowReports)}
	return nil
}

func (h *BotHandler) attachTracks(ctx context.Context, resp *botResponse, userID string, removable bool) error {
	tracks, err := h.settings.ListTracks(ctx, userID)
	if err != nil {
		return err
	}
	resp.Tracks = tracks
	if len(tracks) == 0 {
		resp.Text = "Takip listenizde hiç öğe bulunmuyor."
		resp.Buttons = [][]botButton{backButton(botcmd.ActionShowTrack)}
		return nil
	}

	var b strings.Builder
	if removable {
		b.WriteString("Kaldırmak istediğiniz takibi seçin:")
	} else {
		b.WriteString("🔍 *Takip Listeniz*\n")
		for i, t := range tracks {
			fmt.Fprintf(&b, "\n%d. %s", i+1, t.Type.Display(t.Token))
		}
	}
	resp.Text = b.String()

	if removable {
		for _, t := range tracks {
			data, err := botcmd.Command{Action: botcmd.ActionTrackRemove, ItemType: t.Type, Token: t.Token}.Encode()
			if err != nil {
				// ボタンに収まらない追跡対象はAPIから削除してもらう
				h.logger.Warn("削除ボタンを生成できません",
					slog.String("user_id", userID),
					slog.String("token", t.Token),
					slog.String("error", err.Error()),
				)
				continue
			}
			resp.Buttons = append(resp.Buttons, []botButton{{Label: "❌ " + t.Type.Display(t.Token), Data: data}})
		}
	}
	resp.Buttons = append(resp.Buttons, backButton(botcmd.ActionShowTrack))
	return nil
}

func (h *BotHandler) removeTrack(ctx context.Context, resp *botResponse, userID string, cmd botcmd.Command) error {
	removed, err := h.settings.RemoveTrack(ctx, userID, cmd.ItemType, cmd.Token)
	if err != nil {
		return err
	}
	if err := h.attachTracks(ctx, resp, userID, true); err != nil {
		return err
	}
	if removed {
		resp.Text = fmt.Sprintf("'%s' takipten kaldırıldı.\n\n%s", cmd.ItemType.Display(cmd.Token), resp.Text)
	}
	return nil
}

func (h *BotHandler) attachTrackReport(ctx context.Context, resp *botResponse, scope model.ScopeID, userID string) error {
	rep, err := h.builder.TrackReport(ctx, userID, scope, true)
	if err != nil {
		return err
	}
	resp.TrackReport = rep
	resp.Text = report.FormatTrackText(rep)
	resp.Buttons = [][]botButton{backButton(botcmd.ActionShowTrack)}
	return nil
}

// toggleSetting は設定メニューの切り替えボタンを適用する。
// 自動レポートは同じ頻度で有効な場合に無効化し、それ以外はその頻度で有効化する。
func (h *BotHandler) toggleSetting(ctx context.Context, resp *botResponse, scope model.ScopeID, userID string, cmd botcmd.Command) error {
	current, err := h.settings.GetSettings(ctx, scope)
	if err != nil {
		return err
	}

	var patch model.SettingsPatch
	switch cmd.Action {
	case botcmd.ActionToggleCommon:
		v := !current.ExcludeCommon
		patch.ExcludeCommon = &v
	case botcmd.ActionToggleAutoReport:
		enable := !(current.AutoReportEnabled && current.AutoReportFrequency == cmd.Frequency)
		patch.AutoReportEnabled = &enable
		if enable {
			f := cmd.Frequency
			patch.AutoReportFrequency = &f
		}
	}
	if err := h.updateSettings(ctx, scope, userID, patch); err != nil {
		return err
	}

	updated, err := h.settings.GetSettings(ctx, scope)
	if err != nil {
		return err
	}
	resp.Settings = updated
	resp.Text, resp.Buttons = settingsView(updated)
	return nil
}

// updateSettings は設定を更新する。対象の行がない場合はスコープ未登録として扱う。
func (h *BotHandler) updateSettings(ctx context.Context, scope model.ScopeID, userID string, patch model.SettingsPatch) error {
	updated, err := h.settings.UpdateSettings(ctx, scope, userID, patch)
	if err != nil {
		return err
	}
	if !updated {
		return model.NewScopeNotFoundError(scope)
	}
	return nil
}

// writeBotError はボット操作のエラーをレスポンスに変換する。
func (h *BotHandler) writeBotError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, botcmd.ErrUnknownCommand),
		errors.Is(err, botcmd.ErrCallbackTooLong),
		errors.Is(err, botcmd.ErrInvalidTransition),
		errors.Is(err, botcmd.ErrNotAwaitingInput):
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     ErrCodeInvalidCommand,
			Message:  err.Error(),
			Category: model.CategoryValidation,
			Action:   "メニューを開き直してから操作してください。",
		})
	default:
		handleServiceError(w, r, err)
	}
}
