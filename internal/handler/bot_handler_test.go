package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/trendbot/internal/botcmd"
	"github.com/hitoshi/trendbot/internal/model"
	"github.com/hitoshi/trendbot/internal/report"
)

// postCallback はボットのコールバックを送信するヘルパー。
func postCallback(t *testing.T, h *BotHandler, body botCallbackRequest) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/bot/callbacks", bytes.NewReader(b))
	w := httptest.NewRecorder()
	h.Callback(w, req)
	return w
}

func decodeBotResponse(t *testing.T, w *httptest.ResponseRecorder) botResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp botResponse
	decodeBody(t, w, &resp)
	return resp
}

// buttonData はレスポンスの全ボタンのコールバック文字列を返す。
func buttonData(resp botResponse) []string {
	var data []string
	for _, row := range resp.Buttons {
		for _, b := range row {
			data = append(data, b.Data)
		}
	}
	return data
}

func TestBotHandler_MainMenuNavigation(t *testing.T) {
	h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{}, nil)

	resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{Scope: "g1", UserID: "u1", Data: "menu_reports"}))

	if resp.State.Menu != botcmd.MenuReports || resp.Effect != botcmd.EffectShowMenu {
		t.Errorf("state = %+v effect = %s", resp.State, resp.Effect)
	}
	data := strings.Join(buttonData(resp), ",")
	for _, want := range []string{"report_daily", "report_alltime", "report_rising", "report_custom", "main_menu"} {
		if !strings.Contains(data, want) {
			t.Errorf("ボタン %q がない: %s", want, data)
		}
	}
	for _, d := range buttonData(resp) {
		if _, err := botcmd.Parse(d); err != nil {
			t.Errorf("ボタンのコールバック %q が解析できない: %v", d, err)
		}
	}
}

func TestBotHandler_BuildReport(t *testing.T) {
	builder := &mockReportBuilder{
		buildFn: func(ctx context.Context, req report.Request) (*model.Report, error) {
			if req.Scope != "g1" || req.Period != model.Weekly || !req.WithCharts {
				t.Errorf("req = %+v", req)
			}
			return &model.Report{Scope: req.Scope, Period: req.Period, Sections: []model.Section{
				{Type: model.ItemTypeWord, Items: []model.RankedItem{{Token: "merhaba", Count: 5}}},
			}}, nil
		},
	}
	h := NewBotHandler(builder, &mockSettingsService{}, nil)

	resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{
		Scope: "g1",
		State: botcmd.State{Menu: botcmd.MenuReports},
		Data:  "report_weekly",
	}))

	if resp.Effect != botcmd.EffectBuildReport || resp.Report == nil {
		t.Fatalf("effect = %s report = %v", resp.Effect, resp.Report)
	}
	if !strings.Contains(resp.Text, "merhaba") {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestBotHandler_RisingAndMentionsReports(t *testing.T) {
	tests := []struct {
		data     string
		wantType model.ItemType
	}{
		{"report_rising", model.ItemTypeWord},
		{"report_mentions", model.ItemTypeMention},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			h := NewBotHandler(&mockReportBuilder{
				buildFn: func(ctx context.Context, req report.Request) (*model.Report, error) {
					if req.Period != model.Weekly || len(req.ItemTypes) != 1 || req.ItemTypes[0] != tt.wantType {
						t.Errorf("req = %+v", req)
					}
					return &model.Report{Period: req.Period}, nil
				},
			}, &mockSettingsService{}, nil)

			resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{
				Scope: "g1",
				State: botcmd.State{Menu: botcmd.MenuReports},
				Data:  tt.data,
			}))
			if resp.Report == nil {
				t.Error("レポートが返されなかった")
			}
		})
	}
}

func TestBotHandler_CustomDaysFlow(t *testing.T) {
	var gotPeriod model.Period
	h := NewBotHandler(&mockReportBuilder{
		buildFn: func(ctx context.Context, req report.Request) (*model.Report, error) {
			gotPeriod = req.Period
			return &model.Report{Period: req.Period}, nil
		},
	}, &mockSettingsService{}, nil)

	prompt := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{
		Scope: "g1",
		State: botcmd.State{Menu: botcmd.MenuReports},
		Data:  "report_custom",
	}))
	if prompt.Effect != botcmd.EffectPrompt || prompt.State.Awaiting != botcmd.InputCustomDays {
		t.Fatalf("prompt = %+v", prompt)
	}

	// 範囲外の値は入力待ちのまま400を返す
	w := postCallback(t, h, botCallbackRequest{Scope: "g1", State: prompt.State, Text: "120"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("範囲外: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{Scope: "g1", State: prompt.State, Text: "14"}))
	if gotPeriod != model.CustomPeriod(14) {
		t.Errorf("period = %v, want custom:14", gotPeriod)
	}
	if resp.State.Awaiting != botcmd.InputNone || resp.Report == nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBotHandler_TrackTokenSubmission(t *testing.T) {
	h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{
		addTrackFn: func(ctx context.Context, userID string, itemType model.ItemType, raw string) (model.TrackSubscription, bool, error) {
			if userID != "u1" || itemType != model.ItemTypeHashtag || raw != "#golang" {
				t.Errorf("args = %q %q %q", userID, itemType, raw)
			}
			return model.TrackSubscription{UserID: userID, Type: itemType, Token: "golang"}, true, nil
		},
	}, nil)

	prompt := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{
		UserID: "u1",
		State:  botcmd.State{Menu: botcmd.MenuTrack},
		Data:   "track_add_hashtag",
	}))
	if prompt.State.TrackType != model.ItemTypeHashtag {
		t.Fatalf("state = %+v", prompt.State)
	}

	resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{UserID: "u1", State: prompt.State, Text: " #golang "}))
	if !strings.Contains(resp.Text, "'#golang' takip listenize eklendi") {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestBotHandler_RemoveMenuEncodesButtons(t *testing.T) {
	long := strings.Repeat("x", botcmd.MaxCallbackBytes)
	h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{
		listTracksFn: func(ctx context.Context, userID string) ([]model.TrackSubscription, error) {
			return []model.TrackSubscription{
				{UserID: userID, Type: model.ItemTypeWord, Token: "my_word"},
				{UserID: userID, Type: model.ItemTypeWord, Token: long},
			}, nil
		},
	}, newTestLogger(&bytes.Buffer{}))

	resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{
		UserID: "u1",
		State:  botcmd.State{Menu: botcmd.MenuTrack},
		Data:   "track_remove",
	}))

	data := buttonData(resp)
	if len(data) != 2 {
		t.Fatalf("buttons = %v, want 削除1件と戻る", data)
	}
	cmd, err := botcmd.Parse(data[0])
	if err != nil || cmd.Action != botcmd.ActionTrackRemove || cmd.Token != "my_word" {
		t.Errorf("remove button = %q (%+v, %v)", data[0], cmd, err)
	}
}

// TestBotHandler_UserIDFromContext は本文にユーザーIDがない場合にリクエストのユーザーを使うことを検証する。
func TestBotHandler_UserIDFromContext(t *testing.T) {
	var gotUserID string
	h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{
		updateSettingsFn: func(ctx context.Context, scope model.ScopeID, userID string, patch model.SettingsPatch) (bool, error) {
			gotUserID = userID
			return true, nil
		},
	}, nil)

	b, err := json.Marshal(botCallbackRequest{
		Scope: "g1",
		State: botcmd.State{Menu: botcmd.MenuSettings},
		Data:  "settings_toggle_weekly",
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/bot/callbacks", bytes.NewReader(b)), "admin-7")
	w := httptest.NewRecorder()
	h.Callback(w, req)

	decodeBotResponse(t, w)
	if gotUserID != "admin-7" {
		t.Errorf("userID = %q, want admin-7", gotUserID)
	}
}

func TestBotHandler_ToggleAutoReport(t *testing.T) {
	tests := []struct {
		name        string
		enabled     bool
		frequency   model.ReportFrequency
		data        string
		wantEnabled bool
	}{
		{"enable when disabled", false, model.FrequencyDaily, "settings_toggle_weekly", true},
		{"disable same frequency", true, model.FrequencyWeekly, "settings_toggle_weekly", false},
		{"switch frequency", true, model.FrequencyDaily, "settings_toggle_monthly", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.SettingsPatch
			h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{
				getSettingsFn: func(ctx context.Context, scope model.ScopeID) (*model.ScopeSettings, error) {
					s := model.DefaultScopeSettings(scope)
					s.AutoReportEnabled = tt.enabled
					s.AutoReportFrequency = tt.frequency
					return &s, nil
				},
				updateSettingsFn: func(ctx context.Context, scope model.ScopeID, userID string, patch model.SettingsPatch) (bool, error) {
					got = patch
					return true, nil
				},
			}, nil)

			resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{
				Scope:  "g1",
				UserID: "admin",
				State:  botcmd.State{Menu: botcmd.MenuSettings},
				Data:   tt.data,
			}))

			if got.AutoReportEnabled == nil || *got.AutoReportEnabled != tt.wantEnabled {
				t.Errorf("AutoReportEnabled = %v, want %v", got.AutoReportEnabled, tt.wantEnabled)
			}
			if tt.wantEnabled && (got.AutoReportFrequency == nil || string(*got.AutoReportFrequency) != strings.TrimPrefix(tt.data, "settings_toggle_")) {
				t.Errorf("AutoReportFrequency = %v", got.AutoReportFrequency)
			}
			if resp.Settings == nil || resp.Effect != botcmd.EffectToggleSetting {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestBotHandler_ToggleCommon_NotAdmin(t *testing.T) {
	h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{
		updateSettingsFn: func(context.Context, model.ScopeID, string, model.SettingsPatch) (bool, error) {
			return false, model.NewNotAdminError()
		},
	}, nil)

	w := postCallback(t, h, botCallbackRequest{
		Scope:  "g1",
		UserID: "u1",
		State:  botcmd.State{Menu: botcmd.MenuSettings},
		Data:   "settings_toggle_common",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestBotHandler_MinLengthSubmission(t *testing.T) {
	var got model.SettingsPatch
	h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{
		updateSettingsFn: func(ctx context.Context, scope model.ScopeID, userID string, patch model.SettingsPatch) (bool, error) {
			got = patch
			return true, nil
		},
	}, nil)

	state := botcmd.State{Menu: botcmd.MenuSettings, Awaiting: botcmd.InputMinLength}
	resp := decodeBotResponse(t, postCallback(t, h, botCallbackRequest{Scope: "g1", UserID: "admin", State: state, Text: "4"}))

	if got.MinWordLength == nil || *got.MinWordLength != 4 {
		t.Errorf("patch = %+v", got)
	}
	if !strings.Contains(resp.Text, "4 olarak ayarlandı") || resp.State.Awaiting != botcmd.InputNone {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBotHandler_InvalidCommands(t *testing.T) {
	tests := []struct {
		name string
		body botCallbackRequest
	}{
		{"unknown data", botCallbackRequest{Data: "launch_rockets"}},
		{"too long", botCallbackRequest{Data: "remove_word_" + strings.Repeat("x", botcmd.MaxCallbackBytes)}},
		{"wrong menu", botCallbackRequest{State: botcmd.State{Menu: botcmd.MenuMain}, Data: "track_list"}},
		{"text without prompt", botCallbackRequest{Text: "merhaba"}},
		{"empty", botCallbackRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBotHandler(&mockReportBuilder{}, &mockSettingsService{}, nil)
			w := postCallback(t, h, tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != ErrCodeInvalidCommand {
				t.Errorf("code = %q, want %q", body["code"], ErrCodeInvalidCommand)
			}
		})
	}
}
