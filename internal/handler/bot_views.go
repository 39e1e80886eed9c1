package handler

import (
	"fmt"

	"github.com/hitoshi/trendbot/internal/botcmd"
	"github.com/hitoshi/trendbot/internal/model"
)

const helpText = "🤖 *TrendBot Yardım* 🤖\n\n" +
	"Bu bot grup mesajlarındaki kelime, hashtag, mention ve emoji kullanımını analiz eder.\n\n" +
	"*Raporlar:* Günlük, haftalık, aylık veya tüm zamanların en popüler öğelerini gösterir.\n" +
	"*Takip:* Belirli bir kelime, hashtag veya kullanıcının kullanımını takip eder.\n" +
	"*Ayarlar:* Sadece grup yöneticileri değiştirebilir."

// button はコマンドからボタンを生成する。引数を持たないコマンドは常に上限内に収まる。
func button(label string, cmd botcmd.Command) botButton {
	return botButton{Label: label, Data: cmd.String()}
}

func backButton(action botcmd.Action) []botButton {
	return []botButton{button("🔙 Geri", botcmd.Command{Action: action})}
}

// menuView はメニューの本文とボタンを返す。
func menuView(menu botcmd.Menu) (string, [][]botButton) {
	switch menu {
	case botcmd.MenuReports:
		return "📊 *Rapor Menüsü* 📊\n\nLütfen bir rapor türü seçin:", [][]botButton{
			{
				button("📅 Günlük", botcmd.Command{Action: botcmd.ActionReport, Period: model.Daily}),
				button("📆 Haftalık", botcmd.Command{Action: botcmd.ActionReport, Period: model.Weekly}),
			},
			{
				button("🗓 Aylık", botcmd.Command{Action: botcmd.ActionReport, Period: model.Monthly}),
				button("🏆 Tüm Zamanlar", botcmd.Command{Action: botcmd.ActionReport, Period: model.AllTime}),
			},
			{
				button("🚀 Yükselen Trendler", botcmd.Command{Action: botcmd.ActionReportRising}),
				button("👥 Mention Raporu", botcmd.Command{Action: botcmd.ActionReportMentions}),
			},
			{button("⏱ Özel Süre", botcmd.Command{Action: botcmd.ActionReportCustom})},
			backButton(botcmd.ActionMainMenu),
		}
	case botcmd.MenuTrack:
		return "🔍 *Takip Menüsü* 🔍\n\nNeyi takip etmek istersiniz?", [][]botButton{
			{
				button("📝 Kelime", botcmd.Command{Action: botcmd.ActionTrackAdd, ItemType: model.ItemTypeWord}),
				button("#️⃣ Hashtag", botcmd.Command{Action: botcmd.ActionTrackAdd, ItemType: model.ItemTypeHashtag}),
				button("👤 Mention", botcmd.Command{Action: botcmd.ActionTrackAdd, ItemType: model.ItemTypeMention}),
			},
			{
				button("📋 Takiplerim", botcmd.Command{Action: botcmd.ActionTrackList}),
				button("❌ Takipten Çıkar", botcmd.Command{Action: botcmd.ActionTrackRemoveMenu}),
			},
			{button("📈 Takip Raporu", botcmd.Command{Action: botcmd.ActionTrackReport})},
			backButton(botcmd.ActionMainMenu),
		}
	case botcmd.MenuSettings:
		return "📊 *TrendBot Ayarları*\n\nAşağıdaki ayarları değiştirmek için ilgili butona tıklayın:", settingsButtons(nil)
	default:
		return "📱 *TrendBot Ana Menü* 📱\n\nLütfen bir seçenek seçin:", [][]botButton{
			{
				button("📊 Raporlar", botcmd.Command{Action: botcmd.ActionShowReports}),
				button("🔍 Takip Et", botcmd.Command{Action: botcmd.ActionShowTrack}),
			},
			{
				button("⚙️ Ayarlar", botcmd.Command{Action: botcmd.ActionShowSettings}),
				button("❓ Yardım", botcmd.Command{Action: botcmd.ActionHelp}),
			},
		}
	}
}

// settingsView は現在の設定値を表示する設定メニューを返す。
func settingsView(s *model.ScopeSettings) (string, [][]botButton) {
	return "📊 *TrendBot Ayarları*\n\nAşağıdaki ayarları değiştirmek için ilgili butona tıklayın:", settingsButtons(s)
}

// settingsButtons は設定メニューのボタンを返す。sがnilの場合は値を表示しない。
func settingsButtons(s *model.ScopeSettings) [][]botButton {
	minLabel, maxLabel, commonLabel := "Min. Kelime Uzunluğu", "Rapor Kelime Sayısı", "Yaygın Kelimeleri Filtrele"
	autoLabel := func(title string, _ model.ReportFrequency) string { return title }
	if s != nil {
		minLabel = fmt.Sprintf("%s: %d", minLabel, s.MinWordLength)
		maxLabel = fmt.Sprintf("%s: %d", maxLabel, s.MaxItems)
		commonLabel = fmt.Sprintf("%s: %s", commonLabel, onOff(s.ExcludeCommon, "Açık ✅", "Kapalı ❌"))
		autoLabel = func(title string, f model.ReportFrequency) string {
			active := s.AutoReportEnabled && s.AutoReportFrequency == f
			return fmt.Sprintf("%s: %s", title, onOff(active, "Aktif ✅", "Pasif ❌"))
		}
	}

	return [][]botButton{
		{button(minLabel, botcmd.Command{Action: botcmd.ActionSetMinLength})},
		{button(maxLabel, botcmd.Command{Action: botcmd.ActionSetMaxItems})},
		{button(commonLabel, botcmd.Command{Action: botcmd.ActionToggleCommon})},
		{button(autoLabel("Günlük Rapor", model.FrequencyDaily), botcmd.Command{Action: botcmd.ActionToggleAutoReport, Frequency: model.FrequencyDaily})},
		{button(autoLabel("Haftalık Rapor", model.FrequencyWeekly), botcmd.Command{Action: botcmd.ActionToggleAutoReport, Frequency: model.FrequencyWeekly})},
		{button(autoLabel("Aylık Rapor", model.FrequencyMonthly), botcmd.Command{Action: botcmd.ActionToggleAutoReport, Frequency: model.FrequencyMonthly})},
		backButton(botcmd.ActionMainMenu),
	}
}

// promptText は入力待ちの案内文を返す。
func promptText(state botcmd.State) string {
	switch state.Awaiting {
	case botcmd.InputMinLength:
		return fmt.Sprintf("Minimum kelime uzunluğunu değiştirmek için %d-%d arasında bir sayı girin:",
			model.MinWordLengthLower, model.MinWordLengthUpper)
	case botcmd.InputMaxItems:
		return fmt.Sprintf("Raporda gösterilecek maksimum kelime sayısını değiştirmek için %d-%d arasında bir sayı girin:",
			model.MaxItemsLower, model.MaxItemsUpper)
	case botcmd.InputCustomDays:
		return fmt.Sprintf("Kaç günlük rapor istiyorsunuz? (%d-%d)", model.MinCustomDays, model.MaxCustomDays)
	case botcmd.InputTrackToken:
		return fmt.Sprintf("Takip etmek istediğiniz %s değerini yazın:", state.TrackType)
	}
	return ""
}

func onOff(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}
