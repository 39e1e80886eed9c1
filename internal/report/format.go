package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/hitoshi/trendbot/internal/model"
)

// タイムスタンプの表示形式（例: 10.03.2024 22:30）
const timestampLayout = "02.01.2006 15:04"

var sectionTitles = map[model.ItemType]string{
	model.ItemTypeWord:    "En Çok Kullanılan Kelimeler",
	model.ItemTypeHashtag: "En Popüler Hashtag'ler",
	model.ItemTypeMention: "En Çok Bahsedilen Kullanıcılar",
	model.ItemTypeEmoji:   "En Çok Kullanılan Emojiler",
}

// FormatText はレポートをチャットに投稿するMarkdown本文に整形する。
func FormatText(rep *model.Report) string {
	var b strings.Builder

	title := rep.Period.Title() + " Trend Raporu"
	if rep.Scope.IsGlobal() {
		title += " (Tüm Gruplar)"
	}
	fmt.Fprintf(&b, "📊 *%s*\n\n", title)

	if rep.Empty() {
		b.WriteString("_Bu dönem için henüz veri bulunmuyor._\n\n")
	}

	for _, s := range rep.Sections {
		if len(s.Items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "*%s:*\n", sectionTitles[s.Type])
		for i, item := range s.Items {
			fmt.Fprintf(&b, "%d. %s: %d kez\n", i+1, s.Type.Display(item.Token), item.Count)
		}
		fmt.Fprintf(&b, "_%d farklı öğe, toplam %d kullanım_\n\n", s.Distinct, s.Total)
	}

	if len(rep.Rising) > 0 {
		b.WriteString("*🔥 Yükselen Trendler:*\n")
		for i, c := range rep.Rising {
			fmt.Fprintf(&b, "%d. %s\n", i+1, formatChange(c))
		}
		b.WriteString("\n")
	}

	if rep.Degraded {
		b.WriteString("_Grafikler oluşturulamadı, yalnızca metin rapor gönderildi._\n")
	}

	fmt.Fprintf(&b, "_%s itibarıyla_", rep.GeneratedAt.Format(timestampLayout))
	return b.String()
}

func formatChange(c model.TrendChange) string {
	direction := "artış"
	if c.PercentChange < 0 {
		direction = "azalış"
	}
	return fmt.Sprintf("%s: %%%.1f %s", c.Token, math.Abs(c.PercentChange), direction)
}

// FormatTrackText は追跡レポートを本文に整形する。
func FormatTrackText(rep *model.TrackReport) string {
	if len(rep.Entries) == 0 {
		return "Takip listenizde hiç öğe bulunmuyor."
	}

	var b strings.Builder
	b.WriteString("📊 *Takip Raporu*\n\n")

	days := rep.Range.Days()
	for _, e := range rep.Entries {
		b.WriteString(formatTrackEntry(e, days))
		b.WriteString("\n")
	}

	if rep.Degraded {
		b.WriteString("\n_Grafik oluşturulamadı._\n")
	}
	return b.String()
}

func formatTrackEntry(e model.TrackEntry, days int) string {
	token := e.Subscription.Token
	switch e.Subscription.Type {
	case model.ItemTypeHashtag:
		if e.Total == 0 {
			return fmt.Sprintf("*'#%s' Hashtag'i:* Henüz kullanım yok", token)
		}
		return fmt.Sprintf("*'#%s' Hashtag'i:* %d kullanım (son %d gün)", token, e.Total, days)
	case model.ItemTypeMention:
		if e.Total == 0 {
			return fmt.Sprintf("*'@%s' Kullanıcısı:* Henüz bahsedilme yok", token)
		}
		return fmt.Sprintf("*'@%s' Kullanıcısı:* %d bahsedilme (son %d gün)", token, e.Total, days)
	case model.ItemTypeEmoji:
		if e.Total == 0 {
			return fmt.Sprintf("*'%s' Emojisi:* Henüz kullanım yok", token)
		}
		return fmt.Sprintf("*'%s' Emojisi:* %d kullanım (son %d gün)", token, e.Total, days)
	default:
		if e.Total == 0 {
			return fmt.Sprintf("*'%s' Kelimesi:* Henüz kullanım yok", token)
		}
		return fmt.Sprintf("*'%s' Kelimesi:* %d kullanım (son %d gün)", token, e.Total, days)
	}
}
