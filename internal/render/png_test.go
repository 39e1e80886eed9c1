package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"testing"
	"time"

	"github.com/hitoshi/trendbot/internal/model"
)

func rankedItems(n int) []model.RankedItem {
	items := make([]model.RankedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, model.RankedItem{Token: fmt.Sprintf("kelime%d", i), Count: int64(n - i)})
	}
	return items
}

func weekSeries(label string, counts ...int64) model.ChartSeries {
	start := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	s := model.ChartSeries{Label: label}
	for i, c := range counts {
		s.Points = append(s.Points, model.DailyCount{Date: start.AddDate(0, 0, i), Count: c})
	}
	return s
}

func TestPNGRenderer_RendersEachKind(t *testing.T) {
	r := NewPNGRenderer(640, 360)

	tests := []struct {
		name string
		req  model.ChartRequest
	}{
		{"棒グラフ", model.ChartRequest{Kind: model.ChartBar, Title: "Gunluk", Items: rankedItems(10)}},
		{"ワードクラウド", model.ChartRequest{Kind: model.ChartWordCloud, Title: "Kelime Bulutu", Items: rankedItems(25)}},
		{"同数のみのワードクラウド", model.ChartRequest{Kind: model.ChartWordCloud, Items: []model.RankedItem{{Token: "a", Count: 1}, {Token: "b", Count: 1}}}},
		{"時系列", model.ChartRequest{Kind: model.ChartTimeSeries, Title: "Trend", Series: []model.ChartSeries{
			weekSeries("deprem", 0, 3, 1, 0, 0, 7, 2),
			weekSeries("yardım", 1, 1, 1, 2, 2, 2, 5),
		}}},
		{"1点のみの時系列", model.ChartRequest{Kind: model.ChartTimeSeries, Series: []model.ChartSeries{weekSeries("tek", 4)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := r.Render(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("PNGとしてデコードできない: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 360 {
				t.Errorf("サイズ = %dx%d, want 640x360", b.Dx(), b.Dy())
			}
		})
	}
}

func TestPNGRenderer_Errors(t *testing.T) {
	r := NewPNGRenderer(0, 0)

	if _, err := r.Render(context.Background(), model.ChartRequest{Kind: model.ChartBar}); !errors.Is(err, ErrEmptyChart) {
		t.Errorf("空の棒グラフ err = %v, want ErrEmptyChart", err)
	}
	if _, err := r.Render(context.Background(), model.ChartRequest{Kind: model.ChartTimeSeries, Series: []model.ChartSeries{{Label: "x"}}}); !errors.Is(err, ErrEmptyChart) {
		t.Errorf("空の時系列 err = %v, want ErrEmptyChart", err)
	}
	if _, err := r.Render(context.Background(), model.ChartRequest{Kind: "pie", Items: rankedItems(3)}); !errors.Is(err, ErrUnknownChartKind) {
		t.Errorf("未知の種別 err = %v, want ErrUnknownChartKind", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Render(ctx, model.ChartRequest{Kind: model.ChartBar, Items: rankedItems(3)}); !errors.Is(err, context.Canceled) {
		t.Errorf("キャンセル済み err = %v, want context.Canceled", err)
	}
}

func TestNewPNGRenderer_DefaultSize(t *testing.T) {
	data, err := NewPNGRenderer(0, 0).Render(context.Background(), model.ChartRequest{Kind: model.ChartBar, Items: rankedItems(2)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != defaultWidth || b.Dy() != defaultHeight {
		t.Errorf("サイズ = %dx%d, want %dx%d", b.Dx(), b.Dy(), defaultWidth, defaultHeight)
	}
}

func TestPrintable(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"merhaba", "merhaba"},
		{"güzel", "guzel"},
		{"yardım", "yardim"},
		{"şöyle çağrı", "soyle cagri"},
		{"😢", "?"},
	}
	for _, tt := range tests {
		if got := printable(tt.in); got != tt.want {
			t.Errorf("printable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
