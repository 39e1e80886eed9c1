// Package render はレポート用のグラフをPNG画像として描画する。
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/trendbot/internal/model"
)

var (
	// ErrEmptyChart は描画するデータがない場合のエラー。
	ErrEmptyChart = errors.New("描画するデータがありません")
	// ErrUnknownChartKind は未対応のグラフ種別が指定された場合のエラー。
	ErrUnknownChartKind = errors.New("未対応のグラフ種別です")
)

const (
	defaultWidth  = 800
	defaultHeight = 480

	margin      = 24
	titleHeight = 28
	glyphWidth  = 7
	lineHeight  = 13
)

var (
	background = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	foreground = color.NRGBA{R: 33, G: 37, B: 41, A: 255}
	gridColor  = color.NRGBA{R: 206, G: 212, B: 218, A: 255}

	palette = []color.NRGBA{
		{R: 31, G: 119, B: 180, A: 255},
		{R: 255, G: 127, B: 14, A: 255},
		{R: 44, G: 160, B: 44, A: 255},
		{R: 214, G: 39, B: 40, A: 255},
		{R: 148, G: 103, B: 189, A: 255},
		{R: 140, G: 86, B: 75, A: 255},
	}
)

// PNGRenderer はビットマップフォントでラベルを描くPNGレンダラー。
type PNGRenderer struct {
	width  int
	height int
}

// NewPNGRenderer はPNGRendererを生成する。
// 幅と高さが0以下の場合は800x480を使用する。
func NewPNGRenderer(width, height int) *PNGRenderer {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return &PNGRenderer{width: width, height: height}
}

// Render はグラフを描画してPNGとしてエンコードする。
func (r *PNGRenderer) Render(ctx context.Context, req model.ChartRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var img *image.NRGBA
	switch req.Kind {
	case model.ChartBar:
		if len(req.Items) == 0 {
			return nil, ErrEmptyChart
		}
		img = r.bar(req.Title, req.Items)
	case model.ChartWordCloud:
		if len(req.Items) == 0 {
			return nil, ErrEmptyChart
		}
		img = r.wordCloud(req.Title, req.Items)
	case model.ChartTimeSeries:
		if len(req.Series) == 0 || len(req.Series[0].Points) == 0 {
			return nil, ErrEmptyChart
		}
		img = r.timeSeries(req.Title, req.Series)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChartKind, req.Kind)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("PNGのエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// bar は横棒グラフを描く。
func (r *PNGRenderer) bar(title string, items []model.RankedItem) *image.NRGBA {
	img := imaging.New(r.width, r.height, background)
	drawText(img, margin, margin+lineHeight, title, foreground)

	labelWidth := 0
	for _, item := range items {
		labelWidth = max(labelWidth, len(printable(item.Token))*glyphWidth)
	}
	labelWidth = min(labelWidth, r.width/3)

	maxCount := items[0].Count
	for _, item := range items {
		maxCount = max(maxCount, item.Count)
	}

	top := margin + titleHeight
	rowHeight := max((r.height-top-margin)/len(items), 1)
	barHeight := max(rowHeight*3/4, 1)
	left := margin + labelWidth + 8
	countWidth := 8 * glyphWidth
	plotWidth := max(r.width-left-margin-countWidth, 1)

	for i, item := range items {
		y := top + i*rowHeight
		drawText(img, margin, y+barHeight/2+lineHeight/2-2, printable(item.Token), foreground)

		w := max(int(float64(plotWidth)*float64(item.Count)/float64(maxCount)), 1)
		fillRect(img, left, y, w, barHeight, palette[0])
		drawText(img, left+w+4, y+barHeight/2+lineHeight/2-2, fmt.Sprint(item.Count), foreground)
	}
	return img
}

// wordCloud は使用数に比例した大きさで単語を並べる。
func (r *PNGRenderer) wordCloud(title string, items []model.RankedItem) *image.NRGBA {
	img := imaging.New(r.width, r.height, background)
	drawText(img, margin, margin+lineHeight, title, foreground)

	maxCount := items[0].Count
	minCount := items[0].Count
	for _, item := range items {
		maxCount = max(maxCount, item.Count)
		minCount = min(minCount, item.Count)
	}

	x, y := margin, margin+titleHeight
	rowHeight := 0
	for i, item := range items {
		scale := 1
		if maxCount > minCount {
			scale = 1 + int(math.Round(3*float64(item.Count-minCount)/float64(maxCount-minCount)))
		}
		word := renderWord(printable(item.Token), palette[i%len(palette)], scale)
		w, h := word.Bounds().Dx(), word.Bounds().Dy()

		if x+w > r.width-margin {
			x = margin
			y += rowHeight + 6
			rowHeight = 0
		}
		if y+h > r.height-margin {
			break
		}
		img = imaging.Overlay(img, word, image.Pt(x, y), 1.0)
		x += w + 12
		rowHeight = max(rowHeight, h)
	}
	return img
}

// renderWord は単語を透明な画像に描き、scale倍に拡大する。
func renderWord(word string, c color.NRGBA, scale int) *image.NRGBA {
	w := max(len(word)*glyphWidth, glyphWidth)
	canvas := imaging.New(w, lineHeight+3, color.NRGBA{})
	drawText(canvas, 0, lineHeight, word, c)
	if scale <= 1 {
		return canvas
	}
	return imaging.Resize(canvas, w*scale, (lineHeight+3)*scale, imaging.NearestNeighbor)
}

// timeSeries は系列ごとの日別推移を折れ線で描く。
func (r *PNGRenderer) timeSeries(title string, series []model.ChartSeries) *image.NRGBA {
	img := imaging.New(r.width, r.height, background)
	drawText(img, margin, margin+lineHeight, title, foreground)

	var maxCount int64 = 1
	points := 0
	for _, s := range series {
		points = max(points, len(s.Points))
		for _, p := range s.Points {
			maxCount = max(maxCount, p.Count)
		}
	}

	legendHeight := len(series) * (lineHeight + 4)
	left := margin + 6*glyphWidth
	top := margin + titleHeight
	bottom := r.height - margin - lineHeight - legendHeight
	right := r.width - margin
	plotW := max(right-left, 1)
	plotH := max(bottom-top, 1)

	fillRect(img, left, top, 1, plotH, foreground)
	fillRect(img, left, bottom, plotW, 1, foreground)
	for i := 1; i <= 4; i++ {
		y := bottom - plotH*i/4
		fillRect(img, left+1, y, plotW-1, 1, gridColor)
		drawText(img, margin, y+lineHeight/2-2, fmt.Sprint(maxCount*int64(i)/4), foreground)
	}

	xAt := func(i int) int {
		if points <= 1 {
			return left + plotW/2
		}
		return left + plotW*i/(points-1)
	}
	yAt := func(count int64) int {
		return bottom - int(float64(plotH)*float64(count)/float64(maxCount))
	}

	if first := series[0].Points; len(first) > 0 {
		drawText(img, left, bottom+lineHeight, model.FormatDate(first[0].Date), foreground)
		last := model.FormatDate(first[len(first)-1].Date)
		drawText(img, right-len(last)*glyphWidth, bottom+lineHeight, last, foreground)
	}

	for si, s := range series {
		c := palette[si%len(palette)]
		for i, p := range s.Points {
			x, y := xAt(i), yAt(p.Count)
			fillRect(img, x-2, y-2, 5, 5, c)
			if i > 0 {
				drawLine(img, xAt(i-1), yAt(s.Points[i-1].Count), x, y, c)
			}
		}
		ly := bottom + lineHeight + 6 + si*(lineHeight+4)
		fillRect(img, left, ly, 10, 10, c)
		drawText(img, left+16, ly+lineHeight-3, printable(s.Label), foreground)
	}
	return img
}

// fillRect は矩形を塗りつぶす。
func fillRect(img *image.NRGBA, x, y, w, h int, c color.NRGBA) {
	if w <= 0 || h <= 0 {
		return
	}
	draw.Draw(img, image.Rect(x, y, x+w, y+h), image.NewUniform(c), image.Point{}, draw.Src)
}

// drawLine はブレゼンハムのアルゴリズムで直線を描く。
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetNRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText はベースラインyにテキストを描く。
func drawText(img *image.NRGBA, x, y int, s string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// printable はビットマップフォントで描けるASCII文字列に変換する。
// ダイアクリティカルマークを除去し、点なしのıはiとして扱う。
func printable(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == 'ı':
			return 'i'
		case r < 0x20 || r > 0x7e:
			return '?'
		}
		return r
	}, folded)
}
