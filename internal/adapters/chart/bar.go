package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tg-activity-bot/internal/domain"
)

const (
	height    = 400
	padLeft   = 48
	padRight  = 24
	padTop    = 40
	padBottom = 48
	minWidth  = 640
	barStep   = 28
	// MaxWidth ограничивает ширину картинки, более широкие графики масштабируются.
	MaxWidth = 2048
)

var (
	background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	axis       = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff}
	grid       = color.RGBA{R: 0xe4, G: 0xe4, B: 0xe4, A: 0xff}
	bar        = color.RGBA{R: 0x2a, G: 0x7a, B: 0xe2, A: 0xff}
	text       = color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}
)

// Bar рисует столбчатую диаграмму публикаций по дням.
type Bar struct {
	Title string
}

var _ domain.ChartRenderer = Bar{}

// RenderDaily возвращает PNG. Подписи рисуются шрифтом basicfont, поэтому заголовок должен быть в ASCII.
func (b Bar) RenderDaily(days []domain.DayCount) ([]byte, error) {
	if len(days) == 0 {
		return nil, errors.New("нет данных для графика")
	}

	width := max(minWidth, padLeft+padRight+barStep*len(days))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, img.Bounds(), background)

	peak := 0
	for _, d := range days {
		peak = max(peak, d.Count)
	}
	scaleTop := niceCeil(peak)

	plot := image.Rect(padLeft, padTop, width-padRight, height-padBottom)
	ticks := 4
	for i := 0; i <= ticks; i++ {
		y := plot.Max.Y - plot.Dy()*i/ticks
		fill(img, image.Rect(plot.Min.X, y, plot.Max.X, y+1), grid)
		label(img, strconv.Itoa(scaleTop*i/ticks), 6, y+4)
	}
	fill(img, image.Rect(plot.Min.X, plot.Min.Y, plot.Min.X+1, plot.Max.Y), axis)
	fill(img, image.Rect(plot.Min.X, plot.Max.Y, plot.Max.X, plot.Max.Y+1), axis)

	slot := plot.Dx() / len(days)
	barWidth := max(slot*2/3, 2)
	labelEvery := max(1, 48/max(slot, 1))
	for i, d := range days {
		x0 := plot.Min.X + i*slot + (slot-barWidth)/2
		h := 0
		if scaleTop > 0 {
			h = plot.Dy() * d.Count / scaleTop
		}
		if h > 0 {
			fill(img, image.Rect(x0, plot.Max.Y-h, x0+barWidth, plot.Max.Y), bar)
			if barWidth >= 14 {
				label(img, strconv.Itoa(d.Count), x0, plot.Max.Y-h-4)
			}
		}
		if i%labelEvery == 0 {
			label(img, d.Date.Format("01-02"), x0, plot.Max.Y+18)
		}
	}
	if b.Title != "" {
		label(img, b.Title, padLeft, padTop-16)
	}

	var out image.Image = img
	if width > MaxWidth {
		scaled := image.NewRGBA(image.Rect(0, 0, MaxWidth, height*MaxWidth/width))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("кодирование PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	xdraw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, xdraw.Src)
}

func label(img *image.RGBA, s string, x, y int) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(text),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// niceCeil округляет максимум шкалы вверх до 1, 2 или 5 умноженного на степень десяти.
func niceCeil(v int) int {
	if v <= 0 {
		return 1
	}
	for magnitude := 1; ; magnitude *= 10 {
		for _, step := range []int{1, 2, 5} {
			if step*magnitude >= v {
				return step * magnitude
			}
		}
	}
}
