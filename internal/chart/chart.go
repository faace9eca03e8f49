// Package chart renders segmentation charts as PNG images.
package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/rotisserie/eris"
	"golang.org/x/image/font"

	"github.com/sells-group/segment-cli/internal/model"
)

var (
	barColor  = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	lineColor = color.RGBA{R: 0x00, G: 0x00, B: 0xff, A: 0xff}
	axisColor = color.Black
	gridColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

const margin = 60.0

// Renderer draws charts at a fixed width. A nil face uses gg's built-in
// bitmap font.
type Renderer struct {
	Width int
	face  font.Face
}

// NewRenderer returns a renderer. fontPath may be empty.
func NewRenderer(width int, fontPath string, fontSize float64) (*Renderer, error) {
	if width <= 0 {
		width = 900
	}
	r := &Renderer{Width: width}
	if fontPath != "" {
		face, err := loadFontFace(fontPath, fontSize)
		if err != nil {
			return nil, err
		}
		r.face = face
	}
	return r, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	if size <= 0 {
		size = 12
	}
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, eris.Wrapf(err, "chart: read font %s", fontPath)
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, eris.Wrap(err, "chart: parse ttf")
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

func (r *Renderer) newContext(height int) *gg.Context {
	dc := gg.NewContext(r.Width, height)
	dc.SetColor(color.White)
	dc.Clear()
	if r.face != nil {
		dc.SetFontFace(r.face)
	}
	return dc
}

// ClusterCounts renders a bar chart of accounts per cluster.
func (r *Renderer) ClusterCounts(w io.Writer, profiles []model.ClusterProfile) error {
	if len(profiles) == 0 {
		return eris.New("chart: no clusters to plot")
	}

	labels := make([]string, len(profiles))
	values := make([]float64, len(profiles))
	for i, p := range profiles {
		labels[i] = fmt.Sprintf("%d", p.Cluster)
		values[i] = float64(p.Accounts)
	}

	height := r.Width / 2
	dc := r.newContext(height)
	drawTitle(dc, "Number of Accounts in Each Cluster", float64(r.Width))
	plot := rect{x: margin, y: margin, w: float64(r.Width) - 2*margin, h: float64(height) - 2*margin}
	drawBars(dc, plot, labels, values, niceMax(maxOf(values)), 0)
	drawAxisLabels(dc, plot, "Cluster", "Number of Accounts")

	return eris.Wrap(dc.EncodePNG(w), "chart: encode png")
}

// ClusterPreferences renders one panel per cluster with its normalized mean
// preference per category. All panels share the category axis and a [0, 1]
// value axis.
func (r *Renderer) ClusterPreferences(w io.Writer, profiles []model.ClusterProfile) error {
	if len(profiles) == 0 {
		return eris.New("chart: no clusters to plot")
	}

	categories := profileCategories(profiles)
	const panelHeight = 220.0
	footer := 110.0
	height := int(margin + panelHeight*float64(len(profiles)) + footer)

	dc := r.newContext(height)
	drawTitle(dc, "Normalised Average Preference Scores by Cluster and Category", float64(r.Width))

	for i, p := range profiles {
		values := make([]float64, len(categories))
		for j, c := range categories {
			values[j] = p.Preferences[c]
		}
		plot := rect{
			x: margin,
			y: margin + float64(i)*panelHeight + 20,
			w: float64(r.Width) - 2*margin,
			h: panelHeight - 40,
		}
		dc.SetColor(axisColor)
		dc.DrawStringAnchored(fmt.Sprintf("Cluster %d", p.Cluster), plot.x+plot.w/2, plot.y-8, 0.5, 0)

		rotate := 0.0
		if i == len(profiles)-1 {
			rotate = 45
		}
		drawBars(dc, plot, labelsIf(categories, i == len(profiles)-1), values, 1, rotate)
	}

	return eris.Wrap(dc.EncodePNG(w), "chart: encode png")
}

// Curve renders a line chart with markers, one point per k.
func (r *Renderer) Curve(w io.Writer, title, ylabel string, sels []model.Selection, value func(model.Selection) float64) error {
	var xs, ys []float64
	for _, s := range sels {
		v := value(s)
		if math.IsNaN(v) {
			continue
		}
		xs = append(xs, float64(s.K))
		ys = append(ys, v)
	}
	if len(xs) == 0 {
		return eris.Errorf("chart: no points for %q", title)
	}

	height := r.Width / 2
	dc := r.newContext(height)
	drawTitle(dc, title, float64(r.Width))
	plot := rect{x: margin + 10, y: margin, w: float64(r.Width) - 2*margin - 10, h: float64(height) - 2*margin}

	xmin, xmax := xs[0], xs[len(xs)-1]
	if xmax == xmin {
		xmax = xmin + 1
	}
	ymin, ymax := minOf(ys), maxOf(ys)
	if ymax == ymin {
		ymax = ymin + 1
	}
	px := func(x float64) float64 { return plot.x + (x-xmin)/(xmax-xmin)*plot.w }
	py := func(y float64) float64 { return plot.y + plot.h - (y-ymin)/(ymax-ymin)*plot.h }

	drawFrame(dc, plot)
	dc.SetColor(axisColor)
	for _, x := range xs {
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", x), px(x), plot.y+plot.h+14, 0.5, 0.5)
	}
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", ymax), plot.x-6, plot.y, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", ymin), plot.x-6, plot.y+plot.h, 1, 0.5)

	dc.SetColor(lineColor)
	dc.SetLineWidth(2)
	for i := 1; i < len(xs); i++ {
		dc.DrawLine(px(xs[i-1]), py(ys[i-1]), px(xs[i]), py(ys[i]))
	}
	dc.Stroke()
	for i := range xs {
		x, y := px(xs[i]), py(ys[i])
		dc.DrawLine(x-4, y-4, x+4, y+4)
		dc.DrawLine(x-4, y+4, x+4, y-4)
	}
	dc.Stroke()

	drawAxisLabels(dc, plot, "k", ylabel)
	return eris.Wrap(dc.EncodePNG(w), "chart: encode png")
}

// WriteFile renders into a file under dir, creating dir as needed.
func WriteFile(dir, name string, render func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "chart: create %s", dir)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "chart: create %s", path)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "chart: close %s", path)
	}
	return path, nil
}

type rect struct{ x, y, w, h float64 }

func drawTitle(dc *gg.Context, title string, width float64) {
	dc.SetColor(axisColor)
	dc.DrawStringAnchored(title, width/2, margin/2, 0.5, 0.5)
}

func drawFrame(dc *gg.Context, plot rect) {
	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawLine(plot.x, plot.y+plot.h, plot.x+plot.w, plot.y+plot.h)
	dc.DrawLine(plot.x, plot.y, plot.x, plot.y+plot.h)
	dc.Stroke()
}

func drawAxisLabels(dc *gg.Context, plot rect, xlabel, ylabel string) {
	dc.SetColor(axisColor)
	dc.DrawStringAnchored(xlabel, plot.x+plot.w/2, plot.y+plot.h+34, 0.5, 0.5)
	dc.Push()
	dc.RotateAbout(gg.Radians(-90), plot.x-40, plot.y+plot.h/2)
	dc.DrawStringAnchored(ylabel, plot.x-40, plot.y+plot.h/2, 0.5, 0.5)
	dc.Pop()
}

// drawBars draws evenly spaced bars scaled to maxValue. Empty labels are
// skipped; rotate tilts the category labels by that many degrees.
func drawBars(dc *gg.Context, plot rect, labels []string, values []float64, maxValue, rotate float64) {
	if maxValue <= 0 {
		maxValue = 1
	}

	dc.SetColor(gridColor)
	dc.SetLineWidth(1)
	for _, frac := range []float64{0.25, 0.5, 0.75, 1} {
		y := plot.y + plot.h - frac*plot.h
		dc.DrawLine(plot.x, y, plot.x+plot.w, y)
	}
	dc.Stroke()
	drawFrame(dc, plot)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", maxValue), plot.x-6, plot.y, 1, 0.5)
	dc.DrawStringAnchored("0", plot.x-6, plot.y+plot.h, 1, 0.5)

	slot := plot.w / float64(len(values))
	barWidth := slot * 0.7
	for i, v := range values {
		h := math.Min(v/maxValue, 1) * plot.h
		x := plot.x + float64(i)*slot + (slot-barWidth)/2
		dc.SetColor(barColor)
		dc.DrawRectangle(x, plot.y+plot.h-h, barWidth, h)
		dc.Fill()

		if labels[i] == "" {
			continue
		}
		dc.SetColor(axisColor)
		cx, cy := x+barWidth/2, plot.y+plot.h+12
		if rotate != 0 {
			dc.Push()
			dc.RotateAbout(gg.Radians(rotate), cx, cy)
			dc.DrawStringAnchored(labels[i], cx, cy, 0, 0.5)
			dc.Pop()
			continue
		}
		dc.DrawStringAnchored(labels[i], cx, cy, 0.5, 0.5)
	}
}

func profileCategories(profiles []model.ClusterProfile) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range profiles {
		for c := range p.Preferences {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

func labelsIf(labels []string, show bool) []string {
	if show {
		return labels
	}
	return make([]string, len(labels))
}

func maxOf(vs []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vs {
		m = math.Max(m, v)
	}
	return m
}

func minOf(vs []float64) float64 {
	m := math.Inf(1)
	for _, v := range vs {
		m = math.Min(m, v)
	}
	return m
}

// niceMax rounds up to 1, 2 or 5 times a power of ten.
func niceMax(v float64) float64 {
	if v <= 0 {
		return 1
	}
	exp := math.Pow(10, math.Floor(math.Log10(v)))
	for _, step := range []float64{1, 2, 5, 10} {
		if v <= step*exp {
			return step * exp
		}
	}
	return 10 * exp
}
