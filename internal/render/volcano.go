// Package render draws the volcano plot and the expression heatmap as PNG.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/soma-tiles/degplot/pkg/colormap"
)

// Axis titles of the volcano plot.
const (
	VolcanoXAxisName = "log2 Fold Change (Lesion vs Control)"
	VolcanoYAxisName = "-log10(p-value)"
)

// VolcanoConfig contains volcano renderer configuration.
type VolcanoConfig struct {
	Width  int
	Height int
	Legend bool
}

// VolcanoRenderer renders volcano plots with go-chart.
type VolcanoRenderer struct {
	config VolcanoConfig
}

// NewVolcanoRenderer creates a new volcano renderer.
func NewVolcanoRenderer(cfg VolcanoConfig) *VolcanoRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	return &VolcanoRenderer{config: cfg}
}

// pointStyle returns a style that renders points only (no connecting line).
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    4,
		DotColor:    col,
	}
}

func referenceStyle() chart.Style {
	return chart.Style{
		StrokeColor:     drawing.ColorFromHex("555555"),
		StrokeWidth:     1.5,
		StrokeDashArray: []float64{6, 4},
	}
}

type legendEntry struct {
	name   string
	color  drawing.Color
	dashed bool
}

// Chart builds the chart definition without rendering it.
func (r *VolcanoRenderer) Chart(d *VolcanoData) (*chart.Chart, error) {
	var series []chart.Series
	var legend []legendEntry

	layers := append([]Layer{d.Background}, d.Layers...)
	for _, l := range layers {
		if len(l.Points) == 0 {
			continue
		}
		c, err := colormap.ParseColor(l.Color)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		col := toDrawing(c)

		xs := make([]float64, len(l.Points))
		ys := make([]float64, len(l.Points))
		for i, p := range l.Points {
			xs[i], ys[i] = p.X, p.Y
		}
		series = append(series, chart.ContinuousSeries{
			Name:    l.Name,
			XValues: xs,
			YValues: ys,
			Style:   pointStyle(col),
		})
		legend = append(legend, legendEntry{name: l.Name, color: col})
	}

	xr, yr := volcanoRanges(d)

	vName := fmt.Sprintf("log2FC = %g", d.XLine)
	hName := fmt.Sprintf("p = %g", math.Pow(10, -d.YLine))
	series = append(series,
		chart.ContinuousSeries{
			Name:    vName,
			XValues: []float64{d.XLine, d.XLine},
			YValues: []float64{yr.Min, yr.Max},
			Style:   referenceStyle(),
		},
		chart.ContinuousSeries{
			Name:    hName,
			XValues: []float64{xr.Min, xr.Max},
			YValues: []float64{d.YLine, d.YLine},
			Style:   referenceStyle(),
		},
	)
	legend = append(legend,
		legendEntry{name: vName, color: referenceStyle().StrokeColor, dashed: true},
		legendEntry{name: hName, color: referenceStyle().StrokeColor, dashed: true},
	)

	if len(d.Labels) > 0 {
		annotations := make([]chart.Value2, len(d.Labels))
		for i, l := range d.Labels {
			annotations[i] = chart.Value2{XValue: l.X, YValue: l.Y, Label: l.Text}
		}
		series = append(series, chart.AnnotationSeries{
			Name: "labels",
			Style: chart.Style{
				FontSize:    8,
				FontColor:   drawing.ColorBlack,
				FillColor:   drawing.ColorWhite.WithAlpha(200),
				StrokeColor: drawing.ColorFromHex("999999"),
				StrokeWidth: 1,
			},
			Annotations: annotations,
		})
	}

	ch := &chart.Chart{
		Title:  d.Title,
		Width:  r.config.Width,
		Height: r.config.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  VolcanoXAxisName,
			Range: xr,
		},
		YAxis: chart.YAxis{
			Name:  VolcanoYAxisName,
			Range: yr,
		},
		Series: series,
	}
	if r.config.Legend {
		ch.Elements = []chart.Renderable{volcanoLegend(legend)}
	}
	return ch, nil
}

// Render draws the volcano plot as PNG.
func (r *VolcanoRenderer) Render(d *VolcanoData) ([]byte, error) {
	ch, err := r.Chart(d)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render volcano plot: %w", err)
	}
	return buf.Bytes(), nil
}

// volcanoRanges pads the data extent and always includes both reference lines.
func volcanoRanges(d *VolcanoData) (*chart.ContinuousRange, *chart.ContinuousRange) {
	minX, maxX := d.XLine, d.XLine
	minY, maxY := 0.0, d.YLine

	layers := append([]Layer{d.Background}, d.Layers...)
	for _, l := range layers {
		for _, p := range l.Points {
			minX = math.Min(minX, p.X)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}
	for _, l := range d.Labels {
		maxY = math.Max(maxY, l.Y)
	}

	padX := math.Max((maxX-minX)*0.05, 0.5)
	padY := math.Max(maxY*0.05, 0.5)
	return &chart.ContinuousRange{Min: minX - padX, Max: maxX + padX},
		&chart.ContinuousRange{Min: minY, Max: maxY + padY}
}

// volcanoLegend draws dots for layers and dashed strokes for reference lines.
func volcanoLegend(entries []legendEntry) chart.Renderable {
	return func(r chart.Renderer, cb chart.Box, defaults chart.Style) {
		if len(entries) == 0 {
			return
		}
		const (
			pad        = 6
			swatch     = 16
			lineHeight = 16
		)

		if defaults.Font != nil {
			r.SetFont(defaults.Font)
		}
		r.SetFontSize(9)
		r.SetFontColor(drawing.ColorBlack)

		textWidth := 0
		for _, e := range entries {
			if w := r.MeasureText(e.name).Width(); w > textWidth {
				textWidth = w
			}
		}
		boxW := pad*3 + swatch + textWidth
		boxH := pad*2 + lineHeight*len(entries)
		left := cb.Right - boxW - pad
		top := cb.Top + pad

		r.SetFillColor(drawing.ColorWhite.WithAlpha(230))
		r.SetStrokeColor(drawing.ColorFromHex("999999"))
		r.SetStrokeWidth(1)
		r.MoveTo(left, top)
		r.LineTo(left+boxW, top)
		r.LineTo(left+boxW, top+boxH)
		r.LineTo(left, top+boxH)
		r.LineTo(left, top)
		r.Close()
		r.FillStroke()

		for i, e := range entries {
			cy := top + pad + lineHeight*i + lineHeight/2
			sx := left + pad
			if e.dashed {
				r.SetStrokeColor(e.color)
				r.SetStrokeWidth(1.5)
				r.SetStrokeDashArray([]float64{4, 3})
				r.MoveTo(sx, cy)
				r.LineTo(sx+swatch, cy)
				r.Stroke()
				r.SetStrokeDashArray(nil)
			} else {
				r.SetFillColor(e.color)
				r.SetStrokeColor(e.color)
				r.SetStrokeWidth(1)
				r.Circle(4, sx+swatch/2, cy)
				r.FillStroke()
			}

			tb := r.MeasureText(e.name)
			r.SetFontColor(drawing.ColorBlack)
			r.Text(e.name, sx+swatch+pad, cy+tb.Height()/2)
		}
	}
}

func toDrawing(c color.RGBA) drawing.Color {
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: c.A}
}
