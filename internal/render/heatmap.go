package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/soma-tiles/degplot/pkg/colormap"
)

// HeatmapConfig contains heatmap renderer configuration.
type HeatmapConfig struct {
	Width    int
	Height   int
	Colormap string
}

// HeatmapRenderer renders gene x sample heatmaps using fogleman/gg.
type HeatmapRenderer struct {
	config HeatmapConfig
	cmap   colormap.Colormap
}

// NewHeatmapRenderer creates a new heatmap renderer. Unknown colormap names fall back to viridis.
func NewHeatmapRenderer(cfg HeatmapConfig) *HeatmapRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	cmap, ok := colormap.ByName(cfg.Colormap)
	if !ok {
		cfg.Colormap = colormap.DefaultSequential
		cmap = colormap.Viridis
	}
	return &HeatmapRenderer{config: cfg, cmap: cmap}
}

const (
	heatmapTitleHeight = 40
	heatmapBarWidth    = 18
	heatmapBarMargin   = 80
	heatmapBarSteps    = 120
)

// Render draws d as a PNG. Rows are genes, columns are samples.
func (r *HeatmapRenderer) Render(d *HeatmapData) ([]byte, error) {
	w, h := float64(r.config.Width), float64(r.config.Height)
	dc := gg.NewContext(r.config.Width, r.config.Height)
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(d.Title, w/2, heatmapTitleHeight/2, 0.5, 0.5)

	if len(d.Genes) == 0 || len(d.Samples) == 0 {
		dc.DrawStringAnchored("no genes to display", w/2, h/2, 0.5, 0.5)
		return encodeContext(dc)
	}

	rowLabelW := 0.0
	for _, g := range d.Genes {
		if lw, _ := dc.MeasureString(g); lw > rowLabelW {
			rowLabelW = lw
		}
	}
	colLabelW := 0.0
	for _, s := range d.Samples {
		if sw, _ := dc.MeasureString(s); sw > colLabelW {
			colLabelW = sw
		}
	}

	left := rowLabelW + 16
	top := float64(heatmapTitleHeight)
	right := w - heatmapBarMargin
	bottom := h - (colLabelW*math.Sqrt2/2 + 20)
	if bottom-top < float64(len(d.Genes)) {
		bottom = top + float64(len(d.Genes))
	}

	cellW := (right - left) / float64(len(d.Samples))
	cellH := (bottom - top) / float64(len(d.Genes))

	valRange := d.Max - d.Min
	if valRange == 0 {
		valRange = 1
	}

	for i, row := range d.Values {
		y := top + float64(i)*cellH
		for j, v := range row {
			dc.SetColor(r.cmap.At((v - d.Min) / valRange))
			dc.DrawRectangle(left+float64(j)*cellW, y, math.Ceil(cellW), math.Ceil(cellH))
			dc.Fill()
		}
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(d.Genes[i], left-8, y+cellH/2, 1, 0.5)
	}

	// Sample labels hang below the grid at 45 degrees, ending at their column.
	for j, s := range d.Samples {
		cx := left + (float64(j)+0.5)*cellW
		ty := bottom + 8
		dc.Push()
		dc.RotateAbout(gg.Radians(-45), cx, ty)
		dc.DrawStringAnchored(s, cx, ty, 1, 0.5)
		dc.Pop()
	}

	r.drawColorBar(dc, right+24, top, bottom, d.Min, d.Max)

	return encodeContext(dc)
}

func (r *HeatmapRenderer) drawColorBar(dc *gg.Context, x, top, bottom, vmin, vmax float64) {
	step := (bottom - top) / heatmapBarSteps
	for i := 0; i < heatmapBarSteps; i++ {
		t := float64(i) / float64(heatmapBarSteps-1)
		dc.SetColor(r.cmap.At(t))
		dc.DrawRectangle(x, bottom-float64(i+1)*step, heatmapBarWidth, math.Ceil(step))
		dc.Fill()
	}
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x, top, heatmapBarWidth, bottom-top)
	dc.Stroke()

	labelX := x + heatmapBarWidth + 4
	dc.DrawStringAnchored(fmt.Sprintf("%.1f", vmax), labelX, top, 0, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f", (vmin+vmax)/2), labelX, (top+bottom)/2, 0, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f", vmin), labelX, bottom, 0, 0.5)
}

func encodeContext(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
