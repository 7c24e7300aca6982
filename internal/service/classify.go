package service

import (
	"math"

	"github.com/soma-tiles/degplot/internal/data/counts"
	"github.com/soma-tiles/degplot/internal/render"
)

// Category is a named, coloured list of genes highlighted on the volcano plot.
type Category struct {
	Name  string
	Color string
	Genes []string
}

// BackgroundName and BackgroundColor describe the layer of unclassified genes.
const (
	BackgroundName  = "Other genes"
	BackgroundColor = "lightgray"
)

// Plot titles for the two volcano variants.
const (
	TitleCategories = "Volcano Plot with Inflammatory Gene Classes"
	TitleHighlight  = "Volcano Plot"
	TitleHeatmap    = "Expression Heatmap (log2 count + 1)"
)

// HighlightCategory flattens cats into one category, keeping first-seen order.
func HighlightCategory(cats []Category) Category {
	h := Category{Name: "Highlighted genes", Color: "red"}
	seen := make(map[string]bool)
	for _, c := range cats {
		for _, g := range c.Genes {
			if !seen[g] {
				seen[g] = true
				h.Genes = append(h.Genes, g)
			}
		}
	}
	return h
}

// VolcanoOptions controls how statistics are turned into plot coordinates.
type VolcanoOptions struct {
	Title       string
	Thresholds  Thresholds
	LabelOffset float64
}

// Classify places every gene with finite coordinates on exactly one layer.
// A gene in several categories goes to the first one. Category genes that
// have no statistic are skipped.
func Classify(stats []GeneStat, cats []Category, opts VolcanoOptions) *render.VolcanoData {
	owner := make(map[string]int)
	for ci, c := range cats {
		for _, g := range c.Genes {
			if _, ok := owner[g]; !ok {
				owner[g] = ci
			}
		}
	}

	d := &render.VolcanoData{
		Title:      opts.Title,
		Background: render.Layer{Name: BackgroundName, Color: BackgroundColor},
		Layers:     make([]render.Layer, len(cats)),
		XLine:      opts.Thresholds.Log2FC,
		YLine:      -math.Log10(opts.Thresholds.PValue),
	}
	for ci, c := range cats {
		d.Layers[ci] = render.Layer{Name: c.Name, Color: c.Color}
	}

	maxY := d.YLine
	for _, st := range stats {
		if !plottable(st) {
			continue
		}
		if y := -math.Log10(st.PValue); !math.IsInf(y, 0) && y > maxY {
			maxY = y
		}
	}
	d.YCeiling = maxY + 1

	index := make(map[string]GeneStat, len(stats))
	for _, st := range stats {
		index[st.Gene] = st
	}

	for _, st := range stats {
		if !plottable(st) {
			d.Omitted++
			continue
		}
		if _, ok := owner[st.Gene]; ok {
			continue
		}
		d.Background.Points = append(d.Background.Points, toPoint(st, d.YCeiling, opts.Thresholds))
	}

	// Category layers follow list order, not matrix order.
	placed := make(map[string]bool)
	for ci, c := range cats {
		for _, g := range c.Genes {
			if owner[g] != ci || placed[g] {
				continue
			}
			placed[g] = true
			st, ok := index[g]
			if !ok || !plottable(st) {
				continue
			}
			p := toPoint(st, d.YCeiling, opts.Thresholds)
			d.Layers[ci].Points = append(d.Layers[ci].Points, p)
			d.Labels = append(d.Labels, render.Label{Text: g, X: p.X, Y: p.Y + opts.LabelOffset})
		}
	}

	return d
}

// plottable reports whether a gene has a defined position on the plot.
func plottable(st GeneStat) bool {
	if math.IsNaN(st.PValue) || math.IsNaN(st.Log2FC) || math.IsInf(st.Log2FC, 0) {
		return false
	}
	return st.PValue >= 0
}

func toPoint(st GeneStat, ceiling float64, th Thresholds) render.Point {
	p := render.Point{
		Gene:        st.Gene,
		X:           st.Log2FC,
		Y:           -math.Log10(st.PValue),
		Significant: st.Significant(th),
	}
	if math.IsInf(p.Y, 1) {
		p.Y = ceiling
		p.Clamped = true
	}
	return p
}

// BuildHeatmap extracts log2(count+1) for the listed genes, in list order.
// Genes missing from the matrix are skipped.
func BuildHeatmap(m *counts.Matrix, genes []string, title string) *render.HeatmapData {
	d := &render.HeatmapData{
		Title:   title,
		Samples: m.Samples,
		Min:     math.Inf(1),
		Max:     math.Inf(-1),
	}
	seen := make(map[string]bool)
	for _, g := range genes {
		i, ok := m.GeneIndex(g)
		if !ok || seen[g] {
			continue
		}
		seen[g] = true

		row := make([]float64, len(m.Samples))
		for j, v := range m.Values[i] {
			row[j] = math.Log2(v + 1)
			d.Min = math.Min(d.Min, row[j])
			d.Max = math.Max(d.Max, row[j])
		}
		d.Genes = append(d.Genes, g)
		d.Values = append(d.Values, row)
	}
	if len(d.Genes) == 0 || len(m.Samples) == 0 {
		d.Min, d.Max = 0, 0
	}
	return d
}
