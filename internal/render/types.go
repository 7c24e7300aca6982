package render

// Point is one gene on the volcano plot.
type Point struct {
	Gene string
	X    float64
	Y    float64
	// Clamped is set when the true -log10(p) is infinite and Y sits at the plot ceiling.
	Clamped     bool
	Significant bool
}

// Layer is a group of points drawn in one colour with one legend entry.
type Layer struct {
	Name   string
	Color  string
	Points []Point
}

// Label is a text annotation placed next to a highlighted point.
type Label struct {
	Text string
	X    float64
	Y    float64
}

// VolcanoData is everything the volcano renderer draws.
type VolcanoData struct {
	Title      string
	Background Layer
	Layers     []Layer
	Labels     []Label
	// XLine and YLine are the dashed reference lines.
	XLine float64
	YLine float64
	// YCeiling is where points with p = 0 are drawn.
	YCeiling float64
	// Omitted counts genes left out for non-finite coordinates.
	Omitted int
}

// HeatmapData is a gene x sample grid of already-transformed values.
type HeatmapData struct {
	Title   string
	Genes   []string
	Samples []string
	Values  [][]float64
	Min     float64
	Max     float64
}
