package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soma-tiles/degplot/internal/config"
	"github.com/soma-tiles/degplot/internal/data/counts"
	"github.com/soma-tiles/degplot/internal/destore"
	"github.com/soma-tiles/degplot/internal/metrics"
	"github.com/soma-tiles/degplot/internal/render"
)

// Report summarises a completed run.
type Report struct {
	RunID       string
	Result      *Result
	Volcano     *render.VolcanoData
	Heatmap     *render.HeatmapData
	Significant int
	// Top holds the lowest p-value genes read back from the export, if enabled.
	Top []*destore.GeneResult
	// Outputs lists every file written, images first.
	Outputs []string
}

// Pipeline runs the whole analysis once: load, test, classify, render, write.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	now    func() time.Time
}

// NewPipeline creates a pipeline. Stdout receives only the completion line.
func NewPipeline(cfg *config.Config, logger *zap.Logger, stdout io.Writer) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger, stdout: stdout, now: time.Now}
}

// Run executes the analysis. Nothing is written unless loading, statistics
// and rendering all succeed.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := p.now()
	cfg := p.cfg

	// Phase 1: Load inputs
	p.logger.Info("loading inputs",
		zap.String("counts", cfg.Data.CountsPath),
		zap.String("metadata", cfg.Data.MetadataPath))

	matrix, err := counts.ReadMatrix(cfg.Data.CountsPath)
	if err != nil {
		return nil, err
	}
	md, err := counts.ReadMetadata(cfg.Data.MetadataPath)
	if err != nil {
		return nil, err
	}
	p.logger.Info("inputs loaded",
		zap.Int("genes", len(matrix.Genes)),
		zap.Int("samples", len(matrix.Samples)),
		zap.Int("metadata_rows", len(md.Entries)))

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Phase 2: Statistics
	de := NewDEService(TestKind(cfg.Stats.Test), p.logger)
	res, err := de.Compute(matrix, md)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Phase 3: Classify and render in memory
	th := Thresholds{Log2FC: cfg.Stats.Log2FCThreshold, PValue: cfg.Stats.PValueThreshold}
	cats := categoriesFromConfig(cfg.Plot.Categories)
	title := TitleCategories
	if cfg.Plot.Mode == config.ModeHighlight {
		cats = []Category{HighlightCategory(cats)}
		title = TitleHighlight
	}

	var absent []string
	for _, c := range cats {
		for _, g := range c.Genes {
			if !matrix.HasGene(g) {
				absent = append(absent, g)
			}
		}
	}
	if len(absent) > 0 {
		p.logger.Info("category genes not in count matrix", zap.Strings("genes", absent))
	}

	volcano := Classify(res.Stats, cats, VolcanoOptions{
		Title:       title,
		Thresholds:  th,
		LabelOffset: cfg.Plot.LabelOffset,
	})
	heatmap := BuildHeatmap(matrix, cfg.Plot.HeatmapGenes, TitleHeatmap)
	if volcano.Omitted > 0 {
		p.logger.Info("genes omitted from volcano plot", zap.Int("count", volcano.Omitted))
	}

	volcanoPNG, err := render.NewVolcanoRenderer(render.VolcanoConfig{
		Width:  cfg.Plot.Width,
		Height: cfg.Plot.Height,
		Legend: cfg.Plot.Mode == config.ModeCategories,
	}).Render(volcano)
	if err != nil {
		return nil, err
	}
	heatmapPNG, err := render.NewHeatmapRenderer(render.HeatmapConfig{
		Width:    cfg.Plot.Width,
		Height:   cfg.Plot.Height,
		Colormap: cfg.Plot.Colormap,
	}).Render(heatmap)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Phase 4: Write outputs
	report := &Report{
		RunID:   uuid.NewString(),
		Result:  res,
		Volcano: volcano,
		Heatmap: heatmap,
	}
	for _, st := range res.Stats {
		if st.Significant(th) {
			report.Significant++
		}
	}

	volcanoPath := cfg.VolcanoOutput()
	for _, out := range []struct {
		path string
		data []byte
	}{
		{volcanoPath, volcanoPNG},
		{cfg.Output.HeatmapPath, heatmapPNG},
	} {
		if err := os.WriteFile(out.path, out.data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", out.path, err)
		}
		report.Outputs = append(report.Outputs, out.path)
		p.logger.Info("image written", zap.String("path", out.path), zap.Int("bytes", len(out.data)))
	}

	if path := cfg.Export.SQLitePath; path != "" {
		if err := p.export(path, report, th); err != nil {
			return nil, err
		}
		report.Outputs = append(report.Outputs, path)
	}

	if path := cfg.Metrics.TextfilePath; path != "" {
		rec := metrics.NewRecorder()
		rec.Observe(metrics.Summary{
			Genes:            len(res.Stats),
			SignificantGenes: report.Significant,
			UndefinedPValues: res.Undefined,
			OmittedFromPlot:  volcano.Omitted,
			ControlSamples:   len(res.Groups.Control),
			LesionSamples:    len(res.Groups.Lesion),
			ExcludedSamples:  len(res.Groups.Excluded),
			Duration:         p.now().Sub(start),
		}, p.now())
		if err := rec.WriteTextfile(path); err != nil {
			return nil, err
		}
		report.Outputs = append(report.Outputs, path)
	}

	fmt.Fprintf(p.stdout, "Finished! Generated %s and %s\n", volcanoPath, cfg.Output.HeatmapPath)
	return report, nil
}

func (p *Pipeline) export(path string, report *Report, th Thresholds) error {
	store, err := destore.NewStore(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer store.Close()

	res := report.Result
	items := make([]*destore.GeneResult, len(res.Stats))
	for i, st := range res.Stats {
		items[i] = &destore.GeneResult{
			Gene:        st.Gene,
			MeanControl: st.MeanControl,
			MeanLesion:  st.MeanLesion,
			Log2FC:      st.Log2FC,
			PValue:      st.PValue,
			FDR:         st.FDR,
			Significant: st.Significant(th),
		}
	}

	run := &destore.Run{
		ID:        report.RunID,
		CreatedAt: p.now(),
		Test:      string(res.Test),
		NControl:  len(res.Groups.Control),
		NLesion:   len(res.Groups.Lesion),
		NExcluded: len(res.Groups.Excluded),
	}
	if err := store.SaveRun(run, items); err != nil {
		return fmt.Errorf("failed to save results to %s: %w", path, err)
	}

	saved, err := store.GetRun(run.ID)
	if err != nil {
		return fmt.Errorf("failed to read back run from %s: %w", path, err)
	}
	if saved == nil {
		return fmt.Errorf("run %s missing from %s after save", run.ID, path)
	}
	top, total, err := store.QueryResults(run.ID, 0, exportTopGenes)
	if err != nil {
		return fmt.Errorf("failed to query results from %s: %w", path, err)
	}
	report.Top = top

	p.logger.Info("results exported",
		zap.String("path", path),
		zap.String("run_id", saved.ID),
		zap.Int("genes", total))
	for _, r := range top {
		p.logger.Info("top gene",
			zap.String("gene", r.Gene),
			zap.Float64("log2fc", r.Log2FC),
			zap.Float64("p_value", r.PValue),
			zap.Bool("significant", r.Significant))
	}
	return nil
}

// exportTopGenes is how many of the lowest p-value genes are read back and logged.
const exportTopGenes = 5

func categoriesFromConfig(in []config.CategoryConfig) []Category {
	out := make([]Category, len(in))
	for i, c := range in {
		out[i] = Category{Name: c.Name, Color: c.Color, Genes: c.Genes}
	}
	return out
}
