package service

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/soma-tiles/degplot/internal/config"
	"github.com/soma-tiles/degplot/internal/destore"
)

const pipelineCounts = `gene,C1,C2,L1,L2,U1
GeneA,5,7,6,8,100
IL6,10,10,40,40,0
CXCL8,2,4,20,24,3
Flat,5,5,5,5,5
MMP9,8,12,4,6,1
MPO,0,1,30,28,2
`

const pipelineMetadata = `sample,condition
C1,Control
C2,Control
L1,Lesion
L2,Lesion
U1,Unknown
`

func setupPipeline(t *testing.T, countsCSV, metadataCSV string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	countsPath := filepath.Join(dir, "counts_matrix.csv")
	metadataPath := filepath.Join(dir, "sample_metadata.csv")
	require.NoError(t, os.WriteFile(countsPath, []byte(countsCSV), 0644))
	require.NoError(t, os.WriteFile(metadataPath, []byte(metadataCSV), 0644))

	cfg := config.DefaultConfig()
	cfg.Data.CountsPath = countsPath
	cfg.Data.MetadataPath = metadataPath
	cfg.Output.VolcanoColoredPath = filepath.Join(dir, "volcano_colored.png")
	cfg.Output.VolcanoPath = filepath.Join(dir, "volcano.png")
	cfg.Output.HeatmapPath = filepath.Join(dir, "heatmap.png")
	return cfg
}

func decodePNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestPipeline_Run(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	var stdout bytes.Buffer

	report, err := NewPipeline(cfg, nil, &stdout).Run(context.Background())
	require.NoError(t, err)

	decodePNG(t, cfg.Output.VolcanoColoredPath)
	decodePNG(t, cfg.Output.HeatmapPath)
	assert.NoFileExists(t, cfg.Output.VolcanoPath)

	assert.Equal(t,
		"Finished! Generated "+cfg.Output.VolcanoColoredPath+" and "+cfg.Output.HeatmapPath+"\n",
		stdout.String())

	assert.Equal(t, []string{cfg.Output.VolcanoColoredPath, cfg.Output.HeatmapPath}, report.Outputs)
	assert.Len(t, report.Result.Stats, 6)
	assert.Len(t, report.Result.Groups.Excluded, 1)
	assert.Equal(t, 1, report.Volcano.Omitted)
	assert.NotEmpty(t, report.RunID)

	// IL6, CXCL8 and MPO pass both cutoffs.
	assert.Equal(t, 3, report.Significant)

	// Heatmap rows follow the configured list, restricted to genes in the matrix.
	assert.Equal(t, []string{"IL6", "CXCL8", "MMP9", "MPO"}, report.Heatmap.Genes)
	assert.Equal(t, []string{"C1", "C2", "L1", "L2", "U1"}, report.Heatmap.Samples)
}

func TestPipeline_LogsAbsentCategoryGenes(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	core, logs := observer.New(zapcore.InfoLevel)

	report, err := NewPipeline(cfg, zap.New(core), &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Top, "no export configured")

	entries := logs.FilterMessage("category genes not in count matrix").All()
	require.Len(t, entries, 1)
	genes, ok := entries[0].ContextMap()["genes"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, genes, "IL1A")
	assert.NotContains(t, genes, "IL6")
}

func TestPipeline_HighlightMode(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	cfg.Plot.Mode = config.ModeHighlight
	var stdout bytes.Buffer

	report, err := NewPipeline(cfg, nil, &stdout).Run(context.Background())
	require.NoError(t, err)

	decodePNG(t, cfg.Output.VolcanoPath)
	assert.NoFileExists(t, cfg.Output.VolcanoColoredPath)
	assert.Equal(t, TitleHighlight, report.Volcano.Title)
	require.Len(t, report.Volcano.Layers, 1)
	assert.Equal(t, "Highlighted genes", report.Volcano.Layers[0].Name)
	assert.True(t, strings.HasPrefix(stdout.String(), "Finished! Generated "+cfg.Output.VolcanoPath))
}

func TestPipeline_Idempotent(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)

	_, err := NewPipeline(cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.Output.HeatmapPath)
	require.NoError(t, err)
	firstVolcano, err := os.ReadFile(cfg.Output.VolcanoColoredPath)
	require.NoError(t, err)

	_, err = NewPipeline(cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.Output.HeatmapPath)
	require.NoError(t, err)
	secondVolcano, err := os.ReadFile(cfg.Output.VolcanoColoredPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstVolcano, secondVolcano)
}

func TestPipeline_InputErrorsWriteNothing(t *testing.T) {
	tests := []struct {
		name     string
		counts   string
		metadata string
		wantErr  error
	}{
		{
			name:     "metadata sample missing from matrix",
			counts:   pipelineCounts,
			metadata: pipelineMetadata + "L3,Lesion\n",
			wantErr:  ErrMissingSample,
		},
		{
			name:     "no lesion samples",
			counts:   "gene,C1,C2\nGeneA,1,2\n",
			metadata: "sample,condition\nC1,Control\nC2,Control\n",
			wantErr:  ErrEmptyGroup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := setupPipeline(t, tt.counts, tt.metadata)
			var stdout bytes.Buffer

			_, err := NewPipeline(cfg, nil, &stdout).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Empty(t, stdout.String())
			assert.NoFileExists(t, cfg.Output.VolcanoColoredPath)
			assert.NoFileExists(t, cfg.Output.HeatmapPath)
		})
	}
}

func TestPipeline_MissingInputFile(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	cfg.Data.CountsPath = filepath.Join(t.TempDir(), "nope.csv")

	_, err := NewPipeline(cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "nope.csv")
}

func TestPipeline_UnwritableOutput(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	cfg.Output.HeatmapPath = filepath.Join(t.TempDir(), "missing-dir", "heatmap.png")

	_, err := NewPipeline(cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.Output.HeatmapPath)
}

func TestPipeline_Cancelled(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(cfg, nil, &bytes.Buffer{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, cfg.Output.VolcanoColoredPath)
}

func TestPipeline_ExportAndMetrics(t *testing.T) {
	cfg := setupPipeline(t, pipelineCounts, pipelineMetadata)
	dir := t.TempDir()
	cfg.Export.SQLitePath = filepath.Join(dir, "results.sqlite")
	cfg.Metrics.TextfilePath = filepath.Join(dir, "metrics", "degplot.prom")

	report, err := NewPipeline(cfg, nil, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Outputs, 4)

	require.Len(t, report.Top, 5)
	assert.Equal(t, "IL6", report.Top[0].Gene)
	for _, r := range report.Top {
		assert.NotEqual(t, "Flat", r.Gene, "undefined p-values sort last")
	}

	store, err := destore.NewStore(cfg.Export.SQLitePath)
	require.NoError(t, err)
	defer store.Close()

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "student", run.Test)
	assert.Equal(t, 2, run.NControl)
	assert.Equal(t, 2, run.NLesion)
	assert.Equal(t, 1, run.NExcluded)

	rows, total, err := store.QueryResults(report.RunID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "IL6", rows[0].Gene)
	assert.True(t, rows[0].Significant)

	prom, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "degplot_genes_significant 3")
	assert.Contains(t, string(prom), `degplot_samples{group="excluded"} 1`)
}
