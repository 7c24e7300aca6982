// Package config handles configuration loading for the degplot analysis.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soma-tiles/degplot/pkg/colormap"
)

// FileName is the optional configuration file read from the working directory.
const FileName = "degplot.yaml"

// Volcano plot variants.
const (
	ModeCategories = "categories"
	ModeHighlight  = "highlight"
)

// Config represents the analysis configuration.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Output  OutputConfig  `yaml:"output"`
	Stats   StatsConfig   `yaml:"stats"`
	Plot    PlotConfig    `yaml:"plot"`
	Export  ExportConfig  `yaml:"export"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// DataConfig contains input file locations.
type DataConfig struct {
	CountsPath   string `yaml:"counts_path"`
	MetadataPath string `yaml:"metadata_path"`
}

// OutputConfig contains output image locations.
type OutputConfig struct {
	VolcanoColoredPath string `yaml:"volcano_colored_path"`
	VolcanoPath        string `yaml:"volcano_path"`
	HeatmapPath        string `yaml:"heatmap_path"`
}

// StatsConfig contains statistical test settings.
type StatsConfig struct {
	Test            string  `yaml:"test"`
	Log2FCThreshold float64 `yaml:"log2fc_threshold"`
	PValueThreshold float64 `yaml:"pvalue_threshold"`
}

// CategoryConfig is one named gene class on the volcano plot.
type CategoryConfig struct {
	Name  string   `yaml:"name"`
	Color string   `yaml:"color"`
	Genes []string `yaml:"genes"`
}

// PlotConfig contains rendering settings.
type PlotConfig struct {
	Mode         string           `yaml:"mode"`
	Width        int              `yaml:"width"`
	Height       int              `yaml:"height"`
	Colormap     string           `yaml:"colormap"`
	LabelOffset  float64          `yaml:"label_offset"`
	Categories   []CategoryConfig `yaml:"categories"`
	HeatmapGenes []string         `yaml:"heatmap_genes"`
}

// ExportConfig enables the SQLite result export when SQLitePath is set.
type ExportConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig enables the Prometheus textfile when TextfilePath is set.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Keys absent from the file keep their defaults, so an explicit 0 survives.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Empty strings and lists fall back to defaults
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			CountsPath:   "counts_matrix.csv",
			MetadataPath: "sample_metadata.csv",
		},
		Output: OutputConfig{
			VolcanoColoredPath: "volcano_colored.png",
			VolcanoPath:        "volcano.png",
			HeatmapPath:        "heatmap.png",
		},
		Stats: StatsConfig{
			Test:            "student",
			Log2FCThreshold: 1.0,
			PValueThreshold: 0.05,
		},
		Plot: PlotConfig{
			Mode:        ModeCategories,
			Width:       800,
			Height:      600,
			Colormap:    colormap.DefaultSequential,
			LabelOffset: 0.2,
			Categories: []CategoryConfig{
				{Name: "Cytokines", Color: "red", Genes: []string{"IL1A", "IL6", "TNF", "TSLP"}},
				{Name: "Chemokines", Color: "orange", Genes: []string{"CXCL8", "CCL5", "CCL11", "CCL17", "CXCL16"}},
				{Name: "MMPs", Color: "purple", Genes: []string{"MMP2", "MMP8", "MMP9"}},
				{Name: "Neutrophil products", Color: "blue", Genes: []string{"MPO", "ELANE", "LTF", "LCN2", "CAMP", "AZU1", "DEFA1"}},
			},
			HeatmapGenes: []string{"IL1A", "IL6", "CXCL8", "TNF", "TSLP", "CCL5", "MMP9", "MPO", "ELANE", "LTF", "LCN2", "CAMP"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Data.CountsPath == "" {
		cfg.Data.CountsPath = defaults.Data.CountsPath
	}
	if cfg.Data.MetadataPath == "" {
		cfg.Data.MetadataPath = defaults.Data.MetadataPath
	}
	if cfg.Output.VolcanoColoredPath == "" {
		cfg.Output.VolcanoColoredPath = defaults.Output.VolcanoColoredPath
	}
	if cfg.Output.VolcanoPath == "" {
		cfg.Output.VolcanoPath = defaults.Output.VolcanoPath
	}
	if cfg.Output.HeatmapPath == "" {
		cfg.Output.HeatmapPath = defaults.Output.HeatmapPath
	}
	if cfg.Stats.Test == "" {
		cfg.Stats.Test = defaults.Stats.Test
	}
	if cfg.Plot.Mode == "" {
		cfg.Plot.Mode = defaults.Plot.Mode
	}
	if cfg.Plot.Width == 0 {
		cfg.Plot.Width = defaults.Plot.Width
	}
	if cfg.Plot.Height == 0 {
		cfg.Plot.Height = defaults.Plot.Height
	}
	if cfg.Plot.Colormap == "" {
		cfg.Plot.Colormap = defaults.Plot.Colormap
	}
	if len(cfg.Plot.Categories) == 0 {
		cfg.Plot.Categories = defaults.Plot.Categories
	}
	if len(cfg.Plot.HeatmapGenes) == 0 {
		cfg.Plot.HeatmapGenes = defaults.Plot.HeatmapGenes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// Validate checks enumerated settings and category colours.
func (c *Config) Validate() error {
	switch c.Stats.Test {
	case "student", "welch":
	default:
		return fmt.Errorf("stats.test must be student or welch, got %q", c.Stats.Test)
	}
	if c.Stats.PValueThreshold <= 0 || c.Stats.PValueThreshold >= 1 {
		return fmt.Errorf("stats.pvalue_threshold must be in (0, 1), got %v", c.Stats.PValueThreshold)
	}
	switch c.Plot.Mode {
	case ModeCategories, ModeHighlight:
	default:
		return fmt.Errorf("plot.mode must be %s or %s, got %q", ModeCategories, ModeHighlight, c.Plot.Mode)
	}
	if c.Plot.Width < 0 || c.Plot.Height < 0 {
		return fmt.Errorf("plot size must be positive, got %dx%d", c.Plot.Width, c.Plot.Height)
	}
	if _, ok := colormap.ByName(c.Plot.Colormap); !ok {
		return fmt.Errorf("plot.colormap must be one of %v, got %q", colormap.Names(), c.Plot.Colormap)
	}
	for i, cat := range c.Plot.Categories {
		if cat.Name == "" {
			return fmt.Errorf("plot.categories[%d]: name is required", i)
		}
		if _, err := colormap.ParseColor(cat.Color); err != nil {
			return fmt.Errorf("plot.categories[%d] %q: %w", i, cat.Name, err)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// VolcanoOutput returns the volcano image path for the configured mode.
func (c *Config) VolcanoOutput() string {
	if c.Plot.Mode == ModeHighlight {
		return c.Output.VolcanoPath
	}
	return c.Output.VolcanoColoredPath
}
