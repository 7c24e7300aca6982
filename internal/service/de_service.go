// Package service provides the differential expression analysis and the
// data preparation behind the volcano and heatmap images.
package service

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/soma-tiles/degplot/internal/data/counts"
)

// Condition labels recognised in the sample metadata.
const (
	ConditionControl = "Control"
	ConditionLesion  = "Lesion"
)

var (
	// ErrMissingSample is returned when metadata and matrix columns disagree.
	ErrMissingSample = errors.New("missing data")
	// ErrEmptyGroup is returned when a condition has no samples at all.
	ErrEmptyGroup = errors.New("empty condition group")
)

// GeneStat is the per-gene differential expression record.
type GeneStat struct {
	Gene        string
	MeanControl float64
	MeanLesion  float64
	Log2FC      float64
	// PValue is NaN when the t-test is undefined for this gene.
	PValue float64
	// FDR is the Benjamini-Hochberg adjusted PValue.
	FDR float64
}

// Significant reports whether the gene passes both cutoffs.
// Genes with an undefined p-value are never significant.
func (g GeneStat) Significant(th Thresholds) bool {
	return g.Log2FC > th.Log2FC && g.PValue < th.PValue
}

// Thresholds are the fold-change and p-value cutoffs.
type Thresholds struct {
	Log2FC float64
	PValue float64
}

// DefaultThresholds returns log2FC > 1 and p < 0.05.
func DefaultThresholds() Thresholds {
	return Thresholds{Log2FC: 1.0, PValue: 0.05}
}

// Groups holds the matrix columns assigned to each condition.
type Groups struct {
	Control        []int
	Lesion         []int
	ControlSamples []string
	LesionSamples  []string
	// Excluded lists metadata rows whose condition is neither Control nor Lesion.
	Excluded []counts.SampleCondition
}

// Result is the output of a DE computation.
type Result struct {
	Stats  []GeneStat
	Groups *Groups
	Test   TestKind
	// Undefined counts genes whose p-value is NaN.
	Undefined int
}

// DEService handles differential expression analysis.
type DEService struct {
	test   TestKind
	logger *zap.Logger
}

// NewDEService creates a new DE service.
func NewDEService(test TestKind, logger *zap.Logger) *DEService {
	if test == "" {
		test = TestStudent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DEService{test: test, logger: logger}
}

// Partition assigns matrix columns to Control and Lesion.
func (s *DEService) Partition(m *counts.Matrix, md *counts.Metadata) (*Groups, error) {
	g := &Groups{}
	inMetadata := make(map[string]bool, len(md.Entries))

	for _, e := range md.Entries {
		inMetadata[e.Sample] = true
		col, ok := m.SampleIndex(e.Sample)
		if !ok {
			return nil, fmt.Errorf("%w: sample %q listed in metadata is not a column of the count matrix", ErrMissingSample, e.Sample)
		}
		switch e.Condition {
		case ConditionControl:
			g.Control = append(g.Control, col)
			g.ControlSamples = append(g.ControlSamples, e.Sample)
		case ConditionLesion:
			g.Lesion = append(g.Lesion, col)
			g.LesionSamples = append(g.LesionSamples, e.Sample)
		default:
			g.Excluded = append(g.Excluded, e)
			s.logger.Warn("sample excluded from analysis: unrecognised condition",
				zap.String("sample", e.Sample),
				zap.String("condition", e.Condition))
		}
	}

	for _, sample := range m.Samples {
		if !inMetadata[sample] {
			return nil, fmt.Errorf("%w: count matrix column %q has no row in the sample metadata", ErrMissingSample, sample)
		}
	}

	if len(g.Control) == 0 {
		return nil, fmt.Errorf("%w: no samples with condition %q", ErrEmptyGroup, ConditionControl)
	}
	if len(g.Lesion) == 0 {
		return nil, fmt.Errorf("%w: no samples with condition %q", ErrEmptyGroup, ConditionLesion)
	}
	return g, nil
}

// Compute runs the per-gene statistics over every row of m, in row order.
func (s *DEService) Compute(m *counts.Matrix, md *counts.Metadata) (*Result, error) {
	groups, err := s.Partition(m, md)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Stats:  make([]GeneStat, len(m.Genes)),
		Groups: groups,
		Test:   s.test,
	}

	ctrl := make([]float64, len(groups.Control))
	les := make([]float64, len(groups.Lesion))
	for i, gene := range m.Genes {
		row := m.Values[i]
		for k, col := range groups.Control {
			ctrl[k] = row[col]
		}
		for k, col := range groups.Lesion {
			les[k] = row[col]
		}

		meanCtrl := mean(ctrl)
		meanLes := mean(les)
		p := tTest(s.test, ctrl, les)
		if math.IsNaN(p) {
			res.Undefined++
		}

		res.Stats[i] = GeneStat{
			Gene:        gene,
			MeanControl: meanCtrl,
			MeanLesion:  meanLes,
			Log2FC:      Log2FoldChange(meanCtrl, meanLes),
			PValue:      p,
		}
	}

	pvals := make([]float64, len(res.Stats))
	for i, st := range res.Stats {
		pvals[i] = st.PValue
	}
	for i, q := range benjaminiHochberg(pvals) {
		res.Stats[i].FDR = q
	}

	s.logger.Info("differential expression computed",
		zap.Int("genes", len(res.Stats)),
		zap.Int("control_samples", len(groups.Control)),
		zap.Int("lesion_samples", len(groups.Lesion)),
		zap.Int("excluded_samples", len(groups.Excluded)),
		zap.Int("undefined_pvalues", res.Undefined),
		zap.String("test", string(s.test)))

	return res, nil
}

// Log2FoldChange returns log2((lesion+1)/(control+1)).
func Log2FoldChange(meanControl, meanLesion float64) float64 {
	return math.Log2((meanLesion + 1) / (meanControl + 1))
}
