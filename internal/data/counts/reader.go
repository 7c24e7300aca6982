// Package counts reads gene-by-sample count matrices and sample metadata.
package counts

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrMissingColumn is returned when a required header column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrDuplicateGene is returned when a gene id appears on more than one row.
	ErrDuplicateGene = errors.New("duplicate gene")
	// ErrDuplicateSample is returned when a sample id appears twice.
	ErrDuplicateSample = errors.New("duplicate sample")
	// ErrInvalidValue is returned for counts that are not finite non-negative numbers.
	ErrInvalidValue = errors.New("invalid count value")
)

const geneColumn = "gene"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Matrix is an immutable gene x sample count matrix.
type Matrix struct {
	Genes   []string
	Samples []string
	// Values[i][j] is the count of Genes[i] in Samples[j].
	Values [][]float64

	geneIndex   map[string]int
	sampleIndex map[string]int
}

// SampleCondition is one row of the sample metadata table.
type SampleCondition struct {
	Sample    string
	Condition string
}

// Metadata maps samples to condition labels, in file order.
type Metadata struct {
	Entries []SampleCondition
}

// NewMatrix builds a matrix from in-memory rows. Used by the CSV reader and tests.
func NewMatrix(genes, samples []string, values [][]float64) (*Matrix, error) {
	if len(values) != len(genes) {
		return nil, fmt.Errorf("matrix has %d genes but %d value rows", len(genes), len(values))
	}
	m := &Matrix{
		Genes:       genes,
		Samples:     samples,
		Values:      values,
		geneIndex:   make(map[string]int, len(genes)),
		sampleIndex: make(map[string]int, len(samples)),
	}
	for j, s := range samples {
		if _, ok := m.sampleIndex[s]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSample, s)
		}
		m.sampleIndex[s] = j
	}
	for i, g := range genes {
		if _, ok := m.geneIndex[g]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateGene, g)
		}
		m.geneIndex[g] = i
		if len(values[i]) != len(samples) {
			return nil, fmt.Errorf("gene %q has %d values, expected %d", g, len(values[i]), len(samples))
		}
		for j, v := range values[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, fmt.Errorf("%w: gene %q sample %q: %v", ErrInvalidValue, g, samples[j], v)
			}
		}
	}
	return m, nil
}

// GeneIndex returns the row of gene, if present.
func (m *Matrix) GeneIndex(gene string) (int, bool) {
	i, ok := m.geneIndex[gene]
	return i, ok
}

// SampleIndex returns the column of sample, if present.
func (m *Matrix) SampleIndex(sample string) (int, bool) {
	j, ok := m.sampleIndex[sample]
	return j, ok
}

// HasGene reports whether gene is a row of the matrix.
func (m *Matrix) HasGene(gene string) bool {
	_, ok := m.geneIndex[gene]
	return ok
}

// ReadMatrix loads a count matrix CSV. The file may be gzip or zstd compressed.
func ReadMatrix(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open count matrix: %w", err)
	}
	defer f.Close()

	m, err := ParseMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseMatrix parses a count matrix with header "gene,<sample>...".
func ParseMatrix(r io.Reader) (*Matrix, error) {
	rc, err := decompress(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) == 0 || cleanField(header[0]) != geneColumn {
		return nil, fmt.Errorf("%w: first header column must be %q", ErrMissingColumn, geneColumn)
	}

	samples := make([]string, len(header)-1)
	for j, h := range header[1:] {
		samples[j] = cleanField(h)
	}

	var genes []string
	var values [][]float64
	seen := make(map[string]int)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		gene := cleanField(rec[0])
		if gene == "" {
			return nil, fmt.Errorf("line %d: empty gene id", line)
		}
		if prev, ok := seen[gene]; ok {
			return nil, fmt.Errorf("%w: %q on lines %d and %d", ErrDuplicateGene, gene, prev, line)
		}
		seen[gene] = line

		row := make([]float64, len(samples))
		for j, field := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, fmt.Errorf("%w: line %d column %q: %q", ErrInvalidValue, line, samples[j], field)
			}
			row[j] = v
		}
		genes = append(genes, gene)
		values = append(values, row)
	}

	return NewMatrix(genes, samples, values)
}

// ReadMetadata loads the sample metadata CSV. The file may be gzip or zstd compressed.
func ReadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample metadata: %w", err)
	}
	defer f.Close()

	md, err := ParseMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return md, nil
}

// ParseMetadata parses a table with "sample" and "condition" columns in any order.
func ParseMetadata(r io.Reader) (*Metadata, error) {
	rc, err := decompress(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	sampleCol, condCol := -1, -1
	for i, h := range header {
		switch cleanField(h) {
		case "sample":
			sampleCol = i
		case "condition":
			condCol = i
		}
	}
	if sampleCol < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, "sample")
	}
	if condCol < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, "condition")
	}

	md := &Metadata{}
	seen := make(map[string]bool)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		sample := cleanField(rec[sampleCol])
		if sample == "" {
			return nil, fmt.Errorf("line %d: empty sample id", line)
		}
		if seen[sample] {
			return nil, fmt.Errorf("%w: %q on line %d", ErrDuplicateSample, sample, line)
		}
		seen[sample] = true
		md.Entries = append(md.Entries, SampleCondition{
			Sample:    sample,
			Condition: strings.TrimSpace(rec[condCol]),
		})
	}
	return md, nil
}

// decompress sniffs gzip and zstd magic bytes and wraps r accordingly.
func decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return io.NopCloser(br), nil
}

// cleanField trims whitespace and a leading UTF-8 byte order mark.
func cleanField(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
