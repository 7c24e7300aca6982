package counts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const matrixCSV = `gene,C1,C2,L1,L2
GeneA,5,7,6,8
IL6,10,10,40,40
GeneC,0,1,2,3
`

const metadataCSV = `sample,condition
C1,Control
C2,Control
L1,Lesion
L2,Lesion
`

func TestParseMatrix(t *testing.T) {
	m, err := ParseMatrix(strings.NewReader(matrixCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"GeneA", "IL6", "GeneC"}, m.Genes)
	assert.Equal(t, []string{"C1", "C2", "L1", "L2"}, m.Samples)

	i, ok := m.GeneIndex("IL6")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 10, 40, 40}, m.Values[i])

	j, ok := m.SampleIndex("L1")
	require.True(t, ok)
	assert.Equal(t, 2, j)
	assert.False(t, m.HasGene("TNF"))
}

func TestParseMatrix_ByteOrderMark(t *testing.T) {
	m, err := ParseMatrix(strings.NewReader("\ufeff" + matrixCSV))
	require.NoError(t, err)
	assert.Len(t, m.Genes, 3)
}

func TestParseMatrix_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
		wantMsg string
	}{
		{
			name:    "wrong first column",
			content: "id,C1\nGeneA,1\n",
			wantErr: ErrMissingColumn,
		},
		{
			name:    "duplicate gene",
			content: "gene,C1\nGeneA,1\nGeneA,2\n",
			wantErr: ErrDuplicateGene,
			wantMsg: `"GeneA"`,
		},
		{
			name:    "duplicate sample",
			content: "gene,C1,C1\nGeneA,1,2\n",
			wantErr: ErrDuplicateSample,
			wantMsg: `"C1"`,
		},
		{
			name:    "negative count",
			content: "gene,C1\nGeneA,-1\n",
			wantErr: ErrInvalidValue,
		},
		{
			name:    "not a number",
			content: "gene,C1\nGeneA,abc\n",
			wantErr: ErrInvalidValue,
			wantMsg: `column "C1"`,
		},
		{
			name:    "nan",
			content: "gene,C1\nGeneA,NaN\n",
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMatrix(strings.NewReader(tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseMatrix_RaggedRow(t *testing.T) {
	_, err := ParseMatrix(strings.NewReader("gene,C1,C2\nGeneA,1\n"))
	require.Error(t, err)
}

func TestParseMatrix_Empty(t *testing.T) {
	_, err := ParseMatrix(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestParseMatrix_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(matrixCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	m, err := ParseMatrix(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"GeneA", "IL6", "GeneC"}, m.Genes)
}

func TestParseMetadata_Zstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(metadataCSV), nil)
	require.NoError(t, enc.Close())

	md, err := ParseMetadata(bytes.NewReader(compressed))
	require.NoError(t, err)
	require.Len(t, md.Entries, 4)
	assert.Equal(t, SampleCondition{Sample: "L2", Condition: "Lesion"}, md.Entries[3])
}

func TestParseMetadata_ColumnOrder(t *testing.T) {
	content := "condition,batch,sample\nControl,b1,C1\n Lesion ,b1,L1\n"
	md, err := ParseMetadata(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, []SampleCondition{
		{Sample: "C1", Condition: "Control"},
		{Sample: "L1", Condition: "Lesion"},
	}, md.Entries)
}

func TestParseMetadata_Errors(t *testing.T) {
	_, err := ParseMetadata(strings.NewReader("sample,group\nC1,Control\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), `"condition"`)

	_, err = ParseMetadata(strings.NewReader("name,condition\nC1,Control\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), `"sample"`)

	_, err = ParseMetadata(strings.NewReader("sample,condition\nC1,Control\nC1,Lesion\n"))
	assert.ErrorIs(t, err, ErrDuplicateSample)
}

func TestReadMatrix_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts_matrix.csv")
	_, err := ReadMatrix(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "counts_matrix.csv")
}

func TestReadMetadata_NamesFileOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample_metadata.csv")
	require.NoError(t, os.WriteFile(path, []byte("sample\nC1\n"), 0644))

	_, err := ReadMetadata(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestNewMatrix_Validation(t *testing.T) {
	_, err := NewMatrix([]string{"A"}, []string{"S1", "S2"}, [][]float64{{1}})
	require.Error(t, err)

	_, err = NewMatrix([]string{"A", "A"}, []string{"S1"}, [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, ErrDuplicateGene)
}
