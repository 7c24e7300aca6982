package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Observe(t *testing.T) {
	r := NewRecorder()
	r.Observe(Summary{
		Genes:            3,
		SignificantGenes: 1,
		UndefinedPValues: 1,
		ControlSamples:   2,
		LesionSamples:    2,
		ExcludedSamples:  1,
		Duration:         1500 * time.Millisecond,
	}, time.Unix(1700000000, 0))

	assert.Equal(t, 3.0, testutil.ToFloat64(r.genes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.significant))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.samples.WithLabelValues("lesion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.samples.WithLabelValues("excluded")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.duration))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastSuccess))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Observe(Summary{Genes: 42}, time.Now())

	path := filepath.Join(t.TempDir(), "textfile", "degplot.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "degplot_genes_analysed 42"), text)
	assert.Contains(t, text, `degplot_samples{group="control"} 0`)
}
