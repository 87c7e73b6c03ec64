package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	r := newRegistry()
	r.RunsTotal.WithLabelValues("converged").Inc()
	r.RangesDecoded.WithLabelValues("ipv4").Set(123456)
	r.CountriesTotal.Set(251)

	path := filepath.Join(t.TempDir(), "geowall.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, `geowall_runs_total{result="converged"} 1`)
	assert.Contains(t, out, `geowall_ranges_decoded{family="ipv4"} 123456`)
	assert.Contains(t, out, "geowall_countries_total 251")

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".geowall-metrics-"), "temp file %s left behind", e.Name())
	}
}

func TestGetSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
