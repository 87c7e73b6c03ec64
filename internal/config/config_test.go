package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytes(t *testing.T) {
	hcl := `
allowed_countries = ["KR", "US"]

database {
  url           = "https://example.com/db-%d-%02d.mmdb.gz"
  fetch_timeout = "2m"
}

paths {
  state_dir = "/tmp/geowall-state"
}

run_timeout = "10m"
`
	cfg, err := LoadBytes("test.hcl", []byte(hcl))
	require.NoError(t, err)

	assert.Equal(t, []string{"KR", "US"}, cfg.AllowedCountries)
	assert.Equal(t, "https://example.com/db-%d-%02d.mmdb.gz", cfg.Database.URL)
	assert.Equal(t, "/tmp/geowall-state", cfg.Paths.StateDir)
	assert.Equal(t, DefaultCacheDir, cfg.Paths.CacheDir)

	ft, err := cfg.FetchTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, ft)

	rt, err := cfg.RunTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, rt)
}

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes("test.hcl", []byte(`allowed_countries = ["KR"]`))
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabaseURL, cfg.Database.URL)
	assert.Contains(t, cfg.PrivateNetworksV4, "10.0.0.0/8")
	assert.Contains(t, cfg.PrivateNetworksV6, "fe80::/10")
	assert.Empty(t, cfg.VerifyTargets())

	ft, err := cfg.FetchTimeout()
	require.NoError(t, err)
	assert.Equal(t, DefaultFetchTimeout, ft)
}

func TestLoadBytes_Invalid(t *testing.T) {
	cases := []struct {
		name string
		hcl  string
	}{
		{"no countries", `allowed_countries = []`},
		{"bad country code", `allowed_countries = ["kr"]`},
		{"three letters", `allowed_countries = ["KOR"]`},
		{"bad timeout", `allowed_countries = ["KR"]` + "\n" + `run_timeout = "soon"`},
		{"negative timeout", `allowed_countries = ["KR"]` + "\n" + `run_timeout = "-1m"`},
		{"not hcl", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadBytes("test.hcl", []byte(tc.hcl))
			assert.Error(t, err)
		})
	}
}
