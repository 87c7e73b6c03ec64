// Package config provides HCL configuration handling for geowall.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Default locations and tuning values. Paths follow the FHS conventions of
// the packaging (state under /var/lib, snapshots under /var/cache).
const (
	DefaultConfigPath = "/etc/geowall/geowall.hcl"
	DefaultStateDir   = "/var/lib/geowall"
	DefaultCacheDir   = "/var/cache/geowall"

	// DefaultDatabaseURL is expanded with the current year and month,
	// e.g. dbip-country-lite-2026-08.mmdb.gz.
	DefaultDatabaseURL = "https://download.db-ip.com/free/dbip-country-lite-%d-%02d.mmdb.gz"

	DefaultFetchTimeout = 5 * time.Minute
	DefaultRunTimeout   = 15 * time.Minute
)

// Config is the top-level geowall configuration.
type Config struct {
	// AllowedCountries lists ISO 3166-1 alpha-2 codes admitted on INPUT.
	// Every other known country is dropped and logged.
	AllowedCountries []string `hcl:"allowed_countries"`

	// PrivateNetworksV4 and PrivateNetworksV6 are always accepted so that
	// container and management-plane traffic survives a bad database.
	PrivateNetworksV4 []string `hcl:"private_networks_v4,optional"`
	PrivateNetworksV6 []string `hcl:"private_networks_v6,optional"`

	Database *DatabaseConfig `hcl:"database,block"`
	Paths    *PathsConfig    `hcl:"paths,block"`
	Verify   *VerifyConfig   `hcl:"verify,block"`

	// MetricsTextfile, when set, receives Prometheus metrics in textfile
	// collector format after each run.
	MetricsTextfile string `hcl:"metrics_textfile,optional"`

	// RunTimeout bounds a whole synchronization run ("15m" etc.).
	RunTimeout string `hcl:"run_timeout,optional"`
}

// DatabaseConfig configures the geo-database source.
type DatabaseConfig struct {
	// URL is a fmt pattern taking year and month, or a plain URL.
	URL string `hcl:"url,optional"`

	// FetchTimeout bounds the HTTPS download ("5m" etc.).
	FetchTimeout string `hcl:"fetch_timeout,optional"`
}

// PathsConfig overrides the state and snapshot locations.
type PathsConfig struct {
	StateDir string `hcl:"state_dir,optional"`
	CacheDir string `hcl:"cache_dir,optional"`
}

// VerifyConfig configures post-swap connectivity verification. When Targets
// is empty, verification is skipped.
type VerifyConfig struct {
	Targets []string `hcl:"targets,optional"`
	Timeout string   `hcl:"timeout,optional"`
}

// Load reads and validates an HCL config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes config from bytes. The filename is used in diagnostics.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	if c.Database.URL == "" {
		c.Database.URL = DefaultDatabaseURL
	}
	if c.Paths == nil {
		c.Paths = &PathsConfig{}
	}
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = DefaultStateDir
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = DefaultCacheDir
	}
	if c.PrivateNetworksV4 == nil {
		c.PrivateNetworksV4 = []string{
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
			"169.254.0.0/16",
		}
	}
	if c.PrivateNetworksV6 == nil {
		c.PrivateNetworksV6 = []string{
			"fc00::/7",
			"fe80::/10",
		}
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if len(c.AllowedCountries) == 0 {
		return fmt.Errorf("allowed_countries must list at least one country code")
	}
	for _, cc := range c.AllowedCountries {
		if !isCountryCode(cc) {
			return fmt.Errorf("invalid country code %q: want two upper-case letters", cc)
		}
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	if _, err := c.RunTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.VerifyTimeout(); err != nil {
		return err
	}
	return nil
}

// FetchTimeout returns the parsed database fetch timeout.
func (c *Config) FetchTimeout() (time.Duration, error) {
	return parseTimeout(c.Database.FetchTimeout, DefaultFetchTimeout, "database.fetch_timeout")
}

// RunTimeoutDuration returns the parsed whole-run timeout.
func (c *Config) RunTimeoutDuration() (time.Duration, error) {
	return parseTimeout(c.RunTimeout, DefaultRunTimeout, "run_timeout")
}

// VerifyTimeout returns the parsed connectivity verification timeout.
func (c *Config) VerifyTimeout() (time.Duration, error) {
	if c.Verify == nil {
		return 5 * time.Second, nil
	}
	return parseTimeout(c.Verify.Timeout, 5*time.Second, "verify.timeout")
}

// VerifyTargets returns the configured connectivity targets, if any.
func (c *Config) VerifyTargets() []string {
	if c.Verify == nil {
		return nil
	}
	return c.Verify.Targets
}

func parseTimeout(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, s)
	}
	return d, nil
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
