package cmd

import (
	"fmt"
	"strings"
)

// RunCheck validates a configuration file without touching any state.
func RunCheck(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Config OK: %s\n", configPath)
	fmt.Printf("  allowed countries:  %s\n", strings.Join(cfg.AllowedCountries, ", "))
	fmt.Printf("  database url:       %s\n", cfg.Database.URL)
	fmt.Printf("  state dir:          %s\n", cfg.Paths.StateDir)
	fmt.Printf("  cache dir:          %s\n", cfg.Paths.CacheDir)
	if targets := cfg.VerifyTargets(); len(targets) > 0 {
		fmt.Printf("  verify targets:     %s\n", strings.Join(targets, ", "))
	}
	if cfg.MetricsTextfile != "" {
		fmt.Printf("  metrics textfile:   %s\n", cfg.MetricsTextfile)
	}
	return nil
}
