// Package cmd implements the geowall subcommands.
package cmd

import (
	"fmt"

	"grimm.is/geowall/internal/config"
	"grimm.is/geowall/internal/firewall"
	"grimm.is/geowall/internal/logging"
	"grimm.is/geowall/internal/pipeline"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// newPipeline builds a pipeline, substituting the dry-run runner when
// requested so no kernel state is touched.
func newPipeline(cfg *config.Config, dryRun bool) *pipeline.Pipeline {
	var runner firewall.CommandRunner
	if dryRun {
		runner = firewall.NewDryRunRunner(logging.Default())
	}
	return pipeline.New(cfg, runner, logging.Default())
}
