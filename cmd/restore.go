package cmd

import (
	"context"
	"fmt"

	"grimm.is/geowall/internal/pipeline"
)

// RunRestore rebuilds the rule chain from the cached database snapshot
// without any network call. Intended to run at boot; a no-op when the
// chain is already installed or the host has never converged.
func RunRestore(configPath string, dryRun bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	p := newPipeline(cfg, dryRun)

	needed, err := p.NeedsRestore()
	if err != nil {
		return err
	}
	if !needed {
		fmt.Println("Nothing to restore")
		return nil
	}

	res, err := p.Run(context.Background(), pipeline.Options{Offline: true, Force: true})
	if err != nil {
		return err
	}
	fmt.Printf("Restored from snapshot: %d sets, %d rules (database %s)\n",
		res.Sets, res.Rules, short(string(res.Fingerprint)))
	return nil
}
