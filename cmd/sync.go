package cmd

import (
	"context"
	"fmt"

	"grimm.is/geowall/internal/pipeline"
)

// RunSync performs one synchronization run and prints the outcome.
func RunSync(configPath string, offline, force, dryRun bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	p := newPipeline(cfg, dryRun)

	res, err := p.Run(context.Background(), pipeline.Options{
		Offline: offline,
		Force:   force,
	})
	if err != nil {
		return err
	}

	switch res.Outcome {
	case pipeline.OutcomeNoop:
		fmt.Printf("Already converged (database %s unchanged)\n", short(string(res.Fingerprint)))
	default:
		fmt.Printf("Converged: %d ranges, %d countries, %d sets, %d rules (database %s)\n",
			res.Ranges, res.Countries, res.Sets, res.Rules, short(string(res.Fingerprint)))
	}
	return nil
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
