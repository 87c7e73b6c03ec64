package cmd

import "fmt"

// RunTeardown removes every rule and set the engine owns and clears the
// applied-state record. The cached snapshot is kept so a later sync can
// still run offline.
func RunTeardown(configPath string, dryRun bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	p := newPipeline(cfg, dryRun)

	if err := p.Teardown(); err != nil {
		return err
	}
	fmt.Println("All geowall rules and sets removed")
	return nil
}
