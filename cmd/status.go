package cmd

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus prints the persisted and live state of the engine.
func RunStatus(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	p := newPipeline(cfg, false)

	st, err := p.Status()
	if err != nil {
		return err
	}

	fmt.Println("=== geowall status ===")
	fmt.Println()
	if st.RulesPresent {
		fmt.Println("Rules:       INSTALLED")
	} else {
		fmt.Println("Rules:       ABSENT")
	}
	if st.Applied != nil {
		fmt.Printf("Database:    %s\n", short(st.Applied.Fingerprint))
		fmt.Printf("Applied:     %s\n", st.Applied.AppliedAt.Format(time.RFC3339))
		fmt.Printf("Allowed:     %s\n", strings.Join(st.Applied.AllowedCountries, ", "))
	} else {
		fmt.Println("Database:    never applied")
	}
	if st.SnapshotBytes > 0 {
		fmt.Printf("Snapshot:    %d bytes cached\n", st.SnapshotBytes)
	} else {
		fmt.Println("Snapshot:    none")
	}
	if st.LastCheckOK {
		fmt.Printf("Last check:  %s\n", st.LastCheck.Format(time.RFC3339))
	} else {
		fmt.Println("Last check:  never")
	}
	return nil
}
