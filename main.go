package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/geowall/cmd"
	"grimm.is/geowall/internal/config"
	"grimm.is/geowall/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		flags := flag.NewFlagSet("sync", flag.ExitOnError)
		configFile := flags.String("config", config.DefaultConfigPath, "Configuration file")
		flags.StringVar(configFile, "c", config.DefaultConfigPath, "Configuration file (short)")
		offline := flags.Bool("offline", false, "Synchronize from the cached snapshot, no network")
		force := flags.Bool("force", false, "Resynchronize even if the database is unchanged")
		dryRun := flags.Bool("dry-run", false, "Print commands without applying them")
		flags.BoolVar(dryRun, "n", false, "Dry run (short)")
		verbose := flags.Bool("verbose", false, "Debug logging")
		jsonLog := flags.Bool("json", false, "JSON log output")
		flags.Parse(os.Args[2:])

		setupLogging(*verbose, *jsonLog)
		if err := cmd.RunSync(*configFile, *offline, *force, *dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
			os.Exit(1)
		}

	case "restore":
		flags := flag.NewFlagSet("restore", flag.ExitOnError)
		configFile := flags.String("config", config.DefaultConfigPath, "Configuration file")
		dryRun := flags.Bool("dry-run", false, "Print commands without applying them")
		verbose := flags.Bool("verbose", false, "Debug logging")
		flags.Parse(os.Args[2:])

		setupLogging(*verbose, false)
		if err := cmd.RunRestore(*configFile, *dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "Restore failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		flags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := flags.String("config", config.DefaultConfigPath, "Configuration file")
		flags.Parse(os.Args[2:])

		setupLogging(false, false)
		if err := cmd.RunStatus(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}

	case "teardown":
		flags := flag.NewFlagSet("teardown", flag.ExitOnError)
		configFile := flags.String("config", config.DefaultConfigPath, "Configuration file")
		dryRun := flags.Bool("dry-run", false, "Print commands without applying them")
		flags.Parse(os.Args[2:])

		setupLogging(false, false)
		if err := cmd.RunTeardown(*configFile, *dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "Teardown failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		flags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := flags.String("config", config.DefaultConfigPath, "Configuration file")
		flags.Parse(os.Args[2:])

		if err := cmd.RunCheck(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		fmt.Printf("geowall %s\n", cmd.Version)

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func setupLogging(verbose, jsonLog bool) {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	cfg.JSON = jsonLog
	logging.SetDefault(logging.New(cfg))
}

func printUsage() {
	fmt.Printf(`geowall - country-based admission control for a single host

Usage:
  geowall <command> [options]

Commands:
  sync       Fetch the geo database and synchronize the rule chain
  restore    Rebuild rules from the cached snapshot (no network, for boot)
  status     Show applied database, allow-list, and live rule presence
  teardown   Remove all geowall rules and sets
  check      Validate a configuration file
  version    Print version

Common options:
  -config <file>   Configuration file (default %s)

Run 'geowall <command> -h' for command-specific options.
`, config.DefaultConfigPath)
}
