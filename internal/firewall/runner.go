package firewall

import (
	"fmt"
	"os/exec"
	"strings"

	"grimm.is/geowall/internal/logging"
)

// CommandRunner abstracts shell command execution.
// Used for ipset and iptables invocations so tests can substitute mocks.
type CommandRunner interface {
	Run(name string, args ...string) error
	RunInput(input string, name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual shell commands.
type RealCommandRunner struct{}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}

// Run executes a command without capturing output.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
	}
	return nil
}

// Output executes a command and returns its output.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// RunInput executes a command with input via stdin.
func (r *RealCommandRunner) RunInput(input string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(input)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
	}
	return nil
}

// DryRunRunner logs every command instead of executing it. Output-style
// queries return empty results, so a dry run behaves like a fresh host.
type DryRunRunner struct {
	logger *logging.Logger
}

// NewDryRunRunner creates a runner that only prints what it would do.
func NewDryRunRunner(logger *logging.Logger) *DryRunRunner {
	if logger == nil {
		logger = logging.Default()
	}
	return &DryRunRunner{logger: logger.WithComponent("dry-run")}
}

func (r *DryRunRunner) Run(name string, args ...string) error {
	r.logger.Info("would run", "cmd", name+" "+strings.Join(args, " "))
	return nil
}

func (r *DryRunRunner) RunInput(input string, name string, args ...string) error {
	r.logger.Info("would run with stdin", "cmd", name+" "+strings.Join(args, " "),
		"stdin_lines", strings.Count(input, "\n"))
	return nil
}

func (r *DryRunRunner) Output(name string, args ...string) ([]byte, error) {
	r.logger.Info("would query", "cmd", name+" "+strings.Join(args, " "))
	return nil, nil
}
