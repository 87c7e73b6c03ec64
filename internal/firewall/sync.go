package firewall

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"grimm.is/geowall/internal/logging"
)

// SyncState tracks the synchronizer through a run. Once Swapping is
// entered the run must reach Converged or Failed before returning.
type SyncState int

const (
	StateInitial SyncState = iota
	StateStaged
	StateSwapping
	StateConverged
	StateFailed
)

func (s SyncState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStaged:
		return "staged"
	case StateSwapping:
		return "swapping"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var familyBinaries = []string{"iptables", "ip6tables"}

// Synchronizer reconciles the live INPUT chain against a ChainPlan.
type Synchronizer struct {
	runner  CommandRunner
	builder *SetBuilder
	logger  *logging.Logger
	state   SyncState
}

// NewSynchronizer creates a Synchronizer sharing the builder's runner.
func NewSynchronizer(runner CommandRunner, builder *SetBuilder, logger *logging.Logger) *Synchronizer {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Synchronizer{
		runner:  runner,
		builder: builder,
		logger:  logger.WithComponent("sync"),
		state:   StateInitial,
	}
}

// State returns the current synchronizer state.
func (s *Synchronizer) State() SyncState { return s.state }

// taggedRule is one owned rule found on the live chain.
type taggedRule struct {
	line    int
	comment string
}

// listTagged parses "-L INPUT -n --line-numbers" output and returns
// every rule carrying one of our comments, in chain order.
func (s *Synchronizer) listTagged(binary string) ([]taggedRule, error) {
	out, err := s.runner.Output(binary, "-L", "INPUT", "-n", "--line-numbers")
	if err != nil {
		return nil, fmt.Errorf("listing %s INPUT chain: %w", binary, err)
	}
	var rules []taggedRule
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		start := strings.Index(line, "/* "+CommentPrefix)
		if start < 0 {
			continue
		}
		rest := line[start+3:]
		end := strings.Index(rest, " */")
		if end < 0 {
			continue
		}
		rules = append(rules, taggedRule{line: num, comment: rest[:end]})
	}
	return rules, nil
}

// Probe reports whether any owned rules are currently installed on
// either family's INPUT chain.
func (s *Synchronizer) Probe() (bool, error) {
	for _, binary := range familyBinaries {
		tagged, err := s.listTagged(binary)
		if err != nil {
			return false, err
		}
		if len(tagged) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// removeMatching deletes every owned rule whose comment satisfies keep
// returning false, highest line number first so remaining indices stay
// valid across repeated single-line deletions.
func (s *Synchronizer) removeMatching(binary string, match func(comment string) bool) error {
	tagged, err := s.listTagged(binary)
	if err != nil {
		return err
	}
	var doomed []taggedRule
	for _, r := range tagged {
		if match(r.comment) {
			doomed = append(doomed, r)
		}
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].line > doomed[j].line })
	for _, r := range doomed {
		if err := s.runner.Run(binary, "-D", "INPUT", strconv.Itoa(r.line)); err != nil {
			return fmt.Errorf("deleting %s rule %d (%s): %w", binary, r.line, r.comment, err)
		}
	}
	return nil
}

// hasLoopback reports whether the loopback bypass is already installed.
func (s *Synchronizer) hasLoopback(binary string) (bool, error) {
	tagged, err := s.listTagged(binary)
	if err != nil {
		return false, err
	}
	for _, r := range tagged {
		if r.comment == CommentLoopback {
			return true, nil
		}
	}
	return false, nil
}

// Apply transitions the live chain to the plan. The swap order keeps a
// legitimate admin session reachable at every instant: our DROP rules
// go first, then the remaining owned rules except loopback, then sets
// are promoted and the new chain installed with the catch-all drop
// last. Any failure inside the swap triggers a full rollback.
//
// The context deadline is honored only up to the point of no return; a
// cancellation observed before Swapping rolls back the staged sets and
// leaves live state untouched.
func (s *Synchronizer) Apply(ctx context.Context, plan *ChainPlan, sets []CountrySet) error {
	s.state = StateStaged
	if err := ctx.Err(); err != nil {
		s.builder.DestroyStaged(sets)
		s.state = StateInitial
		return &SyncError{Op: "pre-swap", Err: err, RolledBack: true}
	}

	s.state = StateSwapping
	s.logger.Info("swapping rule chain", "planned_rules", len(plan.Rules))

	hadLoopback := make(map[string]bool, 2)
	for _, binary := range familyBinaries {
		if err := s.removeMatching(binary, func(c string) bool { return c == CommentDrop }); err != nil {
			return s.fail("remove-drops", err, sets)
		}
	}
	for _, binary := range familyBinaries {
		has, err := s.hasLoopback(binary)
		if err != nil {
			return s.fail("probe-loopback", err, sets)
		}
		hadLoopback[binary] = has
		err = s.removeMatching(binary, func(c string) bool {
			return c != CommentLoopback && c != CommentDrop
		})
		if err != nil {
			return s.fail("remove-rules", err, sets)
		}
	}

	if err := s.builder.Promote(sets); err != nil {
		return s.fail("promote-sets", err, sets)
	}
	if err := s.builder.DestroyStale(sets); err != nil {
		return s.fail("destroy-stale", err, sets)
	}

	for i := range plan.Rules {
		r := &plan.Rules[i]
		if r.Comment == CommentLoopback && hadLoopback[r.Binary()] {
			continue
		}
		args := append([]string{"-A", "INPUT"}, r.Args...)
		if err := s.runner.Run(r.Binary(), args...); err != nil {
			return s.fail("install-rules", err, sets)
		}
	}

	s.state = StateConverged
	s.logger.Info("rule chain converged",
		"rules", len(plan.Rules), "sets", len(sets))
	return nil
}

// fail transitions to Failed, rolls back, and wraps the error.
func (s *Synchronizer) fail(op string, err error, sets []CountrySet) error {
	s.state = StateFailed
	s.logger.Error("sync failed, rolling back", "op", op, "error", err)
	rbErr := s.rollback(sets)
	if rbErr != nil {
		s.logger.Error("rollback incomplete", "error", rbErr)
	}
	return &SyncError{Op: op, Err: err, RolledBack: rbErr == nil}
}

// rollback removes every owned rule on both families, drop rules first,
// and destroys all geo sets, returning the system to a fully clean
// state. Half-applied chains are never left behind.
func (s *Synchronizer) rollback(sets []CountrySet) error {
	var firstErr error
	for _, binary := range familyBinaries {
		if err := s.removeMatching(binary, func(c string) bool { return c == CommentDrop }); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.removeMatching(binary, func(c string) bool { return true }); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.builder.DestroyStaged(sets)
	if err := s.builder.DestroyAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil {
		s.state = StateInitial
	}
	return firstErr
}

// Teardown removes every owned rule and set. Used by the teardown
// subcommand; safe to run when nothing is installed.
func (s *Synchronizer) Teardown() error {
	return s.rollback(nil)
}
