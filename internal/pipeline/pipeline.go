// Package pipeline runs one synchronization pass: fetch, decode, build,
// synchronize, record. Strictly sequential, one run per host at a time.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"grimm.is/geowall/internal/clock"
	"grimm.is/geowall/internal/config"
	"grimm.is/geowall/internal/firewall"
	"grimm.is/geowall/internal/geodb"
	"grimm.is/geowall/internal/logging"
	"grimm.is/geowall/internal/metrics"
	"grimm.is/geowall/internal/state"
)

// Options adjust a single run.
type Options struct {
	// Offline skips the network fetch and synchronizes from the cached
	// database snapshot. Used for boot restore.
	Offline bool

	// Force applies the chain even when the database fingerprint and
	// allow-list are unchanged.
	Force bool
}

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeNoop      Outcome = "noop"
)

// Result reports what a successful run did.
type Result struct {
	RunID       string
	Outcome     Outcome
	Fingerprint geodb.Fingerprint
	Ranges      int
	Countries   int
	Sets        int
	Rules       int
}

// Status describes the engine's persisted and live state, for the
// status subcommand.
type Status struct {
	Applied       *state.AppliedState
	RulesPresent  bool
	SnapshotBytes int
	LastCheck     time.Time
	LastCheckOK   bool
}

// Pipeline wires the stages together around one config.
type Pipeline struct {
	cfg    *config.Config
	runner firewall.CommandRunner
	store  *state.Store
	logger *logging.Logger
}

// New builds a Pipeline. A nil runner means the real one.
func New(cfg *config.Config, runner firewall.CommandRunner, logger *logging.Logger) *Pipeline {
	if runner == nil {
		runner = firewall.DefaultCommandRunner
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		runner: runner,
		store:  state.NewStore(cfg.Paths.StateDir, cfg.Paths.CacheDir, logger),
		logger: logger.WithComponent("pipeline"),
	}
}

// Store exposes the underlying state store, for the status subcommand.
func (p *Pipeline) Store() *state.Store { return p.store }

// Run performs one full synchronization pass. The run holds an
// exclusive lock for its whole duration and is bounded by the
// configured run timeout; expiry before the chain swap begins cleans up
// staged sets and leaves live state untouched.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	start := clock.Now()
	runID := uuid.NewString()
	logger := p.logger.WithFields(map[string]any{"run_id": runID})
	m := metrics.Get()

	if err := p.store.EnsureDirs(); err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}
	lock, err := state.AcquireRunLock(p.store.LockPath())
	if err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}
	defer lock.Release()

	runTimeout, err := p.cfg.RunTimeoutDuration()
	if err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	data, fingerprint, err := p.acquireDatabase(ctx, opts, logger)
	if err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}
	m.FetchBytes.Set(float64(len(data)))

	builder := firewall.NewSetBuilder(p.runner, logger)
	syncer := firewall.NewSynchronizer(p.runner, builder, logger)

	installed, err := syncer.Probe()
	if err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}

	applied, err := p.store.LoadApplied()
	if err != nil {
		logger.Warn("applied state unreadable, resynchronizing", "error", err)
	}
	if !opts.Force && installed && applied != nil &&
		applied.Fingerprint == string(fingerprint) &&
		sameCountries(applied.AllowedCountries, p.cfg.AllowedCountries) {
		logger.Info("database and allow-list unchanged, nothing to do",
			"fingerprint", fingerprint)
		p.finish(m, "noop", start)
		return &Result{RunID: runID, Outcome: OutcomeNoop, Fingerprint: fingerprint}, nil
	}

	records, err := geodb.Decode(data)
	if err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}
	countries := countCountries(records)
	m.CountriesTotal.Set(float64(countries))
	familyCounts := map[geodb.Family]int{}
	for i := range records {
		familyCounts[records[i].Family()]++
	}
	for f, n := range familyCounts {
		m.RangesDecoded.WithLabelValues(string(f)).Set(float64(n))
	}
	logger.Info("database decoded",
		"ranges", len(records), "countries", countries)

	sets := firewall.BuildCountrySets(records)
	plan := firewall.BuildChainPlan(sets, p.cfg.AllowedCountries,
		p.cfg.PrivateNetworksV4, p.cfg.PrivateNetworksV6)

	if err := builder.StageAll(sets); err != nil {
		p.finish(m, "failed", start)
		return nil, err
	}
	if err := syncer.Apply(ctx, plan, sets); err != nil {
		m.RollbacksTotal.Inc()
		p.finish(m, "failed", start)
		return nil, err
	}

	if err := p.verify(ctx, syncer, logger); err != nil {
		m.RollbacksTotal.Inc()
		p.finish(m, "failed", start)
		return nil, err
	}

	if err := p.record(data, fingerprint); err != nil {
		// The chain is live and correct; a recording failure only
		// costs the next run its short-circuit.
		logger.Warn("state recording failed", "error", err)
	}

	setCounts := map[geodb.Family]int{}
	for i := range sets {
		setCounts[sets[i].Family]++
	}
	for f, n := range setCounts {
		m.SetsBuilt.WithLabelValues(string(f)).Set(float64(n))
	}
	for f, n := range plan.RulesByFamily() {
		m.RulesInstalled.WithLabelValues(string(f)).Set(float64(n))
	}
	m.LastSyncTime.Set(float64(clock.Now().Unix()))
	p.finish(m, "converged", start)

	logger.Info("run converged",
		"fingerprint", fingerprint,
		"sets", len(sets),
		"rules", len(plan.Rules),
		"duration", clock.Since(start).Round(time.Millisecond))
	return &Result{
		RunID:       runID,
		Outcome:     OutcomeConverged,
		Fingerprint: fingerprint,
		Ranges:      len(records),
		Countries:   countries,
		Sets:        len(sets),
		Rules:       len(plan.Rules),
	}, nil
}

// NeedsRestore reports whether live rules are absent while a previous
// run's state survives on disk, i.e. the host rebooted.
func (p *Pipeline) NeedsRestore() (bool, error) {
	builder := firewall.NewSetBuilder(p.runner, p.logger)
	syncer := firewall.NewSynchronizer(p.runner, builder, p.logger)
	installed, err := syncer.Probe()
	if err != nil {
		return false, err
	}
	if installed {
		return false, nil
	}
	applied, err := p.store.LoadApplied()
	if err != nil || applied == nil {
		return false, err
	}
	snapshot, err := p.store.LoadSnapshot()
	if err != nil {
		return false, err
	}
	return snapshot != nil, nil
}

// Status collects persisted and live state for display.
func (p *Pipeline) Status() (*Status, error) {
	builder := firewall.NewSetBuilder(p.runner, p.logger)
	syncer := firewall.NewSynchronizer(p.runner, builder, p.logger)
	installed, err := syncer.Probe()
	if err != nil {
		return nil, err
	}
	applied, err := p.store.LoadApplied()
	if err != nil {
		return nil, err
	}
	snapshot, err := p.store.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	st := &Status{Applied: applied, RulesPresent: installed, SnapshotBytes: len(snapshot)}
	st.LastCheck, st.LastCheckOK = p.store.LastCheck()
	return st, nil
}

// Teardown removes every rule and set the engine owns and clears the
// applied-state record.
func (p *Pipeline) Teardown() error {
	builder := firewall.NewSetBuilder(p.runner, p.logger)
	syncer := firewall.NewSynchronizer(p.runner, builder, p.logger)
	if err := syncer.Teardown(); err != nil {
		return err
	}
	return p.store.ClearApplied()
}

// acquireDatabase returns the database bytes and their fingerprint,
// from the network or the cached snapshot. A fetch failure falls back
// to the snapshot when one exists, so a flaky mirror never blocks a
// reboot-time restore.
func (p *Pipeline) acquireDatabase(ctx context.Context, opts Options, logger *logging.Logger) ([]byte, geodb.Fingerprint, error) {
	if opts.Offline {
		data, err := p.store.LoadSnapshot()
		if err != nil {
			return nil, "", err
		}
		if data == nil {
			return nil, "", fmt.Errorf("offline run requested but no cached database snapshot at %s", p.store.SnapshotPath())
		}
		return data, geodb.ComputeFingerprint(data), nil
	}

	fetchTimeout, err := p.cfg.FetchTimeout()
	if err != nil {
		return nil, "", err
	}
	fetcher := geodb.NewFetcher(fetchTimeout, logger)
	url := geodb.MonthlyURL(p.cfg.Database.URL)
	data, fingerprint, fetchErr := fetcher.Fetch(ctx, url)
	if err := p.store.TouchLastCheck(); err != nil {
		logger.Warn("last-check timestamp not recorded", "error", err)
	}
	if fetchErr == nil {
		return data, fingerprint, nil
	}

	cached, err := p.store.LoadSnapshot()
	if err != nil || cached == nil {
		return nil, "", fetchErr
	}
	logger.Warn("fetch failed, synchronizing from cached snapshot",
		"error", fetchErr)
	return cached, geodb.ComputeFingerprint(cached), nil
}

// verify probes connectivity after the swap. A total loss of
// reachability tears everything back down rather than leaving the host
// possibly locked out.
func (p *Pipeline) verify(ctx context.Context, syncer *firewall.Synchronizer, logger *logging.Logger) error {
	timeout, err := p.cfg.VerifyTimeout()
	if err != nil {
		return err
	}
	verifier := firewall.NewVerifier(p.cfg.VerifyTargets(), timeout, logger)
	verifyErr := verifier.Verify(ctx)
	if verifyErr == nil {
		return nil
	}
	logger.Error("post-swap verification failed, tearing down", "error", verifyErr)
	if err := syncer.Teardown(); err != nil {
		return fmt.Errorf("verification failed (%v) and teardown incomplete: %w", verifyErr, err)
	}
	if err := p.store.ClearApplied(); err != nil {
		logger.Warn("applied state not cleared", "error", err)
	}
	return fmt.Errorf("post-swap verification failed, rules removed: %w", verifyErr)
}

// record persists the snapshot and applied state after convergence.
func (p *Pipeline) record(data []byte, fingerprint geodb.Fingerprint) error {
	if err := p.store.SaveSnapshot(data); err != nil {
		return err
	}
	return p.store.SaveApplied(&state.AppliedState{
		Fingerprint:      string(fingerprint),
		AppliedAt:        clock.Now().UTC(),
		AllowedCountries: append([]string(nil), p.cfg.AllowedCountries...),
	})
}

// finish records run-level metrics and, when configured, rewrites the
// textfile for node_exporter.
func (p *Pipeline) finish(m *metrics.Registry, result string, start time.Time) {
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Set(clock.Since(start).Seconds())
	if p.cfg.MetricsTextfile == "" {
		return
	}
	if err := m.WriteTextfile(p.cfg.MetricsTextfile); err != nil {
		p.logger.Warn("metrics textfile not written", "path", p.cfg.MetricsTextfile, "error", err)
	}
}

func sameCountries(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func countCountries(records []geodb.Record) int {
	seen := make(map[string]struct{})
	for i := range records {
		seen[records[i].Country] = struct{}{}
	}
	return len(seen)
}
