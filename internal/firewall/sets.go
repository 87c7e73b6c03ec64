package firewall

import (
	"fmt"
	"sort"
	"strings"

	"grimm.is/geowall/internal/geodb"
	"grimm.is/geowall/internal/logging"
)

const (
	// SetPrefixV4 and SetPrefixV6 prefix every live set name.
	SetPrefixV4 = "geoip4-"
	SetPrefixV6 = "geoip6-"

	// stageSuffix marks a set that is being populated off to the side
	// and is not yet referenced by any rule.
	stageSuffix = "-stage"

	// minCapacity is the floor for hash sizing. Tiny sets still get a
	// sane hash size so ipset does not reject the create.
	minCapacity = 64
)

// CountrySet holds the address ranges for one country and one family,
// along with the pre-sized capacity for bulk loading.
type CountrySet struct {
	Country  string
	Family   geodb.Family
	Prefixes []string
	Capacity int
}

// Capacity returns the membership-table size for n entries with 10%
// headroom, rounded up, so bulk load never triggers a rehash.
func Capacity(n int) int {
	c := (n*11 + 9) / 10
	if c < minCapacity {
		return minCapacity
	}
	return c
}

// familyPrefix returns the set-name prefix for a family.
func familyPrefix(f geodb.Family) string {
	if f == geodb.FamilyIPv6 {
		return SetPrefixV6
	}
	return SetPrefixV4
}

// LiveName returns the visible set name, e.g. "geoip4-KR".
func (s *CountrySet) LiveName() string {
	return familyPrefix(s.Family) + s.Country
}

// StageName returns the transient name used while populating.
func (s *CountrySet) StageName() string {
	return s.LiveName() + stageSuffix
}

// ipsetFamily maps an address family to the ipset "family" parameter.
func ipsetFamily(f geodb.Family) string {
	if f == geodb.FamilyIPv6 {
		return "inet6"
	}
	return "inet"
}

// BuildCountrySets groups decoded records into one set per (country,
// family). Output is sorted by country then family so repeated runs on
// the same database produce identical set sequences.
func BuildCountrySets(records []geodb.Record) []CountrySet {
	type key struct {
		country string
		family  geodb.Family
	}
	grouped := make(map[key][]string)
	for _, rec := range records {
		k := key{country: rec.Country, family: rec.Family()}
		grouped[k] = append(grouped[k], rec.Prefix.String())
	}

	sets := make([]CountrySet, 0, len(grouped))
	for k, prefixes := range grouped {
		sets = append(sets, CountrySet{
			Country:  k.country,
			Family:   k.family,
			Prefixes: prefixes,
			Capacity: Capacity(len(prefixes)),
		})
	}
	sort.Slice(sets, func(i, j int) bool {
		if sets[i].Country != sets[j].Country {
			return sets[i].Country < sets[j].Country
		}
		return sets[i].Family < sets[j].Family
	})
	return sets
}

// SetBuilder materializes CountrySets as kernel ipsets. All population
// happens under staged names; nothing live changes until the
// Synchronizer promotes them.
type SetBuilder struct {
	runner CommandRunner
	logger *logging.Logger
}

// NewSetBuilder creates a SetBuilder using the given runner.
func NewSetBuilder(runner CommandRunner, logger *logging.Logger) *SetBuilder {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SetBuilder{runner: runner, logger: logger.WithComponent("sets")}
}

// restoreScript renders the ipset restore input for one staged set:
// create with capacity, flush, then one add line per range. A single
// restore call loads the whole set. The restore runs with -exist, which
// covers create and add but not destroy, so the script never destroys;
// a stale staging set from a crashed run is reused and flushed instead.
func restoreScript(s *CountrySet) string {
	var b strings.Builder
	stage := s.StageName()
	fmt.Fprintf(&b, "create %s hash:net family %s hashsize %d maxelem %d\n",
		stage, ipsetFamily(s.Family), hashSize(s.Capacity), s.Capacity)
	fmt.Fprintf(&b, "flush %s\n", stage)
	for _, p := range s.Prefixes {
		fmt.Fprintf(&b, "add %s %s\n", stage, p)
	}
	return b.String()
}

// hashSize rounds capacity up to the next power of two, which is what
// the kernel would do internally anyway. Pre-sizing avoids rehashing
// during bulk load.
func hashSize(capacity int) int {
	size := 64
	for size < capacity {
		size <<= 1
	}
	return size
}

// StageAll builds every set under its staging name via bulk restore.
// On any failure it destroys all staged sets and returns a BuildError,
// leaving live sets untouched.
func (b *SetBuilder) StageAll(sets []CountrySet) error {
	for i := range sets {
		s := &sets[i]
		script := restoreScript(s)
		b.logger.Debug("staging set",
			"set", s.StageName(),
			"entries", len(s.Prefixes),
			"maxelem", s.Capacity)
		if err := b.runner.RunInput(script, "ipset", "restore", "-exist"); err != nil {
			b.DestroyStaged(sets)
			return &BuildError{Set: s.StageName(), Err: err}
		}
	}
	b.logger.Info("staged membership sets", "count", len(sets))
	return nil
}

// DestroyStaged removes all staging sets, best effort. Safe to call on
// sets that were never created.
func (b *SetBuilder) DestroyStaged(sets []CountrySet) {
	for i := range sets {
		if err := b.runner.Run("ipset", "destroy", sets[i].StageName()); err != nil {
			b.logger.Debug("staged set cleanup skipped", "set", sets[i].StageName(), "error", err)
		}
	}
}

// Promote makes each staged set visible under its live name. When a
// live set already exists the contents are exchanged atomically with
// swap and the old contents destroyed; on a fresh host a rename
// suffices. Returns the first error encountered.
func (b *SetBuilder) Promote(sets []CountrySet) error {
	for i := range sets {
		s := &sets[i]
		stage, live := s.StageName(), s.LiveName()
		if b.runner.Run("ipset", "swap", stage, live) == nil {
			if err := b.runner.Run("ipset", "destroy", stage); err != nil {
				return fmt.Errorf("destroying old contents of %s: %w", live, err)
			}
			continue
		}
		if err := b.runner.Run("ipset", "rename", stage, live); err != nil {
			return fmt.Errorf("promoting %s: %w", live, err)
		}
	}
	return nil
}

// ListGeoSets returns the names of all live and staged geo sets
// currently present in the kernel, from "ipset list -n".
func (b *SetBuilder) ListGeoSets() ([]string, error) {
	out, err := b.runner.Output("ipset", "list", "-n")
	if err != nil {
		return nil, fmt.Errorf("listing sets: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimSpace(line)
		if strings.HasPrefix(name, SetPrefixV4) || strings.HasPrefix(name, SetPrefixV6) {
			names = append(names, name)
		}
	}
	return names, nil
}

// DestroyStale removes live geo sets that no longer correspond to any
// country in the current database, e.g. after a country code is retired.
func (b *SetBuilder) DestroyStale(sets []CountrySet) error {
	wanted := make(map[string]bool, len(sets))
	for i := range sets {
		wanted[sets[i].LiveName()] = true
	}
	existing, err := b.ListGeoSets()
	if err != nil {
		return err
	}
	for _, name := range existing {
		if wanted[name] || strings.HasSuffix(name, stageSuffix) {
			continue
		}
		b.logger.Info("destroying stale set", "set", name)
		if err := b.runner.Run("ipset", "destroy", name); err != nil {
			return fmt.Errorf("destroying stale set %s: %w", name, err)
		}
	}
	return nil
}

// DestroyAll removes every geo set, live and staged. Used by rollback
// and teardown.
func (b *SetBuilder) DestroyAll() error {
	existing, err := b.ListGeoSets()
	if err != nil {
		return err
	}
	for _, name := range existing {
		if err := b.runner.Run("ipset", "destroy", name); err != nil {
			b.logger.Warn("set destroy failed", "set", name, "error", err)
		}
	}
	return nil
}
