package firewall

import (
	"fmt"
	"sort"

	"grimm.is/geowall/internal/geodb"
)

// Rule comments identify every rule this engine owns. Removal and
// rollback match on these, so nothing outside the CommentPrefix
// namespace is ever touched.
const (
	CommentPrefix = "geowall-"

	CommentLoopback = "geowall-loopback"
	CommentStateful = "geowall-stateful"
	CommentPrivate  = "geowall-private"
	CommentLog      = "geowall-log"
	CommentAccept   = "geowall-accept"
	CommentDrop     = "geowall-drop"
)

// Kernel log prefixes, one per country and verdict, parseable by an
// external log collector.
const (
	logPrefixAccept  = "GEOIP-ACCEPT-%s: "
	logPrefixDrop    = "GEOIP-DROP-%s: "
	logPrefixUnknown = "GEOIP-DROP-UNKNOWN: "
	logLevel         = "6"
)

// RuleClass partitions rules for the lockout-safe swap order: all
// ClassDrop rules are removed before anything else is altered, and the
// catch-all drop is reinstalled last.
type RuleClass int

const (
	ClassAccept RuleClass = iota
	ClassLog
	ClassDrop
)

// Rule is one INPUT-chain rule in the desired state. Args is everything
// after "-A INPUT", comment module included.
type Rule struct {
	Family  geodb.Family
	Class   RuleClass
	Comment string
	Args    []string
}

// Binary returns the iptables binary for the rule's family.
func (r *Rule) Binary() string {
	if r.Family == geodb.FamilyIPv6 {
		return "ip6tables"
	}
	return "iptables"
}

// ChainPlan is the fully ordered desired INPUT chain for both families.
// Install order is exactly the slice order; the catch-all drops sit at
// the end.
type ChainPlan struct {
	Rules []Rule
}

func withComment(comment string, args ...string) []string {
	return append(args, "-m", "comment", "--comment", comment)
}

func rule(f geodb.Family, class RuleClass, comment string, args ...string) Rule {
	return Rule{Family: f, Class: class, Comment: comment, Args: withComment(comment, args...)}
}

// countrySetRules emits the LOG+verdict pair for one country set. Log
// rules match new connections only so established flows do not flood
// the kernel log.
func countrySetRules(s *CountrySet, allowed bool) []Rule {
	set := s.LiveName()
	if allowed {
		return []Rule{
			rule(s.Family, ClassLog, CommentLog,
				"-m", "set", "--match-set", set, "src",
				"-m", "conntrack", "--ctstate", "NEW",
				"-j", "LOG",
				"--log-prefix", fmt.Sprintf(logPrefixAccept, s.Country),
				"--log-level", logLevel),
			rule(s.Family, ClassAccept, CommentAccept,
				"-m", "set", "--match-set", set, "src",
				"-j", "ACCEPT"),
		}
	}
	return []Rule{
		rule(s.Family, ClassLog, CommentLog,
			"-m", "set", "--match-set", set, "src",
			"-m", "conntrack", "--ctstate", "NEW",
			"-j", "LOG",
			"--log-prefix", fmt.Sprintf(logPrefixDrop, s.Country),
			"--log-level", logLevel),
		rule(s.Family, ClassDrop, CommentDrop,
			"-m", "set", "--match-set", set, "src",
			"-j", "DROP"),
	}
}

// BuildChainPlan derives the desired rule chain from the built sets and
// the allow-list. Ordering per family: loopback, stateful accept,
// private networks, allowed-country log+accept, denied-country
// log+drop, catch-all log+drop.
func BuildChainPlan(sets []CountrySet, allowedCountries, privateV4, privateV6 []string) *ChainPlan {
	allowed := make(map[string]bool, len(allowedCountries))
	for _, cc := range allowedCountries {
		allowed[cc] = true
	}

	// Stable partition: allowed sets in allow-list order, denied sets
	// in the sorted order BuildCountrySets already produced.
	byCountry := make(map[string][]*CountrySet)
	for i := range sets {
		byCountry[sets[i].Country] = append(byCountry[sets[i].Country], &sets[i])
	}
	var allowSets, denySets []*CountrySet
	for _, cc := range allowedCountries {
		allowSets = append(allowSets, byCountry[cc]...)
	}
	var denied []string
	for cc := range byCountry {
		if !allowed[cc] {
			denied = append(denied, cc)
		}
	}
	sort.Strings(denied)
	for _, cc := range denied {
		denySets = append(denySets, byCountry[cc]...)
	}

	var rules []Rule
	for _, f := range []geodb.Family{geodb.FamilyIPv4, geodb.FamilyIPv6} {
		rules = append(rules,
			rule(f, ClassAccept, CommentLoopback, "-i", "lo", "-j", "ACCEPT"),
			rule(f, ClassAccept, CommentStateful,
				"-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"))
	}
	for _, net := range privateV4 {
		rules = append(rules, rule(geodb.FamilyIPv4, ClassAccept, CommentPrivate,
			"-s", net, "-j", "ACCEPT"))
	}
	for _, net := range privateV6 {
		rules = append(rules, rule(geodb.FamilyIPv6, ClassAccept, CommentPrivate,
			"-s", net, "-j", "ACCEPT"))
	}
	for _, s := range allowSets {
		rules = append(rules, countrySetRules(s, true)...)
	}
	for _, s := range denySets {
		rules = append(rules, countrySetRules(s, false)...)
	}
	for _, f := range []geodb.Family{geodb.FamilyIPv4, geodb.FamilyIPv6} {
		rules = append(rules,
			rule(f, ClassLog, CommentLog,
				"-m", "conntrack", "--ctstate", "NEW",
				"-j", "LOG",
				"--log-prefix", logPrefixUnknown,
				"--log-level", logLevel),
			rule(f, ClassDrop, CommentDrop, "-j", "DROP"))
	}
	return &ChainPlan{Rules: rules}
}

// RulesByFamily counts planned rules per address family.
func (p *ChainPlan) RulesByFamily() map[geodb.Family]int {
	counts := make(map[geodb.Family]int, 2)
	for i := range p.Rules {
		counts[p.Rules[i].Family]++
	}
	return counts
}
