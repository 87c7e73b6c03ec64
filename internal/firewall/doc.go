// Package firewall materializes per-country membership sets as kernel ipsets
// and reconciles the iptables/ip6tables INPUT chains against them.
//
// # Architecture
//
//	GeoRecords → SetBuilder → staged ipsets
//	                 ↓ promote (swap/rename)
//	ChainPlan  → Synchronizer → INPUT rules
//
// # Key Types
//
//   - [CountrySet]: the address ranges of one (country, family) pair
//   - [SetBuilder]: bulk-loads staged ipsets via ipset restore and promotes
//     them into their live names
//   - [ChainPlan]: the desired ordered INPUT rule sequence
//   - [Synchronizer]: the Initial → Staged → Swapping → Converged / Failed
//     state machine over the live chains
//
// # Lockout safety
//
// During a swap every geowall DROP-class rule is removed before any
// ACCEPT-class rule is touched, removals walk line numbers highest-first,
// and the catch-all DROP is always the last rule re-installed. The loopback
// ACCEPT is never removed during an update. A failure inside the swap rolls
// the chains back to a fully clean state rather than leaving a mixture of
// old and new rules.
//
// All rules installed here carry a "geowall-*" comment so they can be
// enumerated and removed without disturbing unrelated rules.
package firewall
