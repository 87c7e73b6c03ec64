package geodb

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
)

// Family identifies the address family of a record.
type Family string

const (
	FamilyIPv4 Family = "ipv4"
	FamilyIPv6 Family = "ipv6"
)

// Record is one (country, address-range) tuple decoded from the database.
// Records are immutable once produced.
type Record struct {
	Country string
	Prefix  netip.Prefix
}

// Family returns the address family of the record's prefix.
func (r Record) Family() Family {
	if r.Prefix.Addr().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// countryResult holds the subset of the MMDB record we care about. Both
// MaxMind GeoLite2 and DB-IP country databases share this layout.
type countryResult struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Decode parses MMDB bytes into the full record sequence for both address
// families. Decoding is a pure function: identical bytes always yield the
// identical sequence, in database iteration order.
//
// Networks without a country ISO code are skipped (valid but unattributed
// space); a network the reader cannot decode is a fatal *DecodeError.
func Decode(data []byte) ([]Record, error) {
	reader, err := maxminddb.FromBytes(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	defer reader.Close()

	var records []Record

	nets := reader.Networks(maxminddb.SkipAliasedNetworks)
	for nets.Next() {
		var res countryResult
		ipNet, err := nets.Network(&res)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		if res.Country.ISOCode == "" {
			continue
		}

		prefix, err := prefixFromIPNet(ipNet)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}

		records = append(records, Record{Country: res.Country.ISOCode, Prefix: prefix})
	}
	if err := nets.Err(); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return records, nil
}

// prefixFromIPNet converts a net.IPNet to a netip.Prefix, unmapping IPv4
// networks the reader reports in IPv6-mapped form (::ffff:0:0/96).
func prefixFromIPNet(n *net.IPNet) (netip.Prefix, error) {
	ones, _ := n.Mask.Size()

	if ip4 := n.IP.To4(); ip4 != nil {
		addr, ok := netip.AddrFromSlice(ip4)
		if !ok {
			return netip.Prefix{}, fmt.Errorf("bad IPv4 address %v", n.IP)
		}
		if len(n.IP) == net.IPv6len {
			ones -= 96
		}
		if ones < 0 || ones > 32 {
			return netip.Prefix{}, fmt.Errorf("bad IPv4 prefix length %d for %v", ones, n.IP)
		}
		return netip.PrefixFrom(addr, ones), nil
	}

	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("bad IPv6 address %v", n.IP)
	}
	return netip.PrefixFrom(addr, ones), nil
}
