package geodb

import (
	"bytes"
	"net"
	"net/netip"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCountryDB writes a small country database in memory, same record
// layout as DB-IP country-lite.
func buildCountryDB(t *testing.T) []byte {
	t.Helper()

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:            "DBIP-Country-Lite",
		RecordSize:              24,
		IPVersion:               6,
		IncludeReservedNetworks: true,
	})
	require.NoError(t, err)

	insert := func(cidr, iso string) {
		_, network, err := net.ParseCIDR(cidr)
		require.NoError(t, err)
		require.NoError(t, tree.Insert(network, mmdbtype.Map{
			"country": mmdbtype.Map{"iso_code": mmdbtype.String(iso)},
		}))
	}
	insert("1.2.3.0/24", "KR")
	insert("8.8.8.0/24", "US")
	insert("2001:db8::/32", "JP")

	var buf bytes.Buffer
	_, err = tree.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	records, err := Decode(buildCountryDB(t))
	require.NoError(t, err)

	byCountry := map[string][]string{}
	for _, r := range records {
		byCountry[r.Country] = append(byCountry[r.Country], r.Prefix.String())
	}

	// IPv4 networks come back unmapped from the v6-indexed tree.
	assert.Contains(t, byCountry["KR"], "1.2.3.0/24")
	assert.Contains(t, byCountry["US"], "8.8.8.0/24")
	assert.Contains(t, byCountry["JP"], "2001:db8::/32")
	assert.Len(t, byCountry, 3)

	for _, r := range records {
		if r.Country == "JP" {
			assert.Equal(t, FamilyIPv6, r.Family())
		} else {
			assert.Equal(t, FamilyIPv4, r.Family(), "range %s", r.Prefix)
		}
	}
}

func TestDecode_Deterministic(t *testing.T) {
	data := buildCountryDB(t)

	first, err := Decode(data)
	require.NoError(t, err)
	second, err := Decode(data)
	require.NoError(t, err)

	// Identical bytes always yield the identical record sequence, in
	// the same order.
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("this is not an mmdb file"))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecode_Empty(t *testing.T) {
	_, err := Decode(nil)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestPrefixFromIPNet(t *testing.T) {
	cases := []struct {
		name string
		in   *net.IPNet
		want netip.Prefix
	}{
		{
			name: "ipv4",
			in:   &net.IPNet{IP: net.IPv4(1, 2, 3, 0).To4(), Mask: net.CIDRMask(24, 32)},
			want: netip.MustParsePrefix("1.2.3.0/24"),
		},
		{
			name: "ipv4 mapped",
			in:   &net.IPNet{IP: net.ParseIP("::ffff:10.0.0.0"), Mask: net.CIDRMask(104, 128)},
			want: netip.MustParsePrefix("10.0.0.0/8"),
		},
		{
			name: "ipv6",
			in:   &net.IPNet{IP: net.ParseIP("2a00::"), Mask: net.CIDRMask(32, 128)},
			want: netip.MustParsePrefix("2a00::/32"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := prefixFromIPNet(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecordFamily(t *testing.T) {
	v4 := Record{Country: "KR", Prefix: netip.MustParsePrefix("1.2.3.0/24")}
	v6 := Record{Country: "KR", Prefix: netip.MustParsePrefix("2a00::/32")}

	assert.Equal(t, FamilyIPv4, v4.Family())
	assert.Equal(t, FamilyIPv6, v6.Family())
}
