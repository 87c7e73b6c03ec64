package firewall

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/geowall/internal/geodb"
)

func rec(country, prefix string) geodb.Record {
	return geodb.Record{Country: country, Prefix: netip.MustParsePrefix(prefix)}
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 64},
		{10, 64},
		{58, 64},
		{100, 110},
		{101, 112},
		{1000, 1100},
		{250000, 275000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Capacity(tt.n), "Capacity(%d)", tt.n)
	}
	// Headroom invariant: always at least 10% above the entry count.
	for _, n := range []int{1, 7, 99, 12345, 1200000} {
		assert.GreaterOrEqual(t, Capacity(n)*10, n*11, "Capacity(%d)", n)
	}
}

func TestSetNames(t *testing.T) {
	v4 := CountrySet{Country: "KR", Family: geodb.FamilyIPv4}
	v6 := CountrySet{Country: "KR", Family: geodb.FamilyIPv6}

	assert.Equal(t, "geoip4-KR", v4.LiveName())
	assert.Equal(t, "geoip4-KR-stage", v4.StageName())
	assert.Equal(t, "geoip6-KR", v6.LiveName())
	assert.Equal(t, "geoip6-KR-stage", v6.StageName())
}

func TestBuildCountrySets(t *testing.T) {
	records := []geodb.Record{
		rec("US", "8.8.8.0/24"),
		rec("KR", "1.2.3.0/24"),
		rec("KR", "2001:db8::/32"),
		rec("KR", "5.6.0.0/16"),
	}

	sets := BuildCountrySets(records)
	require.Len(t, sets, 3)

	// Sorted by country then family, independent of record order.
	assert.Equal(t, "KR", sets[0].Country)
	assert.Equal(t, geodb.FamilyIPv4, sets[0].Family)
	assert.Equal(t, []string{"1.2.3.0/24", "5.6.0.0/16"}, sets[0].Prefixes)
	assert.Equal(t, "KR", sets[1].Country)
	assert.Equal(t, geodb.FamilyIPv6, sets[1].Family)
	assert.Equal(t, "US", sets[2].Country)

	for _, s := range sets {
		assert.Equal(t, Capacity(len(s.Prefixes)), s.Capacity)
	}
}

func TestRestoreScript(t *testing.T) {
	s := CountrySet{
		Country:  "JP",
		Family:   geodb.FamilyIPv6,
		Prefixes: []string{"2001:db8::/32", "2400:cb00::/32"},
		Capacity: 64,
	}

	script := restoreScript(&s)
	lines := strings.Split(strings.TrimRight(script, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "create geoip6-JP-stage hash:net family inet6 hashsize 64 maxelem 64", lines[0])
	assert.Equal(t, "flush geoip6-JP-stage", lines[1])
	assert.Equal(t, "add geoip6-JP-stage 2001:db8::/32", lines[2])
	assert.Equal(t, "add geoip6-JP-stage 2400:cb00::/32", lines[3])

	// restore runs under -exist, which only tolerates create and add;
	// a destroy of an absent set would abort the whole load on a
	// clean run.
	assert.NotContains(t, script, "destroy")
}

func TestHashSize(t *testing.T) {
	assert.Equal(t, 64, hashSize(1))
	assert.Equal(t, 64, hashSize(64))
	assert.Equal(t, 128, hashSize(65))
	assert.Equal(t, 131072, hashSize(110000))
}

func TestStageAllFailureCleansUp(t *testing.T) {
	sets := BuildCountrySets([]geodb.Record{
		rec("KR", "1.2.3.0/24"),
		rec("US", "8.8.8.0/24"),
	})
	require.Len(t, sets, 2)

	runner := &MockCommandRunner{}
	runner.On("RunInput", mock.Anything, "ipset", "restore", "-exist").Return(nil).Once()
	runner.On("RunInput", mock.Anything, "ipset", "restore", "-exist").
		Return(errors.New("ipset v7.15: Hash is full")).Once()
	runner.On("Run", "ipset", "destroy", "geoip4-KR-stage").Return(nil)
	runner.On("Run", "ipset", "destroy", "geoip4-US-stage").Return(nil)

	b := NewSetBuilder(runner, nil)
	err := b.StageAll(sets)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "geoip4-US-stage", buildErr.Set)
	runner.AssertExpectations(t)
}

func TestListGeoSetsFiltersOwnership(t *testing.T) {
	runner := &MockCommandRunner{}
	runner.On("Output", "ipset", "list", "-n").
		Return([]byte("geoip4-KR\nsomething-else\ngeoip6-KR\ngeoip4-US-stage\n"), nil)

	b := NewSetBuilder(runner, nil)
	names, err := b.ListGeoSets()
	require.NoError(t, err)
	assert.Equal(t, []string{"geoip4-KR", "geoip6-KR", "geoip4-US-stage"}, names)
}
