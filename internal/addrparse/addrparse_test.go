package addrparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CommaSeparatedCIDR(t *testing.T) {
	entries, err := Parse("10.0.0.0/24,192.168.1.1", DefaultAddressOptions())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsCIDR)
	assert.Equal(t, 24, entries[0].Bits)
	assert.Equal(t, "192.168.1.1/32", entries[1].String())
}

func TestParse_AddressRange(t *testing.T) {
	entries, err := Parse("10.0.0.1-10.0.0.5", DefaultAddressOptions())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1-10.0.0.5", entries[0].String())
}

func TestParse_BracketedIPv6(t *testing.T) {
	entries, err := Parse("[2001:db8::1]", DefaultAddressOptions())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsIPv6())
}

func TestParse_FileOptionsSkipsComments(t *testing.T) {
	input := "10.0.0.1\n# comment\n; also comment\n10.0.0.2\n"
	entries, err := Parse(input, DefaultFileOptions())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestParse_PortsCommaAndRange(t *testing.T) {
	entries, err := Parse("80,443,8000-8010", DefaultPortOptions())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "80", entries[0].String())
	assert.Equal(t, "8000:8010", entries[2].String())
}

func TestParse_InvalidPortRejected(t *testing.T) {
	_, err := Parse("70000", DefaultPortOptions())
	assert.Error(t, err)
}

func TestOptimize_CoalescesAdjacentCIDRs(t *testing.T) {
	entries, err := Parse("10.0.0.0/25,10.0.0.128/25", DefaultAddressOptions())
	require.NoError(t, err)
	merged := Optimize(entries)
	require.Len(t, merged, 1)
	assert.Equal(t, "10.0.0.0", merged[0].From.String())
	assert.Equal(t, "10.0.0.255", merged[0].To.String())
}

func TestOptimize_KeepsDisjointRangesSeparate(t *testing.T) {
	entries, err := Parse("10.0.0.0/24,10.0.5.0/24", DefaultAddressOptions())
	require.NoError(t, err)
	merged := Optimize(entries)
	assert.Len(t, merged, 2)
}

func TestStripScheme(t *testing.T) {
	scheme, rest := StripScheme("http://1.2.3.4")
	assert.Equal(t, "http", scheme)
	assert.Equal(t, "1.2.3.4", rest)
}
