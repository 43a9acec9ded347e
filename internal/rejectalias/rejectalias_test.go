package rejectalias

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These assert the literal g_reject_options[] values from
// original_source/tools/ipload/rule.cpp, including its own odd cases
// where the IPv6-only alias of "no-route"/"adm-prohibited" is the alias
// name itself, and "icmp-tcp-reset" maps to its own name rather than to
// "tcp-reset".
func TestResolve_NoRouteIPv6NameIsTheAliasItself(t *testing.T) {
	v6, err := Resolve("no-route", true)
	require.NoError(t, err)
	assert.Equal(t, "no-route", v6)

	_, err = Resolve("no-route", false)
	assert.Error(t, err)
}

func TestResolve_AdmProhibitedIPv6NameIsTheAliasItself(t *testing.T) {
	v4, err := Resolve("adm-prohibited", false)
	require.NoError(t, err)
	assert.Equal(t, "icmp-admin-prohibited", v4)

	v6, err := Resolve("adm-prohibited", true)
	require.NoError(t, err)
	assert.Equal(t, "adm-prohibited", v6)
}

func TestResolve_IcmpTcpResetIsIPv4Only(t *testing.T) {
	v4, err := Resolve("icmp-tcp-reset", false)
	require.NoError(t, err)
	assert.Equal(t, "icmp-tcp-reset", v4)

	_, err = Resolve("icmp-tcp-reset", true)
	assert.Error(t, err)
}

func TestResolve_Icmp6TcpResetIsIPv6Only(t *testing.T) {
	v6, err := Resolve("icmp6-tcp-reset", true)
	require.NoError(t, err)
	assert.Equal(t, "tcp-reset", v6)

	_, err = Resolve("icmp6-tcp-reset", false)
	assert.Error(t, err)
}

func TestResolve_DefaultAlias(t *testing.T) {
	v4, err := Resolve("", false)
	require.NoError(t, err)
	assert.Equal(t, "icmp-port-unreachable", v4)
}

func TestResolve_UnknownAlias(t *testing.T) {
	_, err := Resolve("bogus", false)
	assert.Error(t, err)
}
