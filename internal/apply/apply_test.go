package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLine_SelectsFamilyAndSubstitutes(t *testing.T) {
	line, err := renderLine("add [set] [ip]", "http", "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "add http_ipv4 203.0.113.5", line)

	line, err = renderLine("add [set] [ip]", "http", "2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "add http_ipv6 2001:db8::1", line)
}

func TestRenderLine_AcceptsCIDR(t *testing.T) {
	line, err := renderLine("del [set] [ip]", "all", "198.51.100.0/24")
	require.NoError(t, err)
	assert.Equal(t, "del all_ipv4 198.51.100.0/24", line)
}

func TestRenderLine_RejectsGarbage(t *testing.T) {
	_, err := renderLine("add [set] [ip]", "http", "not-an-ip")
	assert.Error(t, err)
}
