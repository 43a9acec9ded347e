package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_StateAndDirection(t *testing.T) {
	res, err := Parse("established *< 10.0.0.1")
	require.NoError(t, err)
	require.Len(t, res.States, 1)
	assert.Equal(t, "established", res.States[0].Value)
	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, DirOrigSrc, res.Endpoints[0].Direction)
}

func TestParse_PortsDirectional(t *testing.T) {
	res, err := Parse("*> 80:90")
	require.NoError(t, err)
	require.Len(t, res.Ports, 1)
	assert.Equal(t, 80, res.Ports[0].From)
	assert.Equal(t, 90, res.Ports[0].To)
}

func TestParse_NegatedAtom(t *testing.T) {
	res, err := Parse("!new")
	require.NoError(t, err)
	assert.True(t, res.States[0].Negate)
}

func TestParse_NegatedGroupDistributes(t *testing.T) {
	res, err := Parse("!(new established)")
	require.NoError(t, err)
	require.Len(t, res.States, 2)
	assert.True(t, res.States[0].Negate)
	assert.True(t, res.States[1].Negate)
}

func TestParse_ExpireAtMostOnce(t *testing.T) {
	_, err := Parse("30 60")
	assert.Error(t, err)
}

func TestParse_MixedFamilyEndpointsRejected(t *testing.T) {
	_, err := Parse("*< 10.0.0.1 *> ::1")
	assert.Error(t, err)
}

func TestParse_DuplicateDirectionAddressRejected(t *testing.T) {
	_, err := Parse("*< 10.0.0.1 *< 10.0.0.2")
	assert.Error(t, err)
}

func TestParse_Status(t *testing.T) {
	res, err := Parse("assured confirmed")
	require.NoError(t, err)
	require.Len(t, res.Statuses, 2)
}
