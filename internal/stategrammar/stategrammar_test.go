package stategrammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NewPreset(t *testing.T) {
	res, err := Parse("new")
	require.NoError(t, err)
	require.Len(t, res.Compares, 1)
	c := res.Compares[0]
	assert.Equal(t, KindFlags, c.Kind)
	assert.Equal(t, FlagSyn|FlagRst|FlagAck|FlagFin, c.Mask)
	assert.Equal(t, FlagSyn, c.Compare)
	assert.False(t, c.Negate)
}

func TestParse_OldForcesNegate(t *testing.T) {
	res, err := Parse("old")
	require.NoError(t, err)
	c := res.Compares[0]
	assert.True(t, c.Negate)
	assert.Equal(t, FlagSyn|FlagRst|FlagAck|FlagFin, c.Mask)
	assert.Equal(t, FlagSyn, c.Compare)
}

func TestParse_NegatedOldClearsNegation(t *testing.T) {
	res, err := Parse("!old")
	require.NoError(t, err)
	assert.False(t, res.Compares[0].Negate)
}

func TestParse_MaskEqualsCompare(t *testing.T) {
	res, err := Parse("syn|ack=syn")
	require.NoError(t, err)
	c := res.Compares[0]
	assert.Equal(t, FlagSyn|FlagAck, c.Mask)
	assert.Equal(t, FlagSyn, c.Compare)
}

func TestParse_CompareMustBeSubsetOfMask(t *testing.T) {
	_, err := Parse("syn=ack")
	assert.Error(t, err)
}

func TestParse_StandaloneAndSpecialConflict(t *testing.T) {
	_, err := Parse("syn|all")
	assert.Error(t, err)
}

func TestParse_DuplicateComparesDeduplicated(t *testing.T) {
	res, err := Parse("syn,syn")
	require.NoError(t, err)
	assert.Len(t, res.Compares, 1)
}

func TestParse_ConnectionStateAtom(t *testing.T) {
	res, err := Parse("established")
	require.NoError(t, err)
	assert.Equal(t, KindConnState, res.Compares[0].Kind)
	assert.Equal(t, "established", res.Compares[0].Name)
}

func TestParse_TCPMSSRange(t *testing.T) {
	res, err := Parse("tcpmss 1400-1460")
	require.NoError(t, err)
	c := res.Compares[0]
	assert.Equal(t, KindTCPMSS, c.Kind)
	assert.Equal(t, 1400, c.MSSFrom)
	assert.Equal(t, 1460, c.MSSTo)
}

func TestParse_UnknownAtomRejected(t *testing.T) {
	_, err := Parse("bogus")
	assert.Error(t, err)
}
