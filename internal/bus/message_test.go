package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlock_AssignsUniqueID(t *testing.T) {
	a := Block("http://203.0.113.5", "hour", "abuse")
	b := Block("http://203.0.113.5", "hour", "abuse")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, CmdBlock, a.Command)
	assert.Equal(t, "203.0.113.5", a.Fields["uri"][len("http://"):])
}

func TestCurrentStatus_CarriesReplyToID(t *testing.T) {
	req := GetStatus()
	reply := CurrentStatus(true, req.ID)
	assert.Equal(t, req.ID, reply.ID)
	assert.Equal(t, "up", reply.Fields["status"])
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	msg := Unblock("all://198.51.100.9")
	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}
