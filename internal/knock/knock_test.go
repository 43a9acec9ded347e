package knock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BasicSequence(t *testing.T) {
	steps, err := Parse("tcp:1111/10s,tcp:2222/10s,tcp:3333/10s")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 1111, steps[0].Port)
	assert.Equal(t, 10*time.Second, steps[0].Window)
	assert.Equal(t, "tcp", steps[0].Protocol)
}

func TestParse_MinuteSuffix(t *testing.T) {
	steps, err := Parse("udp:5000/2m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, steps[0].Window)
	assert.Equal(t, "udp", steps[0].Protocol)
}

func TestParse_DefaultProtocol(t *testing.T) {
	steps, err := Parse("1111/10s")
	require.NoError(t, err)
	assert.Equal(t, "tcp", steps[0].Protocol)
}

func TestParse_DuplicatePortRejected(t *testing.T) {
	_, err := Parse("1111/10s,1111/5s")
	assert.Error(t, err)
}

func TestParse_AscendingSequenceRejected(t *testing.T) {
	_, err := Parse("1000/10s,2000/10s,3000/10s")
	assert.Error(t, err)
}

func TestParse_DescendingSequenceRejected(t *testing.T) {
	_, err := Parse("3000/10s,2000/10s,1000/10s")
	assert.Error(t, err)
}

func TestParse_NonMonotonicSequenceAccepted(t *testing.T) {
	_, err := Parse("1111/10s,3333/10s,2222/10s")
	assert.NoError(t, err)
}

func TestValidateAgainstDestinationPorts_Collision(t *testing.T) {
	steps, err := Parse("1111/10s,3333/10s,2222/10s")
	require.NoError(t, err)
	err = ValidateAgainstDestinationPorts(steps, []int{22, 2222})
	assert.Error(t, err)
}

func TestValidateAgainstDestinationPorts_NoCollision(t *testing.T) {
	steps, err := Parse("1111/10s,3333/10s,2222/10s")
	require.NoError(t, err)
	err = ValidateAgainstDestinationPorts(steps, []int{22})
	assert.NoError(t, err)
}
