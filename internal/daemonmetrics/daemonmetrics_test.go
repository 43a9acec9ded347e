package daemonmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_RecordBlockAndUnblock(t *testing.T) {
	r := Get()

	r.RecordBlock("http")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ActiveBlocks))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.BlocksTotal.WithLabelValues("http")))

	r.RecordUnblock("http")
	assert.Equal(t, float64(0), testutil.ToFloat64(r.ActiveBlocks))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.UnblocksTotal.WithLabelValues("http")))
}

func TestRegistry_RecordExpirationDecrementsActive(t *testing.T) {
	r := Get()
	r.RecordBlock("all")
	before := testutil.ToFloat64(r.ActiveBlocks)
	r.RecordExpiration()
	assert.Equal(t, before-1, testutil.ToFloat64(r.ActiveBlocks))
}
