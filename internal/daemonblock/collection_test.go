package daemonblock

import (
	"testing"
	"time"

	"github.com/m2osw/ipload/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePeriod_KnownNames(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	until, ok := ResolvePeriod(now, "hour")
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), until)

	until, ok = ResolvePeriod(now, "")
	require.True(t, ok)
	assert.Equal(t, now.Add(24*time.Hour), until)
}

func TestResolvePeriod_UnknownFallsBackToDay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until, ok := ResolvePeriod(now, "fortnight")
	assert.False(t, ok)
	assert.Equal(t, now.Add(24*time.Hour), until)
}

func TestCollection_BlockThenUnblock(t *testing.T) {
	c := New(nil, nil)
	rec, ok := c.Block("http", "203.0.113.5", "hour", "too many requests")
	require.True(t, ok)
	assert.Equal(t, model.BlockBanned, rec.Status)
	assert.EqualValues(t, 1, rec.BanCount)

	got, ok := c.Get("203.0.113.5")
	require.True(t, ok)
	assert.Equal(t, "http", got.Scheme)

	unblocked, ok := c.Unblock("203.0.113.5")
	require.True(t, ok)
	assert.Equal(t, model.BlockUnbanned, unblocked.Status)
}

func TestCollection_KeepLongestAllSchemeWins(t *testing.T) {
	c := New(nil, nil)
	first, _ := c.Block("http", "203.0.113.9", "hour", "flood")
	firstUntil := first.BlockUntil

	second, _ := c.Block("all", "203.0.113.9", "day", "repeat offender")
	assert.Equal(t, AllScheme, second.Scheme)
	assert.True(t, second.BlockUntil.After(firstUntil) || second.BlockUntil.Equal(firstUntil))
	assert.EqualValues(t, 2, second.BanCount)
}

func TestCollection_KeepLongestSpecificDoesNotDowngradeAll(t *testing.T) {
	c := New(nil, nil)
	c.Block("all", "203.0.113.10", "day", "first")
	second, _ := c.Block("ssh", "203.0.113.10", "hour", "second")
	assert.Equal(t, AllScheme, second.Scheme)
}

func TestCollection_ExpiryFiresOnExpireCallback(t *testing.T) {
	done := make(chan *model.BlockRecord, 1)
	c := New(nil, func(rec *model.BlockRecord) { done <- rec })
	c.Block("http", "203.0.113.20", "5min", "test")
	c.clock = func() time.Time { return time.Now().Add(6 * time.Minute) }
	c.mu.Lock()
	c.rearmLocked()
	c.mu.Unlock()

	select {
	case rec := <-done:
		assert.Equal(t, "203.0.113.20", rec.IP)
	case <-time.After(2 * time.Second):
		t.Fatal("expected expiry callback to fire")
	}
}

func TestCollection_RestoreSeedsRecords(t *testing.T) {
	c := New(nil, nil)
	c.Restore([]*model.BlockRecord{
		{IP: "203.0.113.30", Scheme: "http", Status: model.BlockBanned, BlockUntil: time.Now().Add(time.Hour)},
	})
	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "203.0.113.30", all[0].IP)
}
