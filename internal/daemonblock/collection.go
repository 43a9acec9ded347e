package daemonblock

import (
	"sort"
	"sync"
	"time"

	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/model"
)

// AllScheme is the scheme name that blocks every port, and therefore wins
// over any more specific scheme when two blocks collide on the same IP
// (block_info::keep_longest).
const AllScheme = "all"

// Collection holds the daemon's active and recently-expired block records,
// keyed by IP, and drives a single timer armed for the earliest upcoming
// expiry rather than polling, mirroring the event-driven design of the
// original ipwall server loop.
type Collection struct {
	mu       sync.Mutex
	records  map[string]*model.BlockRecord
	timer    *time.Timer
	onExpire func(*model.BlockRecord)
	log      *logger.Logger
	clock    func() time.Time
}

// New creates an empty collection. onExpire, if non-nil, is invoked (off
// the locked goroutine) for every record that transitions to Unbanned by
// reaching its expiry, so the caller can drive a firewall unblock.
func New(log *logger.Logger, onExpire func(*model.BlockRecord)) *Collection {
	return &Collection{
		records:  make(map[string]*model.BlockRecord),
		onExpire: onExpire,
		log:      log,
		clock:    time.Now,
	}
}

// Block records a new ban, or extends an existing active one per
// keep_longest, and returns the resulting record. recognized is false
// when period was non-empty but unrecognized (the caller should log a
// warning; the block still proceeds using the default period).
func (c *Collection) Block(scheme, ip, period, reason string) (rec *model.BlockRecord, recognized bool) {
	now := c.clock()
	until, recognized := ResolvePeriod(now, period)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.records[ip]
	if ok && existing.Status == model.BlockBanned {
		merged := keepLongest(existing, scheme, until)
		c.records[ip] = merged
		c.rearmLocked()
		return merged, recognized
	}

	rec = &model.BlockRecord{
		Scheme:     scheme,
		IP:         ip,
		BlockUntil: until,
		Reason:     reason,
		Status:     model.BlockBanned,
		BanCount:   1,
	}
	c.records[ip] = rec
	c.rearmLocked()
	return rec, recognized
}

// keepLongest merges an incoming block against an already-banned record:
// the "all" scheme always wins regardless of arrival order, the later of
// the two expiries is kept, and the counters accumulate.
func keepLongest(existing *model.BlockRecord, scheme string, until time.Time) *model.BlockRecord {
	merged := *existing
	if scheme == AllScheme {
		merged.Scheme = AllScheme
	}
	if until.After(merged.BlockUntil) {
		merged.BlockUntil = until
	}
	merged.BanCount++
	return &merged
}

// Unblock removes an IP's active ban immediately, independent of its
// scheduled expiry, and returns the record as it stood (now Unbanned).
func (c *Collection) Unblock(ip string) (*model.BlockRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[ip]
	if !ok || rec.Status != model.BlockBanned {
		return nil, false
	}
	rec.Status = model.BlockUnbanned
	c.rearmLocked()
	return rec, true
}

// Get returns the current record for ip, if any.
func (c *Collection) Get(ip string) (*model.BlockRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[ip]
	return rec, ok
}

// All returns every record currently held, sorted by IP for stable
// output.
func (c *Collection) All() []*model.BlockRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.BlockRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Restore seeds the collection from persisted records on daemon startup,
// without touching counters or re-announcing expirations.
func (c *Collection) Restore(records []*model.BlockRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		r := *rec
		c.records[r.IP] = &r
	}
	c.rearmLocked()
}

// rearmLocked finds the earliest pending expiry among Banned records and
// resets the wakeup timer to fire then; the caller must hold c.mu.
func (c *Collection) rearmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	var next time.Time
	for _, rec := range c.records {
		if rec.Status != model.BlockBanned {
			continue
		}
		if next.IsZero() || rec.BlockUntil.Before(next) {
			next = rec.BlockUntil
		}
	}
	if next.IsZero() {
		return
	}
	delay := next.Sub(c.clock())
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, c.sweep)
}

// sweep expires every Banned record whose BlockUntil has passed, fires
// onExpire for each, and rearms for the next one.
func (c *Collection) sweep() {
	now := c.clock()

	c.mu.Lock()
	var expired []*model.BlockRecord
	for _, rec := range c.records {
		if rec.Status == model.BlockBanned && !rec.BlockUntil.After(now) {
			rec.Status = model.BlockUnbanned
			expired = append(expired, rec)
		}
	}
	c.rearmLocked()
	c.mu.Unlock()

	for _, rec := range expired {
		if c.log != nil {
			c.log.Info("block expired", "ip", rec.IP, "scheme", rec.Scheme)
		}
		if c.onExpire != nil {
			c.onExpire(rec)
		}
	}
}

// Stop cancels the wakeup timer, for clean daemon shutdown.
func (c *Collection) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
