package security

import (
	"hash/fnv"
	"sync"
	"time"
)

const counterShards = 16

// sessionIdleTTL is how long an observed session stays counted as live
// without further activity.
const sessionIdleTTL = 30 * time.Minute

// UsageCounters track sliding-window usage per (user, permission) pair. The
// map is sharded so concurrent evaluations for different users rarely contend
// on the same lock.
type UsageCounters struct {
	shards [counterShards]*counterShard
}

type counterShard struct {
	mu    sync.Mutex
	usage map[string]*usageRecord
	// sessions maps userID -> sessionID -> last seen. Idle sessions age out
	// on the next observation.
	sessions map[string]map[string]time.Time
}

type usageRecord struct {
	grants    []time.Time
	exports   []exportRecord
	lastGrant time.Time
}

type exportRecord struct {
	at     time.Time
	sizeMB float64
}

// NewUsageCounters creates an empty counter set
func NewUsageCounters() *UsageCounters {
	c := &UsageCounters{}
	for i := range c.shards {
		c.shards[i] = &counterShard{
			usage:    make(map[string]*usageRecord),
			sessions: make(map[string]map[string]time.Time),
		}
	}
	return c
}

func (c *UsageCounters) shard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%counterShards]
}

func usageKey(userID, permissionID string) string {
	return userID + "|" + permissionID
}

// Snapshot returns the user's current usage for a permission. Entries older
// than 24 hours are pruned on read.
func (c *UsageCounters) Snapshot(userID, permissionID string, now time.Time) UsageSnapshot {
	key := usageKey(userID, permissionID)
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[key]
	if !ok {
		return UsageSnapshot{}
	}
	rec.prune(now)

	snap := UsageSnapshot{LastGrant: rec.lastGrant}
	hourAgo := now.Add(-time.Hour)
	for _, t := range rec.grants {
		snap.DayCount++
		if t.After(hourAgo) {
			snap.HourCount++
		}
	}
	for _, e := range rec.exports {
		snap.ExportMBDay += e.sizeMB
	}
	return snap
}

// RecordGrant records a granted evaluation. Denied evaluations never count
// against access limits.
func (c *UsageCounters) RecordGrant(userID, permissionID string, now time.Time, exportSizeMB float64) {
	key := usageKey(userID, permissionID)
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[key]
	if !ok {
		rec = &usageRecord{}
		s.usage[key] = rec
	}
	rec.prune(now)
	rec.grants = append(rec.grants, now)
	rec.lastGrant = now
	if exportSizeMB > 0 {
		rec.exports = append(rec.exports, exportRecord{at: now, sizeMB: exportSizeMB})
	}
}

// prune drops window entries older than 24 hours. Caller holds the shard lock.
func (r *usageRecord) prune(now time.Time) {
	dayAgo := now.Add(-24 * time.Hour)

	kept := r.grants[:0]
	for _, t := range r.grants {
		if t.After(dayAgo) {
			kept = append(kept, t)
		}
	}
	r.grants = kept

	keptExp := r.exports[:0]
	for _, e := range r.exports {
		if e.at.After(dayAgo) {
			keptExp = append(keptExp, e)
		}
	}
	r.exports = keptExp
}

// ObserveSession marks sessionID as active for the user and returns the
// user's live session count, this session included. Sessions idle longer than
// sessionIdleTTL age out. An empty sessionID only reports the count.
func (c *UsageCounters) ObserveSession(userID, sessionID string, now time.Time) int {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.sessions[userID]
	cutoff := now.Add(-sessionIdleTTL)
	for id, seen := range live {
		if seen.Before(cutoff) {
			delete(live, id)
		}
	}

	if sessionID != "" {
		if live == nil {
			live = make(map[string]time.Time)
			s.sessions[userID] = live
		}
		live[sessionID] = now
	}
	if len(live) == 0 {
		delete(s.sessions, userID)
	}
	return len(live)
}
