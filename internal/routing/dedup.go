package routing

import (
	"fmt"
	"sync"
	"time"
)

// DefaultDedupTTL is how long an event id is remembered.
const DefaultDedupTTL = 6 * time.Hour

type dedupEntry struct {
	at       time.Time
	decision Decision
}

// DedupTable turns at-least-once Slack delivery into exactly-once routing
// within this process. Entries expire after the TTL; the table prunes on
// every insert.
type DedupTable struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dedupEntry
	now     func() time.Time
}

// NewDedupTable creates a table with the given TTL (0 means the default).
func NewDedupTable(ttl time.Duration) *DedupTable {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupTable{
		ttl:     ttl,
		entries: make(map[string]dedupEntry),
		now:     time.Now,
	}
}

// EventKey builds the canonical dedup key for a Slack event.
func EventKey(ev Event) string {
	account := ev.AccountID
	if account == "" {
		account = "default"
	}
	ts := ev.MessageTS
	if ts == "" {
		ts = ev.ThreadTS
	}
	if ts == "" {
		ts = "unknown"
	}
	user := ev.UserID
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("slack:%s:%s:%s:%s", account, ev.ChannelID, ts, user)
}

// Lookup returns the remembered decision for a key, if any.
func (d *DedupTable) Lookup(key string) (Decision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok || d.now().Sub(e.at) > d.ttl {
		return Decision{}, false
	}
	dec := e.decision
	dec.Duplicate = true
	return dec, true
}

// Record stores a decision. If the key is already present the ORIGINAL
// decision is returned with duplicate=true and the new one is discarded.
func (d *DedupTable) Record(key string, dec Decision) (Decision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, e := range d.entries {
		if now.Sub(e.at) > d.ttl {
			delete(d.entries, k)
		}
	}
	if e, ok := d.entries[key]; ok {
		orig := e.decision
		orig.Duplicate = true
		return orig, true
	}
	d.entries[key] = dedupEntry{at: now, decision: dec}
	return dec, false
}

// Len reports the number of live entries (for tests and doctor output).
func (d *DedupTable) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
