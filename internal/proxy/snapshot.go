package proxy

import "sync"

// snapshotCell holds the most recent upstream exchange for /x402/debug.
// Concurrent writers race under load and the last write wins; the slot is a
// diagnostic, not a log.
type snapshotCell struct {
	mu   sync.RWMutex
	data map[string]any
}

func (c *snapshotCell) store(snapshot map[string]any) {
	c.mu.Lock()
	c.data = snapshot
	c.mu.Unlock()
}

// load returns the stored snapshot, or nil when nothing has been recorded
// yet. A nil snapshot renders as JSON null in the debug body.
func (c *snapshotCell) load() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}
