// ABOUTME: Thread-safe per-device cache of thumbnail/media listings.
// ABOUTME: Chunked appends keyed by filename, fetch status, and TTL eviction.

package mediacache

import (
	"encoding/json"
	"sync"
	"time"
)

// FetchStatus describes the state of a device's current media fetch.
type FetchStatus string

const (
	// StatusNone means no fetch has produced data for the device.
	StatusNone FetchStatus = "none"

	// StatusPending means chunks are arriving but the final one hasn't.
	StatusPending FetchStatus = "pending"

	// StatusComplete means the agent marked the last chunk final.
	StatusComplete FetchStatus = "complete"
)

// Thumbnail is one media record as submitted by an agent. Records are
// kept as raw JSON objects: agents attach varying extra fields (filepath,
// dimensions) and the cache passes them through untouched.
type Thumbnail map[string]json.RawMessage

// Filename returns the record's filename, or "" if absent or not a string.
func (t Thumbnail) Filename() string {
	raw, ok := t["filename"]
	if !ok {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return ""
	}
	return name
}

type deviceEntry struct {
	thumbs  map[string]Thumbnail
	order   []string // filenames in first-seen order for stable listings
	status  FetchStatus
	updated time.Time
}

// Cache holds each device's latest media listing. Entries are bounded by
// a TTL tied to connection lifetimes: a background sweep drops devices
// that stopped updating, and EvictDevice removes them on disconnect.
type Cache struct {
	mu      sync.Mutex
	devices map[string]*deviceEntry
	ttl     time.Duration
	done    chan struct{}
	closed  bool
}

// New creates a cache whose entries expire ttl after their last update.
// A ttl of zero disables the background sweep (entries live until evicted).
func New(ttl time.Duration) *Cache {
	c := &Cache{
		devices: make(map[string]*deviceEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.sweep()
	}
	return c
}

// AppendChunk merges one chunk of thumbnails into the device's listing.
// Records without a filename are skipped. When final is true the fetch is
// marked complete. Concurrent appends for the same device are serialized.
func (c *Cache) AppendChunk(deviceID string, thumbs []Thumbnail, final bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.devices[deviceID]
	if !ok {
		entry = &deviceEntry{thumbs: make(map[string]Thumbnail), status: StatusPending}
		c.devices[deviceID] = entry
	}

	accepted := 0
	for _, t := range thumbs {
		name := t.Filename()
		if name == "" {
			continue
		}
		if _, seen := entry.thumbs[name]; !seen {
			entry.order = append(entry.order, name)
		}
		entry.thumbs[name] = t
		accepted++
	}

	if final {
		entry.status = StatusComplete
	}
	entry.updated = time.Now()
	return accepted
}

// Reset discards the device's listing and restarts its fetch status.
// The router calls this before forwarding a fresh-fetch command, so any
// chunk that belonged to the previous fetch can never pollute the new one.
func (c *Cache) Reset(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices[deviceID] = &deviceEntry{
		thumbs:  make(map[string]Thumbnail),
		status:  StatusPending,
		updated: time.Now(),
	}
}

// List returns the device's thumbnails in first-seen order. An unknown
// device yields an empty, non-nil slice.
func (c *Cache) List(deviceID string) []Thumbnail {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.devices[deviceID]
	if !ok {
		return []Thumbnail{}
	}
	out := make([]Thumbnail, 0, len(entry.order))
	for _, name := range entry.order {
		out = append(out, entry.thumbs[name])
	}
	return out
}

// Status reports the device's fetch status.
func (c *Cache) Status(deviceID string) FetchStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.devices[deviceID]
	if !ok {
		return StatusNone
	}
	return entry.status
}

// EvictDevice drops all cached state for a device. Called by the
// disconnect handler; evicting an unknown device is a no-op.
func (c *Cache) EvictDevice(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, deviceID)
}

// sweep runs in a background goroutine, dropping devices whose entries
// have not been updated within the TTL.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.devices {
		if now.Sub(entry.updated) > c.ttl {
			delete(c.devices, id)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
