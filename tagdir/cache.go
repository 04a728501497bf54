package tagdir

import (
	"context"
	"sync"
	"time"

	"warlogix/dispatch"
	"warlogix/value"
)

// DefaultTTL is how long a resolved entry/template stays valid before a
// lookup re-discovers it.
const DefaultTTL = 5 * time.Minute

type cachedEntries struct {
	entries   []Entry
	expiresAt time.Time
}

type cachedTemplate struct {
	tmpl      *value.Template
	expiresAt time.Time
}

// Cache holds resolved symbol listings and UDT templates per endpoint, with a
// TTL and explicit invalidation on the CIP statuses that indicate the
// controller's tag database changed underneath a client (0x04 path segment
// error, 0x05 path destination unknown, 0x16 object state conflict).
//
// One Cache instance is owned per connmgr pool entry; there is no
// process-wide registry (see value.Descriptor's Template field and DESIGN.md).
type Cache struct {
	ttl time.Duration

	mu        sync.Mutex
	scopes    map[string]*cachedEntries          // keyed by program scope ("" = controller scope)
	templates map[uint16]*cachedTemplate         // keyed by structure handle
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:       ttl,
		scopes:    make(map[string]*cachedEntries),
		templates: make(map[uint16]*cachedTemplate),
	}
}

// Entries returns scope's symbol list, discovering it if absent or expired.
func (c *Cache) Entries(ctx context.Context, d *dispatch.Dispatcher, scope string) ([]Entry, error) {
	c.mu.Lock()
	if ce, ok := c.scopes[scope]; ok && time.Now().Before(ce.expiresAt) {
		entries := ce.entries
		c.mu.Unlock()
		return entries, nil
	}
	c.mu.Unlock()

	entries, err := Discover(ctx, d, scope)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.scopes[scope] = &cachedEntries{entries: entries, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return entries, nil
}

// Template returns the resolved UDT template for structHandle, resolving it
// if absent or expired.
func (c *Cache) Template(ctx context.Context, d *dispatch.Dispatcher, structHandle uint16) (*value.Template, error) {
	c.mu.Lock()
	if ct, ok := c.templates[structHandle]; ok && time.Now().Before(ct.expiresAt) {
		tmpl := ct.tmpl
		c.mu.Unlock()
		return tmpl, nil
	}
	c.mu.Unlock()

	tmpl, err := ResolveTemplate(ctx, d, structHandle)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.templates[structHandle] = &cachedTemplate{tmpl: tmpl, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return tmpl, nil
}

// Invalidate drops every cached scope and template. Callers invoke this when
// a CIP operation returns general status 0x04, 0x05, or 0x16, signalling the
// controller's symbol table may have changed (a download, an online edit).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.scopes = make(map[string]*cachedEntries)
	c.templates = make(map[uint16]*cachedTemplate)
	c.mu.Unlock()
}

// InvalidateScope drops only one program scope's cached entries, leaving
// templates and other scopes intact.
func (c *Cache) InvalidateScope(scope string) {
	c.mu.Lock()
	delete(c.scopes, scope)
	c.mu.Unlock()
}

// ShouldInvalidate reports whether a CIP general status indicates the
// controller's symbol table may have changed and a cached lookup should be
// discarded before retrying.
func ShouldInvalidate(cipStatus byte) bool {
	switch cipStatus {
	case 0x04, 0x05, 0x16:
		return true
	default:
		return false
	}
}
