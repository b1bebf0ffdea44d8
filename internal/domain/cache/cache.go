// Package cache holds resolved alternative-root domains for the lifetime of
// the process.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultTTL       = 600 * time.Second
	DefaultMaxLength = 1000
)

// ErrInvalidArgument is returned by Set for a malformed domain or a nil IP list.
var ErrInvalidArgument = errors.New("invalid argument")

var domainPattern = regexp.MustCompile(`^[\w\-.]+$`)

// ValidDomain reports whether domain is acceptable as a cache key.
func ValidDomain(domain string) bool {
	return domainPattern.MatchString(domain)
}

// Entry is a copy of a cached resolution. Empty IPs mean the domain is
// confirmed non-existent.
type Entry struct {
	IPs     []string
	Created time.Time
	Visited time.Time
}

type item struct {
	domain string
	entry  Entry
}

type Cache struct {
	mu        sync.RWMutex
	items     map[string]*list.Element
	order     *list.List
	maxLength int
	ttl       time.Duration
	clock     clock.Clock

	onIPChange     func(domain string, ips []string, existed bool)
	onDomainDelete func(domain string)
}

type Option func(*Cache)

func WithMaxLength(n int) Option {
	return func(c *Cache) { c.maxLength = n }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// OnIPChange registers the hook called after every successful Set.
func OnIPChange(fn func(domain string, ips []string, existed bool)) Option {
	return func(c *Cache) { c.onIPChange = fn }
}

// OnDomainDelete registers the hook called for every removed entry, whether
// deleted, pruned or evicted.
func OnDomainDelete(fn func(domain string)) Option {
	return func(c *Cache) { c.onDomainDelete = fn }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		items:     make(map[string]*list.Element),
		order:     list.New(),
		maxLength: DefaultMaxLength,
		ttl:       DefaultTTL,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxLength < 0 {
		c.maxLength = 0
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	return c
}

func (c *Cache) Has(domain string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[domain]
	return ok
}

// IPs returns a copy of the stored addresses. The second result is false for
// an unknown domain; an empty, non-nil slice means non-existent.
func (c *Cache) IPs(domain string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	el, ok := c.items[domain]
	if !ok {
		return nil, false
	}
	return cloneIPs(el.Value.(*item).entry.IPs), true
}

// Set creates or replaces the entry for domain and then evicts the oldest
// insertions until the cache fits its maximum length.
func (c *Cache) Set(domain string, ips []string) error {
	if !ValidDomain(domain) || ips == nil {
		return fmt.Errorf("cache: set %q: %w", domain, ErrInvalidArgument)
	}

	now := c.clock.Now()
	it := &item{
		domain: domain,
		entry:  Entry{IPs: cloneIPs(ips), Created: now, Visited: now},
	}

	c.mu.Lock()
	el, existed := c.items[domain]
	if existed {
		c.order.Remove(el)
	}
	c.items[domain] = c.order.PushBack(it)

	var evicted []string
	for c.order.Len() > c.maxLength {
		evicted = append(evicted, c.removeLocked(c.order.Front()))
	}
	c.mu.Unlock()

	if c.onIPChange != nil {
		c.onIPChange(domain, cloneIPs(ips), existed)
	}
	c.notifyDelete(evicted...)
	return nil
}

// IsExpired reports whether the entry was last visited more than ttl ago.
// known is false when the domain is not cached.
func (c *Cache) IsExpired(domain string, ttl time.Duration) (expired, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	el, ok := c.items[domain]
	if !ok {
		return false, false
	}
	threshold := c.clock.Now().Add(-ttl)
	return el.Value.(*item).entry.Visited.Before(threshold), true
}

func (c *Cache) SetVisited(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[domain]; ok {
		el.Value.(*item).entry.Visited = c.clock.Now()
	}
}

func (c *Cache) Delete(domain string) bool {
	c.mu.Lock()
	el, ok := c.items[domain]
	if ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()

	if ok {
		c.notifyDelete(domain)
	}
	return ok
}

// Prune removes every entry not visited within ttl and returns how many were
// removed. A non-positive ttl selects the cache's default.
func (c *Cache) Prune(ttl time.Duration) int {
	if ttl <= 0 {
		ttl = c.ttl
	}
	threshold := c.clock.Now().Add(-ttl)

	c.mu.Lock()
	var removed []string
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*item).entry.Visited.Before(threshold) {
			removed = append(removed, c.removeLocked(el))
		}
		el = next
	}
	c.mu.Unlock()

	c.notifyDelete(removed...)
	return len(removed)
}

// Each calls visit for every entry in insertion order until visit returns
// false. It works on a snapshot, so visit may call back into the cache.
func (c *Cache) Each(visit func(domain string, entry Entry) bool) {
	c.mu.RLock()
	snapshot := make([]item, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		it := el.Value.(*item)
		e := it.entry
		e.IPs = cloneIPs(e.IPs)
		snapshot = append(snapshot, item{domain: it.domain, entry: e})
	}
	c.mu.RUnlock()

	for _, it := range snapshot {
		if !visit(it.domain, it.entry) {
			return
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) removeLocked(el *list.Element) string {
	domain := c.order.Remove(el).(*item).domain
	delete(c.items, domain)
	return domain
}

func (c *Cache) notifyDelete(domains ...string) {
	if c.onDomainDelete == nil {
		return
	}
	for _, d := range domains {
		c.onDomainDelete(d)
	}
}

// cloneIPs keeps an empty list non-nil so that non-existence survives the copy.
func cloneIPs(ips []string) []string {
	if ips == nil {
		return nil
	}
	return append(make([]string, 0, len(ips)), ips...)
}
