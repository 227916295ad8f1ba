package platform

import (
	"slices"
	"sort"
	"sync"
)

type entry struct {
	link Link
	gen  uint64 // distinguishes a re-added handle from the entry it replaces
}

// Cache is the authoritative snapshot of all links, keyed by handle with a
// name index kept consistent on every Apply. Links shadowed by a name
// collision are evicted at Flush.
//
// Apply is the only mutator. Flush returns the net changes since the
// previous Flush, one per handle, which is what the Notifier publishes.
type Cache struct {
	mu    sync.RWMutex
	links map[int]*entry
	names map[string]int

	published map[int]entry
	dirty     []int
	dirtySet  map[int]bool
	nextGen   uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		links:     make(map[int]*entry),
		names:     make(map[string]int),
		published: make(map[int]entry),
		dirtySet:  make(map[int]bool),
	}
}

// Get returns a copy of the link with the given handle.
func (c *Cache) Get(handle int) (Link, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.links[handle]
	if !ok {
		return Link{}, false
	}
	return e.link.clone(), true
}

// GetByName returns a copy of the link with the given name.
func (c *Cache) GetByName(name string) (Link, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.names[name]
	if !ok {
		return Link{}, false
	}
	return c.links[h].link.clone(), true
}

// All returns copies of every link, ordered by handle.
func (c *Cache) All() []Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Link, 0, len(c.links))
	for _, e := range c.links {
		out = append(out, e.link.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Len returns the number of cached links.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

// Apply folds one notification into the cache.
//
// Added for a known handle is treated as Changed and Changed for an unknown
// handle as Added, since kernels coalesce and subscriptions race with
// dumps. Removed for an unknown handle is a no-op.
func (c *Cache) Apply(ev RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventAdded, EventChanged:
		if ev.Link.Handle <= 0 {
			return
		}
		c.upsert(ev.Link)
	case EventRemoved:
		c.remove(ev.Link.Handle)
	default:
		return
	}
	c.derive()
}

func (c *Cache) upsert(l Link) {
	l.Slaves = nil
	l.Connected = false

	// A previous holder of l.Name keeps its entry until Flush: a batch may
	// rename two links through each other's names.
	if e, ok := c.links[l.Handle]; ok {
		if e.link.Name != l.Name && c.names[e.link.Name] == l.Handle {
			delete(c.names, e.link.Name)
		}
		e.link = l
	} else {
		c.nextGen++
		c.links[l.Handle] = &entry{link: l, gen: c.nextGen}
	}
	c.names[l.Name] = l.Handle
	c.touch(l.Handle)
}

func (c *Cache) remove(handle int) {
	e, ok := c.links[handle]
	if !ok {
		return
	}
	if c.names[e.link.Name] == handle {
		delete(c.names, e.link.Name)
	}
	delete(c.links, handle)
	c.touch(handle)
}

func (c *Cache) touch(handle int) {
	if !c.dirtySet[handle] {
		c.dirtySet[handle] = true
		c.dirty = append(c.dirty, handle)
	}
}

// evictShadowed drops links whose name now belongs to another handle. Names
// are unique among live links, so such a link was removed behind our back.
// It returns the evicted handles in ascending order.
func (c *Cache) evictShadowed() []int {
	var evicted []int
	for h, e := range c.links {
		if c.names[e.link.Name] != h {
			evicted = append(evicted, h)
		}
	}
	if len(evicted) == 0 {
		return nil
	}
	sort.Ints(evicted)
	for _, h := range evicted {
		delete(c.links, h)
		c.touch(h)
	}
	c.derive()
	return evicted
}

// derive recomputes Slaves and Connected for every link.
func (c *Cache) derive() {
	slaves := make(map[int][]int)
	for h, e := range c.links {
		m := e.link.Master
		if m == 0 {
			continue
		}
		if me, ok := c.links[m]; ok && me.link.Type.IsAggregating() {
			slaves[m] = append(slaves[m], h)
		}
	}

	memo := make(map[int]bool, len(c.links))
	visiting := make(map[int]bool)
	var connected func(h int) bool
	connected = func(h int) bool {
		if v, ok := memo[h]; ok {
			return v
		}
		if visiting[h] {
			return false
		}
		visiting[h] = true
		defer delete(visiting, h)

		l := c.links[h].link
		result := false
		switch {
		case !l.Up:
		case l.Type.IsAggregating():
			for _, s := range slaves[h] {
				if connected(s) {
					result = true
					break
				}
			}
		default:
			result = l.Carrier
		}
		memo[h] = result
		return result
	}

	for h, e := range c.links {
		s := slaves[h]
		sort.Ints(s)
		e.link.Slaves = s
		e.link.Connected = connected(h)
	}
}

// Flush returns one Change per handle whose snapshot differs from the
// previous Flush. Handles touched by Apply come first in the order they were
// touched, followed by links whose derived fields changed as a consequence.
// A handle removed and re-added in between yields removed then added.
func (c *Cache) Flush() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.evictShadowed()
	order := append([]int(nil), evicted...)
	for _, h := range c.dirty {
		if !slices.Contains(evicted, h) {
			order = append(order, h)
		}
	}
	var rest []int
	for h := range c.links {
		if !c.dirtySet[h] {
			rest = append(rest, h)
		}
	}
	for h := range c.published {
		if _, live := c.links[h]; !live && !c.dirtySet[h] {
			rest = append(rest, h)
		}
	}
	sort.Ints(rest)
	order = append(order, rest...)

	var changes []Change
	for _, h := range order {
		old, had := c.published[h]
		cur, has := c.links[h]
		switch {
		case had && has && old.gen != cur.gen:
			changes = append(changes,
				Change{Kind: EventRemoved, Link: old.link.clone()},
				Change{Kind: EventAdded, Link: cur.link.clone()})
		case had && has:
			if !old.link.Equal(cur.link) {
				changes = append(changes, Change{Kind: EventChanged, Link: cur.link.clone()})
			}
		case had:
			changes = append(changes, Change{Kind: EventRemoved, Link: old.link.clone()})
		case has:
			changes = append(changes, Change{Kind: EventAdded, Link: cur.link.clone()})
		}
	}

	c.published = make(map[int]entry, len(c.links))
	for h, e := range c.links {
		c.published[h] = entry{link: e.link.clone(), gen: e.gen}
	}
	c.dirty = c.dirty[:0]
	c.dirtySet = make(map[int]bool)
	return changes
}
