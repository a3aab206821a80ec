// Copyright 2024 The mongofs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dircache is a bounded, time-expiring, read-through cache from
// node identity to a directory listing. Every mutating filesystem
// operation invalidates it wholesale with Clear -- there is no attempt at
// fine-grained invalidation, since a rename or delete anywhere can change
// what a sibling listing would enumerate (e.g. a dropped collection is one
// fewer facet value everywhere it appeared as a document field).
package dircache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"

	"github.com/paulo-raca/mongofs/internal/key"
)

// DefaultCapacity and DefaultTTL are the out-of-the-box cache sizing; both
// are configurable per Cache instance.
const (
	DefaultCapacity = 100
	DefaultTTL      = 10 * time.Second
)

// ChooseDefaultCapacity picks a listing-cache capacity from the process's
// open-file rlimit, the way fs.ChooseTempDirLimitNumFiles sizes gcsfuse's
// temp-file directory: about a quarter of the soft limit, capped so a
// generous ulimit doesn't balloon memory use, and never below
// DefaultCapacity. DefaultCapacity is also the result when the rlimit
// can't be read.
func ChooseDefaultCapacity() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return DefaultCapacity
	}

	limit := rlimit.Cur / 4
	const reasonableLimit = 1 << 12
	if limit > reasonableLimit {
		limit = reasonableLimit
	}
	if limit < DefaultCapacity {
		limit = DefaultCapacity
	}
	return int(limit)
}

// Cache maps node identity to an optional listing ([]string; nil means the
// most recent enumeration attempt failed). It is safe for concurrent use.
type Cache struct {
	clock    timeutil.Clock
	ttl      time.Duration
	capacity int

	// OnHit and OnMiss, if set, are called synchronously from Get on every
	// lookup -- the hook a caller wires a metrics counter through, without
	// the cache itself knowing anything about metrics.
	OnHit  func()
	OnMiss func()

	mu      sync.Mutex
	entries map[key.Identity]*list.Element // -> *entry
	order   *list.List                     // most-recently-used at Front
}

type entry struct {
	id        key.Identity
	listing   []string
	expiresAt time.Time
}

// New constructs a Cache. A non-positive capacity falls back to
// DefaultCapacity; a non-positive ttl falls back to DefaultTTL.
func New(clock timeutil.Clock, ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		clock:    clock,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[key.Identity]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached listing for id if present and unexpired. On a
// miss (absent or expired), it calls enumerate, stores the result --
// including a nil result, which is itself a cacheable fact -- and returns
// it.
func (c *Cache) Get(id key.Identity, enumerate func() []string) []string {
	c.mu.Lock()

	if elem, ok := c.entries[id]; ok {
		e := elem.Value.(*entry)
		if c.clock.Now().Before(e.expiresAt) {
			c.order.MoveToFront(elem)
			listing := e.listing
			c.mu.Unlock()
			if c.OnHit != nil {
				c.OnHit()
			}
			return listing
		}
		c.removeLocked(elem)
	}
	c.mu.Unlock()

	if c.OnMiss != nil {
		c.OnMiss()
	}

	// The enumerator (a database round trip) runs outside the lock so that
	// one slow lookup cannot block unrelated cache traffic.
	listing := enumerate()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.removeLocked(elem)
	}

	e := &entry{id: id, listing: listing, expiresAt: c.clock.Now().Add(c.ttl)}
	elem := c.order.PushFront(e)
	c.entries[id] = elem

	for c.order.Len() > c.capacity {
		c.removeLocked(c.order.Back())
	}

	return listing
}

// Clear discards every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[key.Identity]*list.Element)
	c.order.Init()
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.entries, e.id)
	c.order.Remove(elem)
}
