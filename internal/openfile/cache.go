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

// Package openfile reconciles the POSIX open/read/write/release lifecycle
// with the fact that a document is an atomic unit of storage, not a
// stream. One Entry is shared by every outstanding handle on the same
// node; the cache refcounts entries the way fs/inode/lookup_count.go
// refcounts gcsfuse inodes, and removes an entry exactly when its count
// returns to zero.
package openfile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/syncutil"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/docjson"
	"github.com/paulo-raca/mongofs/internal/key"
)

// Node is the minimal document locator an Entry backs: which database and
// collection, and the filter identifying the one document within it. This
// is deliberately narrower than vfs.Node (it has no Kind or Pivot) so that
// this package never needs to import package vfs, whose node behaviors are
// this cache's caller.
type Node struct {
	Database   string
	Collection string
	Filter     bson.D
}

// Identity returns the canonical cache key for the document this Node
// addresses.
func (n Node) Identity() key.Identity {
	return key.ForDocument(n.Database, n.Collection, n.Filter)
}

// Store is the slice of docstore.Store document I/O needs.
type Store interface {
	FindOne(ctx context.Context, db, collection string, filter bson.D) (bson.D, bool)
	InsertOne(ctx context.Context, db, collection string, doc bson.D) (interface{}, error)
	ReplaceOne(ctx context.Context, db, collection string, id interface{}, doc bson.D) error
}

// Notifier is the slice of internal/notifier a failed flush reports
// through.
type Notifier interface {
	Notify(title, message string)
}

// DirCache is the slice of internal/dircache a successful write-back must
// invalidate.
type DirCache interface {
	Clear()
}

// Entry is the shared, refcounted state behind every handle open on one
// document node.
type Entry struct {
	mu sync.Mutex

	node Node

	buf             buffer
	id              interface{} // the document's _id; nil until first successful flush of a new document
	dirty           bool
	lastFlushResult error

	refs uint64
}

// Size reports the entry's current buffer length, used by Getattr.
func (e *Entry) Size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Len()
}

// Identity returns the cache key of the document this entry backs, so a
// caller holding only the *Entry (e.g. a FUSE handle table keyed by handle
// ID, not by node) can still ask the cache whether the entry is still
// resident after a Release.
func (e *Entry) Identity() key.Identity {
	return e.node.Identity()
}

// Cache is the process-wide map from node identity to Entry.
type Cache struct {
	mu      syncutil.InvariantMutex
	entries map[key.Identity]*Entry
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	c := &Cache{entries: make(map[key.Identity]*Entry)}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

func (c *Cache) checkInvariants() {
	for id, e := range c.entries {
		if e.node.Identity() != id {
			panic(fmt.Sprintf("openfile: identity mismatch: map key %v, entry identity %v", id, e.node.Identity()))
		}
		if e.refs == 0 {
			panic(fmt.Sprintf("openfile: zero-ref entry still cached: %v", id))
		}
	}
}

// Peek returns the cached entry for id, if any, without affecting its
// refcount. Getattr uses this to report a live buffer's exact size.
func (c *Cache) Peek(id key.Identity) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// Open returns the shared entry for node, fetching the backing document on
// a cache miss. It fails with fuse.ENOENT if no document matches the
// node's filter. hideID strips _id from the rendered text (the id is
// still tracked internally for write-back) exactly as the mount option of
// the same name does.
func (c *Cache) Open(ctx context.Context, store Store, node Node, hideID bool, opts docjson.Options) (*Entry, error) {
	id := node.Identity()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		e.refs++
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	doc, ok := store.FindOne(ctx, node.Database, node.Collection, node.Filter)
	if !ok {
		return nil, fuse.ENOENT
	}

	docID, rendered := splitID(doc, hideID)

	data, err := docjson.Encode(rendered, opts)
	if err != nil {
		return nil, fuse.EIO
	}

	e := &Entry{node: node, id: docID}
	e.buf.SetBytes(data)

	return c.insertOrJoin(id, e)
}

// Create returns a fresh, empty entry for node -- the backing document
// does not exist yet and will be inserted on first Flush.
func (c *Cache) Create(node Node) *Entry {
	e := &Entry{node: node}
	entry, _ := c.insertOrJoin(node.Identity(), e)
	return entry
}

// insertOrJoin installs e as the cache's entry for id with refs=1, unless
// a concurrent Open/Create already won the race, in which case the winner
// is joined (refcounted) instead and e is discarded.
func (c *Cache) insertOrJoin(id key.Identity, e *Entry) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		existing.refs++
		return existing, nil
	}

	e.refs = 1
	c.entries[id] = e
	return e, nil
}

// splitID extracts the _id field from doc. When hideID is set, the
// returned document omits it; otherwise it is left in place so the
// rendered text shows it, as the original tool does by default.
func splitID(doc bson.D, hideID bool) (interface{}, bson.D) {
	var id interface{}
	rendered := doc
	if hideID {
		rendered = make(bson.D, 0, len(doc))
	}
	for _, e := range doc {
		if e.Key == "_id" {
			id = e.Value
			if hideID {
				continue
			}
		}
		if hideID {
			rendered = append(rendered, e)
		}
	}
	return id, rendered
}

// Read copies into p from the entry's buffer at off.
func (c *Cache) Read(e *Entry, p []byte, off int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.ReadAt(p, off)
}

// Write stores p into the entry's buffer at off and marks it dirty.
func (c *Cache) Write(e *Entry, p []byte, off int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.buf.WriteAt(p, off)
	e.dirty = true
	return n
}

// Truncate resizes the entry's buffer and marks it dirty.
func (c *Cache) Truncate(e *Entry, n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.Truncate(n)
	e.dirty = true
}

// Flush parses the entry's buffer and writes it back if dirty, returning
// the sticky result of the most recent attempt otherwise. A parse failure
// is reported through notifier and remembered as fuse.EIO; dirty is
// cleared in both the success and parse-failure cases (there is no
// well-formed buffer left to retry with until the user writes again).
func (c *Cache) Flush(ctx context.Context, store Store, notifier Notifier, dirCache DirCache, e *Entry, opts docjson.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirty {
		return e.lastFlushResult
	}

	doc, err := docjson.Decode(e.buf.Bytes(), opts)
	if err != nil {
		notifier.Notify("mongofs", fmt.Sprintf("Malformed JSON in %s: %v", nodePath(e.node), err))
		e.dirty = false
		e.lastFlushResult = fuse.EIO
		return e.lastFlushResult
	}

	merged := mergeFilter(doc, e.node.Filter)

	var writeErr error
	if e.id == nil {
		newID, insertErr := store.InsertOne(ctx, e.node.Database, e.node.Collection, merged)
		if insertErr != nil {
			writeErr = insertErr
		} else {
			e.id = newID
		}
	} else {
		writeErr = store.ReplaceOne(ctx, e.node.Database, e.node.Collection, e.id, merged)
	}

	if writeErr != nil {
		e.lastFlushResult = fuse.EIO
		return e.lastFlushResult
	}

	dirCache.Clear()
	e.dirty = false
	e.lastFlushResult = nil
	return nil
}

// mergeFilter overwrites doc with every (key, value) pair from filter,
// appending keys doc doesn't have and replacing the value of keys it does,
// so a user can't edit a facet field in their editor and silently move the
// document out of the directory it was opened from -- the filter always
// wins, matching doc.update(self.filter) in the original implementation.
func mergeFilter(doc bson.D, filter bson.D) bson.D {
	index := make(map[string]int, len(doc))
	for i, e := range doc {
		index[e.Key] = i
	}

	merged := doc
	for _, f := range filter {
		if i, ok := index[f.Key]; ok {
			merged[i].Value = f.Value
		} else {
			merged = append(merged, f)
		}
	}
	return merged
}

func nodePath(n Node) string {
	parts := []string{n.Database, n.Collection}
	for _, f := range n.Filter {
		parts = append(parts, f.Key, fmt.Sprint(f.Value))
	}
	return strings.Join(parts, "/")
}

// Release decrements the entry's refcount and, once it reaches zero,
// removes it from the cache and flushes it one last time so that a
// document nobody still has open is never left dangling dirty.
func (c *Cache) Release(ctx context.Context, store Store, notifier Notifier, dirCache DirCache, e *Entry, opts docjson.Options) error {
	// refs is guarded by the map lock, the same lock Open and insertOrJoin
	// hold when they increment it, so an entry is never joined between its
	// count reaching zero and its removal.
	c.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last {
		delete(c.entries, e.node.Identity())
	}
	c.mu.Unlock()

	if !last {
		return nil
	}

	return c.Flush(ctx, store, notifier, dirCache, e, opts)
}
