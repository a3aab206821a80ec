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

// Package vfs holds the tagged node variant the router produces and the
// per-kind filesystem behaviors (getattr/readdir/mkdir/rmdir/rename/unlink)
// that the mount adapter dispatches to. A node is a stateless, immutable
// description of "what this path means" -- all mutable state (cached
// listings, open document buffers) lives in the Context it is evaluated
// against, not in the node itself.
package vfs

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/key"
)

// Kind identifies which arm of the Node tagged variant is populated.
type Kind int

const (
	KindRoot Kind = iota
	KindDatabase
	KindCollection
	KindFilter
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindDatabase:
		return "database"
	case KindCollection:
		return "collection"
	case KindFilter:
		return "filter"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Node is the tagged variant the router parses a path into. Only the fields
// relevant to Kind are meaningful; a Go type switch on Kind (not a class
// hierarchy) drives dispatch in the behaviors below, matching the design
// note that this system has five fixed node shapes, not an open set of
// polymorphic types.
type Node struct {
	Kind Kind

	Database   string
	Collection string

	// Filter is the ordered field/value equality conjunction identifying a
	// position under a collection. Present for KindFilter and KindDocument.
	Filter bson.D

	// Pivot is the trailing unpaired field name of an odd-depth Filter path.
	// Only meaningful when Kind == KindFilter.
	Pivot *string
}

// Identity returns the canonical cache key for this node.
func (n Node) Identity() key.Identity {
	switch n.Kind {
	case KindRoot:
		return key.Root
	case KindDatabase:
		return key.ForDatabase(n.Database)
	case KindCollection:
		return key.ForCollection(n.Database, n.Collection)
	case KindFilter:
		return key.ForFilter(n.Database, n.Collection, n.Filter, n.Pivot)
	case KindDocument:
		return key.ForDocument(n.Database, n.Collection, n.Filter)
	default:
		return key.Root
	}
}

// IsDir reports whether this node presents as a directory to FUSE. Every
// kind except Document is a directory; Document is always a regular file.
func (n Node) IsDir() bool {
	return n.Kind != KindDocument
}

// AsCollectionFilter returns the Filter-equivalent view of a Collection node
// (empty filter, no pivot), used by Collection.Readdir to delegate to the
// Filter behaviors instead of duplicating facet-enumeration logic.
func (n Node) AsCollectionFilter() Node {
	return Node{
		Kind:       KindFilter,
		Database:   n.Database,
		Collection: n.Collection,
		Filter:     bson.D{},
	}
}

// Parent returns the logical parent of a Filter/Document node: the same
// filter with its last (key, value) pair removed and the removed key
// installed as the pivot. Getattr on a Document consults this parent's
// cached listing to decide whether the leaf plausibly exists. ok is false
// for Root, Database, Collection, and an empty-filter Filter (no parent
// Filter above a Collection).
func (n Node) Parent() (Node, bool) {
	if len(n.Filter) == 0 {
		return Node{}, false
	}

	last := n.Filter[len(n.Filter)-1]
	pivot := last.Key

	return Node{
		Kind:       KindFilter,
		Database:   n.Database,
		Collection: n.Collection,
		Filter:     append(bson.D{}, n.Filter[:len(n.Filter)-1]...),
		Pivot:      &pivot,
	}, true
}
