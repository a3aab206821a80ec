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

// Package facet turns a Filter node's (filter, pivot?) pair into the
// listing of path components a directory of that node would contain: field
// names under an even-depth Filter, distinct field values under an
// odd-depth one. It is the only component that decides what faceted
// navigation looks like on disk; everything above it just asks "what's in
// this directory" and gets back filenames.
package facet

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/docjson"
	"github.com/paulo-raca/mongofs/internal/docstore"
)

// fieldDiscoveryLimit bounds how many sample documents are scanned to
// discover candidate field names, matching the original tool's
// find().limit(50) -- full collection scans to discover a directory
// listing would make large collections unusable.
const fieldDiscoveryLimit = 50

// Store is the slice of docstore.Store the enumerator needs. Depending on
// this narrow interface, rather than *docstore.Store directly, is what
// lets the node behaviors and this package be exercised against a fake in
// tests without a live database.
type Store interface {
	Find(ctx context.Context, db, collection string, filter bson.D, limit int64) []bson.D
	EnumerateFacetValues(ctx context.Context, db, collection string, filter bson.D, pivot string) []docstore.FacetCount
}

// ListFields returns the sorted set of scalar field names present on
// documents matching filter, excluding fields already bound in filter. A
// nil return means the enumeration itself failed (a database error), to be
// distinguished from a legitimately empty listing.
func ListFields(ctx context.Context, store Store, db, collection string, filter bson.D) []string {
	docs := store.Find(ctx, db, collection, filter, fieldDiscoveryLimit)
	if docs == nil {
		return nil
	}

	bound := make(map[string]bool, len(filter))
	for _, e := range filter {
		bound[e.Key] = true
	}

	seen := make(map[string]bool)
	for _, doc := range docs {
		for _, e := range doc {
			if bound[e.Key] || seen[e.Key] || !isScalar(e.Value) {
				continue
			}
			seen[e.Key] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value is one listing entry under an odd-depth (pivot) Filter: the raw
// JSON-encoded rendering of a distinct field value, and whether it
// uniquely identifies a single document (in which case the caller appends
// ".json"). Component is NOT yet safe as a path segment -- callers building
// a directory listing still need to run the composed name (value plus any
// ".json" suffix) through the path name codec, the same as every other
// listing entry this filesystem produces.
type Value struct {
	Component string
	Unique    bool
}

// ListValues enumerates the distinct values of pivot among documents
// matching filter, returning nil on database error.
func ListValues(ctx context.Context, store Store, db, collection string, filter bson.D, pivot string) []Value {
	counts := store.EnumerateFacetValues(ctx, db, collection, filter, pivot)
	if counts == nil {
		return nil
	}

	var values []Value
	for _, c := range counts {
		if !isScalar(c.Value) {
			continue
		}
		component, err := docjson.EncodeComponent(c.Value)
		if err != nil {
			continue
		}
		values = append(values, Value{Component: component, Unique: c.Count == 1})
	}

	sort.Slice(values, func(i, j int) bool { return values[i].Component < values[j].Component })
	return values
}

// isScalar reports whether v is neither an embedded document nor an array
// -- the only shapes faceted navigation treats as a leaf value.
func isScalar(v interface{}) bool {
	switch v.(type) {
	case bson.D, bson.M, bson.A:
		return false
	}
	if _, ok := v.([]interface{}); ok {
		return false
	}
	return true
}
