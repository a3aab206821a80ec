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

// Package key canonicalizes a node identity tuple (database, collection,
// ordered filter, optional pivot) into a single comparable string, so that
// it can be used as a map key by the directory cache and the open-file
// cache. Two tuples that decode to the same Go values -- regardless of how
// their path components were spelled -- must canonicalize identically,
// since the spec defines node identity by decoded-value equality, not
// string equality.
package key

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Identity is an opaque, comparable canonicalization of a node's tuple.
type Identity string

// Root is the identity of the filesystem root.
const Root Identity = ""

// ForDatabase returns the identity of a Database node.
func ForDatabase(db string) Identity {
	return build(db)
}

// ForCollection returns the identity of a Collection node.
func ForCollection(db, coll string) Identity {
	return build(db, coll)
}

// ForFilter returns the identity of a Filter node. pivot is nil for an
// even-depth (field-discovery) Filter. A "$filter" marker follows the
// collection name, so an empty Filter never shares the identity of its
// Collection.
func ForFilter(db, coll string, filter bson.D, pivot *string) Identity {
	parts := make([]interface{}, 0, 3+2*len(filter)+2)
	parts = append(parts, db, coll, "$filter")
	for _, e := range filter {
		parts = append(parts, e.Key, e.Value)
	}
	if pivot != nil {
		parts = append(parts, "$pivot", *pivot)
	}
	return build(parts...)
}

// ForDocument returns the identity of a Document node (a Filter with no
// pivot, reinterpreted as a leaf).
func ForDocument(db, coll string, filter bson.D) Identity {
	return ForFilter(db, coll, filter, nil)
}

// build canonicalizes a heterogeneous tuple using canonical (type-tagged)
// Extended JSON for every element, so that structurally equal decoded
// values always produce byte-identical keys regardless of how they were
// spelled on the wire.
func build(parts ...interface{}) Identity {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('\x1f') // unit separator: never appears in rendered JSON
		}
		raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: p}}, true /* canonical */, false)
		if err != nil {
			// Values reaching here were already decoded by docjson, so this
			// would indicate a value docjson itself could not have produced.
			fmt.Fprintf(&b, "!invalid(%v)", p)
			continue
		}
		b.Write(raw)
	}
	return Identity(b.String())
}
