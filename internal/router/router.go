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

// Package router parses a mount-relative path into a vfs.Node. It never
// returns a Go error for a malformed path -- a path that fails to decode or
// parse simply does not route, which callers treat the same as "no such
// file" (the original tool's getRoot/getDatabase/etc. controllers catching
// every exception and returning None).
package router

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/docjson"
	"github.com/paulo-raca/mongofs/internal/pathcodec"
	"github.com/paulo-raca/mongofs/internal/vfs"
)

// Route parses path (as handed to a FUSE lookup, e.g. "/db/coll/field/1.json")
// into a Node. The leading slash is optional; both "/db" and "db" route
// identically.
func Route(path string) (vfs.Node, bool) {
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		return vfs.Node{Kind: vfs.KindRoot}, true
	}

	segments := strings.Split(path, "/")

	db, err := pathcodec.Decode(segments[0])
	if err != nil {
		return vfs.Node{}, false
	}
	if len(segments) == 1 {
		return vfs.Node{Kind: vfs.KindDatabase, Database: db}, true
	}

	coll, err := pathcodec.Decode(segments[1])
	if err != nil {
		return vfs.Node{}, false
	}
	if len(segments) == 2 {
		return vfs.Node{Kind: vfs.KindCollection, Database: db, Collection: coll}, true
	}

	rest := segments[2:]

	isDocument := false
	last := rest[len(rest)-1]
	if strings.HasSuffix(last, ".json") {
		isDocument = true
		rest = append(append([]string{}, rest[:len(rest)-1]...), strings.TrimSuffix(last, ".json"))
	}

	filter, pivot, ok := parseFilterPath(rest)
	if !ok {
		return vfs.Node{}, false
	}

	if isDocument {
		if pivot != nil {
			// The ".json" suffix landed on what would be an unpaired field
			// name -- there is no such thing as a document with a dangling
			// field, so this path does not route.
			return vfs.Node{}, false
		}
		return vfs.Node{Kind: vfs.KindDocument, Database: db, Collection: coll, Filter: filter}, true
	}

	return vfs.Node{Kind: vfs.KindFilter, Database: db, Collection: coll, Filter: filter, Pivot: pivot}, true
}

// parseFilterPath decodes and pairs up the components following the
// collection name. Even-indexed components are field names, odd-indexed
// are JSON-encoded values; a trailing unpaired component becomes the pivot.
func parseFilterPath(segments []string) (bson.D, *string, bool) {
	// A single empty segment means there was nothing after the collection
	// name (e.g. "db/coll/" or "db/coll/.json", whose filter path is
	// empty) -- an empty filter, no pivot.
	if len(segments) == 1 && segments[0] == "" {
		return bson.D{}, nil, true
	}

	decoded := make([]string, len(segments))
	for i, seg := range segments {
		d, err := pathcodec.Decode(seg)
		if err != nil {
			return nil, nil, false
		}
		decoded[i] = d
	}

	filter := bson.D{}
	i := 0
	for ; i+1 < len(decoded); i += 2 {
		value, err := docjson.DecodeComponent(decoded[i+1])
		if err != nil {
			return nil, nil, false
		}
		filter = append(filter, bson.E{Key: decoded[i], Value: value})
	}

	if i < len(decoded) {
		pivot := decoded[i]
		return filter, &pivot, true
	}

	return filter, nil, true
}
