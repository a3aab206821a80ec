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

// Package docstore is the sole point of contact with the backing database.
// Every operation above this layer (the facet enumerator, the node
// behaviors, the open-file cache) goes through a Store rather than holding
// a *mongo.Client directly, so that the rest of the tree can be exercised
// against a fake in tests.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// systemCollectionPrefix marks collections the original tool always
// excluded from listings (Mongo's own bookkeeping namespaces).
const systemCollectionPrefix = "system."

// Config controls how the underlying client connects.
type Config struct {
	// Host is a hostname, "host:port", or a full "mongodb://" URI.
	Host string
	// ConnectTimeout and SocketTimeout bound every blocking call the
	// filesystem makes into the database, mirroring the original's
	// connectTimeoutMS=2000, socketTimeoutMS=2000.
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
}

// DefaultConfig matches the original tool's hardcoded connection settings.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		ConnectTimeout: 2 * time.Second,
		SocketTimeout:  2 * time.Second,
	}
}

// Store wraps a *mongo.Client with the exact vocabulary of operations the
// node behaviors and facet enumerator need.
type Store struct {
	client *mongo.Client
}

// Connect dials the database described by cfg. cfg's timeouts are set on
// the client as its connect and socket timeouts; the returned Store's
// methods pass the caller's context through unchanged.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	uri := cfg.Host
	if uri == "" {
		uri = "localhost"
	}
	if !hasScheme(uri) {
		uri = "mongodb://" + uri
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.SocketTimeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}

	return &Store{client: client}, nil
}

func hasScheme(uri string) bool {
	for i := 0; i < len(uri); i++ {
		if uri[i] == ':' {
			return i > 0 && hasPrefix(uri[i:], "://")
		}
		if !isSchemeChar(uri[i]) {
			return false
		}
	}
	return false
}

func isSchemeChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '+' || b == '-' || b == '.'
}

// Disconnect closes the underlying client.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ListDatabaseNames returns every database name, or nil on error.
func (s *Store) ListDatabaseNames(ctx context.Context) []string {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil
	}
	return names
}

// ListCollectionNames returns every non-system collection name in db, or
// nil on error.
func (s *Store) ListCollectionNames(ctx context.Context, db string) []string {
	names, err := s.client.Database(db).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if !hasPrefix(n, systemCollectionPrefix) {
			out = append(out, n)
		}
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// CreateDatabase realizes a database that has no explicit creation
// operation of its own, by creating and immediately dropping a throwaway
// collection inside it -- exactly the original tool's workaround.
func (s *Store) CreateDatabase(ctx context.Context, db string) error {
	if err := s.client.Database(db).CreateCollection(ctx, "_"); err != nil {
		return fmt.Errorf("docstore: create database %q: %w", db, err)
	}
	if err := s.client.Database(db).Collection("_").Drop(ctx); err != nil {
		return fmt.Errorf("docstore: create database %q: drop seed collection: %w", db, err)
	}
	return nil
}

// DropDatabase drops db entirely.
func (s *Store) DropDatabase(ctx context.Context, db string) error {
	if err := s.client.Database(db).Drop(ctx); err != nil {
		return fmt.Errorf("docstore: drop database %q: %w", db, err)
	}
	return nil
}

// CopyDatabase copies every collection of src into dst, collection by
// collection. It does not drop src -- the caller is responsible for that,
// and for accepting that the two steps together are not atomic.
func (s *Store) CopyDatabase(ctx context.Context, src, dst string) error {
	names, err := s.client.Database(src).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("docstore: copy database %q: list collections: %w", src, err)
	}

	for _, name := range names {
		if hasPrefix(name, systemCollectionPrefix) {
			continue
		}
		if err := s.copyCollection(ctx, src, dst, name); err != nil {
			return fmt.Errorf("docstore: copy database %q to %q: %w", src, dst, err)
		}
	}
	return nil
}

func (s *Store) copyCollection(ctx context.Context, src, dst, collection string) error {
	cursor, err := s.client.Database(src).Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("find on %s.%s: %w", src, collection, err)
	}
	defer cursor.Close(ctx)

	var docs []interface{}
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode document from %s.%s: %w", src, collection, err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("cursor on %s.%s: %w", src, collection, err)
	}

	if len(docs) == 0 {
		return nil
	}

	if _, err := s.client.Database(dst).Collection(collection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert into %s.%s: %w", dst, collection, err)
	}
	return nil
}

// CreateCollection creates an empty collection.
func (s *Store) CreateCollection(ctx context.Context, db, collection string) error {
	if err := s.client.Database(db).CreateCollection(ctx, collection); err != nil {
		return fmt.Errorf("docstore: create collection %q.%q: %w", db, collection, err)
	}
	return nil
}

// DropCollection drops a collection.
func (s *Store) DropCollection(ctx context.Context, db, collection string) error {
	if err := s.client.Database(db).Collection(collection).Drop(ctx); err != nil {
		return fmt.Errorf("docstore: drop collection %q.%q: %w", db, collection, err)
	}
	return nil
}

// RenameCollection renames a collection within the same database, or
// across databases, using the admin renameCollection command -- this one
// remains supported by the server and the driver, unlike copydb.
func (s *Store) RenameCollection(ctx context.Context, srcDB, srcColl, dstDB, dstColl string) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: fmt.Sprintf("%s.%s", srcDB, srcColl)},
		{Key: "to", Value: fmt.Sprintf("%s.%s", dstDB, dstColl)},
	}
	if err := s.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("docstore: rename collection %q.%q -> %q.%q: %w", srcDB, srcColl, dstDB, dstColl, err)
	}
	return nil
}

// FindOne returns the single document matching filter, or (nil, false) if
// none matches or an error occurs.
func (s *Store) FindOne(ctx context.Context, db, collection string, filter bson.D) (bson.D, bool) {
	var doc bson.D
	err := s.client.Database(db).Collection(collection).FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// Find returns up to limit documents matching filter, or nil on error.
func (s *Store) Find(ctx context.Context, db, collection string, filter bson.D, limit int64) []bson.D {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.client.Database(db).Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil
		}
		docs = append(docs, doc)
	}
	if cursor.Err() != nil {
		return nil
	}
	return docs
}

// FacetCount is one row of a pivot-value enumeration: a distinct value of
// the pivot field together with how many matching documents carry it.
type FacetCount struct {
	Value interface{}
	Count int64
}

// EnumerateFacetValues runs the $match/$group pivot-counting pipeline from
// the facet enumerator's design and returns nil on any database error.
func (s *Store) EnumerateFacetValues(ctx context.Context, db, collection string, filter bson.D, pivot string) []FacetCount {
	match := append(append(bson.D{}, filter...), bson.E{
		Key:   pivot,
		Value: bson.D{{Key: "$exists", Value: true}},
	})

	pipeline := bson.A{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + pivot},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := s.client.Database(db).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil
	}
	defer cursor.Close(ctx)

	var out []FacetCount
	for cursor.Next(ctx) {
		var row struct {
			ID    interface{} `bson:"_id"`
			Count int64       `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil
		}
		out = append(out, FacetCount{Value: row.ID, Count: row.Count})
	}
	if cursor.Err() != nil {
		return nil
	}
	return out
}

// InsertOne inserts doc and returns its generated or supplied _id.
func (s *Store) InsertOne(ctx context.Context, db, collection string, doc bson.D) (interface{}, error) {
	res, err := s.client.Database(db).Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("docstore: insert into %q.%q: %w", db, collection, err)
	}
	return res.InsertedID, nil
}

// ReplaceOne replaces the document with the given _id wholesale.
func (s *Store) ReplaceOne(ctx context.Context, db, collection string, id interface{}, doc bson.D) error {
	filter := bson.D{{Key: "_id", Value: id}}
	res, err := s.client.Database(db).Collection(collection).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("docstore: replace in %q.%q: %w", db, collection, err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return fmt.Errorf("docstore: replace in %q.%q: no document matched id %v", db, collection, id)
	}
	return nil
}

// DeleteOne deletes the single document matching filter.
func (s *Store) DeleteOne(ctx context.Context, db, collection string, filter bson.D) error {
	if _, err := s.client.Database(db).Collection(collection).DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("docstore: delete one in %q.%q: %w", db, collection, err)
	}
	return nil
}

// DeleteMany deletes every document matching filter.
func (s *Store) DeleteMany(ctx context.Context, db, collection string, filter bson.D) error {
	if _, err := s.client.Database(db).Collection(collection).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("docstore: delete many in %q.%q: %w", db, collection, err)
	}
	return nil
}

// UnsetField unsets field on every document matching filter -- used by
// Filter.Rmdir with a pivot, where "removing the directory" means clearing
// the field that gave it meaning rather than deleting the documents.
func (s *Store) UnsetField(ctx context.Context, db, collection string, filter bson.D, field string) error {
	update := bson.D{{Key: "$unset", Value: bson.D{{Key: field, Value: ""}}}}
	if _, err := s.client.Database(db).Collection(collection).UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("docstore: unset %q in %q.%q: %w", field, db, collection, err)
	}
	return nil
}

// CountDocuments reports how many documents in collection match filter.
func (s *Store) CountDocuments(ctx context.Context, db, collection string, filter bson.D) (int64, error) {
	n, err := s.client.Database(db).Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("docstore: count in %q.%q: %w", db, collection, err)
	}
	return n, nil
}

// NewObjectID returns a fresh ObjectID, the same _id type the driver
// generates implicitly when an inserted document has none.
func NewObjectID() primitive.ObjectID {
	return primitive.NewObjectID()
}
