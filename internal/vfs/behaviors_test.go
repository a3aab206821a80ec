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

package vfs

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/cfg"
	"github.com/paulo-raca/mongofs/internal/dircache"
	"github.com/paulo-raca/mongofs/internal/docstore"
	"github.com/paulo-raca/mongofs/internal/openfile"
	"github.com/paulo-raca/mongofs/internal/pathcodec"
)

type fakeNotifier struct{ messages []string }

func (n *fakeNotifier) Notify(title, message string) { n.messages = append(n.messages, message) }

// fakeStore is an in-memory stand-in for *docstore.Store, keyed the same
// simple way the facet and openfile fakes are: a map of database ->
// collection -> documents.
type fakeStore struct {
	databases map[string]map[string][]bson.D

	renamedCollection bool
	copiedDatabase    bool
	droppedDatabase   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{databases: map[string]map[string][]bson.D{}}
}

func (f *fakeStore) ensureDB(db string) map[string][]bson.D {
	c, ok := f.databases[db]
	if !ok {
		c = map[string][]bson.D{}
		f.databases[db] = c
	}
	return c
}

func (f *fakeStore) ListDatabaseNames(ctx context.Context) []string {
	names := make([]string, 0, len(f.databases))
	for db := range f.databases {
		names = append(names, db)
	}
	return names
}

func (f *fakeStore) ListCollectionNames(ctx context.Context, db string) []string {
	names := make([]string, 0)
	for coll := range f.databases[db] {
		names = append(names, coll)
	}
	return names
}

func (f *fakeStore) CreateDatabase(ctx context.Context, db string) error {
	f.ensureDB(db)
	return nil
}

func (f *fakeStore) DropDatabase(ctx context.Context, db string) error {
	f.droppedDatabase = db
	delete(f.databases, db)
	return nil
}

func (f *fakeStore) CopyDatabase(ctx context.Context, src, dst string) error {
	f.copiedDatabase = true
	dstColls := f.ensureDB(dst)
	for coll, docs := range f.databases[src] {
		dstColls[coll] = append([]bson.D{}, docs...)
	}
	return nil
}

func (f *fakeStore) CreateCollection(ctx context.Context, db, collection string) error {
	f.ensureDB(db)[collection] = []bson.D{}
	return nil
}

func (f *fakeStore) DropCollection(ctx context.Context, db, collection string) error {
	delete(f.ensureDB(db), collection)
	return nil
}

func (f *fakeStore) RenameCollection(ctx context.Context, srcDB, srcColl, dstDB, dstColl string) error {
	f.renamedCollection = true
	docs := f.ensureDB(srcDB)[srcColl]
	delete(f.databases[srcDB], srcColl)
	f.ensureDB(dstDB)[dstColl] = docs
	return nil
}

func (f *fakeStore) FindOne(ctx context.Context, db, collection string, filter bson.D) (bson.D, bool) {
	for _, doc := range f.databases[db][collection] {
		if matches(doc, filter) {
			return doc, true
		}
	}
	return nil, false
}

func (f *fakeStore) Find(ctx context.Context, db, collection string, filter bson.D, limit int64) []bson.D {
	var out []bson.D
	for _, doc := range f.databases[db][collection] {
		if matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out
}

func (f *fakeStore) InsertOne(ctx context.Context, db, collection string, doc bson.D) (interface{}, error) {
	id := len(f.ensureDB(db)[collection]) + 1
	doc = append(append(bson.D{}, doc...), bson.E{Key: "_id", Value: id})
	f.databases[db][collection] = append(f.databases[db][collection], doc)
	return id, nil
}

func (f *fakeStore) ReplaceOne(ctx context.Context, db, collection string, id interface{}, doc bson.D) error {
	return nil
}

func (f *fakeStore) DeleteOne(ctx context.Context, db, collection string, filter bson.D) error {
	docs := f.databases[db][collection]
	for i, doc := range docs {
		if matches(doc, filter) {
			f.databases[db][collection] = append(docs[:i], docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) DeleteMany(ctx context.Context, db, collection string, filter bson.D) error {
	var kept []bson.D
	for _, doc := range f.databases[db][collection] {
		if !matches(doc, filter) {
			kept = append(kept, doc)
		}
	}
	f.databases[db][collection] = kept
	return nil
}

func (f *fakeStore) UnsetField(ctx context.Context, db, collection string, filter bson.D, field string) error {
	for i, doc := range f.databases[db][collection] {
		if !matches(doc, filter) {
			continue
		}
		var kept bson.D
		for _, e := range doc {
			if e.Key != field {
				kept = append(kept, e)
			}
		}
		f.databases[db][collection][i] = kept
	}
	return nil
}

func (f *fakeStore) EnumerateFacetValues(ctx context.Context, db, collection string, filter bson.D, pivot string) []docstore.FacetCount {
	counts := map[interface{}]int64{}
	for _, doc := range f.databases[db][collection] {
		if !matches(doc, filter) {
			continue
		}
		for _, e := range doc {
			if e.Key == pivot {
				counts[e.Value]++
			}
		}
	}
	var out []docstore.FacetCount
	for v, n := range counts {
		out = append(out, docstore.FacetCount{Value: v, Count: n})
	}
	return out
}

func matches(doc, filter bson.D) bool {
	for _, f := range filter {
		found := false
		for _, e := range doc {
			if e.Key == f.Key && e.Value == f.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func newTestContext(store *fakeStore) *Context {
	return &Context{
		Store:     store,
		DirCache:  dircache.New(timeutil.NewSimulatedClock(time.Now()), dircache.DefaultTTL, dircache.DefaultCapacity),
		OpenFiles: openfile.NewCache(),
		Config:    cfg.FromMountOptions(map[string]string{}),
		Notifier:  &fakeNotifier{},
	}
}

func TestRootAlwaysExists(t *testing.T) {
	vc := newTestContext(newFakeStore())
	attr, err := Getattr(context.Background(), vc, Node{Kind: KindRoot})
	require.NoError(t, err)
	assert.True(t, attr.IsDir)
}

func TestDatabaseGetattrChecksParentListing(t *testing.T) {
	store := newFakeStore()
	store.CreateDatabase(context.Background(), "mydb")
	vc := newTestContext(store)

	_, err := Getattr(context.Background(), vc, Node{Kind: KindDatabase, Database: "mydb"})
	assert.NoError(t, err)

	_, err = Getattr(context.Background(), vc, Node{Kind: KindDatabase, Database: "absent"})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestFilterAlwaysExistsAndMkdirIsEEXIST(t *testing.T) {
	vc := newTestContext(newFakeStore())
	node := Node{Kind: KindFilter, Database: "db", Collection: "coll", Filter: bson.D{{Key: "name", Value: "x"}}}

	attr, err := Getattr(context.Background(), vc, node)
	require.NoError(t, err)
	assert.True(t, attr.IsDir)

	assert.Equal(t, fuse.EEXIST, Mkdir(context.Background(), vc, node))
}

func TestMkdirDatabase(t *testing.T) {
	store := newFakeStore()
	vc := newTestContext(store)
	node := Node{Kind: KindDatabase, Database: "newdb"}

	require.NoError(t, Mkdir(context.Background(), vc, node))
	assert.Equal(t, fuse.EEXIST, Mkdir(context.Background(), vc, node))
}

func TestRmdirDatabaseMissingIsENOENT(t *testing.T) {
	vc := newTestContext(newFakeStore())
	err := Rmdir(context.Background(), vc, Node{Kind: KindDatabase, Database: "ghost"})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestReaddirRootListsDatabasesEncoded(t *testing.T) {
	store := newFakeStore()
	store.CreateDatabase(context.Background(), "a")
	store.CreateDatabase(context.Background(), ".hidden")
	vc := newTestContext(store)

	names := Readdir(context.Background(), vc, Node{Kind: KindRoot})
	assert.Contains(t, names, "a")
	// A leading dot is escaped by the name codec so FUSE never mistakes a
	// database named ".hidden" for a dotfile.
	assert.NotContains(t, names, ".hidden")
	decoded, err := pathcodec.Decode(findEncodedDotted(names))
	require.NoError(t, err)
	assert.Equal(t, ".hidden", decoded)
}

func findEncodedDotted(names []string) string {
	for _, n := range names {
		if decoded, err := pathcodec.Decode(n); err == nil && decoded == ".hidden" {
			return n
		}
	}
	return ""
}

func TestReaddirFilterFieldsAndValues(t *testing.T) {
	store := newFakeStore()
	store.ensureDB("db")["coll"] = []bson.D{
		{{Key: "_id", Value: 1}, {Key: "name", Value: "a"}},
		{{Key: "_id", Value: 2}, {Key: "name", Value: "a"}},
		{{Key: "_id", Value: 3}, {Key: "name", Value: "b"}},
	}
	vc := newTestContext(store)

	fields := Readdir(context.Background(), vc, Node{Kind: KindCollection, Database: "db", Collection: "coll"})
	assert.Contains(t, fields, "name")

	pivot := "name"
	values := Readdir(context.Background(), vc, Node{Kind: KindFilter, Database: "db", Collection: "coll", Filter: bson.D{}, Pivot: &pivot})
	assert.Contains(t, values, `"b".json`)
	assert.Contains(t, values, `"a"`)
}

func TestDocumentGetattrViaParentListing(t *testing.T) {
	store := newFakeStore()
	store.ensureDB("db")["coll"] = []bson.D{
		{{Key: "_id", Value: 1}, {Key: "name", Value: "b"}},
	}
	vc := newTestContext(store)

	node := Node{Kind: KindDocument, Database: "db", Collection: "coll", Filter: bson.D{{Key: "name", Value: "b"}}}
	attr, err := Getattr(context.Background(), vc, node)
	require.NoError(t, err)
	assert.False(t, attr.IsDir)

	missing := Node{Kind: KindDocument, Database: "db", Collection: "coll", Filter: bson.D{{Key: "name", Value: "nope"}}}
	_, err = Getattr(context.Background(), vc, missing)
	assert.Equal(t, fuse.ENOENT, err)
}

func TestDocumentGetattrPrefersOpenBuffer(t *testing.T) {
	store := newFakeStore()
	vc := newTestContext(store)

	node := Node{Kind: KindDocument, Database: "db", Collection: "coll", Filter: bson.D{{Key: "name", Value: "b"}}}
	e := vc.OpenFiles.Create(openfile.Node{Database: "db", Collection: "coll", Filter: node.Filter})
	vc.OpenFiles.Write(e, []byte("hello"), 0)

	attr, err := Getattr(context.Background(), vc, node)
	require.NoError(t, err)
	assert.EqualValues(t, 5, attr.Size)
}

func TestUnlinkDeletesDocument(t *testing.T) {
	store := newFakeStore()
	store.ensureDB("db")["coll"] = []bson.D{
		{{Key: "_id", Value: 1}, {Key: "name", Value: "b"}},
	}
	vc := newTestContext(store)

	node := Node{Kind: KindDocument, Database: "db", Collection: "coll", Filter: bson.D{{Key: "name", Value: "b"}}}
	require.NoError(t, Unlink(context.Background(), vc, node))
	assert.Empty(t, store.databases["db"]["coll"])
}

func TestRmdirFilterWithoutPivotDeletesMany(t *testing.T) {
	store := newFakeStore()
	store.ensureDB("db")["coll"] = []bson.D{
		{{Key: "_id", Value: 1}, {Key: "name", Value: "b"}},
		{{Key: "_id", Value: 2}, {Key: "name", Value: "c"}},
	}
	vc := newTestContext(store)

	node := Node{Kind: KindFilter, Database: "db", Collection: "coll", Filter: bson.D{{Key: "name", Value: "b"}}}
	require.NoError(t, Rmdir(context.Background(), vc, node))
	assert.Len(t, store.databases["db"]["coll"], 1)
}

func TestRmdirFilterWithPivotUnsetsField(t *testing.T) {
	store := newFakeStore()
	store.ensureDB("db")["coll"] = []bson.D{
		{{Key: "_id", Value: 1}, {Key: "name", Value: "b"}},
	}
	vc := newTestContext(store)

	pivot := "name"
	node := Node{Kind: KindFilter, Database: "db", Collection: "coll", Filter: bson.D{}, Pivot: &pivot}
	require.NoError(t, Rmdir(context.Background(), vc, node))

	doc := store.databases["db"]["coll"][0]
	for _, e := range doc {
		assert.NotEqual(t, "name", e.Key)
	}
}

func TestRenameDatabaseCopiesThenDrops(t *testing.T) {
	store := newFakeStore()
	store.CreateDatabase(context.Background(), "src")
	store.ensureDB("src")["coll"] = []bson.D{{{Key: "_id", Value: 1}}}
	vc := newTestContext(store)

	from := Node{Kind: KindDatabase, Database: "src"}
	to := Node{Kind: KindDatabase, Database: "dst"}
	require.NoError(t, Rename(context.Background(), vc, from, to))

	assert.True(t, store.copiedDatabase)
	assert.Equal(t, "src", store.droppedDatabase)
	assert.Len(t, store.databases["dst"]["coll"], 1)
}

func TestRenameCollectionAcrossKindsIsEACCES(t *testing.T) {
	vc := newTestContext(newFakeStore())
	from := Node{Kind: KindCollection, Database: "db", Collection: "a"}
	to := Node{Kind: KindDatabase, Database: "b"}
	assert.Equal(t, fuse.EACCES, Rename(context.Background(), vc, from, to))
}

func TestRenameCollectionCallsRenameCollection(t *testing.T) {
	store := newFakeStore()
	store.ensureDB("db")["a"] = []bson.D{{{Key: "_id", Value: 1}}}
	vc := newTestContext(store)

	from := Node{Kind: KindCollection, Database: "db", Collection: "a"}
	to := Node{Kind: KindCollection, Database: "db", Collection: "b"}
	require.NoError(t, Rename(context.Background(), vc, from, to))
	assert.True(t, store.renamedCollection)
}

func TestRenameOfFilterIsEACCES(t *testing.T) {
	vc := newTestContext(newFakeStore())
	node := Node{Kind: KindFilter, Database: "db", Collection: "coll", Filter: bson.D{{Key: "a", Value: 1}}}
	assert.Equal(t, fuse.EACCES, Rename(context.Background(), vc, node, node))
}
