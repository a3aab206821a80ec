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

package facet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/docstore"
)

type fakeStore struct {
	docs   []bson.D
	counts []docstore.FacetCount
	fail   bool
}

func (f *fakeStore) Find(ctx context.Context, db, collection string, filter bson.D, limit int64) []bson.D {
	if f.fail {
		return nil
	}
	return f.docs
}

func (f *fakeStore) EnumerateFacetValues(ctx context.Context, db, collection string, filter bson.D, pivot string) []docstore.FacetCount {
	if f.fail {
		return nil
	}
	return f.counts
}

func TestListFieldsExcludesBoundAndNested(t *testing.T) {
	store := &fakeStore{docs: []bson.D{
		{{Key: "name", Value: "a"}, {Key: "age", Value: int32(1)}, {Key: "tags", Value: bson.A{"x"}}, {Key: "addr", Value: bson.D{{Key: "city", Value: "x"}}}},
		{{Key: "name", Value: "b"}, {Key: "email", Value: "b@x.com"}},
	}}

	fields := ListFields(context.Background(), store, "db", "coll", bson.D{{Key: "name", Value: "a"}})
	assert.Equal(t, []string{"age", "email"}, fields)
}

func TestListFieldsFailureYieldsNil(t *testing.T) {
	store := &fakeStore{fail: true}
	assert.Nil(t, ListFields(context.Background(), store, "db", "coll", bson.D{}))
}

func TestListValuesMarksUniqueness(t *testing.T) {
	store := &fakeStore{counts: []docstore.FacetCount{
		{Value: "x", Count: 1},
		{Value: "y", Count: 3},
	}}

	values := ListValues(context.Background(), store, "db", "coll", bson.D{}, "name")
	require.Len(t, values, 2)

	byComponent := map[string]Value{}
	for _, v := range values {
		byComponent[v.Component] = v
	}

	assert.True(t, byComponent[`"x"`].Unique)
	assert.False(t, byComponent[`"y"`].Unique)
}

func TestListValuesSkipsNonScalar(t *testing.T) {
	store := &fakeStore{counts: []docstore.FacetCount{
		{Value: bson.A{"x"}, Count: 1},
		{Value: "ok", Count: 1},
	}}

	values := ListValues(context.Background(), store, "db", "coll", bson.D{}, "name")
	require.Len(t, values, 1)
	assert.Equal(t, `"ok"`, values[0].Component)
}

func TestListValuesFailureYieldsNil(t *testing.T) {
	store := &fakeStore{fail: true}
	assert.Nil(t, ListValues(context.Background(), store, "db", "coll", bson.D{}, "name"))
}
