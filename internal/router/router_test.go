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

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/paulo-raca/mongofs/internal/vfs"
)

func TestRoot(t *testing.T) {
	n, ok := Route("/")
	require.True(t, ok)
	assert.Equal(t, vfs.KindRoot, n.Kind)

	n, ok = Route("")
	require.True(t, ok)
	assert.Equal(t, vfs.KindRoot, n.Kind)
}

func TestDatabaseAndCollection(t *testing.T) {
	n, ok := Route("/mydb")
	require.True(t, ok)
	assert.Equal(t, vfs.KindDatabase, n.Kind)
	assert.Equal(t, "mydb", n.Database)

	n, ok = Route("/mydb/mycoll")
	require.True(t, ok)
	assert.Equal(t, vfs.KindCollection, n.Kind)
	assert.Equal(t, "mydb", n.Database)
	assert.Equal(t, "mycoll", n.Collection)
}

func TestEvenDepthFilterNoPivot(t *testing.T) {
	n, ok := Route("/mydb/mycoll/name/1")
	require.True(t, ok)
	assert.Equal(t, vfs.KindFilter, n.Kind)
	assert.Nil(t, n.Pivot)
	require.Len(t, n.Filter, 1)
	assert.Equal(t, "name", n.Filter[0].Key)
	assert.EqualValues(t, 1, n.Filter[0].Value)
}

func TestOddDepthFilterHasPivot(t *testing.T) {
	n, ok := Route("/mydb/mycoll/name/1/age")
	require.True(t, ok)
	assert.Equal(t, vfs.KindFilter, n.Kind)
	require.NotNil(t, n.Pivot)
	assert.Equal(t, "age", *n.Pivot)
	require.Len(t, n.Filter, 1)
}

func TestDocumentSuffix(t *testing.T) {
	n, ok := Route("/mydb/mycoll/name/1.json")
	require.True(t, ok)
	assert.Equal(t, vfs.KindDocument, n.Kind)
	require.Len(t, n.Filter, 1)
	assert.Equal(t, "name", n.Filter[0].Key)
	assert.EqualValues(t, 1, n.Filter[0].Value)
}

func TestDocumentSuffixOnEmptyFilter(t *testing.T) {
	n, ok := Route("/mydb/mycoll/.json")
	require.True(t, ok)
	assert.Equal(t, vfs.KindDocument, n.Kind)
	assert.Empty(t, n.Filter)
}

func TestDocumentSuffixOnUnpairedFieldDoesNotRoute(t *testing.T) {
	_, ok := Route("/mydb/mycoll/name.json")
	assert.False(t, ok)
}

func TestFieldNamesAreDecodedThroughPathcodec(t *testing.T) {
	n, ok := Route("/mydb/mycoll/a∕b/\"x\"")
	require.True(t, ok)
	require.Len(t, n.Filter, 1)
	assert.Equal(t, "a/b", n.Filter[0].Key)
	assert.Equal(t, "x", n.Filter[0].Value)
}

func TestMalformedValueDoesNotRoute(t *testing.T) {
	_, ok := Route("/mydb/mycoll/name/{not valid json")
	assert.False(t, ok)
}

func TestMalformedEscapeDoesNotRoute(t *testing.T) {
	_, ok := Route("/mydb​")
	assert.False(t, ok)
}

func TestFilterPreservesOrder(t *testing.T) {
	n, ok := Route("/mydb/mycoll/b/2/a/1")
	require.True(t, ok)
	expected := bson.D{{Key: "b", Value: int32(2)}, {Key: "a", Value: int32(1)}}
	assert.Equal(t, expected, n.Filter)
}
