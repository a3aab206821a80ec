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

package dircache

import (
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulo-raca/mongofs/internal/key"
)

func TestHitAvoidsReEnumeration(t *testing.T) {
	clock := timeutil.NewSimulatedClock(time.Now())
	c := New(clock, time.Minute, 0)

	calls := 0
	enumerate := func() []string {
		calls++
		return []string{"a", "b"}
	}

	first := c.Get(key.ForDatabase("db"), enumerate)
	second := c.Get(key.ForDatabase("db"), enumerate)

	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, []string{"a", "b"}, second)
	assert.Equal(t, 1, calls)
}

func TestFailedEnumerationIsCachedAsNil(t *testing.T) {
	clock := timeutil.NewSimulatedClock(time.Now())
	c := New(clock, time.Minute, 0)

	calls := 0
	enumerate := func() []string {
		calls++
		return nil
	}

	require.Nil(t, c.Get(key.ForDatabase("db"), enumerate))
	require.Nil(t, c.Get(key.ForDatabase("db"), enumerate))
	assert.Equal(t, 1, calls)
}

func TestExpiryTriggersReEnumeration(t *testing.T) {
	clock := timeutil.NewSimulatedClock(time.Now())
	ttl := 10 * time.Second
	c := New(clock, ttl, 0)

	calls := 0
	enumerate := func() []string {
		calls++
		return []string{"x"}
	}

	c.Get(key.ForDatabase("db"), enumerate)
	clock.AdvanceTime(ttl + time.Millisecond)
	c.Get(key.ForDatabase("db"), enumerate)

	assert.Equal(t, 2, calls)
}

func TestClearForcesReEnumeration(t *testing.T) {
	clock := timeutil.NewSimulatedClock(time.Now())
	c := New(clock, time.Minute, 0)

	calls := 0
	enumerate := func() []string {
		calls++
		return []string{"x"}
	}

	c.Get(key.ForDatabase("db"), enumerate)
	c.Clear()
	c.Get(key.ForDatabase("db"), enumerate)

	assert.Equal(t, 2, calls)
}

func TestChooseDefaultCapacityIsAtLeastDefaultCapacity(t *testing.T) {
	assert.GreaterOrEqual(t, ChooseDefaultCapacity(), DefaultCapacity)
}

func TestOnHitAndOnMissHooksFire(t *testing.T) {
	clock := timeutil.NewSimulatedClock(time.Now())
	c := New(clock, time.Minute, 0)

	hits, misses := 0, 0
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	enumerate := func() []string { return []string{"a"} }

	c.Get(key.ForDatabase("db"), enumerate) // miss
	c.Get(key.ForDatabase("db"), enumerate) // hit
	c.Get(key.ForDatabase("db"), enumerate) // hit

	assert.Equal(t, 1, misses)
	assert.Equal(t, 2, hits)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	clock := timeutil.NewSimulatedClock(time.Now())
	c := New(clock, time.Minute, 2)

	enumerate := func(v []string) func() []string {
		return func() []string { return v }
	}

	c.Get(key.ForDatabase("a"), enumerate([]string{"a"}))
	c.Get(key.ForDatabase("b"), enumerate([]string{"b"}))
	c.Get(key.ForDatabase("a"), enumerate([]string{"a"})) // touch "a", "b" becomes LRU
	c.Get(key.ForDatabase("c"), enumerate([]string{"c"})) // evicts "b"

	calls := 0
	c.Get(key.ForDatabase("b"), func() []string {
		calls++
		return []string{"b-again"}
	})
	assert.Equal(t, 1, calls, "evicted entry must be re-enumerated")
}
