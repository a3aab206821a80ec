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

// Package pathcodec implements the reversible mapping between arbitrary
// database/collection/field names and legal FUSE path components.
//
// Host filesystems cannot carry a literal "/" inside a single path
// component, many shells mishandle a leading ".", and the kernel reserves
// "." and ".." entirely. Encode rewrites a name so that it avoids all three
// problems while remaining decodable back to the exact original string.
package pathcodec

import (
	"fmt"
	"strings"
)

const (
	// escapePrefix marks "the next rune is literal" during decoding.
	escapePrefix = '​' // ZERO WIDTH SPACE
	// slashSubstitute stands in for '/' in encoded components.
	slashSubstitute = '∕' // DIVISION SLASH
)

// Encode rewrites name into a string that is safe to use as a single path
// component: it never contains '/', is never exactly "." or "..", and never
// begins with '.'.
func Encode(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for i, r := range name {
		switch {
		case r == escapePrefix || r == slashSubstitute:
			b.WriteRune(escapePrefix)
			b.WriteRune(r)
		case r == '.' && i == 0:
			b.WriteRune(escapePrefix)
			b.WriteRune(r)
		case r == '/':
			b.WriteRune(slashSubstitute)
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Decode reverses Encode. It fails with an error (the caller should treat
// this as ENOENT / "no such node") if the component contains a dangling
// escape prefix.
func Decode(component string) (string, error) {
	var b strings.Builder
	b.Grow(len(component))

	runes := []rune(component)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case escapePrefix:
			i++
			if i >= len(runes) {
				return "", fmt.Errorf("pathcodec: dangling escape prefix in %q", component)
			}
			b.WriteRune(runes[i])
		case slashSubstitute:
			b.WriteRune('/')
		default:
			b.WriteRune(r)
		}
	}

	return b.String(), nil
}
