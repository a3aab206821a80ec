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

// Package mountopts parses the repeated "-o key=value,key,..." mount
// option flag into a plain map, the same shape jacobsa/fuse's own
// mount.ParseOptions produces: a bare key (no "=") maps to the empty
// string, which callers treat as "present, boolean true."
package mountopts

import (
	"strconv"
	"strings"
	"time"
)

// Parse merges the comma-separated key[=value] pairs in s into m.
func Parse(m map[string]string, s string) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if eq := strings.IndexByte(part, '='); eq >= 0 {
			m[part[:eq]] = part[eq+1:]
		} else {
			m[part] = ""
		}
	}
}

// Bool reports whether key is present in m and not explicitly set to a
// falsy value ("0", "false", "no", "off", in any letter case).
func Bool(m map[string]string, key string, defaultValue bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// String returns the string value for key, or defaultValue if absent.
func String(m map[string]string, key, defaultValue string) string {
	v, ok := m[key]
	if !ok {
		return defaultValue
	}
	return v
}

// Int returns the integer value for key, or defaultValue if absent or
// unparseable.
func Int(m map[string]string, key string, defaultValue int) int {
	v, ok := m[key]
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// Seconds returns the value for key interpreted as a count of seconds, or
// defaultValue if absent or unparseable.
func Seconds(m map[string]string, key string, defaultValue time.Duration) time.Duration {
	v, ok := m[key]
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return time.Duration(n) * time.Second
}
