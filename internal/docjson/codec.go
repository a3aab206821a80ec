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

// Package docjson renders MongoDB documents as MongoDB Extended JSON text
// and parses them back, with the handful of knobs the mount options expose:
// indentation, ASCII-only escaping, and the byte encoding of the rendered
// text. Field order is preserved throughout because documents live in
// bson.D (an ordered slice of bson.E), and re-indenting already-serialized
// bytes with encoding/json.Indent never reparses or reorders them.
package docjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Options configures both Encode and Decode. The zero value puts each
// element on its own line with no indentation, leaves non-ASCII runes
// unescaped, and uses UTF-8 -- callers typically start from DefaultOptions.
type Options struct {
	// Indent is the number of spaces of indentation for pretty-printing, or
	// any negative value for compact single-line output.
	Indent int
	// EnsureASCII escapes non-ASCII runes inside string literals as \uXXXX.
	EnsureASCII bool
	// Encoding is the byte encoding of the rendered/parsed text, e.g.
	// "utf-8", "windows-1252". Empty means UTF-8.
	Encoding string
}

// DefaultOptions mirrors the mount option defaults from the spec.
func DefaultOptions() Options {
	return Options{Indent: 4, EnsureASCII: false, Encoding: "utf-8"}
}

// Encode renders doc as Extended JSON according to opts. An empty document
// renders as an empty byte slice (no trailing newline); anything else is
// followed by a trailing newline, matching what `cat` expects from a text
// file.
func Encode(doc bson.D, opts Options) ([]byte, error) {
	if len(doc) == 0 {
		return nil, nil
	}

	raw, err := bson.MarshalExtJSON(doc, false /* canonical */, false /* escapeHTML */)
	if err != nil {
		return nil, fmt.Errorf("docjson: marshal: %w", err)
	}

	if opts.Indent >= 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", strings.Repeat(" ", opts.Indent)); err != nil {
			return nil, fmt.Errorf("docjson: indent: %w", err)
		}
		raw = buf.Bytes()
	}

	if opts.EnsureASCII {
		raw = escapeNonASCII(raw)
	}

	raw = append(raw, '\n')

	return transcodeOut(raw, opts.Encoding)
}

// Decode parses Extended JSON text produced by Encode (or hand-edited by a
// user) back into an ordered document. An empty or all-whitespace body
// decodes to an empty document rather than an error, matching the original
// tool's handling of a truncated-to-zero file.
func Decode(data []byte, opts Options) (bson.D, error) {
	text, err := transcodeIn(data, opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("docjson: decode bytes: %w", err)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return bson.D{}, nil
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(trimmed), false, &doc); err != nil {
		return nil, fmt.Errorf("docjson: unmarshal: %w", err)
	}

	return doc, nil
}

// EncodeComponent renders a single scalar value (a filter value or a facet
// value) the way it must appear as a path component. The driver's
// MarshalExtJSON only accepts document-shaped values, so the scalar is
// wrapped in a single-field document and then unwrapped with the standard
// library's json.RawMessage, which preserves the wrapped text byte-for-byte.
func EncodeComponent(v interface{}) (string, error) {
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return "", fmt.Errorf("docjson: encode component: %w", err)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", fmt.Errorf("docjson: encode component: unwrap: %w", err)
	}

	rendered, ok := wrapper["v"]
	if !ok {
		return "", fmt.Errorf("docjson: encode component: missing wrapped value")
	}

	return string(rendered), nil
}

// DecodeComponent is the inverse of EncodeComponent.
func DecodeComponent(component string) (interface{}, error) {
	wrapped := []byte(`{"v":` + component + `}`)

	var doc bson.D
	if err := bson.UnmarshalExtJSON(wrapped, false, &doc); err != nil {
		return nil, fmt.Errorf("docjson: decode component %q: %w", component, err)
	}
	if len(doc) != 1 {
		return nil, fmt.Errorf("docjson: decode component %q: unexpected shape", component)
	}

	return doc[0].Value, nil
}

// escapeNonASCII rewrites non-ASCII runes found inside JSON string literals
// as \u escapes, mirroring Python's json.dumps(ensure_ascii=True). Bytes
// outside of string literals (structural punctuation, already-ASCII
// indentation) are never touched.
func escapeNonASCII(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))

	inString := false
	escaped := false

	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])

		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteRune(r)
			case r == '\\':
				escaped = true
				out.WriteRune(r)
			case r == '"':
				inString = false
				out.WriteRune(r)
			case r >= utf8.RuneSelf:
				if r > 0xFFFF {
					r1, r2 := utf16.EncodeRune(r)
					fmt.Fprintf(&out, "\\u%04x\\u%04x", r1, r2)
				} else {
					fmt.Fprintf(&out, "\\u%04x", r)
				}
			default:
				out.WriteRune(r)
			}
		} else {
			if r == '"' {
				inString = true
			}
			out.WriteRune(r)
		}

		i += size
	}

	return out.Bytes()
}

func transcodeOut(text []byte, name string) ([]byte, error) {
	if isUTF8(name) {
		return text, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}

	// ReplaceUnsupported substitutes the target encoding's replacement
	// character for runes it cannot represent, rather than failing the
	// write -- matching the original tool's errors='replace' policy.
	out, err := encoding.ReplaceUnsupported(enc).NewEncoder().Bytes(text)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func transcodeIn(data []byte, name string) (string, error) {
	if isUTF8(name) {
		return string(data), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", name, err)
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func isUTF8(name string) bool {
	return name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8")
}
