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

package openfile

// buffer is an offset-addressed in-memory byte array standing in for a
// document's rendered JSON text. FUSE read/write callbacks always carry an
// explicit offset rather than a stream cursor, so the buffer only needs to
// support random-access get/put, not sequential I/O.
type buffer struct {
	data []byte
}

// ReadAt copies up to len(p) bytes starting at off into p, returning
// however many bytes were actually available -- a short read past the end
// of the buffer is not an error, matching ordinary file semantics.
func (b *buffer) ReadAt(p []byte, off int64) int {
	if off < 0 || off >= int64(len(b.data)) {
		return 0
	}
	return copy(p, b.data[off:])
}

// WriteAt writes p into the buffer starting at off, growing it with zero
// bytes if off+len(p) exceeds the current length.
func (b *buffer) WriteAt(p []byte, off int64) int {
	if off < 0 {
		return 0
	}

	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[off:end], p)
	return len(p)
}

// Truncate resizes the buffer to exactly n bytes, padding with zeros or
// discarding the tail as needed.
func (b *buffer) Truncate(n int64) {
	if n < 0 {
		n = 0
	}
	switch {
	case n == int64(len(b.data)):
		return
	case n < int64(len(b.data)):
		b.data = b.data[:n]
	default:
		grown := make([]byte, n)
		copy(grown, b.data)
		b.data = grown
	}
}

// Len reports the current buffer size.
func (b *buffer) Len() int64 {
	return int64(len(b.data))
}

// Bytes returns the buffer's current contents. The caller must not retain
// or mutate the returned slice across a subsequent Write/Truncate.
func (b *buffer) Bytes() []byte {
	return b.data
}

// SetBytes replaces the buffer's contents wholesale (used when (re)loading
// a document's rendered form from the database on open).
func (b *buffer) SetBytes(data []byte) {
	b.data = data
}
